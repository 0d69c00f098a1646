package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Recolor runs decode, segmentation over HTTP, and a full-frame color
// transfer, so the task deadline is generous. Retries cover transient
// infrastructure only; handlers mark non-retryable failures themselves.
const (
	recolorMaxRetry = 3
	recolorTimeout  = 5 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueRecolorGarment(ctx context.Context, payload RecolorGarmentPayload) (*asynq.TaskInfo, error) {
	task, err := NewRecolorGarmentTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(recolorMaxRetry),
		asynq.Timeout(recolorTimeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
