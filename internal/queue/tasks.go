package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeRecolorGarment = "garment:recolor"

type RecolorGarmentPayload struct {
	JobID        string    `json:"job_id"`
	SourceType   string    `json:"source_type"`
	ObjectKey    string    `json:"object_key"`
	Colors       []string  `json:"colors"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	PreviewWidth int       `json:"preview_width,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

func NewRecolorGarmentTask(payload RecolorGarmentPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal recolor payload: %w", err)
	}
	return asynq.NewTask(TypeRecolorGarment, body), nil
}

func ParseRecolorGarmentPayload(task *asynq.Task) (RecolorGarmentPayload, error) {
	var payload RecolorGarmentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RecolorGarmentPayload{}, fmt.Errorf("unmarshal recolor payload: %w", err)
	}
	return payload, nil
}
