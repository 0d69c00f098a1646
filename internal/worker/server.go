package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chromaknit/chromaknit/internal/config"
	"github.com/chromaknit/chromaknit/internal/domain"
	"github.com/chromaknit/chromaknit/internal/palette"
	"github.com/chromaknit/chromaknit/internal/pipeline"
	"github.com/chromaknit/chromaknit/internal/queue"
	"github.com/chromaknit/chromaknit/internal/recolor"
	"github.com/chromaknit/chromaknit/internal/segmentation"
	"github.com/chromaknit/chromaknit/internal/storage"
	"github.com/chromaknit/chromaknit/internal/store"
	"github.com/chromaknit/chromaknit/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	segmenter segmentation.Segmenter,
	segmentTimeout time.Duration,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if segmenter == nil {
		return nil, fmt.Errorf("segmenter is required")
	}
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, segmenter, segmentTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: storageClient},
		pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "outputs"},
		segmenter,
		segmentTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, maxInt(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("chromaknit/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRecolorGarment, s.handleRecolorGarment)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRecolorGarment(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseRecolorGarmentPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.recolor_garment", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.palette_size", len(payload.Colors)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s palette=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Colors),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:        payload.JobID,
		SourceType:   payload.SourceType,
		ObjectKey:    payload.ObjectKey,
		Colors:       payload.Colors,
		PreviewWidth: payload.PreviewWidth,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "recolor pipeline failed")
		s.dispatchWebhook(ctx, payload, webhook.EventRecolorFailed, webhook.JobEvent{
			JobID:  payload.JobID,
			Status: domain.JobStatusFailed,
			Error:  err.Error(),
		})
		if isPermanentFailure(err) {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	if result.NoForeground {
		// The artifact still exists, it is just the untouched garment.
		s.logger.Printf("no foreground detected job_id=%s, emitted input unchanged", payload.JobID)
		s.metrics.noForegroundTotal.Inc()
	}

	s.logger.Printf("Recolored job_id=%s foreground_pixels=%d outputs=%d", payload.JobID, result.ForegroundPixels, len(result.Outputs))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.metrics.outputsTotal.Add(float64(len(result.Outputs)))
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventRecolorSucceeded, webhook.JobEvent{
		JobID:            payload.JobID,
		Status:           domain.JobStatusSucceeded,
		NoForeground:     result.NoForeground,
		ForegroundPixels: result.ForegroundPixels,
		Outputs:          outputRefs(result.Outputs),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "recolored")
	return nil
}

// isPermanentFailure separates inputs that can never succeed from transient
// infrastructure trouble. A failed matting call is permanent: re-running it
// against the same collaborator and bytes is not expected to change the
// answer.
func isPermanentFailure(err error) bool {
	return errors.Is(err, segmentation.ErrSegmentation) ||
		errors.Is(err, palette.ErrInvalidParameter) ||
		errors.Is(err, palette.ErrInvalidImage) ||
		errors.Is(err, recolor.ErrDimensionMismatch)
}

func outputRefs(outputs []pipeline.Output) []webhook.OutputRef {
	refs := make([]webhook.OutputRef, 0, len(outputs))
	for _, out := range outputs {
		refs = append(refs, webhook.OutputRef{
			Kind:   out.Kind,
			Format: out.Format,
			Path:   out.Path,
			Bytes:  out.Bytes,
			Width:  out.Width,
			Height: out.Height,
		})
	}
	return refs
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RecolorGarmentPayload, event string, body webhook.JobEvent) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	var outputBytes int64
	for _, output := range result.Outputs {
		outputBytes += int64(output.Bytes)
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:           userID,
		JobID:            jobID,
		ForegroundPixels: int64(result.ForegroundPixels),
		OutputBytes:      outputBytes,
		ComputeTimeMS:    computeTimeMS,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.foregroundPixelsTotal.Add(float64(usage.ForegroundPixels))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
