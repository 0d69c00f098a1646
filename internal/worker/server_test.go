package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/chromaknit/chromaknit/internal/domain"
	"github.com/chromaknit/chromaknit/internal/palette"
	"github.com/chromaknit/chromaknit/internal/pipeline"
	"github.com/chromaknit/chromaknit/internal/recolor"
	"github.com/chromaknit/chromaknit/internal/segmentation"
	"github.com/chromaknit/chromaknit/internal/store"
)

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "garment.png",
		Colors:     []string{"#aa2211"},
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-1", pipeline.Result{
		SourceBytes:      1_000,
		ForegroundPixels: 480,
		Outputs: []pipeline.Output{
			{Width: 32, Height: 32, Bytes: 300},
			{Width: 16, Height: 16, Bytes: 120},
		},
	}, 250*time.Millisecond)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usageStore.log.UserID)
	}
	if usageStore.log.ForegroundPixels != 480 {
		t.Fatalf("expected foreground_pixels=480, got %d", usageStore.log.ForegroundPixels)
	}
	if usageStore.log.OutputBytes != 420 {
		t.Fatalf("expected output_bytes=420, got %d", usageStore.log.OutputBytes)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestRecordUsageFallsBackToAnonymous(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-2", pipeline.Result{ForegroundPixels: 10}, 0)

	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %s", usageStore.log.UserID)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestIsPermanentFailure(t *testing.T) {
	permanent := []error{
		fmt.Errorf("segment stage: %w", segmentation.ErrSegmentation),
		fmt.Errorf("parse palette: %w", palette.ErrInvalidParameter),
		fmt.Errorf("decode stage: %w", palette.ErrInvalidImage),
		fmt.Errorf("mask stage: %w", recolor.ErrDimensionMismatch),
	}
	for _, err := range permanent {
		if !isPermanentFailure(err) {
			t.Fatalf("expected permanent failure for %v", err)
		}
	}

	if isPermanentFailure(errors.New("dial tcp: connection refused")) {
		t.Fatal("transient errors must stay retryable")
	}
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}
