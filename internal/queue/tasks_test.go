package queue

import (
	"testing"
	"time"
)

func TestRecolorGarmentTaskRoundTrip(t *testing.T) {
	payload := RecolorGarmentPayload{
		JobID:        "job-123",
		SourceType:   "s3_presigned",
		ObjectKey:    "uploads/job-123/garment",
		Colors:       []string{"#aa2211", "#ffddcc"},
		PreviewWidth: 320,
		RequestedAt:  time.Now().UTC(),
	}

	task, err := NewRecolorGarmentTask(payload)
	if err != nil {
		t.Fatalf("NewRecolorGarmentTask returned error: %v", err)
	}
	if task.Type() != TypeRecolorGarment {
		t.Fatalf("expected task type %q, got %q", TypeRecolorGarment, task.Type())
	}

	parsed, err := ParseRecolorGarmentPayload(task)
	if err != nil {
		t.Fatalf("ParseRecolorGarmentPayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if len(parsed.Colors) != 2 || parsed.Colors[0] != "#aa2211" {
		t.Fatalf("colors did not survive the round trip: %v", parsed.Colors)
	}
	if parsed.PreviewWidth != 320 {
		t.Fatalf("expected preview_width 320, got %d", parsed.PreviewWidth)
	}
}
