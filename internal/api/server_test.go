package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromaknit/chromaknit/internal/palette"
	"github.com/chromaknit/chromaknit/internal/queue"
	"github.com/chromaknit/chromaknit/internal/store"
	"github.com/hibiken/asynq"
)

type fakeQueue struct {
	payloads []queue.RecolorGarmentPayload
}

func (q *fakeQueue) EnqueueRecolorGarment(_ context.Context, payload queue.RecolorGarmentPayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{
		ID:            fmt.Sprintf("task-%d", len(q.payloads)),
		Queue:         "default",
		Type:          queue.TypeRecolorGarment,
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now().UTC(),
	}, nil
}

func newTestServer(t *testing.T, q *fakeQueue) (*Server, *store.MemoryJobStore) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	jobStore := store.NewMemoryJobStore()
	return NewServer(logger, q, jobStore, nil, Options{}), jobStore
}

func TestExtractPaletteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeQueue{})

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{B: 255, A: 255})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, paletteRequest(t, encodePNG(t, img), "2"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Palette []palette.Entry `json:"palette"`
		Colors  int             `json:"colors"`
		Width   int             `json:"width"`
		Height  int             `json:"height"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Colors != 2 || resp.Width != 2 || resp.Height != 2 {
		t.Fatalf("unexpected response envelope: %+v", resp)
	}
	if len(resp.Palette) != 2 {
		t.Fatalf("expected 2 palette entries, got %d", len(resp.Palette))
	}
	if resp.Palette[0].Hex != "#ff0000" || resp.Palette[1].Hex != "#0000ff" {
		t.Fatalf("unexpected palette order: %+v", resp.Palette)
	}
	for _, entry := range resp.Palette {
		if entry.Count != 2 {
			t.Fatalf("expected 2 pixels per entry, got %+v", entry)
		}
	}
}

func TestExtractPaletteRejectsBadColorCount(t *testing.T) {
	srv, _ := newTestServer(t, &fakeQueue{})

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for _, colors := range []string{"0", "11", "abc"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, paletteRequest(t, encodePNG(t, img), colors))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("colors=%s: expected 400, got %d", colors, rec.Code)
		}
	}
}

func TestExtractPaletteRejectsNonImage(t *testing.T) {
	srv, _ := newTestServer(t, &fakeQueue{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, paletteRequest(t, []byte("definitely not a png"), ""))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestCreateAndStartJobFlow(t *testing.T) {
	q := &fakeQueue{}
	srv, _ := newTestServer(t, q)

	garmentPath := filepath.Join(t.TempDir(), "garment.png")
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	if err := os.WriteFile(garmentPath, encodePNG(t, img), 0o644); err != nil {
		t.Fatalf("write garment file: %v", err)
	}

	createBody := fmt.Sprintf(
		`{"source_type":"local_file","object_key":%q,"colors":["#aa2211","#ffddcc"],"preview_width":320}`,
		garmentPath,
	)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(createBody)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Status != "created" || created.JobID == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(q.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(q.payloads))
	}
	payload := q.payloads[0]
	if payload.JobID != created.JobID {
		t.Fatalf("payload job id mismatch: %s vs %s", payload.JobID, created.JobID)
	}
	if len(payload.Colors) != 2 || payload.Colors[0] != "#aa2211" {
		t.Fatalf("payload lost colors: %v", payload.Colors)
	}
	if payload.PreviewWidth != 320 {
		t.Fatalf("payload lost preview width: %d", payload.PreviewWidth)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var fetched struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if fetched.Status != "queued" {
		t.Fatalf("expected status queued after start, got %q", fetched.Status)
	}
}

func TestStartUnknownJobReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeQueue{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/no-such-job/start", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateJobRejectsMalformedColor(t *testing.T) {
	srv, _ := newTestServer(t, &fakeQueue{})

	body := `{"source_type":"local_file","object_key":"/tmp/g.png","colors":["red"]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func paletteRequest(t *testing.T, imageBytes []byte, colors string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "garment.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(imageBytes); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if colors != "" {
		if err := mw.WriteField("colors", colors); err != nil {
			t.Fatalf("write colors field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/palette", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
