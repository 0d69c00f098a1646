package segmentation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	// Endpoint of a rembg-style matting service, e.g. http://rembg:7000/api/remove.
	Endpoint string
	Timeout  time.Duration
}

// HTTPClient calls a matting service over HTTP. One attempt per image: the
// model is assumed to fail the same way on the same input, so retrying only
// burns the request budget.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
}

func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("segmentation endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
	}, nil
}

func (c *HTTPClient) Segment(ctx context.Context, imageBytes []byte) ([]byte, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrSegmentation)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "garment")
	if err != nil {
		return nil, fmt.Errorf("%w: build request body: %v", ErrSegmentation, err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		return nil, fmt.Errorf("%w: build request body: %v", ErrSegmentation, err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("%w: build request body: %v", ErrSegmentation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSegmentation, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "image/png")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: call matting service: %v", ErrSegmentation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: matting service returned status=%d", ErrSegmentation, resp.StatusCode)
	}

	matte, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read matte: %v", ErrSegmentation, err)
	}
	if len(matte) == 0 {
		return nil, fmt.Errorf("%w: matting service returned empty body", ErrSegmentation)
	}
	return matte, nil
}
