package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromaknit/chromaknit/internal/codec"
	"github.com/chromaknit/chromaknit/internal/recolor"
	"github.com/chromaknit/chromaknit/internal/segmentation"

	"github.com/chromaknit/chromaknit/internal/palette"
)

const (
	SourceTypeLocalFile = "local_file"

	OutputKindResult  = "result"
	OutputKindPreview = "preview"

	defaultSegmentTimeout = 30 * time.Second
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID        string
	SourceType   string
	ObjectKey    string
	Colors       []string
	PreviewWidth int
}

type Output struct {
	Kind    string
	Format  string
	Path    string
	Bytes   int
	Width   int
	Height  int
	Success bool
}

type Result struct {
	SourceBytes      int
	ForegroundPixels int
	NoForeground     bool
	Outputs          []Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, kind string, data []byte, format string, width, height int) (Output, error)
}

// Processor runs one recolor request end to end: fetch garment bytes, decode,
// call the segmentation collaborator, transfer the palette onto the
// foreground, and emit the lossless result plus an optional preview. Every
// stage works on buffers owned by the request; nothing is shared or cached
// across invocations.
type Processor struct {
	fetcher        Fetcher
	segmenter      segmentation.Segmenter
	previewer      Previewer
	emitter        Emitter
	segmentTimeout time.Duration
}

func NewLocalProcessor(outputDir string, segmenter segmentation.Segmenter, segmentTimeout time.Duration) (*Processor, error) {
	return newProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, segmenter, segmentTimeout)
}

func NewObjectStoreProcessor(fetcher Fetcher, emitter Emitter, segmenter segmentation.Segmenter, segmentTimeout time.Duration) (*Processor, error) {
	return newProcessor(fetcher, emitter, segmenter, segmentTimeout)
}

func newProcessor(fetcher Fetcher, emitter Emitter, segmenter segmentation.Segmenter, segmentTimeout time.Duration) (*Processor, error) {
	if segmenter == nil {
		return nil, errors.New("segmenter is required")
	}
	previewer, err := newPreviewer()
	if err != nil {
		return nil, fmt.Errorf("build previewer: %w", err)
	}
	if segmentTimeout <= 0 {
		segmentTimeout = defaultSegmentTimeout
	}
	return &Processor{
		fetcher:        fetcher,
		segmenter:      segmenter,
		previewer:      previewer,
		emitter:        emitter,
		segmentTimeout: segmentTimeout,
	}, nil
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}

	// Palette syntax is checked before a single pixel is fetched or decoded.
	targets, err := palette.ParseHexColors(req.Colors)
	if err != nil {
		return Result{}, fmt.Errorf("parse palette: %w", err)
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	garment, err := codec.Decode(sourceBytes)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w", err)
	}
	width := garment.Bounds().Dx()
	height := garment.Bounds().Dy()

	segCtx, cancel := context.WithTimeout(ctx, p.segmentTimeout)
	matte, err := p.segmenter.Segment(segCtx, sourceBytes)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("segment stage: %w", err)
	}

	mask, err := segmentation.MaskFromMatte(matte, width, height)
	if err != nil {
		return Result{}, fmt.Errorf("mask stage: %w", err)
	}

	out := Result{
		SourceBytes:      len(sourceBytes),
		ForegroundPixels: mask.ForegroundCount(),
	}

	recolored, err := recolor.Apply(garment, mask, targets)
	if err != nil {
		if !errors.Is(err, recolor.ErrNoForeground) {
			return Result{}, fmt.Errorf("transfer stage: %w", err)
		}
		// Nothing to recolor; the result is the input, emitted as usual so
		// the caller still gets an artifact and a reason.
		out.NoForeground = true
	}

	resultBytes, err := codec.EncodePNG(recolored)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}

	emitted, err := p.emitter.Emit(ctx, req, OutputKindResult, resultBytes, "png", width, height)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage kind=%s: %w", OutputKindResult, err)
	}
	out.Outputs = append(out.Outputs, emitted)

	if req.PreviewWidth > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		previewBytes, format, pw, ph, err := p.previewer.Render(ctx, recolored, req.PreviewWidth)
		if err != nil {
			return Result{}, fmt.Errorf("preview stage: %w", err)
		}
		emitted, err := p.emitter.Emit(ctx, req, OutputKindPreview, previewBytes, format, pw, ph)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage kind=%s: %w", OutputKindPreview, err)
		}
		out.Outputs = append(out.Outputs, emitted)
	}

	return out, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read garment file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, kind string, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := fmt.Sprintf("%s.%s", sanitizePathToken(kind), normalizeOutputFormat(format))
	fullPath := filepath.Join(jobDir, filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Kind:    kind,
		Format:  normalizeOutputFormat(format),
		Path:    fullPath,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
