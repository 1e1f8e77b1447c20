package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelfolio/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrRead            = errors.New("read source image")
	ErrDecode          = errors.New("decode source image")
	ErrEncode          = errors.New("encode output image")
	ErrEmit            = errors.New("write output image")
	ErrUnsupportedMode = errors.New("unsupported policy mode")
)

type Request struct {
	Source    string
	OutputDir string
	Policy    domain.Policy
}

// Target is the path the normalized image is written to.
func (r Request) Target() string {
	return filepath.Join(r.OutputDir, r.Policy.OutputName(r.Source))
}

type Output struct {
	Policy string
	Source string
	Path   string
	Format string
	Bytes  int
	Width  int
	Height int
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte, format string, width, height int) (Output, error)
}

// Processor is the image normalizer: it reads one source, applies a policy
// and writes exactly one output file or none at all.
type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
	tracer      trace.Tracer
	// local outputs live on disk under Request.Target.
	local bool
}

func NewLocalProcessor() (*Processor, error) {
	transformer, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	return &Processor{
		fetcher:     LocalFileFetcher{},
		transformer: transformer,
		emitter:     LocalFileEmitter{},
		tracer:      otel.Tracer("pixelfolio/pipeline"),
		local:       true,
	}, nil
}

func (p *Processor) Normalize(ctx context.Context, req Request) (Output, error) {
	if strings.TrimSpace(req.Source) == "" {
		return Output{}, errors.New("source path is required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.normalize")
	span.SetAttributes(
		attribute.String("image.source", req.Source),
		attribute.String("policy.name", req.Policy.Name),
		attribute.String("policy.mode", req.Policy.Mode),
	)
	defer span.End()

	out, err := p.normalize(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize failed")
		return Output{}, err
	}
	span.SetAttributes(
		attribute.Int("image.width", out.Width),
		attribute.Int("image.height", out.Height),
		attribute.Int("image.bytes", out.Bytes),
	)
	return out, nil
}

func (p *Processor) normalize(ctx context.Context, req Request) (Output, error) {
	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		p.discardStale(ctx, req)
		return Output{}, fmt.Errorf("fetch stage: %w", err)
	}

	transformed, format, width, height, err := p.transformer.Transform(ctx, sourceBytes, req.Policy)
	if err != nil {
		p.discardStale(ctx, req)
		return Output{}, fmt.Errorf("transform stage policy=%s: %w", req.Policy.Name, err)
	}

	written, err := p.emitter.Emit(ctx, req, transformed, format, width, height)
	if err != nil {
		p.discardStale(ctx, req)
		return Output{}, fmt.Errorf("emit stage policy=%s: %w", req.Policy.Name, err)
	}
	return written, nil
}

// discardStale removes an output file left by an earlier run so a failed
// image is consistently absent. Anything that is not a regular file is left
// alone.
func (p *Processor) discardStale(ctx context.Context, req Request) {
	if ctx.Err() != nil || !p.local {
		return
	}
	target := req.Target()
	info, err := os.Lstat(target)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	_ = os.Remove(target)
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.Source)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrRead, req.Source, err)
	}
	return data, nil
}

type LocalFileEmitter struct{}

func (LocalFileEmitter) Emit(_ context.Context, req Request, data []byte, format string, width, height int) (Output, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("%w: create output dir: %v", ErrEmit, err)
	}

	fullPath := req.Target()
	if err := WriteFileAtomic(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrEmit, err)
	}

	return Output{
		Policy: req.Policy.Name,
		Source: req.Source,
		Path:   fullPath,
		Format: format,
		Bytes:  len(data),
		Width:  width,
		Height: height,
	}, nil
}

// WriteFileAtomic writes data next to path and renames it into place, so
// readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
