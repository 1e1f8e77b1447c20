package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelfolio/internal/domain"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type imagingTransformer struct{}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, policy domain.Policy) ([]byte, string, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, "", 0, 0, ctx.Err()
	default:
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	out, err := applyPolicy(flattenToRGB(src), policy)
	if err != nil {
		return nil, "", 0, 0, err
	}

	format := domain.NormalizeFormat(policy.Format)
	data, err := encodeImage(out, format, policy.EffectiveQuality())
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	bounds := out.Bounds()
	return data, format, bounds.Dx(), bounds.Dy(), nil
}

func applyPolicy(src *image.NRGBA, policy domain.Policy) (image.Image, error) {
	bounds := src.Bounds()
	layout, err := Plan(policy, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}

	var content image.Image = src
	if layout.Resize {
		content = imaging.Resize(src, layout.ContentWidth, layout.ContentHeight, imaging.Lanczos)
	}
	if !layout.Pad {
		return content, nil
	}

	bg, err := policy.BackgroundColor()
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, layout.CanvasWidth, layout.CanvasHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	target := image.Rect(
		layout.OffsetX,
		layout.OffsetY,
		layout.OffsetX+layout.ContentWidth,
		layout.OffsetY+layout.ContentHeight,
	)
	draw.Draw(canvas, target, content, content.Bounds().Min, draw.Src)
	return canvas, nil
}

func encodeImage(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case domain.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatWEBP:
		options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return nil, fmt.Errorf("webp options: %w", err)
		}
		if err := webp.Encode(&buf, img, options); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}
