//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelfolio/internal/domain"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, policy domain.Policy) ([]byte, string, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, "", 0, 0, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()

	if err := flattenGovips(img); err != nil {
		return nil, "", 0, 0, err
	}
	if err := applyGovipsPolicy(img, policy); err != nil {
		return nil, "", 0, 0, err
	}

	format := domain.NormalizeFormat(policy.Format)
	data, err := exportGovipsImage(img, format, policy.EffectiveQuality())
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return data, format, img.Width(), img.Height(), nil
}

// flattenGovips converts to sRGB and drops the alpha band without blending.
func flattenGovips(img *vips.ImageRef) error {
	if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return fmt.Errorf("convert to srgb: %w", err)
	}
	if img.HasAlpha() {
		if err := img.ExtractBand(0, 3); err != nil {
			return fmt.Errorf("drop alpha band: %w", err)
		}
	}
	return nil
}

func applyGovipsPolicy(img *vips.ImageRef, policy domain.Policy) error {
	layout, err := Plan(policy, img.Width(), img.Height())
	if err != nil {
		return err
	}

	if layout.Resize {
		hscale := float64(layout.ContentWidth) / float64(img.Width())
		vscale := float64(layout.ContentHeight) / float64(img.Height())
		if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return fmt.Errorf("resize image: %w", err)
		}
	}
	if !layout.Pad {
		return nil
	}

	bg, err := policy.BackgroundColor()
	if err != nil {
		return err
	}
	if err := img.EmbedBackground(
		layout.OffsetX,
		layout.OffsetY,
		layout.CanvasWidth,
		layout.CanvasHeight,
		&vips.Color{R: bg.R, G: bg.G, B: bg.B},
	); err != nil {
		return fmt.Errorf("pad to canvas: %w", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, format string, quality int) ([]byte, error) {
	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		params.OptimizeCoding = true
		params.StripMetadata = true
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		params := vips.NewPngExportParams()
		params.StripMetadata = true
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		params.StripMetadata = true
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
