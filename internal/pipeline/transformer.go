package pipeline

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelfolio/internal/domain"
)

type Transformer interface {
	Transform(ctx context.Context, input []byte, policy domain.Policy) (data []byte, format string, width, height int, err error)
}

// flattenToRGB copies src into an opaque NRGBA buffer anchored at the origin.
// The straight color channels are kept as they are and alpha is dropped, so
// transparent regions are not blended with any background.
func flattenToRGB(src image.Image) *image.NRGBA {
	dst := imaging.Clone(src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
