package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/dunamismax/pixelfolio/internal/domain"
)

// Layout is the geometric outcome of applying a policy to a source size.
type Layout struct {
	ContentWidth  int
	ContentHeight int
	CanvasWidth   int
	CanvasHeight  int
	OffsetX       int
	OffsetY       int
	// Resize is false when the content keeps the source dimensions.
	Resize bool
	// Pad is false for fit-only output, where the canvas is the content.
	Pad bool
}

// Plan computes content size, canvas size and paste offset for a source of
// srcW x srcH under the given policy.
func Plan(policy domain.Policy, srcW, srcH int) (Layout, error) {
	if srcW <= 0 || srcH <= 0 {
		return Layout{}, errors.New("source image has invalid dimensions")
	}

	var l Layout
	switch policy.Mode {
	case domain.ModePadToRatio:
		target := policy.TargetAspect()
		if float64(srcW)/float64(srcH) > target {
			l.ContentWidth = policy.Width
			l.ContentHeight = int(float64(policy.Width) / target)
		} else {
			l.ContentHeight = policy.Height
			l.ContentWidth = int(float64(policy.Height) * target)
		}
		l.CanvasWidth, l.CanvasHeight = policy.Width, policy.Height
	case domain.ModeFitAndPad:
		l.ContentWidth, l.ContentHeight = fitInside(srcW, srcH, policy.Width, policy.Height)
		l.CanvasWidth, l.CanvasHeight = policy.Width, policy.Height
	case domain.ModePadWithThumbnailBox:
		boxW := policy.Width - 2*policy.Padding
		boxH := policy.Height - 2*policy.Padding
		if boxW <= 0 || boxH <= 0 {
			return Layout{}, fmt.Errorf("padding %d leaves no room inside %dx%d", policy.Padding, policy.Width, policy.Height)
		}
		l.ContentWidth, l.ContentHeight = fitInside(srcW, srcH, boxW, boxH)
		l.CanvasWidth, l.CanvasHeight = policy.Width, policy.Height
	case domain.ModeFitOnly:
		if policy.MaxDimension <= 0 {
			return Layout{}, errors.New("fit-only requires max_dimension > 0")
		}
		ratio := math.Min(float64(policy.MaxDimension)/float64(max(srcW, srcH)), 1.0)
		l.ContentWidth, l.ContentHeight = srcW, srcH
		if ratio < 1.0 {
			l.ContentWidth = roundDim(float64(srcW) * ratio)
			l.ContentHeight = roundDim(float64(srcH) * ratio)
		}
		l.CanvasWidth, l.CanvasHeight = l.ContentWidth, l.ContentHeight
		l.Resize = l.ContentWidth != srcW || l.ContentHeight != srcH
		return l, nil
	default:
		return Layout{}, fmt.Errorf("%w: %q", ErrUnsupportedMode, policy.Mode)
	}

	if l.CanvasWidth <= 0 || l.CanvasHeight <= 0 {
		return Layout{}, fmt.Errorf("policy %s has invalid canvas %dx%d", policy.Name, l.CanvasWidth, l.CanvasHeight)
	}
	l.ContentWidth = max(1, l.ContentWidth)
	l.ContentHeight = max(1, l.ContentHeight)
	l.OffsetX = floorDiv(l.CanvasWidth-l.ContentWidth, 2)
	l.OffsetY = floorDiv(l.CanvasHeight-l.ContentHeight, 2)
	l.Resize = l.ContentWidth != srcW || l.ContentHeight != srcH
	l.Pad = true
	return l, nil
}

func fitInside(srcW, srcH, boxW, boxH int) (int, int) {
	ratio := math.Min(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
	return roundDim(float64(srcW) * ratio), roundDim(float64(srcH) * ratio)
}

func roundDim(v float64) int {
	return max(1, int(math.Round(v)))
}

// floorDiv rounds toward negative infinity, unlike Go's integer division.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
