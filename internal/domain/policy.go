package domain

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	ModePadToRatio          = "pad-to-ratio"
	ModeFitAndPad           = "fit-and-pad"
	ModeFitOnly             = "fit-only"
	ModePadWithThumbnailBox = "pad-with-thumbnail-box"

	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWEBP = "webp"

	DefaultBackground = "#ffffff"
)

// Policy is a named normalization rule together with its output encoding.
type Policy struct {
	Name         string `yaml:"-" json:"name"`
	Mode         string `yaml:"mode" json:"mode"`
	Width        int    `yaml:"width,omitempty" json:"width,omitempty"`
	Height       int    `yaml:"height,omitempty" json:"height,omitempty"`
	AspectWidth  int    `yaml:"aspect_width,omitempty" json:"aspect_width,omitempty"`
	AspectHeight int    `yaml:"aspect_height,omitempty" json:"aspect_height,omitempty"`
	MaxDimension int    `yaml:"max_dimension,omitempty" json:"max_dimension,omitempty"`
	Padding      int    `yaml:"padding,omitempty" json:"padding,omitempty"`
	Background   string `yaml:"background,omitempty" json:"background,omitempty"`
	Format       string `yaml:"format" json:"format"`
	Quality      int    `yaml:"quality,omitempty" json:"quality,omitempty"`
	Prefix       string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

func (p Policy) Validate() error {
	switch p.Mode {
	case ModePadToRatio, ModeFitAndPad:
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("policy %s: width and height must be > 0", p.Name)
		}
		if p.Mode == ModePadToRatio && (p.AspectWidth < 0 || p.AspectHeight < 0) {
			return fmt.Errorf("policy %s: aspect must not be negative", p.Name)
		}
	case ModePadWithThumbnailBox:
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("policy %s: width and height must be > 0", p.Name)
		}
		if p.Padding < 0 {
			return fmt.Errorf("policy %s: padding must not be negative", p.Name)
		}
		if p.Width-2*p.Padding <= 0 || p.Height-2*p.Padding <= 0 {
			return fmt.Errorf("policy %s: padding %d leaves no room inside %dx%d", p.Name, p.Padding, p.Width, p.Height)
		}
	case ModeFitOnly:
		if p.MaxDimension <= 0 {
			return fmt.Errorf("policy %s: max_dimension must be > 0", p.Name)
		}
	case "":
		return fmt.Errorf("policy %s: mode is required", p.Name)
	default:
		return fmt.Errorf("policy %s: unsupported mode %q", p.Name, p.Mode)
	}

	switch NormalizeFormat(p.Format) {
	case FormatJPEG, FormatPNG, FormatWEBP:
	default:
		return fmt.Errorf("policy %s: unsupported format %q", p.Name, p.Format)
	}
	if p.Quality < 0 || p.Quality > 100 {
		return fmt.Errorf("policy %s: quality must be within 0..100", p.Name)
	}
	if _, err := p.BackgroundColor(); err != nil {
		return fmt.Errorf("policy %s: %w", p.Name, err)
	}
	if strings.ContainsAny(p.Prefix, `/\`) {
		return fmt.Errorf("policy %s: prefix must not contain path separators", p.Name)
	}
	return nil
}

// TargetAspect is the forced aspect ratio of a pad-to-ratio policy. It
// defaults to 4:3.
func (p Policy) TargetAspect() float64 {
	if p.AspectWidth > 0 && p.AspectHeight > 0 {
		return float64(p.AspectWidth) / float64(p.AspectHeight)
	}
	return 4.0 / 3.0
}

// Padded reports whether the policy produces a fixed canvas.
func (p Policy) Padded() bool {
	return p.Mode != ModeFitOnly
}

func (p Policy) BackgroundColor() (color.RGBA, error) {
	hex := strings.TrimSpace(p.Background)
	if hex == "" {
		hex = DefaultBackground
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid background %q: %w", p.Background, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// EffectiveQuality returns the configured quality or the codec default used
// by the generator (95 for jpeg, 85 for webp).
func (p Policy) EffectiveQuality() int {
	if p.Quality > 0 && p.Quality <= 100 {
		return p.Quality
	}
	if NormalizeFormat(p.Format) == FormatWEBP {
		return 85
	}
	return 95
}

// OutputName maps a source file name to the normalized file name.
func (p Policy) OutputName(source string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return p.Prefix + stem + Extension(p.Format)
}

var ErrUnknownPolicy = errors.New("unknown policy")

func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWEBP
	default:
		return strings.ToLower(strings.TrimSpace(format))
	}
}

func Extension(format string) string {
	switch NormalizeFormat(format) {
	case FormatJPEG:
		return ".jpg"
	case FormatWEBP:
		return ".webp"
	default:
		return ".png"
	}
}
