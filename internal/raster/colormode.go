package raster

import (
	"image"
	"image/draw"
)

// ColorMode names the pixel layout of a rendered page.
type ColorMode string

const (
	ModeRGB     ColorMode = "RGB"
	ModeRGBA    ColorMode = "RGBA"
	ModeGray    ColorMode = "L"
	ModePalette ColorMode = "P"
	ModeCMYK    ColorMode = "CMYK"
	ModeUnknown ColorMode = ""
)

// ColorModeOf classifies img by its concrete pixel representation.
func ColorModeOf(img image.Image) ColorMode {
	switch img.(type) {
	case *image.YCbCr:
		return ModeRGB
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return ModeRGBA
	case *image.Gray, *image.Gray16:
		return ModeGray
	case *image.Paletted:
		return ModePalette
	case *image.CMYK:
		return ModeCMYK
	default:
		return ModeUnknown
	}
}

// Accepted reports whether m can be handed to the encoder unchanged.
func (m ColorMode) Accepted() bool {
	return m != ModeUnknown
}

// Normalize coerces images outside the accepted modes to RGBA truecolor.
// The second result reports whether a coercion happened.
func Normalize(img image.Image) (image.Image, bool) {
	if ColorModeOf(img).Accepted() {
		return img, false
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba, true
}
