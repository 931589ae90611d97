// Package capture provides platform-agnostic screen frame acquisition
package capture

import (
	"image"
	"time"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// Channel layouts a Frame can carry.
const (
	ChannelsGray = 1
	ChannelsRGBA = 4
)

// Frame is an immutable raw pixel buffer. Ownership passes to the pipeline
// stage processing it; nothing retains a Frame past matching unless a caller
// asks for diagnostics.
type Frame struct {
	Pixels     []byte
	Width      int
	Height     int
	Channels   int
	CapturedAt time.Time
}

// Validate checks buffer shape. A malformed capture is surfaced immediately
// as InvalidFrame and never retried.
func (f *Frame) Validate() error {
	if f == nil {
		return apperrors.New(apperrors.CodeInvalidFrame, "nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return apperrors.Newf(apperrors.CodeInvalidFrame, "non-positive dimensions %dx%d", f.Width, f.Height)
	}
	if f.Channels != ChannelsGray && f.Channels != ChannelsRGBA {
		return apperrors.Newf(apperrors.CodeInvalidFrame, "unsupported channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pixels) != want {
		return apperrors.Newf(apperrors.CodeInvalidFrame, "buffer length %d does not match %dx%dx%d", len(f.Pixels), f.Width, f.Height, f.Channels)
	}
	return nil
}

// Image exposes the frame as a stdlib image without copying pixel data.
func (f *Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Channels {
	case ChannelsRGBA:
		return &image.RGBA{Pix: f.Pixels, Stride: f.Width * 4, Rect: rect}, nil
	default:
		return &image.Gray{Pix: f.Pixels, Stride: f.Width, Rect: rect}, nil
	}
}

// FromImage builds a Frame from a decoded image, converting to RGBA.
func FromImage(img image.Image, at time.Time) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	}

	return &Frame{
		Pixels:     rgba.Pix,
		Width:      w,
		Height:     h,
		Channels:   ChannelsRGBA,
		CapturedAt: at,
	}
}

// Region is a rectangular sub-area of a frame.
type Region struct {
	X, Y, W, H int
}

// Within reports whether the region lies entirely inside a WxH frame.
func (r Region) Within(width, height int) bool {
	return r.X >= 0 && r.Y >= 0 && r.W > 0 && r.H > 0 &&
		r.X+r.W <= width && r.Y+r.H <= height
}

// Rect converts the region to a stdlib rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Crop returns the sub-image covered by the region. Region bounds must lie
// within the frame bounds.
func (f *Frame) Crop(r Region) (image.Image, error) {
	img, err := f.Image()
	if err != nil {
		return nil, err
	}
	if !r.Within(f.Width, f.Height) {
		return nil, apperrors.Newf(apperrors.CodeInvalidFrame, "region %+v outside %dx%d frame", r, f.Width, f.Height)
	}
	switch typed := img.(type) {
	case *image.RGBA:
		return typed.SubImage(r.Rect()), nil
	case *image.Gray:
		return typed.SubImage(r.Rect()), nil
	default:
		return nil, apperrors.New(apperrors.CodeInternal, "unexpected image type")
	}
}
