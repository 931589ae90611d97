//go:build linux || windows

package capture

import (
	"time"

	"github.com/vova616/screenshot"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// nativeBackend grabs the primary display directly.
type nativeBackend struct{}

func newNativeBackend() (backend, error) {
	return &nativeBackend{}, nil
}

func (b *nativeBackend) captureRaw() (*Frame, error) {
	img, err := screenshot.CaptureScreen()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "native screen grab")
	}
	return FromImage(img, time.Now()), nil
}

func (b *nativeBackend) cleanup() {}
