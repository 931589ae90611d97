package capture

import (
	"bytes"
	"image"
	_ "image/jpeg" // decoder for the capture tool's output
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// execBackend shells out to the platform screenshot tool. Slower than the
// native grab but works without display-server bindings.
type execBackend struct {
	tempDir string
}

func newExecBackend() (backend, error) {
	tmpDir, err := os.MkdirTemp("", "framepilot-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir for screenshots", "error", err)
		tmpDir = os.TempDir()
	}
	return &execBackend{tempDir: tmpDir}, nil
}

func (b *execBackend) captureRaw() (*Frame, error) {
	tmpFile := filepath.Join(b.tempDir, "frame.jpg")

	// -x: no sound, -t jpg: JPEG format, -m: main display only
	cmd := exec.Command("screencapture", "-x", "-t", "jpg", "-m", tmpFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeCaptureFailed, "screencapture failed: %s", stderr.String())
	}

	data, err := os.ReadFile(tmpFile)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "read screenshot")
	}
	os.Remove(tmpFile)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "decode screenshot")
	}
	return FromImage(img, time.Now()), nil
}

func (b *execBackend) cleanup() {
	if b.tempDir != "" {
		os.RemoveAll(b.tempDir)
	}
}
