//go:build !(linux || windows)

package capture

import apperrors "github.com/framepilot/framepilot/internal/errors"

func newNativeBackend() (backend, error) {
	return nil, apperrors.New(apperrors.CodeConfigInvalid, "native capture backend is not supported on this platform; use \"exec\" or \"zmq\"")
}
