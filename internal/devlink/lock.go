package devlink

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// acquirePortLock takes an advisory lock derived from the port path. One
// physical link belongs to exactly one session; a second open anywhere on
// the machine is a configuration error, not a queueing situation.
func acquirePortLock(portName string) (*flock.Flock, error) {
	sanitized := strings.NewReplacer("/", "-", "\\", "-", ":", "-").Replace(portName)
	lockPath := filepath.Join(os.TempDir(), "framepilot-"+sanitized+".lock")

	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeLinkIO, "lock %s", lockPath)
	}
	if !locked {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "port %s is already owned by another session", portName)
	}
	return lock, nil
}
