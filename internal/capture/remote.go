package capture

import (
	"context"
	"crypto/md5"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// wireFrame is the CBOR message shape pushed by an external capture agent.
type wireFrame struct {
	Width    int     `cbor:"width"`
	Height   int     `cbor:"height"`
	Channels int     `cbor:"channels"`
	Pixels   []byte  `cbor:"pixels"`
	TS       float64 `cbor:"ts"` // unix seconds
}

// remoteSource receives frames over a ZMQ PULL socket. The receiver goroutine
// keeps only the newest frame; Capture hands it out at most once.
type remoteSource struct {
	socket *zmq4.Socket
	cancel context.CancelFunc

	mu       sync.Mutex
	latest   *Frame
	consumed bool
	lastHash [16]byte
	primed   bool
}

func newRemoteSource(endpoint string) (*remoteSource, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "create zmq socket")
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, apperrors.Wrapf(err, apperrors.CodeCaptureFailed, "connect zmq endpoint %s", endpoint)
	}
	if err := socket.SetRcvtimeo(time.Second); err != nil {
		_ = socket.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "set zmq receive timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &remoteSource{socket: socket, cancel: cancel}
	go s.receive(ctx)
	return s, nil
}

func (s *remoteSource) receive(ctx context.Context) {
	defer s.socket.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := s.socket.RecvBytes(0)
		if err != nil {
			// Timeouts just loop so cancellation is observed.
			continue
		}

		frame, ok := decodeWireFrame(msg)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.latest = frame
		s.consumed = false
		s.mu.Unlock()
	}
}

func decodeWireFrame(msg []byte) (*Frame, bool) {
	var wf wireFrame
	if err := cbor.Unmarshal(msg, &wf); err != nil {
		slog.Debug("remote frame decode error", "error", err)
		return nil, false
	}
	frame := &Frame{
		Pixels:     wf.Pixels,
		Width:      wf.Width,
		Height:     wf.Height,
		Channels:   wf.Channels,
		CapturedAt: time.Unix(0, int64(wf.TS*float64(time.Second))),
	}
	if err := frame.Validate(); err != nil {
		slog.Debug("remote frame rejected", "error", err)
		return nil, false
	}
	return frame, true
}

func (s *remoteSource) Capture() (*Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil || s.consumed {
		return nil, false, nil
	}
	s.consumed = true

	hash := md5.Sum(s.latest.Pixels[:min(len(s.latest.Pixels), changeHashBytes)])
	if s.primed && hash == s.lastHash {
		return nil, false, nil
	}
	s.lastHash = hash
	s.primed = true
	return s.latest, true, nil
}

func (s *remoteSource) CaptureAlways() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil {
		return nil, apperrors.New(apperrors.CodeCaptureFailed, "no frame received from remote agent yet")
	}
	s.consumed = true
	return s.latest, nil
}

func (s *remoteSource) Close() {
	s.cancel()
}
