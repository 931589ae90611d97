// Package server provides the host binding surface: JSON over HTTP plus a
// WebSocket event stream. Everything crossing the boundary is serialized;
// hosts never share mutable state with the pipeline.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/framepilot/framepilot/internal/capture"
	"github.com/framepilot/framepilot/internal/controller"
	apperrors "github.com/framepilot/framepilot/internal/errors"
	"github.com/framepilot/framepilot/internal/journal"
	"github.com/framepilot/framepilot/internal/trace"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/library"
)

// maxFrameBody bounds uploaded frame payloads (a 4K RGBA frame is ~33MB).
const maxFrameBody = 64 << 20

// defaultRecentLimit is how many journal entries a status query returns.
const defaultRecentLimit = 20

// RecentReader is the journal slice the server needs. *journal.Journal
// satisfies it.
type RecentReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// EventMessage frames a pipeline event for the WebSocket stream.
type EventMessage struct {
	Type  string           `json:"type"`
	Event controller.Event `json:"event"`
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string         `json:"error"`
	Code  apperrors.Code `json:"code"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl    *controller.Controller
	journal RecentReader
	prints  *fingerprint.Fingerprinter

	mu    sync.RWMutex
	conns map[*websocket.Conn]chan EventMessage
}

// sendQueueDepth bounds the per-connection event backlog.
const sendQueueDepth = 16

// New creates a server and hooks it into the controller's event stream.
func New(ctrl *controller.Controller, j RecentReader, prints *fingerprint.Fingerprinter) *Server {
	s := &Server{
		ctrl:    ctrl,
		journal: j,
		prints:  prints,
		conns:   make(map[*websocket.Conn]chan EventMessage),
	}
	ctrl.SetEventSink(s.broadcast)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/frame", s.handleFrame)
	mux.HandleFunc("GET /api/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /api/library", s.handleLibrary)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleFrame processes one host-supplied frame synchronously and returns
// the tick outcome. The body is a PNG/JPEG, or raw RGBA with width/height
// query parameters.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBody))
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidFrame, "read frame body"))
		return
	}

	frame, err := decodeFrame(r, body)
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.ctrl.ProcessFrame(r.Context(), frame)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func decodeFrame(r *http.Request, body []byte) (*capture.Frame, error) {
	if len(body) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidFrame, "empty frame body")
	}

	q := r.URL.Query()
	if q.Has("width") || q.Has("height") {
		width, werr := strconv.Atoi(q.Get("width"))
		height, herr := strconv.Atoi(q.Get("height"))
		if werr != nil || herr != nil {
			return nil, apperrors.New(apperrors.CodeInvalidFrame, "raw frames need integer width and height")
		}
		frame := &capture.Frame{
			Pixels:     body,
			Width:      width,
			Height:     height,
			Channels:   capture.ChannelsRGBA,
			CapturedAt: time.Now(),
		}
		if err := frame.Validate(); err != nil {
			return nil, err
		}
		return frame, nil
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidFrame, "decode frame image")
	}
	return capture.FromImage(img, time.Now()), nil
}

// handleDispatch reports pipeline status plus recent journal history.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var recent []journal.Entry
	if s.journal != nil {
		entries, err := s.journal.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		recent = entries
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.ctrl.Status(),
		"recent": recent,
	})
}

type libraryRequest struct {
	ManifestPath string `json:"manifest_path"`
}

// handleLibrary rebuilds the template library from a manifest and swaps it
// in. The running tick sees either the old library or the new one, never a
// mix.
func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	var req libraryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeLibraryInvalid, "decode library request"))
		return
	}
	if req.ManifestPath == "" {
		writeError(w, apperrors.New(apperrors.CodeLibraryInvalid, "manifest_path is required"))
		return
	}

	lib, err := library.Load(req.ManifestPath, s.prints)
	if err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.SwapLibrary(lib)

	writeJSON(w, http.StatusOK, map[string]any{
		"templates": lib.Len(),
		"source":    lib.Source(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	queue := make(chan EventMessage, sendQueueDepth)
	s.mu.Lock()
	s.conns[conn] = queue
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		// Safe to close now: broadcast only sends while the queue is still
		// registered, under the same lock.
		close(queue)
	}()

	ctx := r.Context()
	trace.Logger(ctx).Info("websocket connected", "remote", r.RemoteAddr)

	// One writer per connection keeps events in the order they were
	// produced; a slow host loses events rather than reordering them.
	go func() {
		for msg := range queue {
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}()

	// The stream is one-way; reads only notice the peer going away.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			trace.Logger(ctx).Debug("websocket closed", "error", err)
			return
		}
	}
}

// broadcast fans one event out to every connected host by queueing it on
// each connection's writer. The pipeline goroutine never blocks here: a
// host whose queue is full drops the event.
func (s *Server) broadcast(ev controller.Event) {
	msg := EventMessage{Type: "event", Event: ev}

	s.mu.RLock()
	for _, queue := range s.conns {
		select {
		case queue <- msg:
		default:
		}
	}
	s.mu.RUnlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.CodeOf(err)
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		status = appErr.HTTPStatus()
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}
