// Package trace correlates log lines across one pipeline pass. Every capture
// tick and every host binding request gets a tick ID; the capture, match, and
// dispatch phases are timed as spans hanging off it.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

type ctxKey struct{}

var tickCtxKey = ctxKey{}

// NewTickID generates a 64-bit random tick identifier.
func NewTickID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithTick injects a tick ID into the context.
func WithTick(ctx context.Context, tickID string) context.Context {
	return context.WithValue(ctx, tickCtxKey, tickID)
}

// TickID extracts the tick ID, or "" when the context carries none.
func TickID(ctx context.Context) string {
	id, _ := ctx.Value(tickCtxKey).(string)
	return id
}

// EnsureTick returns the existing tick ID or stamps a fresh one.
func EnsureTick(ctx context.Context) (context.Context, string) {
	if id := TickID(ctx); id != "" {
		return ctx, id
	}
	id := NewTickID()
	return WithTick(ctx, id), id
}

// Logger returns a slog.Logger carrying the context's tick ID.
func Logger(ctx context.Context) *slog.Logger {
	id := TickID(ctx)
	if id == "" {
		return slog.Default()
	}
	return slog.Default().With("tick_id", id)
}

// Phase is a timed pipeline stage (capture, fingerprint, match, dispatch)
// within one tick.
type Phase struct {
	Name    string
	TickID  string
	started time.Time
	attrs   []slog.Attr
}

// StartPhase begins timing a pipeline stage.
func StartPhase(ctx context.Context, name string) *Phase {
	return &Phase{Name: name, TickID: TickID(ctx), started: time.Now()}
}

// SetAttr records an attribute reported when the phase ends.
func (p *Phase) SetAttr(key string, val any) {
	p.attrs = append(p.attrs, slog.Any(key, val))
}

// End logs the phase duration at debug level.
func (p *Phase) End() {
	args := make([]any, 0, 6+2*len(p.attrs))
	args = append(args, "phase", p.Name, "duration", time.Since(p.started))
	if p.TickID != "" {
		args = append(args, "tick_id", p.TickID)
	}
	for _, a := range p.attrs {
		args = append(args, a.Key, a.Value.Any())
	}
	slog.Debug("phase complete", args...)
}

// Duration returns the elapsed time since the phase started.
func (p *Phase) Duration() time.Duration {
	return time.Since(p.started)
}
