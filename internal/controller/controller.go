// Package controller runs the perception-to-action pipeline: capture a
// frame, fingerprint it, consult the match cache, match against the
// template library, and dispatch the matched action over the device link.
// One tick is one pass. Capture stays on the loop goroutine; the rest of a
// tick runs on a single worker slot, so ticks never overlap and a slow
// acknowledgement never stalls capture.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framepilot/framepilot/internal/capture"
	"github.com/framepilot/framepilot/internal/devlink"
	apperrors "github.com/framepilot/framepilot/internal/errors"
	"github.com/framepilot/framepilot/internal/journal"
	"github.com/framepilot/framepilot/internal/syncx"
	"github.com/framepilot/framepilot/internal/trace"
	"github.com/framepilot/framepilot/internal/vision/cache"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/library"
	"github.com/framepilot/framepilot/internal/vision/match"
)

// Tick outcomes beyond the devlink terminal outcomes.
const (
	OutcomeNoMatch  = "no_match"
	OutcomeCooldown = "cooldown"
)

// Event is the public record of one processed frame. The binding surface
// streams these and reports the latest one in status queries.
type Event struct {
	TickID      string    `json:"tick_id"`
	At          time.Time `json:"at"`
	Fingerprint string    `json:"fingerprint"`
	CacheHit    bool      `json:"cache_hit"`
	TemplateID  string    `json:"template_id,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Outcome     string    `json:"outcome"`
	Attempts    int       `json:"attempts,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Dispatcher sends commands to the device. *devlink.Session satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd devlink.Command) (devlink.Result, error)
	State() devlink.State
	Broken() bool
}

// Recorder journals tick outcomes. *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// Deps are the controller's collaborators.
type Deps struct {
	Capturer   capture.Capturer
	Prints     *fingerprint.Fingerprinter
	Library    *library.Library
	Cache      *cache.Cache
	Matcher    *match.Matcher
	Dispatcher Dispatcher
	Journal    Recorder

	TickInterval time.Duration
	AckTimeout   time.Duration
	Cooldown     time.Duration
}

// Controller owns the pipeline state.
type Controller struct {
	capturer   capture.Capturer
	prints     *fingerprint.Fingerprinter
	lib        *syncx.RWGuard[*library.Library]
	cache      *cache.Cache
	matcher    *match.Matcher
	dispatcher Dispatcher
	journal    Recorder

	tickInterval time.Duration
	ackTimeout   time.Duration
	cooldown     time.Duration

	lastEvent *syncx.RWGuard[Event]
	ticks     *syncx.RWGuard[uint64]

	firedMu   sync.Mutex
	lastFired map[string]time.Time

	sinkMu sync.Mutex
	sink   func(Event)

	tickBusy atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New wires a controller. All dependencies are required except Journal and
// the event sink.
func New(d Deps) *Controller {
	return &Controller{
		capturer:     d.Capturer,
		prints:       d.Prints,
		lib:          syncx.NewGuard(d.Library),
		cache:        d.Cache,
		matcher:      d.Matcher,
		dispatcher:   d.Dispatcher,
		journal:      d.Journal,
		tickInterval: d.TickInterval,
		ackTimeout:   d.AckTimeout,
		cooldown:     d.Cooldown,
		lastEvent:    syncx.NewGuard(Event{}),
		ticks:        syncx.NewGuard(uint64(0)),
		lastFired:    make(map[string]time.Time),
		stopCh:       make(chan struct{}),
	}
}

// SetEventSink registers a callback invoked after every processed frame.
// The callback runs on the pipeline goroutine and must not block.
func (c *Controller) SetEventSink(fn func(Event)) {
	c.sinkMu.Lock()
	c.sink = fn
	c.sinkMu.Unlock()
}

// Run drives the capture loop until the context is canceled or Stop is
// called. Unchanged frames are skipped before any vision work happens.
// Processing runs off the loop goroutine so an acknowledgement wait on the
// device link never stalls capture; while one tick is still matching or
// dispatching, subsequent changed frames are dropped rather than queued.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	slog.Info("pipeline started", "tick_interval", c.tickInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline stopped", "reason", "context")
			return
		case <-c.stopCh:
			slog.Info("pipeline stopped", "reason", "stop")
			return
		case <-ticker.C:
			frame, changed, err := c.capturer.Capture()
			if err != nil {
				slog.Warn("capture failed", "error", err)
				continue
			}
			if !changed {
				continue
			}
			if !c.tickBusy.CompareAndSwap(false, true) {
				slog.Debug("tick dropped, previous tick still in flight")
				continue
			}
			tickCtx := trace.WithTick(ctx, trace.NewTickID())
			go func() {
				defer c.tickBusy.Store(false)
				if _, err := c.ProcessFrame(tickCtx, frame); err != nil {
					trace.Logger(tickCtx).Warn("tick failed", "error", err)
				}
			}()
		}
	}
}

// Stop ends the capture loop. Idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// ProcessFrame runs one frame through the full pipeline and returns the
// resulting event. It is also the synchronous entry point for frames pushed
// through the binding surface.
func (c *Controller) ProcessFrame(ctx context.Context, frame *capture.Frame) (Event, error) {
	ctx, tickID := trace.EnsureTick(ctx)
	c.ticks.Update(func(n *uint64) { *n++ })

	if err := frame.Validate(); err != nil {
		return Event{}, err
	}

	phase := trace.StartPhase(ctx, "fingerprint")
	print, err := c.prints.Frame(frame)
	phase.End()
	if err != nil {
		return Event{}, err
	}

	res, hit := c.cache.Get(print)
	if !hit {
		phase = trace.StartPhase(ctx, "match")
		res, err = c.matcher.Match(c.lib.Get(), frame, print)
		phase.SetAttr("matched", res.Matched())
		phase.End()
		if err != nil {
			return Event{}, err
		}
		c.cache.Put(print, res)
	}

	ev := Event{
		TickID:      tickID,
		At:          time.Now().UTC(),
		Fingerprint: print.String(),
		CacheHit:    hit,
		TemplateID:  res.TemplateID(),
		Confidence:  res.Confidence,
	}

	switch {
	case !res.Matched():
		ev.Outcome = OutcomeNoMatch
	case c.onCooldown(res.Template.ID):
		ev.Outcome = OutcomeCooldown
		trace.Logger(ctx).Debug("dispatch suppressed", "template", res.Template.ID)
	default:
		c.dispatch(ctx, res, &ev)
	}

	c.record(ctx, res, &ev)
	c.lastEvent.Set(ev)
	c.emit(ev)
	return ev, nil
}

// dispatch sends the matched template's action and folds the terminal
// outcome into the event.
func (c *Controller) dispatch(ctx context.Context, res match.Result, ev *Event) {
	tpl := res.Template
	log := trace.Logger(ctx)

	cmd, err := tpl.Action.Command(c.ackTimeout)
	if err != nil {
		ev.Outcome = string(devlink.OutcomeDispatchFailed)
		ev.Error = err.Error()
		log.Error("command build failed", "template", tpl.ID, "error", err)
		return
	}

	phase := trace.StartPhase(ctx, "dispatch")
	result, err := c.dispatcher.Dispatch(ctx, cmd)
	phase.SetAttr("attempts", result.Attempts)
	phase.End()

	ev.Outcome = string(result.Outcome)
	ev.Attempts = result.Attempts
	if err != nil {
		ev.Error = err.Error()
		log.Warn("dispatch failed", "template", tpl.ID, "outcome", result.Outcome, "attempts", result.Attempts, "error", err)
	} else {
		c.markFired(tpl.ID)
		log.Info("dispatched", "template", tpl.ID, "confidence", res.Confidence, "attempts", result.Attempts)
	}
}

func (c *Controller) record(ctx context.Context, res match.Result, ev *Event) {
	if c.journal == nil {
		return
	}
	print, _ := fingerprint.Parse(ev.Fingerprint)
	_, err := c.journal.Record(ctx, journal.Entry{
		At:          ev.At,
		Fingerprint: print,
		TemplateID:  res.TemplateID(),
		Confidence:  res.Confidence,
		Outcome:     ev.Outcome,
		Attempts:    ev.Attempts,
		Error:       ev.Error,
	})
	if err != nil {
		trace.Logger(ctx).Warn("journal write failed", "error", err)
	}
}

func (c *Controller) onCooldown(templateID string) bool {
	if c.cooldown <= 0 {
		return false
	}
	c.firedMu.Lock()
	defer c.firedMu.Unlock()
	last, ok := c.lastFired[templateID]
	return ok && time.Since(last) < c.cooldown
}

func (c *Controller) markFired(templateID string) {
	if c.cooldown <= 0 {
		return
	}
	c.firedMu.Lock()
	c.lastFired[templateID] = time.Now()
	c.firedMu.Unlock()
}

func (c *Controller) emit(ev Event) {
	c.sinkMu.Lock()
	sink := c.sink
	c.sinkMu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// SwapLibrary atomically replaces the template library. The match cache is
// purged because cached results reference the old library, and cooldown
// history is kept only for templates that survive the swap.
func (c *Controller) SwapLibrary(lib *library.Library) {
	c.lib.Set(lib)
	c.cache.Purge()

	c.firedMu.Lock()
	for id := range c.lastFired {
		if _, ok := lib.ByID(id); !ok {
			delete(c.lastFired, id)
		}
	}
	c.firedMu.Unlock()
	slog.Info("library swapped", "templates", lib.Len(), "source", lib.Source())
}

// Library returns the active template library.
func (c *Controller) Library() *library.Library {
	return c.lib.Get()
}

// Status is the point-in-time pipeline snapshot for the binding surface.
type Status struct {
	LinkState   string      `json:"link_state"`
	LinkBroken  bool        `json:"link_broken"`
	Templates   int         `json:"templates"`
	Ticks       uint64      `json:"ticks"`
	Cache       cache.Stats `json:"cache"`
	LastEvent   *Event      `json:"last_event,omitempty"`
	LibrarySrc  string      `json:"library_source,omitempty"`
	LibraryTime time.Time   `json:"library_loaded_at"`
}

// Status snapshots the pipeline.
func (c *Controller) Status() Status {
	lib := c.lib.Get()
	s := Status{
		LinkState:   c.dispatcher.State().String(),
		LinkBroken:  c.dispatcher.Broken(),
		Templates:   lib.Len(),
		Ticks:       c.ticks.Get(),
		Cache:       c.cache.Stats(),
		LibrarySrc:  lib.Source(),
		LibraryTime: lib.LoadedAt(),
	}
	if last := c.lastEvent.Get(); last.TickID != "" {
		s.LastEvent = &last
	}
	return s
}

// ErrNoFrame is returned by Snapshot when no frame can be captured.
var ErrNoFrame = apperrors.New(apperrors.CodeCaptureFailed, "no frame available")

// Snapshot captures a frame outside the tick loop, bypassing change
// detection. Used by diagnostic endpoints.
func (c *Controller) Snapshot() (*capture.Frame, error) {
	frame, err := c.capturer.CaptureAlways()
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, ErrNoFrame
	}
	return frame, nil
}
