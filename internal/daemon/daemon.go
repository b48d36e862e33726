// Package daemon owns the reducer task: the single goroutine that is the
// sole mutator of DaemonState (spec.md §5 "Shared state"). Every adapter
// (HTTP intake, WebSocket clients, editor command delivery) only ever
// enqueues events into the Daemon or drains its outbound channels; none of
// them hold a reference to DaemonState itself.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"runbookd/internal/activitylog"
	"runbookd/internal/config"
	"runbookd/internal/runbook/event"
	"runbookd/internal/runbook/reduce"
	"runbookd/internal/runbook/render"
	"runbookd/internal/runbook/state"
)

// InboundQueueSize bounds the non-hook inbound event queue (spec.md §5
// "Backpressure"). It is a var, matching the teacher's convention
// (monitor.IdleThreshold) of making tunable constants overridable by tests.
var InboundQueueSize = 256

// HookQueueSize bounds the hook-event inbound queue. It is sized generously
// because hook events must never be dropped; a daemon that cannot keep up
// with its hook forwarder has a capacity problem the queue size alone
// cannot paper over, but this keeps ordinary bursts lossless.
var HookQueueSize = 4096

// OutboundClientQueueSize bounds each connected client's broadcast queue.
// Once a client falls behind by this many render models, further updates to
// it are skipped (not queued) until it drains, rather than allowed to slow
// down the fan-out for everyone else; falling behind does not evict it.
var OutboundClientQueueSize = 8

// TickInterval is how often Run enqueues a synthetic event.Tick, well under
// state.HooksConnectedWindow, so the hooks_connected freshness window
// actually lapses on its own instead of only ever changing as a side effect
// of some other event (spec.md §4.6/§9 "time enters only as explicit Tick
// events"). A var, like the other tunables here, so tests can shrink it.
var TickInterval = 5 * time.Second

// Daemon runs the reducer loop and fans its side effects out to connected
// clients and the editor command sink.
type Daemon struct {
	cfg *config.RunbookConfig
	log *activitylog.Logger

	// stateMu guards state; only the reducer goroutine (Run) ever mutates
	// it, but Snapshot() and RecentNotices() read it from other goroutines
	// (e.g. a WebSocket connection's initial render), so access is still
	// synchronized.
	stateMu sync.Mutex
	state   *state.DaemonState

	hookEvents chan event.Event
	events     chan event.Event

	subMu       sync.Mutex
	subscribers map[string]chan render.RenderModel

	editorCmds chan event.SendEditorCommand

	Version string
}

// New creates a Daemon ready to run. cfg must be immutable for the
// daemon's lifetime (spec.md §3 "Ownership & lifecycle").
func New(cfg *config.RunbookConfig, log *activitylog.Logger, version string) *Daemon {
	if log == nil {
		log = activitylog.Nop()
	}
	return &Daemon{
		cfg:         cfg,
		log:         log,
		state:       state.New(),
		hookEvents:  make(chan event.Event, HookQueueSize),
		events:      make(chan event.Event, InboundQueueSize),
		subscribers: make(map[string]chan render.RenderModel),
		editorCmds:  make(chan event.SendEditorCommand, InboundQueueSize),
		Version:     version,
	}
}

// Enqueue hands an inbound event to the daemon. Hook events are never
// dropped; all other event kinds are subject to the bounded queue's
// drop-oldest backpressure policy (spec.md §5).
func (d *Daemon) Enqueue(e event.Event) {
	if _, isHook := e.(event.Hook); isHook {
		d.hookEvents <- e
		return
	}
	select {
	case d.events <- e:
		return
	default:
	}
	// Queue is full: drop the oldest non-hook event and emit a Notice.
	// This happens entirely at the adapter boundary, not inside the
	// reducer — the reducer itself never drops anything it is handed.
	select {
	case <-d.events:
	default:
	}
	select {
	case d.events <- e:
	default:
		// Extremely unlikely race with another producer; give up silently
		// rather than block the caller.
	}
	d.log.Notice(fmt.Sprintf("inbound queue overflow: dropped oldest event to admit %T", e))
}

// Run processes events until ctx is cancelled. It is the only goroutine
// that ever calls reduce.Step.
func (d *Daemon) Run(ctx context.Context) error {
	go d.runTicker(ctx)

	for {
		select {
		case e := <-d.hookEvents:
			d.step(e)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case e := <-d.hookEvents:
			d.step(e)
		case e := <-d.events:
			d.step(e)
		}
	}
}

// runTicker drives event.Tick into the reducer at TickInterval, the only
// source of "time passing" the reducer ever sees absent some other event
// (internal/runbook/reduce.Step reads the clock exclusively from Tick's
// payload or the adapter-supplied now, never from time.Now() itself).
func (d *Daemon) runTicker(ctx context.Context) {
	t := time.NewTicker(TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			d.Enqueue(event.Tick{Now: now.UnixNano()})
		}
	}
}

func (d *Daemon) step(e event.Event) {
	d.stateMu.Lock()
	effects := reduce.Step(d.state, d.cfg, time.Now(), e)
	d.stateMu.Unlock()
	d.dispatch(effects)
}

func (d *Daemon) dispatch(effects []event.SideEffect) {
	for _, eff := range effects {
		switch v := eff.(type) {
		case event.BroadcastRender:
			d.broadcast(v.Model)
		case event.SendEditorCommand:
			d.sendEditorCommand(v)
		case event.Notice:
			d.log.Notice(v.Message)
		}
	}
}

func (d *Daemon) broadcast(model render.RenderModel) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for connID, ch := range d.subscribers {
		select {
		case ch <- model:
		default:
			// Slow client: drop this update rather than block the
			// reducer loop. The client will see the next broadcast once
			// it catches up, or will be evicted by its own read loop on
			// disconnect.
			d.log.TransportError("broadcast", fmt.Errorf("client %s outbound queue full, skipped update", connID))
		}
	}
}

func (d *Daemon) sendEditorCommand(cmd event.SendEditorCommand) {
	select {
	case d.editorCmds <- cmd:
	default:
		d.log.TransportError("editor command", fmt.Errorf("editor command queue full, dropped %+v", cmd))
	}
}

// Subscribe registers a new client and returns the channel it should read
// broadcast render models from, plus an unsubscribe func to call on
// disconnect.
func (d *Daemon) Subscribe(connID string) (<-chan render.RenderModel, func()) {
	ch := make(chan render.RenderModel, OutboundClientQueueSize)
	d.subMu.Lock()
	d.subscribers[connID] = ch
	d.subMu.Unlock()
	return ch, func() {
		d.subMu.Lock()
		delete(d.subscribers, connID)
		d.subMu.Unlock()
	}
}

// EditorCommands returns the channel the editor-extension adapter should
// drain and dispatch.
func (d *Daemon) EditorCommands() <-chan event.SendEditorCommand {
	return d.editorCmds
}

// Snapshot returns the current render model without mutating state, for a
// client's initial render on connect.
func (d *Daemon) Snapshot() render.RenderModel {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return render.Project(d.state, d.cfg, time.Now())
}

// RecentNotices returns a copy of the bounded notice ring.
func (d *Daemon) RecentNotices() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	out := make([]string, len(d.state.RecentNotices))
	copy(out, d.state.RecentNotices)
	return out
}
