// Package render projects DaemonState and RunbookConfig into the
// RenderModel broadcast to interactive clients. Projection is a pure
// function: it holds no state of its own and performs no I/O (invariant 6).
package render

import (
	"time"

	"runbookd/internal/config"
	"runbookd/internal/runbook/state"
)

// KeypadSlotView is one rendered slot of the current page.
type KeypadSlotView struct {
	PromptID string
	Label    string
	Present  bool
}

// TerminalView is one rendered terminal row.
type TerminalView struct {
	Index      int
	SessionTag string
}

// RenderModel is the pure projection of (DaemonState, RunbookConfig)
// broadcast to every connected client after a reducer step that changed it.
type RenderModel struct {
	AgentState string
	Armed      string // empty if none armed
	HasArmed   bool

	Keypad    [state.PageSlotCount]KeypadSlotView
	PageIndex int
	PageCount int

	HooksConnected bool

	Terminals           []TerminalView
	ActiveTerminalIndex int
	HasActiveTerminal   bool
}

// Project computes the RenderModel for the current state and config.
//
// now is supplied by the caller rather than read from the clock here,
// keeping the projection as deterministic as the reducer (spec.md §9:
// "no hidden timers in the core").
func Project(d *state.DaemonState, cfg *config.RunbookConfig, now time.Time) RenderModel {
	m := RenderModel{
		PageIndex:           d.PageIndex,
		PageCount:           cfg.PageCount(),
		ActiveTerminalIndex: d.ActiveTerminalIndex,
		HasActiveTerminal:   d.HasActiveTerminal,
	}

	m.AgentState = ResolveAgentState(d).String()

	if d.HasArmed {
		m.Armed = d.Armed
		m.HasArmed = true
	}

	m.Keypad = projectKeypad(d, cfg)

	m.HooksConnected = d.HooksMode == state.HooksActive &&
		d.ForwarderConnected &&
		!d.LastHookAt.IsZero() &&
		now.Sub(d.LastHookAt) < state.HooksConnectedWindow

	m.Terminals = make([]TerminalView, len(d.Terminals))
	for i, t := range d.Terminals {
		m.Terminals[i] = TerminalView{Index: t.Index, SessionTag: t.SessionTag}
	}

	return m
}

func projectKeypad(d *state.DaemonState, cfg *config.RunbookConfig) [state.PageSlotCount]KeypadSlotView {
	var view [state.PageSlotCount]KeypadSlotView
	page := cfg.Page(d.PageIndex)
	if page == nil {
		return view
	}
	for i, slot := range page.Slots {
		if slot.Empty() {
			continue
		}
		p := cfg.Prompt(slot.PromptID)
		if p == nil {
			continue
		}
		view[i] = KeypadSlotView{PromptID: p.ID, Label: p.Label, Present: true}
	}
	return view
}

// ResolveAgentState implements the multi-session correlation algorithm of
// spec.md §4.3: the single permitted rendering heuristic.
func ResolveAgentState(d *state.DaemonState) state.AgentState {
	switch d.LiveSessionCount() {
	case 0:
		if d.HasLastEnded {
			return d.LastEndedState
		}
		return state.AgentUnknown
	case 1:
		for _, s := range d.Sessions {
			return s.AgentState
		}
		return state.AgentUnknown // unreachable, len==1
	default:
		if !d.HasActiveTerminal {
			return state.AgentUnknown
		}
		term, ok := d.TerminalByIndex(d.ActiveTerminalIndex)
		if !ok || term.SessionTag == "" {
			return state.AgentUnknown
		}
		sess, ok := d.SessionByTag(term.SessionTag)
		if !ok {
			return state.AgentUnknown
		}
		return sess.AgentState
	}
}

// Equal reports whether two render models are structurally identical,
// used by the reducer to suppress redundant broadcasts (spec.md §4.6).
func Equal(a, b RenderModel) bool {
	if a.AgentState != b.AgentState ||
		a.Armed != b.Armed || a.HasArmed != b.HasArmed ||
		a.PageIndex != b.PageIndex || a.PageCount != b.PageCount ||
		a.HooksConnected != b.HooksConnected ||
		a.ActiveTerminalIndex != b.ActiveTerminalIndex ||
		a.HasActiveTerminal != b.HasActiveTerminal {
		return false
	}
	if a.Keypad != b.Keypad {
		return false
	}
	if len(a.Terminals) != len(b.Terminals) {
		return false
	}
	for i := range a.Terminals {
		if a.Terminals[i] != b.Terminals[i] {
			return false
		}
	}
	return true
}
