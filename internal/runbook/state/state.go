// Package state defines DaemonState, the single authoritative in-memory
// model of runbookd's world, and the value types it is built from.
//
// DaemonState is mutated only by internal/runbook/reduce. Every other
// package (including internal/runbook/render) only ever reads it.
package state

import "time"

// AgentState is the closed set of states a session can be rendered in.
type AgentState int

const (
	AgentUnknown AgentState = iota
	AgentSent
	AgentIdle
	AgentRunning
	AgentWaitingPermission
	AgentWaitingInput
	AgentComplete
	AgentSettled
	AgentEnded
	AgentBlocked
)

// String returns a human-readable name, used by the render projection and
// by logging.
func (s AgentState) String() string {
	switch s {
	case AgentUnknown:
		return "unknown"
	case AgentSent:
		return "sent"
	case AgentIdle:
		return "idle"
	case AgentRunning:
		return "running"
	case AgentWaitingPermission:
		return "waiting_permission"
	case AgentWaitingInput:
		return "waiting_input"
	case AgentComplete:
		return "complete"
	case AgentSettled:
		return "settled"
	case AgentEnded:
		return "ended"
	case AgentBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// DegradedSafe reports whether s is one of the states permitted while
// HooksMode is Absent (invariant 1).
func (s AgentState) DegradedSafe() bool {
	switch s {
	case AgentUnknown, AgentSent, AgentEnded:
		return true
	default:
		return false
	}
}

// Session is one live agent run, keyed by SessionID in DaemonState.Sessions.
type Session struct {
	SessionID   string
	SessionTag  string // empty if never tagged
	AgentState  AgentState
	LastEventAt time.Time
}

// Terminal is one editor-reported pty, replaced in bulk by each
// TerminalsSnapshot event.
type Terminal struct {
	Index      int
	SessionTag string // empty if untagged
}

// Prompt is an immutable configuration entry describing one dispatchable
// command. Prompts never change after config load.
type Prompt struct {
	ID           string
	Label        string
	Command      string
	FallbackText string // used in degraded mode when set
	Prefill      bool
}

// Slot is one of the 9 positions in a Page: either a prompt id or empty.
type Slot struct {
	PromptID string // empty means the slot is unoccupied
}

// Empty reports whether the slot holds no prompt.
func (s Slot) Empty() bool { return s.PromptID == "" }

// PageSlotCount is the fixed 3x3 layout size of every Page.
const PageSlotCount = 9

// Page is one ordered group of exactly PageSlotCount prompt slots.
type Page struct {
	Slots [PageSlotCount]Slot
}

// HooksMode tracks whether any hook event has ever been observed. It is
// Absent at process start and, once flipped to Active, never flips back
// (§3 HooksMode).
type HooksMode int

const (
	HooksAbsent HooksMode = iota
	HooksActive
)

// HooksConnectedWindow is the freshness window used to derive the render
// model's hooks_connected flag (Open Question, resolved in SPEC_FULL.md
// §4.6). It is a var, not a const, so tests can shrink it — mirroring the
// teacher's monitor.IdleThreshold convention.
var HooksConnectedWindow = 30 * time.Second

// DaemonState is the single owner of all dynamic runbookd entities. It is
// mutated exclusively by internal/runbook/reduce.
type DaemonState struct {
	Sessions map[string]*Session // keyed by session_id
	TagToID  map[string]string   // session_tag -> session_id, 1:1 on values (invariant 5)

	Terminals           []Terminal
	ActiveTerminalIndex int
	HasActiveTerminal   bool

	HooksMode      HooksMode
	LastHookAt     time.Time
	LastEndedState AgentState
	HasLastEnded   bool

	// ForwarderConnected latches the hook forwarder's own transport state
	// (event.HooksForwarderConnected/Disconnected), independent of hook
	// freshness: a forwarder that has explicitly dropped stays disconnected
	// even if its last hook is still inside the freshness window. Starts
	// true since most adapters never emit these events at all, in which
	// case hooks_connected reduces to the freshness check alone.
	ForwarderConnected bool

	// LastObservedAt is the time basis the render projection used the last
	// time Step ran, i.e. the "before" snapshot's clock. Step advances it
	// to whatever time basis produced the "after" snapshot, so a later Step
	// call — in particular one driven by a Tick, whose time basis comes
	// from the tick payload rather than the adapter's now — can detect a
	// passage of time even when nothing else about DaemonState changed.
	LastObservedAt time.Time

	Armed    string // prompt id, empty if none armed
	HasArmed bool

	PageIndex int

	// RecentNotices is a small bounded ring of Notice side-effect strings,
	// exposed through daemon.Daemon.RecentNotices — purely presentational
	// bookkeeping, never read back by the reducer to make a decision
	// (invariant 6).
	RecentNotices []string
}

// MaxRecentNotices bounds the notice ring kept in DaemonState.
const MaxRecentNotices = 20

// New returns a zero-value DaemonState ready for the reducer's first Step.
func New() *DaemonState {
	return &DaemonState{
		Sessions:           make(map[string]*Session),
		TagToID:            make(map[string]string),
		ForwarderConnected: true,
	}
}

// PushNotice appends a notice to the bounded ring, dropping the oldest
// entry once MaxRecentNotices is exceeded.
func (d *DaemonState) PushNotice(msg string) {
	d.RecentNotices = append(d.RecentNotices, msg)
	if len(d.RecentNotices) > MaxRecentNotices {
		d.RecentNotices = d.RecentNotices[len(d.RecentNotices)-MaxRecentNotices:]
	}
}

// LiveSessionCount returns the number of currently live sessions.
func (d *DaemonState) LiveSessionCount() int {
	return len(d.Sessions)
}

// TerminalByIndex returns the terminal at index, if present.
func (d *DaemonState) TerminalByIndex(index int) (Terminal, bool) {
	for _, t := range d.Terminals {
		if t.Index == index {
			return t, true
		}
	}
	return Terminal{}, false
}

// SessionByTag resolves a session tag to its live session, if any.
func (d *DaemonState) SessionByTag(tag string) (*Session, bool) {
	if tag == "" {
		return nil, false
	}
	id, ok := d.TagToID[tag]
	if !ok {
		return nil, false
	}
	s, ok := d.Sessions[id]
	return s, ok
}
