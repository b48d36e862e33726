// Package event defines the closed vocabulary of inbound events the
// runbookd reducer accepts and the outbound side effects it produces.
//
// Both Event and SideEffect are closed sum types: each variant is its own
// struct, and the marker methods keep callers from implementing the
// interfaces outside this package, so a switch over the concrete type is
// always exhaustive at the call sites that matter (internal/runbook/reduce).
package event

import (
	"encoding/json"

	"runbookd/internal/runbook/render"
)

// Event is implemented by every inbound event variant.
type Event interface {
	isEvent()
}

// Hook reports a single lifecycle notification from the hook forwarder.
type Hook struct {
	HookName   string
	Matcher    string
	SessionID  string
	SessionTag string // empty if not injected
	Payload    json.RawMessage
}

func (Hook) isEvent() {}

// ClientHello is sent once by an interactive client after connecting.
type ClientHello struct {
	ClientKind      string
	ProtocolVersion int
	Capabilities    []string
}

func (ClientHello) isEvent() {}

// KeypadPress reports a physical keypad button naming a prompt.
type KeypadPress struct {
	PromptID string
}

func (KeypadPress) isEvent() {}

// DialpadButtonKind enumerates the fixed dialpad buttons.
type DialpadButtonKind int

const (
	DialpadCtrlC DialpadButtonKind = iota
	DialpadExport
	DialpadEsc
	DialpadEnter
)

// DialpadButton reports a physical dialpad button press.
type DialpadButton struct {
	Button DialpadButtonKind
}

func (DialpadButton) isEvent() {}

// AdjustmentKind distinguishes the dial from the roller control.
type AdjustmentKind int

const (
	AdjustmentDial AdjustmentKind = iota
	AdjustmentRoller
)

// Adjustment reports a relative turn of the dial or roller.
type Adjustment struct {
	Kind  AdjustmentKind
	Delta int32
}

func (Adjustment) isEvent() {}

// PageDirection is Prev or Next.
type PageDirection int

const (
	PagePrev PageDirection = iota
	PageNext
)

// PageNav requests moving to an adjacent keypad page.
type PageNav struct {
	Direction PageDirection
}

func (PageNav) isEvent() {}

// TerminalEntry is one row of a TerminalsSnapshot.
type TerminalEntry struct {
	Index      int
	SessionTag string // empty if untagged
}

// TerminalsSnapshot replaces the full known terminal set in bulk, as
// reported by the editor extension.
type TerminalsSnapshot struct {
	Terminals      []TerminalEntry
	ActiveIndex    int
	HasActiveIndex bool
}

func (TerminalsSnapshot) isEvent() {}

// HooksForwarderConnected reports the hook forwarder's transport connecting.
type HooksForwarderConnected struct{}

func (HooksForwarderConnected) isEvent() {}

// HooksForwarderDisconnected reports the hook forwarder's transport dropping.
type HooksForwarderDisconnected struct{}

func (HooksForwarderDisconnected) isEvent() {}

// Tick is a monotonic timer event that advances the clock the reducer
// measures the hooks_connected freshness window against. It does not clear
// LastEndedState or change ForwarderConnected.
type Tick struct {
	Now int64 // unix nanoseconds, supplied by the caller — the core never reads the clock
}

func (Tick) isEvent() {}

// SideEffect is implemented by every outbound side-effect variant.
type SideEffect interface {
	isSideEffect()
}

// BroadcastRender asks the adapter to publish a new render model to every
// connected client.
type BroadcastRender struct {
	Model render.RenderModel
}

func (BroadcastRender) isSideEffect() {}

// EditorCommandKind enumerates the dispatchable editor commands.
type EditorCommandKind int

const (
	EditorSendText EditorCommandKind = iota
	EditorSendKey
	EditorFocusTerminal
	EditorScrollTerminal
)

// EditorKey enumerates the keys SendKey can dispatch.
type EditorKey int

const (
	KeyCtrlC EditorKey = iota
	KeyEnter
	KeyEsc
)

// SendEditorCommand asks the adapter to route a command to the editor
// extension, optionally targeting a specific terminal index.
type SendEditorCommand struct {
	Kind        EditorCommandKind
	Text        string    // SendText
	Newline     bool      // SendText
	Key         EditorKey // SendKey
	TargetIndex int       // FocusTerminal / ScrollTerminal
	HasTarget   bool
	ScrollDelta int32 // ScrollTerminal
}

func (SendEditorCommand) isSideEffect() {}

// Notice is a diagnostic message meant for display as a toast on the device
// and for the activity log.
type Notice struct {
	Message string
}

func (Notice) isSideEffect() {}
