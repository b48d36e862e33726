// Package transport adapts runbookd's wire protocols (the hook HTTP
// endpoint and the interactive-client WebSocket) onto the typed Event/
// SideEffect vocabulary the daemon's reducer consumes. All JSON envelope
// shapes live here — internal/runbook/event's types are never marshaled
// directly, matching spec.md §5's "adapters deserialize... and hand events
// to the reducer one at a time".
package transport

import (
	"encoding/json"
	"fmt"

	"runbookd/internal/runbook/event"
	"runbookd/internal/runbook/render"
)

// hookRequest is the wire shape of POST /hook (spec.md §6).
type hookRequest struct {
	Hook       string          `json:"hook"`
	Matcher    *string         `json:"matcher"`
	SessionID  string          `json:"session_id"`
	SessionTag *string         `json:"session_tag"`
	Payload    json.RawMessage `json:"payload"`
}

// decodeHookRequest parses a /hook POST body into an event.Hook. Returns an
// error only for malformed JSON or a missing session_id — everything else
// (unknown hook names, nil matcher) is accepted per spec.md §6 ("Never
// 5xx for unknown hook names").
func decodeHookRequest(body []byte) (event.Hook, error) {
	var req hookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return event.Hook{}, fmt.Errorf("malformed JSON: %w", err)
	}
	if req.SessionID == "" {
		return event.Hook{}, fmt.Errorf("session_id is required")
	}

	h := event.Hook{
		HookName:  req.Hook,
		SessionID: req.SessionID,
		Payload:   req.Payload,
	}
	if req.Matcher != nil {
		h.Matcher = *req.Matcher
	}
	if req.SessionTag != nil {
		h.SessionTag = *req.SessionTag
	}
	return h, nil
}

// envelope is the {"type": <tag>, ...} shape every WebSocket message uses
// (spec.md §6). envelope carries every field any client or server message
// variant might use; unused fields are simply left zero.
type envelope struct {
	Type string `json:"type"`

	// hello (client -> server)
	Client       string   `json:"client,omitempty"`
	Protocol     int      `json:"protocol,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// hello (server -> client)
	DaemonVersion string `json:"daemon_version,omitempty"`

	// keypad_press
	PromptID string `json:"prompt_id,omitempty"`

	// dialpad_button
	Button string `json:"button,omitempty"`

	// adjustment
	AdjustKind string `json:"kind,omitempty"`
	Delta      int32  `json:"delta,omitempty"`

	// page_nav
	Direction string `json:"direction,omitempty"`

	// terminals_snapshot
	Terminals   []wireTerminal `json:"terminals,omitempty"`
	ActiveIndex *int           `json:"active_index,omitempty"`

	// render (server -> client)
	Render *wireRenderModel `json:"render,omitempty"`

	// notice (server -> client)
	Message string `json:"message,omitempty"`
}

type wireTerminal struct {
	Index      int    `json:"index"`
	SessionTag string `json:"session_tag,omitempty"`
}

type wireKeypadSlot struct {
	PromptID string `json:"prompt_id,omitempty"`
	Label    string `json:"label,omitempty"`
	Present  bool   `json:"present"`
}

type wireRenderModel struct {
	AgentState          string           `json:"agent_state"`
	Armed               string           `json:"armed,omitempty"`
	Keypad              []wireKeypadSlot `json:"keypad"`
	PageIndex           int              `json:"page_index"`
	PageCount           int              `json:"page_count"`
	HooksConnected      bool             `json:"hooks_connected"`
	Terminals           []wireTerminal   `json:"terminals"`
	ActiveTerminalIndex *int             `json:"active_terminal_index,omitempty"`
}

// decodeClientEvent parses one inbound WebSocket envelope into an
// event.Event. Unknown message types return (nil, nil) per spec.md §6
// ("Unknown message types are ignored with a notice") — the caller emits
// the notice itself since decoding happens outside the reducer.
func decodeClientEvent(raw []byte) (event.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	switch env.Type {
	case "hello":
		return event.ClientHello{
			ClientKind:      env.Client,
			ProtocolVersion: env.Protocol,
			Capabilities:    env.Capabilities,
		}, nil
	case "keypad_press":
		return event.KeypadPress{PromptID: env.PromptID}, nil
	case "dialpad_button":
		btn, ok := decodeDialpadButton(env.Button)
		if !ok {
			return nil, fmt.Errorf("unknown dialpad button %q", env.Button)
		}
		return event.DialpadButton{Button: btn}, nil
	case "adjustment":
		kind, ok := decodeAdjustmentKind(env.AdjustKind)
		if !ok {
			return nil, fmt.Errorf("unknown adjustment kind %q", env.AdjustKind)
		}
		return event.Adjustment{Kind: kind, Delta: env.Delta}, nil
	case "page_nav":
		dir, ok := decodePageDirection(env.Direction)
		if !ok {
			return nil, fmt.Errorf("unknown page_nav direction %q", env.Direction)
		}
		return event.PageNav{Direction: dir}, nil
	case "terminals_snapshot":
		terms := make([]event.TerminalEntry, len(env.Terminals))
		for i, t := range env.Terminals {
			terms[i] = event.TerminalEntry{Index: t.Index, SessionTag: t.SessionTag}
		}
		snap := event.TerminalsSnapshot{Terminals: terms}
		if env.ActiveIndex != nil {
			snap.ActiveIndex = *env.ActiveIndex
			snap.HasActiveIndex = true
		}
		return snap, nil
	default:
		return nil, nil
	}
}

func decodeDialpadButton(s string) (event.DialpadButtonKind, bool) {
	switch s {
	case "ctrl_c":
		return event.DialpadCtrlC, true
	case "export":
		return event.DialpadExport, true
	case "esc":
		return event.DialpadEsc, true
	case "enter":
		return event.DialpadEnter, true
	default:
		return 0, false
	}
}

func decodeAdjustmentKind(s string) (event.AdjustmentKind, bool) {
	switch s {
	case "dial":
		return event.AdjustmentDial, true
	case "roller":
		return event.AdjustmentRoller, true
	default:
		return 0, false
	}
}

func decodePageDirection(s string) (event.PageDirection, bool) {
	switch s {
	case "prev":
		return event.PagePrev, true
	case "next":
		return event.PageNext, true
	default:
		return 0, false
	}
}

// encodeHello builds the server's hello envelope sent on connect.
func encodeHello(daemonVersion string) envelope {
	return envelope{Type: "hello", Protocol: 1, DaemonVersion: daemonVersion}
}

// encodeRender builds the wire render envelope for a render.RenderModel.
func encodeRender(m render.RenderModel) envelope {
	wm := wireRenderModel{
		AgentState:     m.AgentState,
		Armed:          m.Armed,
		PageIndex:      m.PageIndex,
		PageCount:      m.PageCount,
		HooksConnected: m.HooksConnected,
	}
	if m.HasActiveTerminal {
		idx := m.ActiveTerminalIndex
		wm.ActiveTerminalIndex = &idx
	}
	wm.Keypad = make([]wireKeypadSlot, len(m.Keypad))
	for i, s := range m.Keypad {
		wm.Keypad[i] = wireKeypadSlot{PromptID: s.PromptID, Label: s.Label, Present: s.Present}
	}
	wm.Terminals = make([]wireTerminal, len(m.Terminals))
	for i, t := range m.Terminals {
		wm.Terminals[i] = wireTerminal{Index: t.Index, SessionTag: t.SessionTag}
	}
	return envelope{Type: "render", Render: &wm}
}

// encodeNotice builds the wire notice envelope.
func encodeNotice(message string) envelope {
	return envelope{Type: "notice", Message: message}
}

// encodeEditorCommand builds the wire envelope the editor extension
// receives for a SendEditorCommand side effect.
func encodeEditorCommand(cmd event.SendEditorCommand) envelope {
	env := envelope{Type: "editor_command"}
	switch cmd.Kind {
	case event.EditorSendText:
		env.Button = "send_text"
		env.Message = cmd.Text
		if cmd.Newline {
			env.Delta = 1
		}
	case event.EditorSendKey:
		env.Button = "send_key"
		env.Message = editorKeyName(cmd.Key)
	case event.EditorFocusTerminal:
		env.Button = "focus_terminal"
		idx := cmd.TargetIndex
		env.ActiveIndex = &idx
	case event.EditorScrollTerminal:
		env.Button = "scroll_terminal"
		env.Delta = cmd.ScrollDelta
	}
	return env
}

func editorKeyName(k event.EditorKey) string {
	switch k {
	case event.KeyCtrlC:
		return "ctrl_c"
	case event.KeyEnter:
		return "enter"
	case event.KeyEsc:
		return "esc"
	default:
		return "unknown"
	}
}
