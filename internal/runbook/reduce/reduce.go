// Package reduce implements the single pure reducer at the heart of
// runbookd: Step takes the current DaemonState, the immutable RunbookConfig,
// and one Event, mutates the DaemonState in place, and returns the list of
// SideEffect values the adapter must execute.
//
// The reducer performs no I/O and reads no clock except through the Tick
// event and the now value the adapter passes to Step (spec.md §9: "no
// hidden timers in the core"). It is total: every event variant is handled,
// and unknown hook/matcher pairs or message types never panic or error —
// they are logged via a Notice side effect instead (spec.md §7).
package reduce

import (
	"fmt"
	"time"

	"runbookd/internal/config"
	"runbookd/internal/runbook/correlate"
	ev "runbookd/internal/runbook/event"
	"runbookd/internal/runbook/render"
	"runbookd/internal/runbook/state"
)

// Step applies one event to state, returning the resulting side effects.
// State is mutated in place rather than copied or returned, matching the
// teacher's "single owner mutates, no copies" convention for DaemonState.
func Step(d *state.DaemonState, cfg *config.RunbookConfig, now time.Time, e ev.Event) []ev.SideEffect {
	before := render.Project(d, cfg, d.LastObservedAt)

	// effectiveNow is the time basis "after" is projected at, and the value
	// LastObservedAt advances to. It is the adapter's now for every event
	// except Tick, whose own payload is the authoritative clock (spec.md
	// §9: "time enters only as explicit Tick events") — this is what lets a
	// Tick advance the freshness window even though nothing else about
	// DaemonState changes.
	effectiveNow := now

	var effects []ev.SideEffect
	switch v := e.(type) {
	case ev.Hook:
		effects = applyHook(d, now, v)
	case ev.ClientHello:
		// Handshake bookkeeping lives entirely in the transport adapter;
		// the core has nothing to mutate for it.
	case ev.KeypadPress:
		effects = applyKeypadPress(d, cfg, v)
	case ev.DialpadButton:
		effects = applyDialpadButton(d, cfg, v)
	case ev.Adjustment:
		effects = applyAdjustment(d, cfg, v)
	case ev.PageNav:
		applyPageNav(d, cfg, v)
	case ev.TerminalsSnapshot:
		applyTerminalsSnapshot(d, v)
	case ev.HooksForwarderConnected:
		d.ForwarderConnected = true
	case ev.HooksForwarderDisconnected:
		// Observable immediately: hooks_connected drops even if the last
		// hook is still inside the freshness window (spec.md §1, "never
		// display agent states it cannot prove").
		d.ForwarderConnected = false
	case ev.Tick:
		effectiveNow = time.Unix(0, v.Now)
	default:
		effects = append(effects, ev.Notice{Message: fmt.Sprintf("unrecognized event %T", e)})
	}

	for _, eff := range effects {
		if n, ok := eff.(ev.Notice); ok {
			d.PushNotice(n.Message)
		}
	}

	after := render.Project(d, cfg, effectiveNow)
	d.LastObservedAt = effectiveNow
	if !render.Equal(before, after) {
		effects = append(effects, ev.BroadcastRender{Model: after})
	}
	return effects
}

// applyHook implements spec.md §4.2 (hook-driven agent state machine) and
// §4.3 (tag learning).
func applyHook(d *state.DaemonState, now time.Time, h ev.Hook) []ev.SideEffect {
	var effects []ev.SideEffect

	d.HooksMode = state.HooksActive
	d.LastHookAt = now

	if h.SessionID == "" {
		return append(effects, ev.Notice{Message: "hook event missing session_id"})
	}

	switch h.HookName {
	case "SessionStart":
		if _, exists := d.Sessions[h.SessionID]; !exists {
			d.Sessions[h.SessionID] = &state.Session{
				SessionID:   h.SessionID,
				AgentState:  state.AgentUnknown,
				LastEventAt: now,
			}
			// New session activity clears the latch (spec.md §3,
			// LastEndedState: "cleared on any new session activity").
			d.HasLastEnded = false
		}
	case "SessionEnd":
		sess, exists := d.Sessions[h.SessionID]
		if exists {
			delete(d.Sessions, h.SessionID)
			if d.LiveSessionCount() == 0 {
				d.LastEndedState = sess.AgentState
				d.HasLastEnded = true
			}
		}
		pruneDeadTags(d)
		return effects
	}

	sess, exists := d.Sessions[h.SessionID]
	if !exists {
		// Any hook other than SessionStart/SessionEnd implicitly creates the
		// session, per invariant 2 ("a session exists iff at least one hook
		// event has named its id").
		sess = &state.Session{SessionID: h.SessionID, AgentState: state.AgentUnknown}
		d.Sessions[h.SessionID] = sess
		d.HasLastEnded = false
	}
	sess.LastEventAt = now

	if h.SessionTag != "" {
		if n := learnTag(d, h.SessionTag, h.SessionID); n != nil {
			effects = append(effects, *n)
		}
		if d.TagToID[h.SessionTag] == h.SessionID {
			sess.SessionTag = h.SessionTag
		}
	}

	target, known := hookTarget(h.HookName, h.Matcher)
	switch {
	case known:
		if sess.AgentState == state.AgentBlocked && !isUnstickingState(target) {
			// Blocked is sticky until overwritten by Running, Idle,
			// Complete, Settled, or Ended (spec.md §4.2).
			break
		}
		sess.AgentState = target
	case h.HookName == "SessionStart":
		// Handled above; state stays Unknown until the next event.
	default:
		effects = append(effects, ev.Notice{
			Message: fmt.Sprintf("unrecognized hook %q (matcher %q)", h.HookName, h.Matcher),
		})
	}

	return effects
}

// isUnstickingState reports whether target is one of the states allowed to
// override a sticky Blocked state (spec.md §4.2).
func isUnstickingState(target state.AgentState) bool {
	switch target {
	case state.AgentRunning, state.AgentIdle, state.AgentComplete, state.AgentSettled, state.AgentEnded:
		return true
	default:
		return false
	}
}

// hookTarget maps (hook, matcher) to a target AgentState per the canonical
// table in spec.md §4.2. The second return value is false for unknown
// pairs and for hooks with no direct state target (SessionStart/SessionEnd,
// handled by the caller).
func hookTarget(hook, matcher string) (state.AgentState, bool) {
	switch hook {
	case "Notification":
		switch matcher {
		case "idle_prompt":
			return state.AgentIdle, true
		case "permission_prompt":
			return state.AgentWaitingPermission, true
		case "elicitation_dialog":
			return state.AgentWaitingInput, true
		default:
			return state.AgentUnknown, false
		}
	case "UserPromptSubmit", "PreToolUse", "PostToolUse":
		return state.AgentRunning, true
	case "PermissionRequest":
		return state.AgentWaitingPermission, true
	case "TaskCompleted":
		return state.AgentComplete, true
	case "Stop":
		return state.AgentSettled, true
	case "RunbookPolicy":
		if matcher == "blocked" {
			return state.AgentBlocked, true
		}
		return state.AgentUnknown, false
	default:
		return state.AgentUnknown, false
	}
}

// learnTag implements the tag-learning rule of spec.md §4.3: a tag may map
// to only one session_id ever, and a session_id is reached from only one tag
// (invariant 5). Rejecting a conflicting mapping returns a Notice rather than
// silently overwriting.
func learnTag(d *state.DaemonState, tag, sessionID string) *ev.SideEffect {
	if existing, ok := d.TagToID[tag]; ok {
		if existing == sessionID {
			return nil
		}
		n := ev.SideEffect(ev.Notice{
			Message: fmt.Sprintf("tag %q already maps to session %q, rejecting remap to %q", tag, existing, sessionID),
		})
		return &n
	}
	for otherTag, id := range d.TagToID {
		if id == sessionID {
			n := ev.SideEffect(ev.Notice{
				Message: fmt.Sprintf("session %q already tagged %q, rejecting tag %q", sessionID, otherTag, tag),
			})
			return &n
		}
	}
	d.TagToID[tag] = sessionID
	if !correlate.LooksLikeTag(tag) {
		n := ev.SideEffect(ev.Notice{Message: fmt.Sprintf("session_tag %q does not look like a UUID", tag)})
		return &n
	}
	return nil
}

// pruneDeadTags drops tag mappings whose tag no longer appears in the
// current terminals snapshot and whose session has ended (spec.md §4.3:
// "retained only as long as the tag still appears in the current
// terminals snapshot").
func pruneDeadTags(d *state.DaemonState) {
	live := make(map[string]bool, len(d.Terminals))
	for _, t := range d.Terminals {
		if t.SessionTag != "" {
			live[t.SessionTag] = true
		}
	}
	for tag, id := range d.TagToID {
		if _, sessionLive := d.Sessions[id]; !sessionLive && !live[tag] {
			delete(d.TagToID, tag)
		}
	}
}

// applyTerminalsSnapshot replaces the terminal set in bulk, per spec.md §3
// ("Replaced in bulk by each editor terminal-list snapshot"), then prunes
// any tag mappings the new snapshot no longer carries.
func applyTerminalsSnapshot(d *state.DaemonState, snap ev.TerminalsSnapshot) {
	d.Terminals = make([]state.Terminal, len(snap.Terminals))
	for i, t := range snap.Terminals {
		d.Terminals[i] = state.Terminal{Index: t.Index, SessionTag: t.SessionTag}
	}
	if snap.HasActiveIndex {
		d.ActiveTerminalIndex = snap.ActiveIndex
		d.HasActiveTerminal = true
	}
	pruneDeadTags(d)
}

// applyPageNav implements spec.md §4.5's paging rules.
func applyPageNav(d *state.DaemonState, cfg *config.RunbookConfig, nav ev.PageNav) {
	count := cfg.PageCount()
	if count <= 0 {
		return
	}
	switch nav.Direction {
	case ev.PagePrev:
		d.PageIndex = ((d.PageIndex-1)%count + count) % count
	case ev.PageNext:
		d.PageIndex = (d.PageIndex + 1) % count
	}
}

// applyAdjustment implements spec.md §4.5's dial/roller handling.
func applyAdjustment(d *state.DaemonState, cfg *config.RunbookConfig, adj ev.Adjustment) []ev.SideEffect {
	switch adj.Kind {
	case ev.AdjustmentDial:
		if cfg.DialMode != config.DialVSCodeTerminalScroll {
			// OS handles it; nothing to emit.
			return nil
		}
		return []ev.SideEffect{ev.SendEditorCommand{
			Kind:        ev.EditorScrollTerminal,
			ScrollDelta: adj.Delta,
		}}
	case ev.AdjustmentRoller:
		if len(d.Terminals) == 0 {
			return nil
		}
		prev, hadActive := d.ActiveTerminalIndex, d.HasActiveTerminal
		next := d.ActiveTerminalIndex + int(adj.Delta)
		next = clamp(next, 0, len(d.Terminals)-1)
		d.ActiveTerminalIndex = next
		d.HasActiveTerminal = true
		if !hadActive || next != prev {
			return []ev.SideEffect{ev.SendEditorCommand{
				Kind:        ev.EditorFocusTerminal,
				TargetIndex: next,
				HasTarget:   true,
			}}
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// applyKeypadPress implements the KeypadPress rows of the arming table in
// spec.md §4.4. A KeypadPress by itself never emits SendKey{Enter} — the
// safety invariant.
func applyKeypadPress(d *state.DaemonState, cfg *config.RunbookConfig, press ev.KeypadPress) []ev.SideEffect {
	p := cfg.Prompt(press.PromptID)
	if p == nil {
		return []ev.SideEffect{ev.Notice{Message: fmt.Sprintf("keypad press for unknown prompt %q", press.PromptID)}}
	}

	d.Armed = p.ID
	d.HasArmed = true

	if !p.Prefill {
		return nil
	}
	return []ev.SideEffect{ev.SendEditorCommand{
		Kind:    ev.EditorSendText,
		Text:    p.Command,
		Newline: false,
	}}
}

// applyDialpadButton implements the DialpadButton rows of the arming table
// in spec.md §4.4.
func applyDialpadButton(d *state.DaemonState, cfg *config.RunbookConfig, btn ev.DialpadButton) []ev.SideEffect {
	switch btn.Button {
	case ev.DialpadCtrlC:
		return []ev.SideEffect{ev.SendEditorCommand{Kind: ev.EditorSendKey, Key: ev.KeyCtrlC}}
	case ev.DialpadExport:
		return []ev.SideEffect{ev.SendEditorCommand{Kind: ev.EditorSendText, Text: "/export", Newline: true}}
	case ev.DialpadEsc:
		if d.HasArmed {
			clearArm(d)
			return nil
		}
		return []ev.SideEffect{ev.SendEditorCommand{Kind: ev.EditorSendKey, Key: ev.KeyEsc}}
	case ev.DialpadEnter:
		if !d.HasArmed {
			return []ev.SideEffect{ev.SendEditorCommand{Kind: ev.EditorSendKey, Key: ev.KeyEnter}}
		}
		p := cfg.Prompt(d.Armed)
		clearArm(d)
		if p == nil {
			return nil
		}
		if p.Prefill {
			return []ev.SideEffect{ev.SendEditorCommand{Kind: ev.EditorSendKey, Key: ev.KeyEnter}}
		}
		return []ev.SideEffect{ev.SendEditorCommand{
			Kind:    ev.EditorSendText,
			Text:    effectiveCommand(d, p),
			Newline: true,
		}}
	}
	return nil
}

func clearArm(d *state.DaemonState) {
	d.Armed = ""
	d.HasArmed = false
}

// effectiveCommand implements spec.md §4.4's effective_command(p): the
// configured Command when hooks are active and the selected terminal's
// session is a known agent session, otherwise the fallback text (if set,
// else the command).
func effectiveCommand(d *state.DaemonState, p *state.Prompt) string {
	if d.HooksMode == state.HooksActive && selectedSessionIsAgent(d) {
		return p.Command
	}
	if p.FallbackText != "" {
		return p.FallbackText
	}
	return p.Command
}

// selectedSessionIsAgent reports whether the currently selected terminal's
// tag resolves to a live, known session.
func selectedSessionIsAgent(d *state.DaemonState) bool {
	if !d.HasActiveTerminal {
		return false
	}
	term, ok := d.TerminalByIndex(d.ActiveTerminalIndex)
	if !ok || term.SessionTag == "" {
		return false
	}
	_, ok = d.SessionByTag(term.SessionTag)
	return ok
}
