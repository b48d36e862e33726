package reduce

import (
	"os"
	"testing"
	"time"

	"runbookd/internal/config"
	ev "runbookd/internal/runbook/event"
	"runbookd/internal/runbook/render"
	"runbookd/internal/runbook/state"
)

func emptyConfig(t *testing.T) *config.RunbookConfig {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFrom(dir + "/missing.yaml")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return cfg
}

func promptConfig(t *testing.T) *config.RunbookConfig {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/config.yaml"
	writeFile(t, path, `
prompts:
  - id: prep_pr
    label: "Prep PR"
    command: "/runbook:prep-pr"
  - id: scratch_note
    label: "Scratch"
    command: "Draft a note"
    prefill: true
  - id: fallback_prompt
    label: "Fallback"
    command: "/runbook:real"
    fallback_text: "degraded text"
keypad:
  pages:
    - slots: ["prep_pr", "scratch_note", "fallback_prompt", "", "", "", "", "", ""]
`)
	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	return cfg
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

var now = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

func resolvedState(d *state.DaemonState) state.AgentState {
	return render.ResolveAgentState(d)
}

func hook(hookName, matcher, sessionID, sessionTag string) ev.Hook {
	return ev.Hook{HookName: hookName, Matcher: matcher, SessionID: sessionID, SessionTag: sessionTag}
}

// S1 — Idle -> Running -> Settled (single session)
func TestScenario_S1(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Notification", "idle_prompt", "s1", ""))
	if d.HooksMode != state.HooksActive {
		t.Fatal("expected HooksMode Active after first hook event")
	}
	if got := resolvedState(d); got != state.AgentIdle {
		t.Errorf("after Notification/idle_prompt: got %v, want Idle", got)
	}

	Step(d, cfg, now, hook("UserPromptSubmit", "", "s1", ""))
	if got := resolvedState(d); got != state.AgentRunning {
		t.Errorf("after UserPromptSubmit: got %v, want Running", got)
	}

	Step(d, cfg, now, hook("Stop", "", "s1", ""))
	if got := resolvedState(d); got != state.AgentSettled {
		t.Errorf("after Stop: got %v, want Settled", got)
	}
}

// S2 — Multi-session without tags degrades
func TestScenario_S2(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Notification", "idle_prompt", "s1", ""))
	Step(d, cfg, now, hook("UserPromptSubmit", "", "s2", ""))

	if d.LiveSessionCount() != 2 {
		t.Fatalf("expected 2 live sessions, got %d", d.LiveSessionCount())
	}
	if got := resolvedState(d); got != state.AgentUnknown {
		t.Errorf("multi-session untagged: got %v, want Unknown", got)
	}

	Step(d, cfg, now, hook("SessionEnd", "", "s1", ""))
	if d.LiveSessionCount() != 1 {
		t.Fatalf("expected 1 live session, got %d", d.LiveSessionCount())
	}
	if got := resolvedState(d); got != state.AgentRunning {
		t.Errorf("after s1 ends: got %v, want Running", got)
	}
}

// S3 — Tagged multi-session resolves via terminal
func TestScenario_S3(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Notification", "idle_prompt", "s1", "A"))
	Step(d, cfg, now, hook("UserPromptSubmit", "", "s2", "B"))
	Step(d, cfg, now, ev.TerminalsSnapshot{
		Terminals: []ev.TerminalEntry{
			{Index: 0, SessionTag: "A"},
			{Index: 1, SessionTag: "B"},
		},
		ActiveIndex:    0,
		HasActiveIndex: true,
	})

	if got := resolvedState(d); got != state.AgentIdle {
		t.Errorf("active=0 (tag A): got %v, want Idle", got)
	}

	Step(d, cfg, now, ev.TerminalsSnapshot{
		Terminals: []ev.TerminalEntry{
			{Index: 0, SessionTag: "A"},
			{Index: 1, SessionTag: "B"},
		},
		ActiveIndex:    1,
		HasActiveIndex: true,
	})
	if got := resolvedState(d); got != state.AgentRunning {
		t.Errorf("active=1 (tag B): got %v, want Running", got)
	}
}

// S4 — Arm + dispatch safety
func TestScenario_S4(t *testing.T) {
	d := state.New()
	cfg := promptConfig(t)

	effects := Step(d, cfg, now, ev.KeypadPress{PromptID: "prep_pr"})
	for _, e := range effects {
		if _, ok := e.(ev.SendEditorCommand); ok {
			t.Fatalf("expected no editor command from normal KeypadPress, got %+v", e)
		}
	}
	if !d.HasArmed || d.Armed != "prep_pr" {
		t.Fatalf("expected armed=prep_pr, got HasArmed=%v Armed=%q", d.HasArmed, d.Armed)
	}

	effects = Step(d, cfg, now, ev.DialpadButton{Button: ev.DialpadEnter})
	var sends []ev.SendEditorCommand
	for _, e := range effects {
		if sc, ok := e.(ev.SendEditorCommand); ok {
			sends = append(sends, sc)
		}
	}
	if len(sends) != 1 {
		t.Fatalf("expected exactly 1 SendEditorCommand, got %d: %+v", len(sends), sends)
	}
	if sends[0].Kind != ev.EditorSendText || sends[0].Text != "/runbook:prep-pr" || !sends[0].Newline {
		t.Errorf("unexpected dispatch: %+v", sends[0])
	}
	if d.HasArmed {
		t.Error("expected armed to be cleared after Enter")
	}
}

// S5 — Esc cancels silently
func TestScenario_S5(t *testing.T) {
	d := state.New()
	cfg := promptConfig(t)

	Step(d, cfg, now, ev.KeypadPress{PromptID: "prep_pr"})
	effects := Step(d, cfg, now, ev.DialpadButton{Button: ev.DialpadEsc})

	for _, e := range effects {
		if _, ok := e.(ev.SendEditorCommand); ok {
			t.Fatalf("expected zero output side effects on Esc-cancel, got %+v", e)
		}
	}
	if d.HasArmed {
		t.Error("expected armed to be cleared after Esc")
	}
}

// S6 — Blocked sticky, cleared by Running
func TestScenario_S6(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Notification", "idle_prompt", "s1", ""))
	Step(d, cfg, now, hook("RunbookPolicy", "blocked", "s1", ""))
	if got := resolvedState(d); got != state.AgentBlocked {
		t.Fatalf("after RunbookPolicy/blocked: got %v, want Blocked", got)
	}

	Step(d, cfg, now, hook("UserPromptSubmit", "", "s1", ""))
	if got := resolvedState(d); got != state.AgentRunning {
		t.Errorf("after UserPromptSubmit: got %v, want Running", got)
	}
}

// S7 — Prefill prompt
func TestScenario_S7(t *testing.T) {
	d := state.New()
	cfg := promptConfig(t)

	effects := Step(d, cfg, now, ev.KeypadPress{PromptID: "scratch_note"})
	var sends []ev.SendEditorCommand
	for _, e := range effects {
		if sc, ok := e.(ev.SendEditorCommand); ok {
			sends = append(sends, sc)
		}
	}
	if len(sends) != 1 || sends[0].Kind != ev.EditorSendText || sends[0].Text != "Draft a note" || sends[0].Newline {
		t.Fatalf("unexpected prefill dispatch: %+v", sends)
	}
	if !d.HasArmed || d.Armed != "scratch_note" {
		t.Fatalf("expected armed=scratch_note, got HasArmed=%v Armed=%q", d.HasArmed, d.Armed)
	}

	effects = Step(d, cfg, now, ev.DialpadButton{Button: ev.DialpadEnter})
	var keys []ev.SendEditorCommand
	for _, e := range effects {
		if sc, ok := e.(ev.SendEditorCommand); ok {
			keys = append(keys, sc)
		}
	}
	if len(keys) != 1 || keys[0].Kind != ev.EditorSendKey || keys[0].Key != ev.KeyEnter {
		t.Fatalf("expected SendKey{Enter}, got %+v", keys)
	}
	if d.HasArmed {
		t.Error("expected armed cleared after Enter")
	}
}

// --- Property-style tests ---

func TestProperty_NoHookEventsStaySafe(t *testing.T) {
	d := state.New()
	cfg := promptConfig(t)

	events := []ev.Event{
		ev.KeypadPress{PromptID: "prep_pr"},
		ev.DialpadButton{Button: ev.DialpadEsc},
		ev.PageNav{Direction: ev.PageNext},
		ev.Adjustment{Kind: ev.AdjustmentRoller, Delta: 1},
		ev.TerminalsSnapshot{Terminals: []ev.TerminalEntry{{Index: 0}}, ActiveIndex: 0, HasActiveIndex: true},
		ev.ClientHello{ClientKind: "device", ProtocolVersion: 1},
	}
	for _, e := range events {
		Step(d, cfg, now, e)
		got := resolvedState(d)
		if !got.DegradedSafe() {
			t.Fatalf("after %T: resolved state %v is not degraded-safe", e, got)
		}
	}
}

func TestProperty_AtMostOnePromptArmed(t *testing.T) {
	d := state.New()
	cfg := promptConfig(t)

	ids := []string{"prep_pr", "scratch_note", "fallback_prompt"}
	for i := 0; i < 20; i++ {
		id := ids[i%len(ids)]
		Step(d, cfg, now, ev.KeypadPress{PromptID: id})
		if !d.HasArmed || d.Armed != id {
			t.Fatalf("iteration %d: expected armed=%q, got HasArmed=%v Armed=%q", i, id, d.HasArmed, d.Armed)
		}
	}
}

func TestProperty_PageIndexAlwaysInRange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/config.yaml", `
keypad:
  pages:
    - slots: ["", "", "", "", "", "", "", "", ""]
    - slots: ["", "", "", "", "", "", "", "", ""]
    - slots: ["", "", "", "", "", "", "", "", ""]
`)
	cfg, err := config.LoadFrom(dir + "/config.yaml")
	if err != nil {
		t.Fatal(err)
	}

	d := state.New()
	directions := []ev.PageDirection{ev.PageNext, ev.PageNext, ev.PagePrev, ev.PagePrev, ev.PagePrev, ev.PagePrev, ev.PageNext}
	for _, direction := range directions {
		Step(d, cfg, now, ev.PageNav{Direction: direction})
		if d.PageIndex < 0 || d.PageIndex >= cfg.PageCount() {
			t.Fatalf("page_index %d out of range [0,%d)", d.PageIndex, cfg.PageCount())
		}
	}
}

func TestProperty_KeypadPressNeverSendsKey(t *testing.T) {
	d := state.New()
	cfg := promptConfig(t)

	effects := Step(d, cfg, now, ev.KeypadPress{PromptID: "prep_pr"})
	for _, e := range effects {
		if sc, ok := e.(ev.SendEditorCommand); ok && sc.Kind == ev.EditorSendKey {
			t.Fatalf("KeypadPress on non-prefill prompt must never emit SendKey, got %+v", sc)
		}
	}
}

func TestProperty_TagInjectivity(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Notification", "idle_prompt", "s1", "tag-A"))
	effects := Step(d, cfg, now, hook("UserPromptSubmit", "", "s2", "tag-A"))

	foundNotice := false
	for _, e := range effects {
		if _, ok := e.(ev.Notice); ok {
			foundNotice = true
		}
	}
	if !foundNotice {
		t.Fatal("expected a Notice when a tag conflict is rejected")
	}

	seen := make(map[string]bool)
	for _, id := range d.TagToID {
		if seen[id] {
			continue
		}
		seen[id] = true
	}
	values := make(map[string]int)
	for _, id := range d.TagToID {
		values[id]++
	}
	for id, count := range values {
		if count > 1 {
			t.Fatalf("session id %q is mapped from multiple tags", id)
		}
	}
	if d.TagToID["tag-A"] != "s1" {
		t.Errorf("tag-A should still map to s1, got %q", d.TagToID["tag-A"])
	}
}

func TestProperty_DeterministicReplay(t *testing.T) {
	cfg := promptConfig(t)
	events := []ev.Event{
		hook("Notification", "idle_prompt", "s1", "tag-A"),
		ev.KeypadPress{PromptID: "prep_pr"},
		ev.TerminalsSnapshot{Terminals: []ev.TerminalEntry{{Index: 0, SessionTag: "tag-A"}}, ActiveIndex: 0, HasActiveIndex: true},
		hook("UserPromptSubmit", "", "s1", ""),
		ev.DialpadButton{Button: ev.DialpadEnter},
		hook("Stop", "", "s1", ""),
	}

	d1 := state.New()
	for _, e := range events {
		Step(d1, cfg, now, e)
	}
	d2 := state.New()
	for _, e := range events {
		Step(d2, cfg, now, e)
	}

	m1 := render.Project(d1, cfg, now)
	m2 := render.Project(d2, cfg, now)
	if !render.Equal(m1, m2) {
		t.Fatalf("replaying the same event sequence produced different render models:\n%+v\n%+v", m1, m2)
	}
}

// --- Forwarder connectivity / freshness window ---

func TestForwarderDisconnect_IsObservable(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Notification", "idle_prompt", "s1", ""))
	if got := render.Project(d, cfg, now); !got.HooksConnected {
		t.Fatal("expected hooks_connected after a fresh hook event")
	}

	effects := Step(d, cfg, now, ev.HooksForwarderDisconnected{})
	if got := render.Project(d, cfg, now); got.HooksConnected {
		t.Fatal("expected hooks_connected false immediately after forwarder disconnect")
	}
	var broadcast bool
	for _, e := range effects {
		if _, ok := e.(ev.BroadcastRender); ok {
			broadcast = true
		}
	}
	if !broadcast {
		t.Fatal("expected a disconnect to trigger a broadcast, even with a fresh LastHookAt")
	}

	Step(d, cfg, now, ev.HooksForwarderConnected{})
	if got := render.Project(d, cfg, now); !got.HooksConnected {
		t.Fatal("expected hooks_connected true again after forwarder reconnect")
	}
}

func TestTick_ExpiresStaleConnection(t *testing.T) {
	orig := state.HooksConnectedWindow
	state.HooksConnectedWindow = time.Second
	defer func() { state.HooksConnectedWindow = orig }()

	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Notification", "idle_prompt", "s1", ""))
	if got := render.Project(d, cfg, now); !got.HooksConnected {
		t.Fatal("expected hooks_connected right after a hook event")
	}

	later := now.Add(2 * time.Second)
	effects := Step(d, cfg, now, ev.Tick{Now: later.UnixNano()})

	var broadcast *ev.BroadcastRender
	for _, e := range effects {
		if b, ok := e.(ev.BroadcastRender); ok {
			broadcast = &b
		}
	}
	if broadcast == nil {
		t.Fatal("expected a Tick past the freshness window to trigger a broadcast")
	}
	if broadcast.Model.HooksConnected {
		t.Error("expected hooks_connected false in the broadcast after the window lapsed")
	}

	// A second Tick at the same instant should not rebroadcast: nothing
	// changed since the last observed snapshot.
	effects = Step(d, cfg, now, ev.Tick{Now: later.UnixNano()})
	for _, e := range effects {
		if _, ok := e.(ev.BroadcastRender); ok {
			t.Fatal("expected no broadcast from a Tick that observes no change")
		}
	}
}

// --- LastEndedState latch ---

func TestLastEndedState_ClearedByNewSessionActivity(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, hook("Stop", "", "s1", ""))
	Step(d, cfg, now, hook("SessionEnd", "", "s1", ""))
	if !d.HasLastEnded || d.LastEndedState != state.AgentSettled {
		t.Fatalf("expected last_ended_state=Settled after s1 ends, got HasLastEnded=%v state=%v", d.HasLastEnded, d.LastEndedState)
	}
	if got := resolvedState(d); got != state.AgentSettled {
		t.Fatalf("expected resolved state Settled via the latch, got %v", got)
	}

	Step(d, cfg, now, hook("SessionStart", "", "s2", ""))
	if d.HasLastEnded {
		t.Fatal("expected last_ended_state cleared once a new session starts")
	}
	if got := resolvedState(d); got != state.AgentUnknown {
		t.Fatalf("expected resolved state Unknown for the fresh session, got %v", got)
	}
}

// --- FocusTerminal on roller movement ---

func TestAdjustmentRoller_EmitsFocusTerminal(t *testing.T) {
	d := state.New()
	cfg := emptyConfig(t)

	Step(d, cfg, now, ev.TerminalsSnapshot{
		Terminals:      []ev.TerminalEntry{{Index: 0}, {Index: 1}, {Index: 2}},
		HasActiveIndex: false,
	})

	effects := Step(d, cfg, now, ev.Adjustment{Kind: ev.AdjustmentRoller, Delta: 1})
	var focus *ev.SendEditorCommand
	for _, e := range effects {
		if sc, ok := e.(ev.SendEditorCommand); ok && sc.Kind == ev.EditorFocusTerminal {
			focus = &sc
		}
	}
	if focus == nil || !focus.HasTarget || focus.TargetIndex != 1 {
		t.Fatalf("expected FocusTerminal{index:1}, got %+v", focus)
	}

	// Already at the top (index 2 of 3): the roller clamps and the index
	// does not move, so no FocusTerminal should be re-emitted.
	Step(d, cfg, now, ev.Adjustment{Kind: ev.AdjustmentRoller, Delta: 1})
	effects = Step(d, cfg, now, ev.Adjustment{Kind: ev.AdjustmentRoller, Delta: 1})
	for _, e := range effects {
		if sc, ok := e.(ev.SendEditorCommand); ok && sc.Kind == ev.EditorFocusTerminal {
			t.Fatalf("roller clamped at the last index should not re-emit FocusTerminal, got %+v", sc)
		}
	}
}
