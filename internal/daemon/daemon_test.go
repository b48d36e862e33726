package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"runbookd/internal/config"
	"runbookd/internal/runbook/event"
	"runbookd/internal/runbook/state"
)

func testConfig(t *testing.T) *config.RunbookConfig {
	t.Helper()
	cfg, err := config.LoadFrom(t.TempDir() + "/missing.yaml")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestDaemon_BroadcastsOnHookEvent(t *testing.T) {
	d := New(testConfig(t), nil, "test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	ch, unsub := d.Subscribe("client-1")
	defer unsub()

	d.Enqueue(event.Hook{HookName: "Notification", Matcher: "idle_prompt", SessionID: "s1"})

	select {
	case model := <-ch:
		if model.AgentState != state.AgentIdle.String() {
			t.Errorf("AgentState = %q, want %q", model.AgentState, state.AgentIdle.String())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestDaemon_SnapshotReflectsState(t *testing.T) {
	d := New(testConfig(t), nil, "test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(event.Hook{HookName: "UserPromptSubmit", SessionID: "s1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.Snapshot().AgentState == state.AgentRunning.String() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("snapshot never reflected Running state")
}

func TestDaemon_EditorCommandDelivered(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
prompts:
  - id: p1
    command: "/do-it"
keypad:
  pages:
    - slots: ["p1", "", "", "", "", "", "", "", ""]
`)
	cfg, err := config.LoadFrom(dir + "/config.yaml")
	if err != nil {
		t.Fatal(err)
	}

	d := New(cfg, nil, "test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(event.KeypadPress{PromptID: "p1"})
	d.Enqueue(event.DialpadButton{Button: event.DialpadEnter})

	select {
	case cmd := <-d.EditorCommands():
		if cmd.Text != "/do-it" || !cmd.Newline {
			t.Errorf("unexpected editor command: %+v", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for editor command")
	}
}

// TestDaemon_TickerBroadcastsWhenHooksGoStale exercises the ticker goroutine
// Run starts (event.Tick, driven at TickInterval): with no further event of
// any kind arriving, hooks_connected should still flip to false and
// broadcast once it outlives HooksConnectedWindow, proving time actually
// advances in the running daemon rather than only inside tests that call
// Step directly.
func TestDaemon_TickerBroadcastsWhenHooksGoStale(t *testing.T) {
	origWindow := state.HooksConnectedWindow
	origInterval := TickInterval
	state.HooksConnectedWindow = 20 * time.Millisecond
	TickInterval = 5 * time.Millisecond
	defer func() {
		state.HooksConnectedWindow = origWindow
		TickInterval = origInterval
	}()

	d := New(testConfig(t), nil, "test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	ch, unsub := d.Subscribe("client-1")
	defer unsub()

	d.Enqueue(event.Hook{HookName: "Notification", Matcher: "idle_prompt", SessionID: "s1"})

	deadline := time.After(time.Second)
	for {
		select {
		case model := <-ch:
			if !model.HooksConnected {
				return
			}
		case <-deadline:
			t.Fatal("ticker never broadcast a stale hooks_connected")
		}
	}
}

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	path := dir + "/config.yaml"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}
