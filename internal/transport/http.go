package transport

import (
	"io"
	"net/http"

	"runbookd/internal/activitylog"
	"runbookd/internal/runbook/event"
)

// daemonEnqueuer is the minimal surface HookHandler and WSHandler need from
// *daemon.Daemon, kept as an interface so this package never imports
// internal/daemon — the two are wired together in internal/cmd.
type daemonEnqueuer interface {
	Enqueue(e event.Event)
}

// HookHandler serves POST /hook (spec.md §6): the hook forwarder's single
// intake endpoint. It always returns 200 with an empty JSON object for any
// structurally valid request, even for hook names it has never heard of —
// only malformed JSON or a missing session_id is rejected with 400.
type HookHandler struct {
	daemon daemonEnqueuer
	log    *activitylog.Logger
}

func NewHookHandler(d daemonEnqueuer, log *activitylog.Logger) *HookHandler {
	if log == nil {
		log = activitylog.Nop()
	}
	return &HookHandler{daemon: d, log: log}
}

func (h *HookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	hookEvent, err := decodeHookRequest(body)
	if err != nil {
		h.log.TransportError("hook intake", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.log.Hook(hookEvent.HookName, hookEvent.Matcher, hookEvent.SessionID, hookEvent.SessionTag)
	h.daemon.Enqueue(hookEvent)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}
