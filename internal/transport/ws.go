package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"runbookd/internal/activitylog"
	"runbookd/internal/runbook/event"
	"runbookd/internal/runbook/render"
)

// daemonSubscriber is the broader surface WSHandler needs, covering both
// inbound enqueueing and outbound render subscription, snapshotting, and
// the editor-extension command sink.
type daemonSubscriber interface {
	daemonEnqueuer
	Subscribe(connID string) (<-chan render.RenderModel, func())
	Snapshot() render.RenderModel
	EditorCommands() <-chan event.SendEditorCommand
}

var upgrader = websocket.Upgrader{
	// The default listen address is loopback (127.0.0.1:29381, spec.md §6);
	// access is governed by the configured listen address, and no origin is
	// rejected here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// editorClientKind is the hello "client" value the editor extension sends.
// A connection that identifies itself this way is the one that drains
// SendEditorCommand side effects; every other connection only receives
// render broadcasts.
const editorClientKind = "editor"

// WSHandler serves GET /ws: both the interactive-client and the editor-
// extension connect here and are told apart by their hello envelope's
// client field. Every connection first receives a hello and the current
// render model, then a goroutine pumps outbound updates while ReadMessage
// pulls client events in, decoding each into the typed Event vocabulary
// and handing it to the daemon.
type WSHandler struct {
	daemon daemonSubscriber
	log    *activitylog.Logger

	version string

	connSeq   uint64
	connSeqMu sync.Mutex
}

func NewWSHandler(d daemonSubscriber, log *activitylog.Logger, version string) *WSHandler {
	if log == nil {
		log = activitylog.Nop()
	}
	return &WSHandler{daemon: d, log: log, version: version}
}

func (h *WSHandler) nextConnID() string {
	h.connSeqMu.Lock()
	defer h.connSeqMu.Unlock()
	h.connSeq++
	return fmt.Sprintf("conn-%d", h.connSeq)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.TransportError("ws upgrade", err)
		return
	}
	connID := h.nextConnID()
	defer conn.Close()

	var writeMu sync.Mutex
	writeEnvelope := func(env envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(env)
	}

	if err := writeEnvelope(encodeHello(h.version)); err != nil {
		h.log.ClientDisconnected(connID, err)
		return
	}
	if err := writeEnvelope(encodeRender(h.daemon.Snapshot())); err != nil {
		h.log.ClientDisconnected(connID, err)
		return
	}

	// The hello is always the client's first message (spec.md §6); read it
	// before starting the fan-out pump so we know whether this connection
	// is the editor extension.
	clientKind := "unknown"
	_, raw, err := conn.ReadMessage()
	if err != nil {
		h.log.ClientDisconnected(connID, err)
		return
	}
	if ev, decodeErr := decodeClientEvent(raw); decodeErr == nil {
		if hello, ok := ev.(event.ClientHello); ok {
			clientKind = hello.ClientKind
		}
	}
	h.log.ClientConnected(connID, clientKind)

	renders, unsub := h.daemon.Subscribe(connID)
	defer unsub()

	done := make(chan struct{})
	go h.pump(connID, clientKind, renders, done, writeEnvelope)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.log.ClientDisconnected(connID, err)
			close(done)
			return
		}

		ev, decodeErr := decodeClientEvent(raw)
		if decodeErr != nil {
			h.log.TransportError("ws decode", decodeErr)
			_ = writeEnvelope(encodeNotice(decodeErr.Error()))
			continue
		}
		if ev == nil {
			// Unknown message type: ignored with a notice (spec.md §6),
			// not a connection error.
			_ = writeEnvelope(encodeNotice("ignored unrecognized message type"))
			continue
		}
		if _, isHello := ev.(event.ClientHello); isHello {
			continue
		}
		h.daemon.Enqueue(ev)
	}
}

func (h *WSHandler) pump(connID, clientKind string, renders <-chan render.RenderModel, done <-chan struct{}, write func(envelope) error) {
	var editorCmds <-chan event.SendEditorCommand
	if clientKind == editorClientKind {
		editorCmds = h.daemon.EditorCommands()
	}

	for {
		select {
		case model, ok := <-renders:
			if !ok {
				return
			}
			if err := write(encodeRender(model)); err != nil {
				h.log.TransportError("ws write", err)
				return
			}
		case cmd, ok := <-editorCmds:
			if !ok {
				return
			}
			if err := write(encodeEditorCommand(cmd)); err != nil {
				h.log.TransportError("ws write", err)
				return
			}
		case <-done:
			return
		}
	}
}
