package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/kawaz/voice-agent/internal/logging"
)

// WebsocketEmitter is the live broadcast sink SPEC_FULL.md §2.1 adds
// alongside the line-oriented file sink, grounded on
// MrWong99-glyphoxa's pkg/provider/s2s/gemini client usage of
// coder/websocket for a persistent JSON-message connection. Unlike that
// client-side dial, this side accepts inbound connections (the `monitor`
// subcommand) and fans every Event out to all of them; it is used only as
// a fanout target for fileEmitter, never constructed as the sole Emitter,
// so a monitor with no one attached never affects the pipeline.
type WebsocketEmitter struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *logging.Logger
}

// NewWebsocketEmitter builds an emitter ready to accept connections via
// its Handler.
func NewWebsocketEmitter() *WebsocketEmitter {
	return &WebsocketEmitter{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logging.ForService("emitter-ws"),
	}
}

// Handler is an http.HandlerFunc that upgrades a request to a websocket
// connection and registers it to receive the broadcast event stream.
func (w *WebsocketEmitter) Handler(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket accept failed", "error", err)
		return
	}

	w.mu.Lock()
	w.clients[conn] = struct{}{}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.clients, conn)
		w.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}()

	// The monitor is a read-only observer: the only thing it ever sends
	// is a close frame, so this loop exists purely to detect disconnects.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Emit broadcasts evt as JSON text to every connected client. A client
// whose write blocks or fails is dropped rather than allowed to stall
// delivery to the others.
func (w *WebsocketEmitter) Emit(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	w.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(w.clients))
	for c := range w.clients {
		conns = append(conns, c)
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
			w.mu.Lock()
			delete(w.clients, c)
			w.mu.Unlock()
		}
	}
}

func (w *WebsocketEmitter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.clients {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
	}
	w.clients = make(map[*websocket.Conn]struct{})
	return nil
}
