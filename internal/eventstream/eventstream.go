// Package eventstream fans alignment run documents out to websocket
// clients as runs emit them, so control-room displays can follow a walk
// live.
package eventstream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/photoncontrols/skywalker/internal/featureflags"
	"github.com/photoncontrols/skywalker/pkg/api/alignmentrun"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingEvery  = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub distributes documents to connected clients. It implements the
// engine's Recorder so it can sit directly in a run's document path.
type Hub struct {
	mu      sync.Mutex
	clients map[chan alignmentrun.Document]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan alignmentrun.Document]struct{})}
}

func (h *Hub) subscribe() chan alignmentrun.Document {
	ch := make(chan alignmentrun.Document, sendBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan alignmentrun.Document) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Record fans the document out to every connected client. A slow client
// loses its oldest queued documents rather than stalling the run. Gated
// on the LiveEvents flag.
func (h *Hub) Record(_ context.Context, doc alignmentrun.Document) error {
	if !featureflags.LiveEvents.Enabled() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		push(ch, doc)
	}
	return nil
}

func push(ch chan alignmentrun.Document, doc alignmentrun.Document) {
	select {
	case ch <- doc:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- doc:
	default:
	}
}

// ServeHTTP upgrades the request and streams documents until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case doc := <-ch:
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(doc); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Clients only listen. The read loop surfaces disconnects and keeps
	// control frames flowing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-writerDone
}
