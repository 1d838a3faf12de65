// Package notify fans out alert events to WebSocket subscribers. Delivery
// is best effort: a subscriber that cannot keep up misses events rather
// than stalling the publisher.
package notify

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/ratelimit"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Event is one alert pushed to subscribers.
type Event struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	RelatedAgent string `json:"related_agent,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// EventFromSignal converts a persisted threat signal into an alert event.
func EventFromSignal(s *storage.ThreatSignal) Event {
	return Event{
		ID:           s.ID,
		Type:         s.Type,
		Severity:     s.Severity,
		Title:        fmt.Sprintf("%s %s alert", s.Severity, s.Type),
		Description:  s.Description,
		RelatedAgent: s.AgentID,
		CreatedAt:    s.CreatedAt,
	}
}

// Hub is an in-memory subscriber registry.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns its ID and event channel.
func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	ch := make(chan Event, buffer)
	h.subs[h.next] = ch
	return h.next, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Broadcast delivers an event to every subscriber that has buffer space
// and returns the delivered count. Full subscribers are skipped.
func (h *Hub) Broadcast(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for id, ch := range h.subs {
		select {
		case ch <- ev:
			delivered++
		default:
			log.Printf("[notify] subscriber %d lagging, event %s dropped", id, ev.ID)
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket returns an HTTP handler that upgrades the connection and
// streams alert events until the client disconnects. Inbound frames are
// ignored beyond a rate-limited drain that detects closure.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[notify] websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		id, events := hub.Subscribe(64)
		defer hub.Unsubscribe(id)
		log.Printf("[notify] subscriber %d connected from %s", id, r.RemoteAddr)

		done := make(chan struct{})
		go func() {
			defer close(done)
			limiter := ratelimit.New(60, time.Minute)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Printf("[notify] subscriber %d read error: %v", id, err)
					}
					return
				}
				if !limiter.Allow() {
					log.Printf("[notify] subscriber %d flooding, disconnecting", id)
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					log.Printf("[notify] subscriber %d write error: %v", id, err)
					return
				}
			case <-done:
				return
			}
		}
	}
}
