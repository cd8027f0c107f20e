package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TriggerEvent is the payload pushed to websocket subscribers whenever a
// rule fires.
type TriggerEvent struct {
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name,omitempty"`
	EntityKeys   []string  `json:"entity_keys"`
	MatchesFound int       `json:"matches_found"`
	Timestamp    time.Time `json:"timestamp"`
}

// ComputeEvent is the payload pushed to /compute/stream subscribers
// whenever a warm-compute pass publishes a new knowledge-state snapshot.
// It carries the insights appended since the previous pass and the keys
// of every trend in the current snapshot.
type ComputeEvent struct {
	NewInsights []string  `json:"new_insights,omitempty"`
	Trends      []string  `json:"trends,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// hub fans out events of type T to connected websocket clients. A
// per-client buffered channel decouples a slow reader from the
// broadcaster; a client whose buffer is full misses that event, and its
// connection stays open, rather than blocking every other subscriber.
type hub[T any] struct {
	mu      sync.Mutex
	clients map[chan T]struct{}
}

func newHub[T any]() *hub[T] {
	return &hub[T]{clients: make(map[chan T]struct{})}
}

func (h *hub[T]) subscribe() chan T {
	ch := make(chan T, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub[T]) unsubscribe(ch chan T) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *hub[T]) broadcast(event T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop the event rather than block the publisher
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	for event := range ch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) handleComputeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.computeHub.subscribe()
	defer s.computeHub.unsubscribe(ch)

	for event := range ch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
