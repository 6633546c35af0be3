package broadcast

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/transit-dispatch/internal/models"
)

// wsSession wraps one subscriber connection; gorilla conns are not safe for
// concurrent writes, so each session carries its own write lock.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// Hub fans events out to connected UI subscribers over websockets. Events are
// queued through a buffered channel and dropped when the queue is full; a
// slow or dead consumer can never back-pressure the tick loop.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
	queue    chan models.Event
	logger   *slog.Logger
	once     sync.Once
	done     chan struct{}
}

const hubQueueSize = 256

func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		sessions: make(map[string]*wsSession),
		queue:    make(chan models.Event, hubQueueSize),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) Add(id string, conn *websocket.Conn) {
	h.mu.Lock()
	h.sessions[id] = &wsSession{conn: conn}
	h.mu.Unlock()
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	if s, ok := h.sessions[id]; ok {
		_ = s.conn.Close()
		delete(h.sessions, id)
	}
	h.mu.Unlock()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish enqueues without blocking; overflow drops the event.
func (h *Hub) Publish(events ...models.Event) {
	for _, e := range events {
		select {
		case h.queue <- e:
		default:
			h.logger.Warn("broadcast queue full, dropping event", "type", e.Type)
		}
	}
}

func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case e := <-h.queue:
			h.fanout(e)
		}
	}
}

func (h *Hub) fanout(e models.Event) {
	h.mu.RLock()
	targets := make(map[string]*wsSession, len(h.sessions))
	for id, s := range h.sessions {
		targets[id] = s
	}
	h.mu.RUnlock()
	for id, s := range targets {
		if err := s.send(e); err != nil {
			h.logger.Warn("ws send failed, dropping subscriber", "subscriber", id, "error", err)
			h.Remove(id)
		}
	}
}
