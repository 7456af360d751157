package hub

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/janwilmake/cursordo/domain"
)

// Hub maps room keys to room actors. Rooms are created on first reference
// and live until Stop.
type Hub struct {
	rooms   map[string]*Room
	mu      sync.RWMutex
	opts    []Option
	stopped bool
}

func New(opts ...Option) *Hub {
	return &Hub{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// Room returns the actor for key, starting it if needed.
func (h *Hub) Room(key string) domain.Room {
	return h.room(key)
}

func (h *Hub) room(key string) *Room {
	h.mu.RLock()
	r, exists := h.rooms[key]
	h.mu.RUnlock()
	if exists {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, exists = h.rooms[key]; exists {
		return r
	}
	r = NewRoom(key, h.opts...)
	if h.stopped {
		// Late arrivals during shutdown get a room that refuses joins.
		r.Stop()
		return r
	}
	h.rooms[key] = r
	slog.Info("room created", "room", key, "rooms", len(h.rooms))
	return r
}

func (h *Hub) Stats() (rooms, sessions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	sessions = lo.SumBy(lo.Values(h.rooms), func(r *Room) int { return r.Len() })
	return rooms, sessions
}

// Stop stops every room, closing all remaining connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	rooms := lo.Values(h.rooms)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
	slog.Info("hub stopped", "rooms", len(rooms))
}
