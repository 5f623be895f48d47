package agentroom

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/internal/room"
	"github.com/agentroom-dev/agentroom/pkg/observability"
	"github.com/agentroom-dev/agentroom/pkg/statestore"
)

// Hub is the registry of live room coordinators. Rooms start lazily on first
// use and run until the hub shuts down; the hub itself holds no room state
// beyond the registry.
type Hub struct {
	states statestore.Store
	log    history.Store
	opts   room.Options

	mu     sync.RWMutex
	rooms  map[string]*room.Coordinator
	closed bool
}

// NewHub creates an empty hub over the given stores.
func NewHub(states statestore.Store, logStore history.Store, opts room.Options) *Hub {
	return &Hub{
		states: states,
		log:    logStore,
		opts:   opts,
		rooms:  make(map[string]*room.Coordinator),
	}
}

// GetOrCreate returns the coordinator for roomID, starting one on first use.
// Returns nil after Close.
func (h *Hub) GetOrCreate(roomID string) *room.Coordinator {
	h.mu.RLock()
	c, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return c
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if c, ok := h.rooms[roomID]; ok {
		return c
	}

	c = room.New(roomID, h.states, h.log, h.opts)
	h.rooms[roomID] = c
	observability.SetActiveRooms(len(h.rooms))
	log.Printf("[Hub] room %s started, %d active", roomID, len(h.rooms))
	return c
}

// Lookup returns the coordinator for roomID if one is running.
func (h *Hub) Lookup(roomID string) (*room.Coordinator, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.rooms[roomID]
	return c, ok
}

// Coordinators returns every live coordinator.
func (h *Hub) Coordinators() []*room.Coordinator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*room.Coordinator, 0, len(h.rooms))
	for _, c := range h.rooms {
		out = append(out, c)
	}
	return out
}

// Summaries collects aggregate counts from every live room.
func (h *Hub) Summaries(ctx context.Context) []history.RoomSummary {
	coords := h.Coordinators()
	sums := make([]history.RoomSummary, 0, len(coords))
	for _, c := range coords {
		sum, err := c.Summary(ctx)
		if err != nil {
			log.Printf("[Hub] summary for room %s failed: %v", c.RoomID(), err)
			continue
		}
		sums = append(sums, sum)
	}
	return sums
}

// Close stops every coordinator and rejects further room creation. Each room
// persists its final snapshot on the way down.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	coords := make([]*room.Coordinator, 0, len(h.rooms))
	for _, c := range h.rooms {
		coords = append(coords, c)
	}
	h.rooms = make(map[string]*room.Coordinator)
	h.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range coords {
		g.Go(func() error {
			return c.Close(ctx)
		})
	}
	err := g.Wait()

	observability.SetActiveRooms(0)
	log.Printf("[Hub] stopped %d rooms", len(coords))
	return err
}
