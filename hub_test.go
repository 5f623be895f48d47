package agentroom

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/internal/room"
	"github.com/agentroom-dev/agentroom/pkg/statestore"
)

func setupHub(t *testing.T) *Hub {
	t.Helper()

	states, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	logStore, err := history.NewInMemory()
	require.NoError(t, err)

	hub := NewHub(states, logStore, room.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(ctx)
		_ = logStore.Close()
		_ = states.Close()
	})
	return hub
}

func TestHubGetOrCreate(t *testing.T) {
	hub := setupHub(t)

	c1 := hub.GetOrCreate("r1")
	require.NotNil(t, c1)
	c2 := hub.GetOrCreate("r1")
	assert.Same(t, c1, c2, "same room id must yield the same coordinator")

	other := hub.GetOrCreate("r2")
	assert.NotSame(t, c1, other)
	assert.Len(t, hub.Coordinators(), 2)
}

func TestHubLookup(t *testing.T) {
	hub := setupHub(t)

	_, ok := hub.Lookup("r1")
	assert.False(t, ok, "lookup must not create rooms")

	created := hub.GetOrCreate("r1")
	found, ok := hub.Lookup("r1")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestHubConcurrentCreate(t *testing.T) {
	hub := setupHub(t)

	const workers = 16
	coords := make([]*room.Coordinator, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coords[i] = hub.GetOrCreate("contested")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, coords[0], coords[i])
	}
	assert.Len(t, hub.Coordinators(), 1)
}

func TestHubSummaries(t *testing.T) {
	hub := setupHub(t)
	hub.GetOrCreate("r1")
	hub.GetOrCreate("r2")

	sums := hub.Summaries(context.Background())
	require.Len(t, sums, 2)
	ids := map[string]bool{}
	for _, sum := range sums {
		ids[sum.RoomID] = true
	}
	assert.True(t, ids["r1"])
	assert.True(t, ids["r2"])
}

func TestHubCloseStopsRooms(t *testing.T) {
	hub := setupHub(t)
	c := hub.GetOrCreate("r1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))

	// The coordinator is down and the hub refuses new rooms.
	_, err := c.Info(ctx)
	assert.ErrorIs(t, err, room.ErrCoordinatorClosed)
	assert.Nil(t, hub.GetOrCreate("r2"))
	assert.Empty(t, hub.Coordinators())

	require.NoError(t, hub.Close(ctx), "close is idempotent")
}
