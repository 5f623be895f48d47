package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func lock(path, agentID, agentName string, lt protocol.LockType) protocol.FileLock {
	return protocol.FileLock{
		FilePath:  path,
		LockType:  lt,
		AgentID:   agentID,
		AgentName: agentName,
		Timestamp: time.Now().UTC(),
	}
}

func TestNewSQLiteStoreCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "log.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.AppendMessage(context.Background(), &MessageRecord{
		RoomID: "r1", AgentID: "a1", AgentName: "alice", MessageType: "chat", Content: "hi",
	})
	require.NoError(t, err)
}

func TestAppendMessageAndHistoryQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.AppendMessage(ctx, &MessageRecord{
		RoomID: "r1", AgentID: "a1", AgentName: "alice", MessageType: "chat",
		Content: "first", Metadata: map[string]any{"tag": "greeting"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = store.AppendMessage(ctx, &MessageRecord{
		RoomID: "r1", AgentID: "a2", AgentName: "bob", MessageType: "chat", Content: "second",
	})
	require.NoError(t, err)

	// A message in another room must not leak into r1 results.
	_, err = store.AppendMessage(ctx, &MessageRecord{
		RoomID: "r2", AgentID: "a1", AgentName: "alice", MessageType: "chat", Content: "elsewhere",
	})
	require.NoError(t, err)

	rows, err := store.Query(ctx, "r1", protocol.QueryRequest{QueryType: protocol.QueryHistory})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Newest first.
	assert.Equal(t, "second", rows[0]["content"])
	assert.Equal(t, "first", rows[1]["content"])
	assert.Equal(t, map[string]any{"tag": "greeting"}, rows[1]["metadata"])

	// Filter by agent.
	rows, err = store.Query(ctx, "r1", protocol.QueryRequest{
		QueryType: protocol.QueryHistory,
		Filters:   protocol.QueryFilters{AgentID: "a2"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["agentName"])
}

func TestHistorySinceAcceptsRFC3339(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendMessage(ctx, &MessageRecord{
		RoomID: "r1", AgentID: "a1", AgentName: "alice", MessageType: "chat", Content: "recent",
	})
	require.NoError(t, err)

	// A second-precision since value, as agents typically send it. Stored
	// timestamps carry nanosecond fractions, so without normalization this
	// cutoff would sort after rows written in its own second.
	since := time.Now().UTC().Add(-time.Second).Format(time.RFC3339)
	rows, err := store.Query(ctx, "r1", protocol.QueryRequest{
		QueryType: protocol.QueryHistory,
		Filters:   protocol.QueryFilters{Since: since},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "recent", rows[0]["content"])

	// A cutoff in the future still excludes everything.
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rows, err = store.Query(ctx, "r1", protocol.QueryRequest{
		QueryType: protocol.QueryHistory,
		Filters:   protocol.QueryFilters{Since: future},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHistoryPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.AppendMessage(ctx, &MessageRecord{
			RoomID: "r1", AgentID: "a1", AgentName: "alice", MessageType: "chat",
			Content: string(rune('a' + i)),
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct created_at for stable ordering
	}

	page, err := store.Query(ctx, "r1", protocol.QueryRequest{
		QueryType: protocol.QueryHistory,
		Filters:   protocol.QueryFilters{Limit: 2, Offset: 1},
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0]["content"])
	assert.Equal(t, "c", page[1]["content"])
}

func TestLockEventsAndLocksQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendLockEvent(ctx, "r1", lock("/a.go", "a1", "alice", protocol.LockWrite), LockStatusLocked))
	require.NoError(t, store.AppendLockEvent(ctx, "r1", lock("/b.go", "a2", "bob", protocol.LockRead), LockStatusLocked))
	require.NoError(t, store.AppendLockEvent(ctx, "r1", lock("/a.go", "a1", "alice", protocol.LockWrite), LockStatusReleased))

	rows, err := store.Query(ctx, "r1", protocol.QueryRequest{QueryType: protocol.QueryLocks})
	require.NoError(t, err)
	require.Len(t, rows, 1, "released path must not appear as locked")
	assert.Equal(t, "/b.go", rows[0]["filePath"])
	assert.Equal(t, "a2", rows[0]["agentId"])
}

func TestFileHistoryQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendLockEvent(ctx, "r1", lock("/x.ts", "a1", "alice", protocol.LockWrite), LockStatusLocked))
	require.NoError(t, store.AppendLockEvent(ctx, "r1", lock("/x.ts", "a1", "alice", protocol.LockWrite), LockStatusReleased))
	require.NoError(t, store.AppendLockEvent(ctx, "r1", lock("/y.ts", "a2", "bob", protocol.LockCreate), LockStatusLocked))

	rows, err := store.Query(ctx, "r1", protocol.QueryRequest{
		QueryType: protocol.QueryFileHistory,
		Filters:   protocol.QueryFilters{FilePath: "/x.ts"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, LockStatusReleased, rows[0]["status"])
	assert.Equal(t, LockStatusLocked, rows[1]["status"])
}

func TestFileHistoryRequiresFilePath(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Query(context.Background(), "r1", protocol.QueryRequest{
		QueryType: protocol.QueryFileHistory,
	})
	assert.ErrorIs(t, err, ErrMissingFilter)
}

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		req     protocol.QueryRequest
		wantErr error
	}{
		{"history ok", protocol.QueryRequest{QueryType: protocol.QueryHistory}, nil},
		{"locks ok", protocol.QueryRequest{QueryType: protocol.QueryLocks}, nil},
		{"agents ok", protocol.QueryRequest{QueryType: protocol.QueryAgents}, nil},
		{"rooms ok", protocol.QueryRequest{QueryType: protocol.QueryRooms}, nil},
		{
			"file_history without filter",
			protocol.QueryRequest{QueryType: protocol.QueryFileHistory},
			ErrMissingFilter,
		},
		{
			"file_history with filter",
			protocol.QueryRequest{
				QueryType: protocol.QueryFileHistory,
				Filters:   protocol.QueryFilters{FilePath: "/x"},
			},
			nil,
		},
		{"unknown", protocol.QueryRequest{QueryType: "bogus"}, ErrUnknownQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestPresenceAndAgentsQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPresence(ctx, "r1", "a1", "alice", PresenceOnline))
	require.NoError(t, store.UpsertPresence(ctx, "r1", "a2", "bob", PresenceOnline))
	require.NoError(t, store.UpsertPresence(ctx, "r1", "a2", "bob", PresenceOffline))
	require.NoError(t, store.UpsertPresence(ctx, "r2", "a3", "carol", PresenceOnline))

	rows, err := store.Query(ctx, "r1", protocol.QueryRequest{QueryType: protocol.QueryAgents})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["agentName"])
}

func TestThreads(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	threadID, err := store.CreateThread(ctx, "r1", "API design", "a1")
	require.NoError(t, err)
	require.NotEmpty(t, threadID)

	require.NoError(t, store.TouchThread(ctx, "r1", threadID))

	err = store.TouchThread(ctx, "r1", "missing-thread")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	// A thread belongs to its room.
	err = store.TouchThread(ctx, "other-room", threadID)
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestRoomSummaries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRoomSummary(ctx, RoomSummary{
		RoomID: "r1", Name: "One", MessageCount: 3, ActiveAgents: 2, ActiveLocks: 1,
	}))
	require.NoError(t, store.UpsertRoomSummary(ctx, RoomSummary{
		RoomID: "r2", Name: "Two", MessageCount: 7,
	}))
	// Second upsert replaces the first.
	require.NoError(t, store.UpsertRoomSummary(ctx, RoomSummary{
		RoomID: "r1", Name: "One", MessageCount: 4, ActiveAgents: 2, ActiveLocks: 0,
	}))

	rows, err := store.Query(ctx, "ignored", protocol.QueryRequest{QueryType: protocol.QueryRooms})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "r1", rows[0]["roomId"])
	assert.Equal(t, 4, rows[0]["messageCount"])
	assert.Equal(t, "r2", rows[1]["roomId"])
}

func TestUnknownQueryType(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Query(context.Background(), "r1", protocol.QueryRequest{QueryType: "nope"})
	assert.True(t, errors.Is(err, ErrUnknownQuery))
}
