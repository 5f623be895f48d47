package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/internal/room"
	"github.com/agentroom-dev/agentroom/pkg/protocol"
	"github.com/agentroom-dev/agentroom/pkg/statestore"
)

// testRooms is a minimal registry over real coordinators.
type testRooms struct {
	mu     sync.Mutex
	coords map[string]*room.Coordinator
	states statestore.Store
	log    history.Store
}

func (r *testRooms) GetOrCreate(roomID string) *room.Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coords[roomID]; ok {
		return c
	}
	c := room.New(roomID, r.states, r.log, room.Options{})
	r.coords[roomID] = c
	return c
}

func (r *testRooms) Lookup(roomID string) (*room.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coords[roomID]
	return c, ok
}

func setupGateway(t *testing.T) (*httptest.Server, *testRooms) {
	t.Helper()

	states, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	logStore, err := history.NewInMemory()
	require.NoError(t, err)

	rooms := &testRooms{
		coords: make(map[string]*room.Coordinator),
		states: states,
		log:    logStore,
	}

	g := New(rooms, logStore, Options{})
	srv := httptest.NewServer(g.Routes())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rooms.mu.Lock()
		for _, c := range rooms.coords {
			_ = c.Close(ctx)
		}
		rooms.mu.Unlock()
		_ = logStore.Close()
		_ = states.Close()
	})

	return srv, rooms
}

func dial(t *testing.T, srv *httptest.Server, roomID, agentID, agentName string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("%s/ws?room=%s&agentId=%s&agentName=%s",
		strings.Replace(srv.URL, "http", "ws", 1), roomID, agentID, agentName)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type testFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// readFrame reads until a frame of wantType arrives, failing on timeout.
func readFrame(t *testing.T, conn *websocket.Conn, wantType string) testFrame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var frame testFrame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s frame", wantType)
		if frame.Type == wantType {
			return frame
		}
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv, _ := setupGateway(t)

	alice := dial(t, srv, "r1", "a1", "alice")

	welcome := readFrame(t, alice, "welcome")
	var wp map[string]any
	require.NoError(t, json.Unmarshal(welcome.Data, &wp))
	assert.Equal(t, "r1", wp["roomId"])
	assert.Equal(t, "a1", wp["agentId"])

	bob := dial(t, srv, "r1", "a2", "bob")
	readFrame(t, bob, "welcome")

	joined := readFrame(t, alice, "agent_joined")
	var jp map[string]any
	require.NoError(t, json.Unmarshal(joined.Data, &jp))
	assert.Equal(t, "a2", jp["agentId"])

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "chat", "content": "hello"}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		chat := readFrame(t, conn, "chat")
		var cp map[string]any
		require.NoError(t, json.Unmarshal(chat.Data, &cp))
		assert.Equal(t, "hello", cp["content"])
		assert.Equal(t, "alice", cp["agentName"])
	}
}

func TestWebSocketLockFlow(t *testing.T) {
	srv, _ := setupGateway(t)

	alice := dial(t, srv, "r1", "a1", "alice")
	readFrame(t, alice, "welcome")
	bob := dial(t, srv, "r1", "a2", "bob")
	readFrame(t, bob, "welcome")

	require.NoError(t, alice.WriteJSON(map[string]any{
		"type": "file_lock", "filePath": "main.go", "lockType": "write",
	}))
	readFrame(t, alice, "file_lock_granted")

	require.NoError(t, bob.WriteJSON(map[string]any{
		"type": "file_lock", "filePath": "main.go", "lockType": "read",
	}))
	denied := readFrame(t, bob, "file_lock_denied")
	var dp map[string]any
	require.NoError(t, json.Unmarshal(denied.Data, &dp))
	assert.Equal(t, "a1", dp["agentId"])

	// Disconnect force-releases: bob sees the lock come free.
	require.NoError(t, alice.Close())
	unlocked := readFrame(t, bob, "file_unlocked")
	var up map[string]any
	require.NoError(t, json.Unmarshal(unlocked.Data, &up))
	assert.Equal(t, "main.go", up["filePath"])
	assert.Equal(t, "agent disconnected", up["reason"])
}

func TestWSRequiresRoom(t *testing.T) {
	srv, _ := setupGateway(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoomInfoEndpoint(t *testing.T) {
	srv, _ := setupGateway(t)

	alice := dial(t, srv, "r1", "a1", "alice")
	readFrame(t, alice, "welcome")

	resp, err := http.Get(srv.URL + "/rooms/r1/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "r1", info["roomId"])
	assert.Len(t, info["agents"], 1)

	// A room nobody has joined is created on first touch and answers with
	// defaults rather than 404.
	fresh, err := http.Get(srv.URL + "/rooms/nope/info")
	require.NoError(t, err)
	defer fresh.Body.Close()
	require.Equal(t, http.StatusOK, fresh.StatusCode)

	var freshInfo map[string]any
	require.NoError(t, json.NewDecoder(fresh.Body).Decode(&freshInfo))
	assert.Equal(t, "nope", freshInfo["roomId"])
	assert.Empty(t, freshInfo["agents"])
}

// A restart leaves durable room state (held locks included) readable over
// HTTP before any agent reconnects.
func TestRoomInfoAfterRestart(t *testing.T) {
	states, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	logStore, err := history.NewInMemory()
	require.NoError(t, err)

	// What a previous process left behind.
	require.NoError(t, states.Save(context.Background(), &statestore.RoomSnapshot{
		RoomID:       "r1",
		Name:         "Room r1",
		Description:  "Multi-agent collaboration room",
		MessageCount: 3,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
		Locks: map[string]protocol.FileLock{
			"main.go": {
				FilePath:  "main.go",
				LockType:  protocol.LockWrite,
				AgentID:   "a1",
				AgentName: "alice",
				Timestamp: time.Now().UTC().Add(-time.Hour),
			},
		},
	}))

	rooms := &testRooms{
		coords: make(map[string]*room.Coordinator),
		states: states,
		log:    logStore,
	}
	g := New(rooms, logStore, Options{})
	srv := httptest.NewServer(g.Routes())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rooms.mu.Lock()
		for _, c := range rooms.coords {
			_ = c.Close(ctx)
		}
		rooms.mu.Unlock()
		_ = logStore.Close()
		_ = states.Close()
	})

	resp, err := http.Get(srv.URL + "/rooms/r1/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "r1", info["roomId"])
	assert.Equal(t, float64(3), info["messageCount"])
	assert.Empty(t, info["agents"], "sessions are never restored")

	locksResp, err := http.Get(srv.URL + "/rooms/r1/locks")
	require.NoError(t, err)
	defer locksResp.Body.Close()
	require.Equal(t, http.StatusOK, locksResp.StatusCode)

	var body struct {
		Count int              `json:"count"`
		Locks []map[string]any `json:"locks"`
	}
	require.NoError(t, json.NewDecoder(locksResp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "main.go", body.Locks[0]["filePath"])
	assert.Equal(t, "a1", body.Locks[0]["agentId"])
}

func TestRoomHistoryEndpoint(t *testing.T) {
	srv, rooms := setupGateway(t)

	alice := dial(t, srv, "r1", "a1", "alice")
	readFrame(t, alice, "welcome")
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "chat", "content": "for the record"}))
	readFrame(t, alice, "chat")

	// Let the append land before querying the log.
	coord, ok := rooms.Lookup("r1")
	require.True(t, ok)
	_, err := coord.Info(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/rooms/r1/history?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		RoomID  string        `json:"roomId"`
		Count   int           `json:"count"`
		Results []history.Row `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "r1", body.RoomID)
	require.NotEmpty(t, body.Results)

	var contents []string
	for _, row := range body.Results {
		if row["type"] == "chat" {
			contents = append(contents, row["content"].(string))
		}
	}
	assert.Equal(t, []string{"for the record"}, contents)
}

func TestRoomLocksEndpoint(t *testing.T) {
	srv, _ := setupGateway(t)

	alice := dial(t, srv, "r1", "a1", "alice")
	readFrame(t, alice, "welcome")
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "file_lock", "filePath": "main.go"}))
	readFrame(t, alice, "file_lock_granted")

	resp, err := http.Get(srv.URL + "/rooms/r1/locks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		RoomID string           `json:"roomId"`
		Count  int              `json:"count"`
		Locks  []map[string]any `json:"locks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "main.go", body.Locks[0]["filePath"])
}

func TestOptionDefaults(t *testing.T) {
	g := New(nil, nil, Options{FramesPerSecond: 1, Burst: 2})
	assert.Equal(t, float64(1), g.opts.FramesPerSecond)
	assert.Equal(t, 2, g.opts.Burst)

	d := New(nil, nil, Options{})
	assert.Equal(t, float64(50), d.opts.FramesPerSecond)
	assert.Equal(t, 100, d.opts.Burst)
	assert.Equal(t, 64, d.opts.SendBuffer)
}
