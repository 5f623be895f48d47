// Package gateway is the HTTP and WebSocket edge: it upgrades agent
// connections, pumps frames between sockets and room coordinators, and serves
// the read-only room endpoints.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/internal/room"
	"github.com/agentroom-dev/agentroom/pkg/observability"
	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

// Rooms is the gateway's view of the room registry. Every request for a room
// goes through GetOrCreate: a room with durable state but no live coordinator
// is started on first touch, whether that touch is a socket or an HTTP read.
type Rooms interface {
	// GetOrCreate returns the coordinator for roomID, starting it on first use.
	GetOrCreate(roomID string) *room.Coordinator
}

// Options tunes per-connection behavior.
type Options struct {
	// SendBuffer is the per-connection outbound queue size (default 64).
	SendBuffer int
	// FramesPerSecond caps inbound frames per connection (default 50).
	FramesPerSecond float64
	// Burst is the rate limiter burst size (default 100).
	Burst int
}

// Gateway terminates agent connections and serves room HTTP endpoints.
type Gateway struct {
	rooms    Rooms
	log      history.Store
	upgrader websocket.Upgrader
	opts     Options
}

// New creates a gateway over the given room registry and history log.
func New(rooms Rooms, logStore history.Store, opts Options) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.FramesPerSecond <= 0 {
		opts.FramesPerSecond = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}

	return &Gateway{
		rooms: rooms,
		log:   logStore,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are non-browser clients; origin checks add nothing here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

// Routes returns the gateway's HTTP handler.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", g.handleWS)
	mux.HandleFunc("GET /rooms/{room}/info", g.instrument("/rooms/info", g.handleRoomInfo))
	mux.HandleFunc("GET /rooms/{room}/history", g.instrument("/rooms/history", g.handleRoomHistory))
	mux.HandleFunc("GET /rooms/{room}/locks", g.instrument("/rooms/locks", g.handleRoomLocks))
	return mux
}

// handleWS upgrades the connection and runs the read loop until the socket
// dies. Room and identity come from query parameters; a missing agentId is
// assigned by the coordinator.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room query parameter is required", http.StatusBadRequest)
		return
	}
	agentID := r.URL.Query().Get("agentId")
	agentName := r.URL.Query().Get("agentName")

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] upgrade failed: %v", err)
		return
	}

	coord := g.rooms.GetOrCreate(roomID)
	if coord == nil {
		// Registry is shutting down.
		_ = ws.Close()
		return
	}
	conn := newWSConn(ws, g.opts.SendBuffer)

	info, err := coord.Connect(r.Context(), agentID, agentName, conn)
	if err != nil {
		log.Printf("[Gateway] connect to room %s failed: %v", roomID, err)
		_ = conn.Close()
		return
	}

	observability.ConnectionOpened()
	defer func() {
		observability.ConnectionClosed()
		coord.Disconnect(info.AgentID, conn)
		_ = conn.Close()
	}()

	g.readLoop(coord, conn, ws, info.AgentID)
}

// readLoop pumps inbound frames into the coordinator, enforcing the
// per-connection rate limit. Returns when the socket closes.
func (g *Gateway) readLoop(coord *room.Coordinator, conn *wsConn, ws *websocket.Conn, agentID string) {
	limiter := rate.NewLimiter(rate.Limit(g.opts.FramesPerSecond), g.opts.Burst)

	ws.SetReadLimit(wsMaxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Gateway] agent %s read error: %v", agentID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

		if !limiter.Allow() {
			conn.sendError("rate limit exceeded")
			continue
		}

		coord.HandleInbound(agentID, raw)
	}
}

// handleRoomInfo reports the live room snapshot. The coordinator is created
// on demand so a room's durable state (held locks included) stays visible
// after a restart, before any agent has reconnected. The initialization
// barrier guarantees the snapshot is loaded before Info answers.
func (g *Gateway) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	coord := g.rooms.GetOrCreate(r.PathValue("room"))
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	info, err := coord.Info(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "room unavailable")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleRoomHistory reads straight from the durable log, so history is
// available even for rooms with no live coordinator.
func (g *Gateway) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")

	params := r.URL.Query()
	req := protocol.QueryRequest{
		QueryType: protocol.QueryHistory,
		Filters: protocol.QueryFilters{
			AgentID: params.Get("agentId"),
			Since:   params.Get("since"),
		},
	}
	if limit, err := strconv.Atoi(params.Get("limit")); err == nil {
		req.Filters.Limit = limit
	}
	if offset, err := strconv.Atoi(params.Get("offset")); err == nil {
		req.Filters.Offset = offset
	}

	rows, err := g.log.Query(r.Context(), roomID, req)
	if err != nil {
		log.Printf("[Gateway] history query for room %s failed: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if rows == nil {
		rows = []history.Row{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":  roomID,
		"count":   len(rows),
		"results": rows,
	})
}

func (g *Gateway) handleRoomLocks(w http.ResponseWriter, r *http.Request) {
	coord := g.rooms.GetOrCreate(r.PathValue("room"))
	if coord == nil {
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	locks, err := coord.ActiveLocks(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "room unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId": coord.RoomID(),
		"count":  len(locks),
		"locks":  locks,
	})
}

// instrument wraps a handler with request metrics.
func (g *Gateway) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		observability.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status), time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Gateway] response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
