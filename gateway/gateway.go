package gateway

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janwilmake/cursordo/domain"
	ws "github.com/janwilmake/cursordo/websocket"
)

const DefaultRoom = "default"

//go:embed static/index.html
var indexHTML []byte

// Rooms resolves a room key to its actor, creating it on first use.
type Rooms interface {
	Room(key string) domain.Room
	Stats() (rooms, sessions int)
}

type Options struct {
	DefaultRoom string
	Conn        ws.Options
}

// Gateway routes upgrade requests to rooms. It holds no room state.
type Gateway struct {
	rooms    Rooms
	handler  domain.MessageHandler
	upgrader websocket.Upgrader
	opts     Options
}

func New(rooms Rooms, handler domain.MessageHandler, opts Options) *Gateway {
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = DefaultRoom
	}
	return &Gateway{
		rooms:   rooms,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", indexHandler)
	mux.HandleFunc("/ws", g.wsHandler)
	mux.HandleFunc("/ws/", g.wsHandler)
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /stats", g.statsHandler)
	return logRequests(mux)
}

// RoomKey extracts the room from the request, falling back to def.
func RoomKey(r *http.Request, def string) string {
	if room := r.URL.Query().Get("room"); room != "" {
		return room
	}
	return def
}

func (g *Gateway) wsHandler(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	// Upgrade writes its own 4xx response on a bad handshake.
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrade error", "error", err)
		return
	}

	key := RoomKey(r, g.opts.DefaultRoom)
	c := ws.NewConn(conn, key, g.rooms.Room(key), g.handler, g.opts.Conn)
	if err := c.Start(); err != nil {
		slog.Error("join failed", "room", key, "error", err)
	}
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (g *Gateway) statsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, sessions := g.rooms.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "sessions": sessions})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// logRequests logs plain HTTP requests. Upgraded connections are logged by
// the room instead, and must keep the original writer so Hijack works.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
