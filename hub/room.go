package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/janwilmake/cursordo/domain"
)

const defaultRoomBuffer = 256

type eventKind int

const (
	eventJoin eventKind = iota
	eventUpdate
	eventLeave
	eventSnapshot
)

type joinResult struct {
	sessionID string
	err       error
}

type event struct {
	kind      eventKind
	conn      domain.Connection
	sessionID string
	x, y      float64
	joined    chan joinResult
	snapshot  chan map[string]domain.Cursor
}

type session struct {
	conn  domain.Connection
	color string
}

// Room serializes every join, cursor update and leave for one room key
// through a single goroutine. sessions and cursors are only touched by
// that goroutine.
type Room struct {
	key    string
	events chan event
	done   chan struct{}
	exited chan struct{}
	stop   sync.Once

	newID    func() string
	newColor func() string

	sessions map[string]*session
	cursors  map[string]domain.Cursor
	evicted  []string

	size atomic.Int64
}

type Option func(*Room)

// WithBuffer sets how many events may be queued before producers block.
func WithBuffer(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.events = make(chan event, n)
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(r *Room) { r.newID = fn }
}

func WithColorPicker(fn func() string) Option {
	return func(r *Room) { r.newColor = fn }
}

// NewRoom starts the room's processing goroutine.
func NewRoom(key string, opts ...Option) *Room {
	r := &Room{
		key:      key,
		events:   make(chan event, defaultRoomBuffer),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		newID:    newSessionID,
		newColor: randomColor,
		sessions: make(map[string]*session),
		cursors:  make(map[string]domain.Cursor),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

func (r *Room) Key() string { return r.key }

// Len reports the number of live sessions as of the last processed event.
func (r *Room) Len() int { return int(r.size.Load()) }

// Join registers conn as a new session and sends it the init snapshot.
// If the init cannot be sent the session is dropped again and an error is
// returned; the caller owns closing conn.
func (r *Room) Join(conn domain.Connection) (string, error) {
	reply := make(chan joinResult, 1)
	if !r.post(event{kind: eventJoin, conn: conn, joined: reply}) {
		return "", domain.ErrRoomClosed
	}
	select {
	case res := <-reply:
		return res.sessionID, res.err
	case <-r.exited:
		return "", domain.ErrRoomClosed
	}
}

func (r *Room) UpdateCursor(sessionID string, x, y float64) {
	r.post(event{kind: eventUpdate, sessionID: sessionID, x: x, y: y})
}

func (r *Room) Leave(sessionID string) {
	r.post(event{kind: eventLeave, sessionID: sessionID})
}

// Snapshot returns a copy of the cursor state after every event queued
// before the call has been applied.
func (r *Room) Snapshot() (map[string]domain.Cursor, error) {
	reply := make(chan map[string]domain.Cursor, 1)
	if !r.post(event{kind: eventSnapshot, snapshot: reply}) {
		return nil, domain.ErrRoomClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.exited:
		return nil, domain.ErrRoomClosed
	}
}

// Stop terminates the processing goroutine and closes every connection
// still registered. It is safe to call more than once.
func (r *Room) Stop() {
	r.stop.Do(func() { close(r.done) })
	<-r.exited
}

func (r *Room) post(ev event) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) run() {
	defer close(r.exited)
	for {
		select {
		case <-r.done:
			r.shutdown()
			return
		case ev := <-r.events:
			r.apply(ev)
		}
	}
}

func (r *Room) apply(ev event) {
	switch ev.kind {
	case eventJoin:
		id, err := r.join(ev.conn)
		r.settle()
		ev.joined <- joinResult{sessionID: id, err: err}
	case eventUpdate:
		r.updateCursor(ev.sessionID, ev.x, ev.y)
		r.settle()
	case eventLeave:
		r.leave(ev.sessionID)
		r.settle()
	case eventSnapshot:
		ev.snapshot <- lo.Assign(r.cursors)
	}
}

func (r *Room) join(conn domain.Connection) (string, error) {
	id := r.newID()
	for r.sessions[id] != nil {
		id = r.newID()
	}
	color := r.newColor()
	r.sessions[id] = &session{conn: conn, color: color}

	data, err := json.Marshal(domain.InitMessage{
		Type:      domain.TypeInit,
		SessionID: id,
		Cursors:   lo.Assign(r.cursors),
	})
	if err == nil {
		err = conn.Send(data)
	}
	if err != nil {
		// Nobody has seen this session yet, so there is no leave to announce.
		delete(r.sessions, id)
		return id, fmt.Errorf("send init: %w", err)
	}

	slog.Info("session joined", "room", r.key, "sessionId", id, "color", color, "sessions", len(r.sessions))
	return id, nil
}

func (r *Room) updateCursor(id string, x, y float64) {
	s, ok := r.sessions[id]
	if !ok {
		slog.Debug("cursor update for unknown session", "room", r.key, "sessionId", id)
		return
	}
	r.cursors[id] = domain.Cursor{X: x, Y: y, Color: s.color}
	r.broadcast(id, domain.CursorMessage{
		Type:      domain.TypeCursor,
		SessionID: id,
		X:         x,
		Y:         y,
		Color:     s.color,
	})
}

func (r *Room) leave(id string) {
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	delete(r.cursors, id)
	slog.Info("session left", "room", r.key, "sessionId", id, "sessions", len(r.sessions))
	r.broadcast("", domain.LeaveMessage{Type: domain.TypeLeave, SessionID: id})
}

// broadcast encodes msg once and queues it on every session but exclude.
// Recipients whose send fails are evicted; their leave is announced by
// settle once this broadcast is complete.
func (r *Room) broadcast(exclude string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encode broadcast", "room", r.key, "error", err)
		return
	}

	var failed []string
	for id, s := range r.sessions {
		if id == exclude {
			continue
		}
		if err := s.conn.Send(data); err != nil {
			slog.Warn("send failed, evicting session", "room", r.key, "sessionId", id, "error", err)
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		r.evict(id)
	}
}

func (r *Room) evict(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	delete(r.cursors, id)
	_ = s.conn.Close()
	r.evicted = append(r.evicted, id)
}

// settle announces evictions one at a time and publishes the session
// count. A leave broadcast can evict further sessions, which are appended
// and announced in turn; each evicted id is announced exactly once.
func (r *Room) settle() {
	for len(r.evicted) > 0 {
		id := r.evicted[0]
		r.evicted = r.evicted[1:]
		r.broadcast("", domain.LeaveMessage{Type: domain.TypeLeave, SessionID: id})
	}
	r.evicted = nil
	r.size.Store(int64(len(r.sessions)))
}

func (r *Room) shutdown() {
	for id, s := range r.sessions {
		_ = s.conn.Close()
		delete(r.sessions, id)
		delete(r.cursors, id)
	}
	r.size.Store(0)
	slog.Info("room stopped", "room", r.key)
}
