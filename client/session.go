package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/janwilmake/cursordo/domain"
)

const writeWait = 5 * time.Second

var (
	ErrMaxRetries   = errors.New("max reconnect attempts reached")
	ErrNotConnected = errors.New("not connected")
)

type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL      string
	Room     string
	Throttle time.Duration
	Backoff  Backoff
	Dialer   *websocket.Dialer
}

// Handlers are called from the session's read loop. They must not block
// for long; a slow handler delays every following event.
type Handlers struct {
	OnInit   func(sessionID string, cursors map[string]domain.Cursor)
	OnCursor func(msg domain.CursorMessage)
	OnLeave  func(sessionID string)
	OnState  func(state State)
}

// Session keeps one logical connection to a room alive and mirrors the
// room's cursors locally.
type Session struct {
	cfg      Config
	handlers Handlers
	throttle *Throttle
	sleep    func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	sessionID string
	peers     map[string]domain.Cursor

	writeMu sync.Mutex
}

func NewSession(cfg Config, h Handlers) *Session {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Session{
		cfg:      cfg,
		handlers: h,
		throttle: NewThrottle(cfg.Throttle),
		sleep:    sleepContext,
		peers:    make(map[string]domain.Cursor),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID is the id assigned by the server on the current connection.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Peers returns a copy of the other sessions' last known cursors.
func (s *Session) Peers() map[string]domain.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Assign(s.peers)
}

// Run connects and reconnects until ctx is done or the retry budget is
// spent, in which case the session ends in Failed and ErrMaxRetries is
// returned.
func (s *Session) Run(ctx context.Context) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}

	policy := s.cfg.Backoff.NewPolicy()
	failures := 0
	for {
		s.setState(Connecting)
		conn, _, err := s.cfg.Dialer.DialContext(ctx, endpoint, nil)
		var delay time.Duration
		if err != nil {
			if ctx.Err() != nil {
				s.setState(Disconnected)
				return ctx.Err()
			}
			failures++
			slog.Warn("connect failed", "room", s.cfg.Room, "attempt", failures, "error", err)
			if delay = policy.NextBackOff(); delay == backoff.Stop {
				s.setState(Failed)
				return fmt.Errorf("%w: %w", ErrMaxRetries, err)
			}
		} else {
			failures = 0
			policy.Reset()
			s.attach(conn)
			s.setState(Connected)
			err = s.readLoop(ctx, conn)
			s.detach()
			if ctx.Err() != nil {
				s.setState(Disconnected)
				return ctx.Err()
			}
			slog.Info("connection lost", "room", s.cfg.Room, "error", err)
			delay = s.cfg.Backoff.Delay(0)
		}

		s.setState(Disconnected)
		slog.Debug("reconnecting", "room", s.cfg.Room, "delay", delay)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Move reports a local pointer sample. Samples arriving within the
// throttle interval of the last sent one are discarded and Move returns
// false with a nil error.
func (s *Session) Move(x, y float64) (bool, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return false, ErrNotConnected
	}
	if !s.throttle.Allow() {
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(domain.CursorReport{Type: domain.TypeCursor, X: &x, Y: &y}); err != nil {
		return false, fmt.Errorf("send cursor: %w", err)
	}
	return true, nil
}

func (s *Session) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if s.cfg.Room != "" {
		q := u.Query()
		q.Set("room", s.cfg.Room)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	var msg domain.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid server message", "error", err)
		return
	}

	switch msg.Type {
	case domain.TypeInit:
		s.mu.Lock()
		s.sessionID = msg.SessionID
		s.peers = lo.Assign(msg.Cursors)
		s.mu.Unlock()
		if s.handlers.OnInit != nil {
			s.handlers.OnInit(msg.SessionID, lo.Assign(msg.Cursors))
		}
	case domain.TypeCursor:
		cursor := domain.CursorMessage{
			Type:      msg.Type,
			SessionID: msg.SessionID,
			X:         msg.X,
			Y:         msg.Y,
			Color:     msg.Color,
		}
		s.mu.Lock()
		s.peers[msg.SessionID] = domain.Cursor{X: msg.X, Y: msg.Y, Color: msg.Color}
		s.mu.Unlock()
		if s.handlers.OnCursor != nil {
			s.handlers.OnCursor(cursor)
		}
	case domain.TypeLeave:
		s.mu.Lock()
		delete(s.peers, msg.SessionID)
		s.mu.Unlock()
		if s.handlers.OnLeave != nil {
			s.handlers.OnLeave(msg.SessionID)
		}
	default:
		slog.Debug("unknown server message type", "type", msg.Type)
	}
}

func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) detach() {
	s.mu.Lock()
	s.conn = nil
	s.sessionID = ""
	s.peers = make(map[string]domain.Cursor)
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed && s.handlers.OnState != nil {
		s.handlers.OnState(state)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
