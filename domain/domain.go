package domain

import "errors"

// Message types exchanged on the wire.
const (
	TypeInit   = "init"
	TypeCursor = "cursor"
	TypeLeave  = "leave"
)

var (
	ErrRoomClosed     = errors.New("room closed")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrConnClosed     = errors.New("connection closed")
)

// Cursor is the last reported position of a session.
type Cursor struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
}

// InitMessage carries the joiner's id and the room snapshot. Cursors is
// always present, even when empty.
type InitMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	Cursors   map[string]Cursor `json:"cursors"`
}

type CursorMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Color     string  `json:"color"`
}

type LeaveMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ServerMessage is the union of everything the server sends, used by
// clients to decode before dispatching on Type.
type ServerMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	X         float64           `json:"x"`
	Y         float64           `json:"y"`
	Color     string            `json:"color"`
	Cursors   map[string]Cursor `json:"cursors"`
}

// CursorReport is the only message a client sends. Pointers distinguish a
// missing coordinate from zero.
type CursorReport struct {
	Type string   `json:"type" validate:"required"`
	X    *float64 `json:"x" validate:"required"`
	Y    *float64 `json:"y" validate:"required"`
}

// Connection is a session's transport as seen by a room. Send must not
// block; an error means the message was not queued for delivery.
type Connection interface {
	Send(data []byte) error
	Close() error
}

// Room is the per-room actor as seen by transports.
type Room interface {
	Join(conn Connection) (string, error)
	UpdateCursor(sessionID string, x, y float64)
	Leave(sessionID string)
}

type MessageHandler interface {
	Handle(room Room, sessionID string, data []byte)
}
