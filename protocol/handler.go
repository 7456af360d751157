package protocol

import (
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/janwilmake/cursordo/domain"
)

// Handler decodes client frames and applies them to the sender's room.
// Anything it cannot understand is dropped; the connection stays open.
type Handler struct {
	validate *validator.Validate
}

func NewHandler() *Handler {
	return &Handler{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (h *Handler) Handle(room domain.Room, sessionID string, data []byte) {
	var msg domain.CursorReport
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "sessionId", sessionID, "error", err)
		return
	}

	switch msg.Type {
	case domain.TypeCursor:
		if err := h.validate.Struct(msg); err != nil {
			slog.Warn("invalid cursor message", "sessionId", sessionID, "error", err)
			return
		}
		room.UpdateCursor(sessionID, *msg.X, *msg.Y)
	default:
		slog.Debug("unknown message type", "sessionId", sessionID, "type", msg.Type)
	}
}
