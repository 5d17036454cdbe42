// Package stream accepts browser audio over WebSocket and runs a session
// per connection.
package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/sentiment-gateway/internal/session"
)

// readSlack lets slightly oversized frames through to the session, which
// drops them, instead of failing the socket.
const readSlack = 64 << 10

var upgrader = websocket.Upgrader{
	// Audio comes from a browser extension whose origin varies per install.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SessionFactory creates a session for a new connection.
type SessionFactory interface {
	New(id string) (*session.Orchestrator, error)
}

// Handler upgrades /ws/audio requests and runs one session per socket.
type Handler struct {
	ctx           context.Context
	factory       SessionFactory
	registry      *session.Registry
	maxChunkBytes int
	readWait      time.Duration
	logger        zerolog.Logger
}

// NewHandler creates a handler. Sessions end when ctx is done.
func NewHandler(ctx context.Context, factory SessionFactory, registry *session.Registry, maxChunkBytes int, logger zerolog.Logger) *Handler {
	return &Handler{
		ctx:           ctx,
		factory:       factory,
		registry:      registry,
		maxChunkBytes: maxChunkBytes,
		readWait:      pongWait,
		logger:        logger.With().Str("component", "stream").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	conn := NewConn(ws, int64(h.maxChunkBytes)+readSlack, h.readWait)
	defer conn.Close()

	id := uuid.NewString()
	logger := h.logger.With().Str("session_id", id).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("WebSocket connection established")

	sess, err := h.factory.New(id)
	if err != nil {
		var setupErr *session.SetupError
		if !errors.As(err, &setupErr) {
			logger.Error().Err(err).Msg("Unexpected session error")
		}
		if werr := conn.WriteError(err.Error()); werr != nil {
			logger.Debug().Err(werr).Msg("Failed to send setup error")
		}
		return
	}

	if err := h.registry.Add(sess); err != nil {
		logger.Error().Err(err).Msg("Failed to register session")
		sess.Close()
		return
	}
	defer h.registry.Remove(id)

	// Unblock the pending read when the server shuts down.
	stop := context.AfterFunc(h.ctx, func() {
		_ = conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	if err := sess.Run(h.ctx, conn); err != nil {
		logger.Error().Err(err).Msg("Session ended with error")
	}
}
