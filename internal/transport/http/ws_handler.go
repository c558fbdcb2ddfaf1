package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/presencebridge/internal/proto"
)

// EventPresence is the event name of frames on the presence stream.
const EventPresence = "presence"

// PresenceStream pushes presence changes to WebSocket clients.
type PresenceStream struct {
	registry Registry
	buffer   int
	log      *zerolog.Logger
}

// NewPresenceStream builds the /ws/presence handler.
func NewPresenceStream(registry Registry, buffer int, logger *zerolog.Logger) *PresenceStream {
	if buffer <= 0 {
		buffer = 64
	}
	return &PresenceStream{registry: registry, buffer: buffer, log: logger}
}

// ServeHTTP upgrades the request and streams until either side goes away.
// GET /ws/presence
func (h *PresenceStream) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	changes, unsubscribe := h.registry.Subscribe(h.buffer)
	defer unsubscribe()

	// CloseRead discards client frames and cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("presence stream opened")
	status, reason := h.writeLoop(ctx, conn, changes)
	conn.Close(status, reason)
	h.log.Debug().Str("remote", r.RemoteAddr).Str("reason", reason).Msg("presence stream closed")
}

func (h *PresenceStream) writeLoop(ctx context.Context, conn *websocket.Conn, changes <-chan proto.PresenceChange) (websocket.StatusCode, string) {
	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return websocket.StatusGoingAway, "bridge shutting down"
			}
			err := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeEvent,
				Event: EventPresence,
				Data:  change,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return websocket.StatusNormalClosure, "closing"
				}
				h.log.Warn().Err(err).Msg("write presence event")
				return websocket.StatusInternalError, "write failed"
			}
		case <-ctx.Done():
			return websocket.StatusNormalClosure, "closing"
		}
	}
}
