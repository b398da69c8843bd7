package frontend

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
	"github.com/overseer-dev/overseer/internal/core"
	"github.com/overseer-dev/overseer/internal/events"
)

// handleEvents upgrades to a websocket and streams every broadcast event
// as a JSON frame. A slow consumer overflows its buffer and is dropped
// by the broadcaster; the read loop exists only to notice disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "stream closed") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subID := "ws-" + core.NewID()
	ch := s.deps.Broadcaster.Subscribe(subID, events.DefaultBuffer)
	defer s.deps.Broadcaster.Unsubscribe(subID)
	logger.Debug(ctx, "Event stream subscriber attached", tag.Count(s.deps.Broadcaster.SubscriberCount()))

	// Drain client frames so pings and closes are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				// Dropped by the broadcaster for falling behind.
				_ = conn.Close(websocket.StatusPolicyViolation, "event buffer overflow")
				return
			}
			if err := wsjson.Write(ctx, conn, ev.Envelope()); err != nil {
				return
			}
		}
	}
}
