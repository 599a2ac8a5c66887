package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scribeline/internal/transcript"
	"github.com/MrWong99/scribeline/pkg/types"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 1 << 20
)

// handleLiveWS upgrades to a WebSocket. Binary messages are raw audio frames
// forwarded to the open capture; every live event is pushed to the client as a
// JSON text message. The subscription opens with a snapshot, so the client
// never sees an item both in the snapshot and as a later event.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.log.DebugContext(r.Context(), "websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	events, unsubscribe := s.live.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		s.readAudio(ctx, conn)
	}()

	s.log.DebugContext(ctx, "live client connected", "remote", r.RemoteAddr)
	defer s.log.DebugContext(ctx, "live client disconnected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "live session closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

// readAudio forwards binary frames until the connection fails or ctx is done.
// Frames arriving while nothing is being captured are dropped.
func (s *Server) readAudio(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if err := s.live.SendAudio(data); err != nil && !errors.Is(err, transcript.ErrNotCapturing) {
			s.log.WarnContext(ctx, "forward audio frame", "err", err)
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev types.LiveEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
