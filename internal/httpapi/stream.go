package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/axiomgate/governor/internal/httpx"
	"github.com/axiomgate/governor/internal/stream"
)

// StreamServer adds a live audit-record feed at /v1/stream, grounded on
// the teacher's cmd/gateway streamEvents handler — same accept/subscribe/
// fan-out/close shape, swapped to this domain's audit.Record payload.
type StreamServer struct {
	*Server
	Hub            *stream.Hub
	AllowedOrigins string
}

func NewStreamServer(s *Server, hub *stream.Hub, allowedOrigins string) *StreamServer {
	return &StreamServer{Server: s, Hub: hub, AllowedOrigins: allowedOrigins}
}

func (s *StreamServer) Router() chi.Router {
	r := s.Server.Router()
	r.Get("/v1/stream", s.streamAudit)
	return r
}

func (s *StreamServer) streamAudit(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := originPatterns(s.AllowedOrigins); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.Hub.Subscribe(64)
	defer s.Hub.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func originPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
