package api

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

const streamWriteTimeout = 10 * time.Second

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// wsSender writes frames to one websocket viewer. The registry calls Send and Ping from
// a single goroutine per viewer.
type wsSender struct {
	ws *websocket.Conn
}

func (s *wsSender) Send(payload []byte) error {
	s.ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return websocket.Message.Send(s.ws, string(payload))
}

func (s *wsSender) Ping() error {
	s.ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	s.ws.PayloadType = websocket.PingFrame
	defer func() { s.ws.PayloadType = websocket.TextFrame }()
	_, err := s.ws.Write(nil)
	return err
}

func (s *wsSender) Close() error {
	return s.ws.Close()
}

func checkOrigin(allowed []string) func(*websocket.Config, *http.Request) error {
	return func(_ *websocket.Config, r *http.Request) error {
		if len(allowed) == 0 {
			return nil
		}
		origin := r.Header.Get("Origin")
		if !slices.Contains(allowed, origin) {
			return fmt.Errorf("origin %q not allowed", origin)
		}
		return nil
	}
}

// handleStream upgrades the request and attaches the connection as a viewer of
// interviewID. The session is resolved before the upgrade so failures still get an
// HTTP error response.
func handleStream(deps Deps) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, interviewID string) {
		sess, ok := ownerSession(deps, w, r)
		if !ok {
			return
		}
		logger := deps.Logger.With("owner", sess.Owner(), "interview_id", interviewID)

		srv := websocket.Server{
			Handshake: checkOrigin(deps.AllowedOrigins),
			Handler: func(ws *websocket.Conn) {
				defer ws.Close()

				viewerID, err := sess.Join(r.Context(), interviewID, &wsSender{ws: ws})
				if err != nil {
					logger.Error("joining viewer", "error", err)
					return
				}
				defer sess.Leave(viewerID)
				logger.Info("viewer connected", "viewer_id", viewerID)

				// Viewers are read-only; inbound frames are drained so control frames get
				// answered, and a read error means the peer is gone.
				for {
					var discard string
					if err := websocket.Message.Receive(ws, &discard); err != nil {
						logger.Info("viewer disconnected", "viewer_id", viewerID)
						return
					}
				}
			},
		}
		srv.ServeHTTP(w, r)
	}
}
