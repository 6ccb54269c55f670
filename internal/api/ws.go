package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// streamResponses upgrades to a websocket connection and pushes every
// completed FeedResponse as a JSON frame until the client disconnects.
func (s *Server) streamResponses(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	responses := s.engine.Responses()
	for {
		select {
		case <-r.Context().Done():
			return
		case resp, ok := <-responses:
			if !ok {
				return
			}
			payload := map[string]any{
				"fingerprint": resp.Fingerprint,
				"priority":    resp.Priority.String(),
				"status_code": resp.StatusCode,
				"received_at": resp.ReceivedAt,
				"elapsed_ms":  resp.Elapsed.Milliseconds(),
			}
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
