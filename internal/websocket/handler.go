package websocket

import (
	"context"
	"net/http"

	ws "github.com/coder/websocket"
)

// SnapshotFunc returns the messages a newly connected client receives before
// any broadcast, so it starts from current state.
type SnapshotFunc func(ctx context.Context) []Message

// HandleWebSocket upgrades connections and runs them as hub clients.
func HandleWebSocket(hub *Hub, snapshot SnapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			// Setup clients reach the device by raw IP on the hotspot.
			InsecureSkipVerify: true,
		})
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err)
			return
		}

		var initial []Message
		if snapshot != nil {
			initial = snapshot(r.Context())
		}
		NewClient(hub, conn).Run(r.Context(), initial)
	}
}
