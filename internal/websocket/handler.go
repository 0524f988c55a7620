package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWatch returns the handler for the per-list watch socket. It
// upgrades the connection and streams list snapshots until the client
// goes away.
func HandleWatch(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listID := r.PathValue("id")
		if listID == "" {
			http.Error(w, "missing list id", http.StatusBadRequest)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // Lists are shared by URL across origins
		})
		if err != nil {
			logger.Error("websocket accept", "error", err)
			return
		}
		defer conn.Close(ws.StatusNormalClosure, "")

		client := NewClient(hub, conn, listID)
		client.Run(r.Context())
	}
}
