package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// upgrader mirrors the teacher's cmd/ui/main.go websocket upgrader:
// CheckOrigin always true, since this server is meant to sit behind a
// reverse proxy that owns the origin policy, not the Go process itself.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSyncStatusWS pushes the sync coordinator's status snapshot once a
// second, generalized from the teacher's handleWebSocket graph-data push
// (10s ticker, database.FetchGraphData) to a faster cadence over the
// replay engine's rebuild progress plus the store's checkpoint.
func (s *Server) handleSyncStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("sync-status websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			last, err := s.store.LastBlock(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("sync-status websocket: reading last_block")
				continue
			}
			payload := map[string]any{
				"last_block":      last,
				"rebuild_running": s.engine.Progress().Running,
			}
			if s.coordinator != nil {
				payload["sync_status"] = s.coordinator.Status()
			}
			if err := conn.WriteJSON(payload); err != nil {
				log.Error().Err(err).Msg("sync-status websocket: write failed")
				return
			}
		}
	}
}
