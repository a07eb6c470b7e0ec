package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/leaderboard"
)

// WSHandler exposes the gateway over HTTP: the websocket upgrade endpoint,
// a stats endpoint, and the internal ingestion endpoint the ranking service
// pushes fresh snapshots to.
type WSHandler struct {
	manager *Manager
	router  *Router
}

func NewWSHandler(manager *Manager, router *Router) *WSHandler {
	return &WSHandler{manager: manager, router: router}
}

// HandleConnection upgrades the request to a websocket session. The auth
// token comes from the token query parameter or a bearer Authorization
// header; validation happens inside the manager's auth gate.
func (h *WSHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}

	if err := h.manager.Upgrade(w, r, token); err != nil {
		// The manager already answered on the socket (or the upgrade itself
		// failed); nothing more to write here.
		log.Debug().Err(err).Msg("websocket connection not established")
	}
}

// HandleStats reports active connection and room counts.
func (h *WSHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.manager.Stats())
}

// HandleSnapshot accepts a pushed leaderboard snapshot from the ranking
// service and runs it through the diff engine.
func (h *WSHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var snap leaderboard.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "invalid snapshot payload", http.StatusBadRequest)
		return
	}
	if snap.Scope == "" {
		http.Error(w, "scope is required", http.StatusBadRequest)
		return
	}

	if err := h.router.IngestSnapshot(r.Context(), snap); err != nil {
		// Local subscribers were already served; only the cross-instance
		// publish failed.
		log.Error().Err(err).Str("scope", snap.Scope).Msg("snapshot ingested with relay failure")
	}
	w.WriteHeader(http.StatusAccepted)
}

// RegisterRoutes attaches the gateway endpoints to the mux.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	mux.HandleFunc("/internal/snapshots", h.HandleSnapshot)
}
