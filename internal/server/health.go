package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/desertthunder/feedbridge/internal/relay"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status     string           `json:"status"`
	Uptime     string           `json:"uptime"`
	Rooms      int              `json:"rooms"`
	Connectors int              `json:"connectors"`
	Bindings   []relay.RoomInfo `json:"bindings"`
}

// HealthHandler reports liveness and the current room bindings.
type HealthHandler struct {
	rooms   RoomLister
	started time.Time
}

func NewHealthHandler(rooms RoomLister) *HealthHandler {
	return &HealthHandler{rooms: rooms, started: time.Now()}
}

func (h *HealthHandler) Routes() []string {
	return []string{"/healthz"}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
		Bindings: []relay.RoomInfo{},
	}
	if h.rooms != nil {
		resp.Bindings = h.rooms.Rooms()
	}
	rooms := make(map[string]bool)
	for _, b := range resp.Bindings {
		rooms[b.Room] = true
		resp.Connectors += len(b.Services)
	}
	resp.Rooms = len(rooms)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
