package scanner

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/moment-museum/giftscan/pkg/utils"
)

// setupServer exposes process observability over HTTP: store health,
// the progress cursor and the current leaderboard. This is an ops
// surface for the administrative tooling, not a product API.
func (a *App) setupServer() {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.HandleFunc("/v1/progress", a.handleProgress).Methods("GET")
	r.HandleFunc("/v1/leaderboard", a.handleLeaderboard).Methods("GET")

	addr := utils.Env("ADDR", ":3001")
	a.Server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	a.Logger.Info("Ops server configured", zap.String("addr", addr))
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := a.Store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "store connection error"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *App) handleProgress(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	height, err := a.Store.LastProcessedHeight(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]uint64{"last_processed_height": height})
}

func (a *App) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	entries, err := a.Aggregator.Leaderboard(r.Context(), a.WindowStart, a.WindowEnd, a.Schedule)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"leaderboard": entries})
}
