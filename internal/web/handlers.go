package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vitos/alpha_monitor/internal/usecase"
	"go.uber.org/zap"
)

type healthResponse struct {
	Status      string                 `json:"status"`
	Time        time.Time              `json:"time"`
	Subscribers int                    `json:"subscribers"`
	Collector   usecase.CollectorStats `json:"collector"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Time:        s.timeNow().UTC(),
		Subscribers: s.hub.ClientCount(),
	}
	if s.collector != nil {
		resp.Collector = s.collector.Stats()
		if resp.Collector.ConsecutiveFailures > 0 {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.queries.Assets(r.Context())
	if err != nil {
		s.logger.Error("Failed to list assets", zap.Error(err))
		http.Error(w, "Failed to list assets", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to compute stats", zap.Error(err))
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
