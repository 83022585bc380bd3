package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dyluth/flowboard/internal/cache"
	"github.com/dyluth/flowboard/internal/intake"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status        string             `json:"status"`
	Database      string             `json:"database"`
	Redis         string             `json:"redis"`
	Error         string             `json:"error,omitempty"`
	Connections   int                `json:"connections"`
	Projects      map[string]int     `json:"projects"`
	UptimeSeconds int64              `json:"uptimeSeconds"`
	Cache         *cache.Stats       `json:"cache,omitempty"`
	Intake        *intake.QueueStats `json:"intake,omitempty"`
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if the database and Redis are reachable, 503 otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:        "healthy",
		Database:      "connected",
		Redis:         "connected",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if s.deps.Connections != nil {
		stats := s.deps.Connections.Stats()
		response.Connections = stats.Total
		response.Projects = stats.Projects
	}
	if s.deps.Cache != nil {
		stats := s.deps.Cache.Stats()
		response.Cache = &stats
	}
	if s.deps.Intake != nil {
		stats := s.deps.Intake.Stats()
		response.Intake = &stats
	}

	if err := s.deps.Database.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = "disconnected"
		response.Error = err.Error()
	}

	if s.deps.Redis == nil {
		response.Redis = "disabled"
	} else if err := s.deps.Redis.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		if response.Error == "" {
			response.Error = err.Error()
		}
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}
