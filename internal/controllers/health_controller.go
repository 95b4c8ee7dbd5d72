package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/dcurp/api/internal/dtos"
	"github.com/dcurp/api/internal/utils"
)

// Pinger is anything with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthController reports database and rate limit store reachability.
type HealthController struct {
	db          Pinger
	rateLimiter Pinger
}

func NewHealthController(db Pinger, rateLimiter Pinger) *HealthController {
	return &HealthController{db: db, rateLimiter: rateLimiter}
}

func (c *HealthController) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		utils.RespondErrorWithCode(w, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Database unreachable", nil, err)
		return
	}
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Ping(ctx); err != nil {
			utils.RespondErrorWithCode(w, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Rate limit store unreachable", nil, err)
			return
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.HealthCheckResponse{
		Status: "OK",
		Checks: map[string]string{"database": "ok", "rate_limit_store": "ok"},
	})
}
