package api

import (
	"net/http"
	"time"

	"vrpdiag/internal/buildinfo"
)

// DebugJSON serves /debug/vars.json: build info and the effective config
// with secrets left out.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":                 c.Port,
			"authMode":             c.Auth.Mode,
			"rateRps":              c.Rate.RPS,
			"rateBurst":            c.Rate.Burst,
			"webhookMaxAttempts":   c.Webhook.MaxAttempts,
			"diagWorkers":          c.Diag.Workers,
			"diagMode":             c.Diag.Mode,
			"diagTieBreak":         c.Diag.TieBreak,
			"diagTimeoutMs":        c.Diag.TimeoutMs,
			"cacheTtlSec":          c.Cache.TTLSec,
			"optimizeTimeBudgetMs": c.Optimize.TimeBudgetMs,
			"hasDatabaseUrl":       c.DatabaseURL != "",
			"hasRedisUrl":          c.RedisURL != "",
		},
	})
}
