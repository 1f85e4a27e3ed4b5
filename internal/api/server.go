package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"vrpdiag/internal/auth"
	"vrpdiag/internal/cache"
	"vrpdiag/internal/config"
	"vrpdiag/internal/store"
	"vrpdiag/internal/webhooks"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Cache   cache.Cache
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Limiter *TenantLimiter
}

// NewServer wires the service dependencies from cfg. Without DATABASE_URL the
// in-memory store is used, without REDIS_URL the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := sp.MigrateDir(cfg.MigrationsDir); err != nil {
				log.Printf("migrations: %v", err)
			}
		}
		s = sp
	}

	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Printf("redis broker unavailable, using in-process broker: %v", err)
		} else {
			broker = rb
		}
	}

	return &Server{
		Cfg:     cfg,
		Store:   s,
		Cache:   cache.NewMemory(time.Duration(cfg.Cache.TTLSec) * time.Second),
		Pub:     webhooks.NewPublisher(s),
		Auth:    auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret, cfg.Auth.JWKSURL),
		Broker:  broker,
		Limiter: NewTenantLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
	}, nil
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/diagnostics", s.limited(s.DiagnosticsHandler))
	mux.HandleFunc("/v1/optimize", s.limited(s.OptimizeHandler))

	mux.HandleFunc("/v1/reports", s.ReportsHandler)
	mux.HandleFunc("/v1/reports/events/stream", s.ReportEventsStreamHandler)
	mux.HandleFunc("/v1/reports/", s.ReportByIDHandler)
	mux.HandleFunc("/v1/ws", s.WSHandler)

	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

	mux.HandleFunc("/v1/admin/diagnostics/config", s.AdminDiagConfigHandler)
	mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler)
	mux.HandleFunc("/v1/admin/webhook-dlq/", s.WebhookDLQHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/vars.json", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	return mux
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhook.MaxAttempts)
}

// Close releases the store and broker connections.
func (s *Server) Close() error {
	var errs []error
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.Store.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// normalizeTenantID maps tenant aliases onto the key used by the store.
func normalizeTenantID(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "t_demo"
	}
	return t
}

func (s *Server) diagTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Cfg.Diag.TimeoutMs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(s.Cfg.Diag.TimeoutMs)*time.Millisecond)
}
