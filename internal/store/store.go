package store

import (
	"context"
	"errors"
	"time"

	"vrpdiag/internal/model"
	"vrpdiag/internal/opt"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Reports
	SaveReport(ctx context.Context, rep model.Report) (model.Report, error)
	GetReport(ctx context.Context, tenantID, id string) (model.Report, error)
	ListReports(ctx context.Context, tenantID, cursor string, limit int) ([]model.ReportSummary, string, error)

	// Diagnostics config per tenant; nil when the tenant has none.
	GetDiagConfig(ctx context.Context, tenantID string) (*model.DiagConfig, error)
	SaveDiagConfig(ctx context.Context, tenantID string, cfg model.DiagConfig) error

	// Solver metrics per report
	SavePlanMetrics(ctx context.Context, tenantID, reportID, algo string, m opt.Metrics) error
	ListPlanMetrics(ctx context.Context, tenantID, reportID, algo string) ([]PlanMetrics, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

	// Dead-letter queue
	ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]map[string]any, string, error)
	RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error
}

var ErrNotFound = errors.New("not found")

// PlanMetrics is one stored optimizer run.
type PlanMetrics struct {
	ReportID  string      `json:"reportId"`
	Algo      string      `json:"algo"`
	CreatedAt time.Time   `json:"createdAt"`
	Metrics   opt.Metrics `json:"metrics"`
}

func summarize(r model.Report) model.ReportSummary {
	return model.ReportSummary{
		ID:          r.ID,
		Source:      r.Source,
		CreatedAt:   r.CreatedAt,
		Jobs:        r.Stats.Jobs,
		Vehicles:    r.Stats.Vehicles,
		Interrupted: r.Stats.Interrupted,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
