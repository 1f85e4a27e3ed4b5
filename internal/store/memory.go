package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrpdiag/internal/model"
	"vrpdiag/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	reports   map[string]model.Report         // id -> report
	byTen     map[string][]string             // tenant -> report ids, oldest first
	diagCfg   map[string]model.DiagConfig     // tenant -> config
	planMx    map[string][]PlanMetrics        // tenant -> runs
	subs      map[string][]model.Subscription // tenant -> subscriptions
	delivered map[string]*memDelivery         // id -> delivery state
	order     []string                        // delivery ids in enqueue order
	dlq       []memDLQ
}

func NewMemory() *Memory {
	return &Memory{
		reports:   map[string]model.Report{},
		byTen:     map[string][]string{},
		diagCfg:   map[string]model.DiagConfig{},
		planMx:    map[string][]PlanMetrics{},
		subs:      map[string][]model.Subscription{},
		delivered: map[string]*memDelivery{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

type memDLQ struct {
	ID           string
	Delivery     WebhookDelivery
	LastError    string
	ResponseCode int
	LatencyMs    int
	CreatedAt    time.Time
}

func (m *Memory) SaveReport(ctx context.Context, rep model.Report) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	if _, exists := m.reports[rep.ID]; !exists {
		m.byTen[rep.TenantID] = append(m.byTen[rep.TenantID], rep.ID)
	}
	m.reports[rep.ID] = rep
	return rep, nil
}

func (m *Memory) GetReport(ctx context.Context, tenantID, id string) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok || r.TenantID != tenantID {
		return model.Report{}, ErrNotFound
	}
	return r, nil
}

// ListReports returns newest first; cursor is the last id of the previous page.
func (m *Memory) ListReports(ctx context.Context, tenantID, cursor string, limit int) ([]model.ReportSummary, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	ids := m.byTen[tenantID]
	start := len(ids) - 1
	if cursor != "" {
		for i := len(ids) - 1; i >= 0; i-- {
			if ids[i] == cursor {
				start = i - 1
				break
			}
		}
	}
	out := []model.ReportSummary{}
	for i := start; i >= 0 && len(out) < limit; i-- {
		out = append(out, summarize(m.reports[ids[i]]))
	}
	next := ""
	if len(out) == limit && start-limit >= 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) GetDiagConfig(ctx context.Context, tenantID string) (*model.DiagConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.diagCfg[tenantID]; ok {
		return &cfg, nil
	}
	return nil, nil
}

func (m *Memory) SaveDiagConfig(ctx context.Context, tenantID string, cfg model.DiagConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diagCfg[tenantID] = cfg
	return nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, tenantID, reportID, algo string, mx opt.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.planMx[tenantID]
	for i := range items {
		if items[i].ReportID == reportID && items[i].Algo == algo {
			items[i].Metrics = mx
			items[i].CreatedAt = time.Now().UTC()
			return nil
		}
	}
	m.planMx[tenantID] = append(items, PlanMetrics{ReportID: reportID, Algo: algo, CreatedAt: time.Now().UTC(), Metrics: mx})
	return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, tenantID, reportID, algo string) ([]PlanMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []PlanMetrics{}
	for _, it := range m.planMx[tenantID] {
		if (reportID == "" || it.ReportID == reportID) && (algo == "" || it.Algo == algo) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tenantID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	limit = clampLimit(limit)
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription{}, list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tenantID]
	out := make([]model.Subscription, 0, len(arr))
	found := false
	for _, s := range arr {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return ErrNotFound
	}
	m.subs[tenantID] = out
	return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.delivered[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending},
		NextAttemptAt:   time.Now(),
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.delivered[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.delivered[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.delivered[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.dlq = append(m.dlq, memDLQ{
		ID:           uuid.New().String(),
		Delivery:     d.WebhookDelivery,
		LastError:    lastError,
		ResponseCode: responseCode,
		LatencyMs:    latencyMs,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []map[string]any{}
	started := cursor == ""
	next := ""
	for _, id := range m.order {
		if !started {
			started = id == cursor
			continue
		}
		d := m.delivered[id]
		if d.TenantID != tenantID || (status != "" && d.Status != status) {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1]["id"].(string)
			break
		}
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() && d.Status != DeliveryDelivered {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		if d.ResponseCode != 0 {
			item["responseCode"] = d.ResponseCode
		}
		out = append(out, item)
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.delivered[id]
	if d == nil || d.TenantID != tenantID {
		return ErrNotFound
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, tenantID, eventType, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	items := make([]memDLQ, 0, len(m.dlq))
	for _, e := range m.dlq {
		if e.Delivery.TenantID == tenantID && (eventType == "" || e.Delivery.EventType == eventType) {
			items = append(items, e)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	out := []map[string]any{}
	for _, e := range items {
		if cursor != "" && e.ID <= cursor {
			continue
		}
		out = append(out, map[string]any{
			"id":           e.ID,
			"deliveryId":   e.Delivery.ID,
			"eventType":    e.Delivery.EventType,
			"url":          e.Delivery.URL,
			"lastError":    e.LastError,
			"attempts":     e.Delivery.Attempts,
			"createdAt":    e.CreatedAt,
			"responseCode": e.ResponseCode,
			"latencyMs":    e.LatencyMs,
		})
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1]["id"].(string)
	}
	return out, next, nil
}

func (m *Memory) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	idx := -1
	for i, e := range m.dlq {
		if e.ID == id && e.Delivery.TenantID == tenantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	d := m.dlq[idx].Delivery
	m.dlq = append(m.dlq[:idx], m.dlq[idx+1:]...)
	m.mu.Unlock()
	_, err := m.EnqueueWebhook(ctx, tenantID, d.SubscriptionID, d.EventType, d.URL, d.Secret, d.Payload)
	return err
}
