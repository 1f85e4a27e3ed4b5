package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"vrpdiag/internal/diag"
	"vrpdiag/internal/model"
	"vrpdiag/internal/opt"
)

func TestMemoryReports(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 3; i++ {
		r, err := m.SaveReport(ctx, model.Report{TenantID: "t1", Source: "diagnostics", Stats: diag.Stats{Jobs: i}})
		if err != nil {
			t.Fatal(err)
		}
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Fatalf("id and createdAt must be set: %+v", r)
		}
		ids = append(ids, r.ID)
	}
	if _, err := m.SaveReport(ctx, model.Report{TenantID: "t2"}); err != nil {
		t.Fatal(err)
	}

	page, next, err := m.ListReports(ctx, "t1", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] || next != ids[1] {
		t.Fatalf("first page newest first: %+v next=%s", page, next)
	}
	page, next, _ = m.ListReports(ctx, "t1", next, 2)
	if len(page) != 1 || page[0].ID != ids[0] || next != "" {
		t.Fatalf("second page: %+v next=%s", page, next)
	}

	if _, err := m.GetReport(ctx, "t2", ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read must be not found, got %v", err)
	}
	got, err := m.GetReport(ctx, "t1", ids[1])
	if err != nil || got.Stats.Jobs != 1 {
		t.Fatalf("get: %v %+v", err, got)
	}
}

func TestMemoryDiagConfigAndMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	cfg, err := m.GetDiagConfig(ctx, "t1")
	if err != nil || cfg != nil {
		t.Fatalf("no config expected: %v %+v", err, cfg)
	}
	if err := m.SaveDiagConfig(ctx, "t1", model.DiagConfig{TieBreak: "fleet-order"}); err != nil {
		t.Fatal(err)
	}
	cfg, _ = m.GetDiagConfig(ctx, "t1")
	if cfg == nil || cfg.TieBreak != "fleet-order" {
		t.Fatalf("config: %+v", cfg)
	}

	_ = m.SavePlanMetrics(ctx, "t1", "r1", "alns", opt.Metrics{Iterations: 1})
	_ = m.SavePlanMetrics(ctx, "t1", "r1", "alns", opt.Metrics{Iterations: 2})
	_ = m.SavePlanMetrics(ctx, "t1", "r2", "alns", opt.Metrics{Iterations: 3})
	items, _ := m.ListPlanMetrics(ctx, "t1", "r1", "")
	if len(items) != 1 || items[0].Metrics.Iterations != 2 {
		t.Fatalf("upsert per report/algo: %+v", items)
	}
	items, _ = m.ListPlanMetrics(ctx, "t1", "", "alns")
	if len(items) != 2 {
		t.Fatalf("all runs: %+v", items)
	}
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://a", Events: []string{"diagnostics.completed"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://b", Events: []string{"*"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://c", Events: []string{"other"}})

	subs, _ := m.GetSubscriptionsForEvent(ctx, "t1", "diagnostics.completed")
	if len(subs) != 2 {
		t.Fatalf("want 2 subscriptions for event, got %d", len(subs))
	}
	if err := m.DeleteSubscription(ctx, "t1", a.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSubscription(ctx, "t1", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	list, _, _ := m.ListSubscriptions(ctx, "t1", "", 10)
	if len(list) != 2 {
		t.Fatalf("list after delete: %d", len(list))
	}
}

func TestMemoryDeliveriesAndDLQ(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, _ := m.EnqueueWebhook(ctx, "t1", "s1", "diagnostics.completed", "http://x", "sec", []byte(`{}`))

	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due: %+v", due)
	}
	later := time.Now().Add(time.Hour)
	_ = m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 12)
	if due, _ = m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("retry is scheduled later: %+v", due)
	}

	_ = m.FailWebhookDelivery(ctx, id, "boom", 500, 12)
	dlq, _, _ := m.ListWebhookDLQ(ctx, "t1", "", "", 10)
	if len(dlq) != 1 || dlq[0]["deliveryId"] != id || dlq[0]["attempts"] != 2 {
		t.Fatalf("dlq: %+v", dlq)
	}
	if err := m.RequeueWebhookDLQ(ctx, "t1", dlq[0]["id"].(string)); err != nil {
		t.Fatal(err)
	}
	if dlq, _, _ = m.ListWebhookDLQ(ctx, "t1", "", "", 10); len(dlq) != 0 {
		t.Fatalf("dlq after requeue: %+v", dlq)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].ID == id || due[0].Secret != "sec" {
		t.Fatalf("requeued delivery: %+v", due)
	}

	items, _, _ := m.ListWebhookDeliveries(ctx, "t1", DeliveryFailed, "", 10)
	if len(items) != 1 || items[0]["lastError"] != "boom" {
		t.Fatalf("failed deliveries: %+v", items)
	}
	if err := m.RetryWebhookDelivery(ctx, "t2", id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant retry: %v", err)
	}
}
