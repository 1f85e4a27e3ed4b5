//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"vrpdiag/internal/diag"
	"vrpdiag/internal/model"
	"vrpdiag/internal/opt"
)

func TestPostgresReportRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.MigrateDir("../../db/migrations"); err != nil {
		t.Fatalf("MigrateDir: %v", err)
	}

	rep, err := p.SaveReport(t.Context(), model.Report{
		TenantID:   "t_it",
		Source:     "diagnostics",
		Unassigned: []diag.Entry{{JobID: "j1", Reasons: []diag.Reason{{Code: diag.SkillConstraint, Description: diag.SkillConstraint.Description()}}}},
		Stats:      diag.Stats{Jobs: 1, Vehicles: 2, ByCode: map[diag.Code]int{diag.SkillConstraint: 1}},
	})
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	got, err := p.GetReport(t.Context(), "t_it", rep.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Unassigned[0].Reasons[0].Code != diag.SkillConstraint || got.Stats.ByCode[diag.SkillConstraint] != 1 {
		t.Fatalf("round trip: %+v", got)
	}
	if _, _, err := p.ListReports(t.Context(), "t_it", "", 10); err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if err := p.SavePlanMetrics(t.Context(), "t_it", rep.ID, "alns", opt.Metrics{Iterations: 5}); err != nil {
		t.Fatalf("SavePlanMetrics: %v", err)
	}
	items, err := p.ListPlanMetrics(t.Context(), "t_it", rep.ID, "")
	if err != nil || len(items) != 1 || items[0].Metrics.Iterations != 5 {
		t.Fatalf("ListPlanMetrics: %v %+v", err, items)
	}
}
