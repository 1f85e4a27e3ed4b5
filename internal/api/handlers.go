package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"vrpdiag/internal/cache"
	"vrpdiag/internal/diag"
	"vrpdiag/internal/metrics"
	"vrpdiag/internal/model"
	"vrpdiag/internal/opt"
	"vrpdiag/internal/webhooks"
)

const maxBodyBytes = 16 << 20

// DiagnosticsHandler handles POST /v1/diagnostics: explain the unassigned jobs
// of a solved problem. Identical requests are answered from the cache.
func (s *Server) DiagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error(), r.URL.Path)
		return
	}
	var req model.DiagnosticsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	opts, err := s.diagOptions(r.Context(), p.Tenant, req.Options)
	if err != nil {
		writeError(w, r, "Invalid options", err)
		return
	}

	key := cache.Key(p.Tenant, optionsKey(opts), body)
	if raw, hit := s.Cache.Get(key); hit {
		var resp model.DiagnosticsResponse
		if err := json.Unmarshal(raw, &resp); err == nil {
			metrics.CacheHits.WithLabelValues("hit").Inc()
			resp.Cached = true
			writeJSON(w, http.StatusOK, resp)
			return
		}
		s.Cache.Delete(key)
	}
	metrics.CacheHits.WithLabelValues("miss").Inc()

	prob, err := req.Problem.ToDiag()
	if err != nil {
		writeError(w, r, "Invalid problem", err)
		return
	}
	sol, err := req.Solution.ToDiag()
	if err != nil {
		writeError(w, r, "Invalid solution", err)
		return
	}
	tr, err := req.Problem.Transport.Build(s.Cfg.Diag.SpeedKph)
	if err != nil {
		writeError(w, r, "Invalid transport", err)
		return
	}

	ctx, cancel := s.diagTimeout(r.Context())
	defer cancel()
	rep, err := diag.BuildReport(ctx, prob, sol, tr, opts)
	if err != nil {
		writeError(w, r, "Diagnostics failed", err)
		return
	}
	saved, err := s.storeReport(r.Context(), p.Tenant, "diagnostics", rep, nil)
	if err != nil {
		writeError(w, r, "Save report failed", err)
		return
	}

	resp := model.DiagnosticsResponse{ReportID: saved.ID, Unassigned: rep.Entries, Stats: rep.Stats}
	if !rep.Stats.Interrupted {
		if raw, err := json.Marshal(resp); err == nil {
			s.Cache.Set(key, raw, 0)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// OptimizeHandler handles POST /v1/optimize: run the reference optimizer, then
// diagnose whatever it left unassigned.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	prob, err := req.Problem.ToDiag()
	if err != nil {
		writeError(w, r, "Invalid problem", err)
		return
	}
	tr, err := req.Problem.Transport.Build(s.Cfg.Diag.SpeedKph)
	if err != nil {
		writeError(w, r, "Invalid transport", err)
		return
	}
	opts, err := s.diagOptions(r.Context(), p.Tenant, req.Options)
	if err != nil {
		writeError(w, r, "Invalid options", err)
		return
	}

	budget := req.TimeBudgetMs
	if budget == 0 {
		budget = s.Cfg.Optimize.TimeBudgetMs
	}
	iters := req.MaxIterations
	if iters == 0 {
		iters = s.Cfg.Optimize.MaxIterations
	}
	res, err := opt.Solve(r.Context(), opt.Problem{
		Diag:                    prob,
		Transport:               tr,
		Objectives:              req.Objectives,
		IterationsLimit:         iters,
		InitialTemp:             req.InitTemp,
		Cooling:                 req.Cooling,
		InitialRemovalWeights:   req.RemovalWeights,
		InitialInsertionWeights: req.InsertionWeights,
	}, req.Seed, time.Duration(budget)*time.Millisecond)
	if err != nil {
		writeError(w, r, "Optimize failed", err)
		return
	}

	ctx, cancel := s.diagTimeout(r.Context())
	defer cancel()
	rep, err := diag.BuildReport(ctx, prob, &res.Solution, tr, opts)
	if err != nil {
		writeError(w, r, "Diagnostics failed", err)
		return
	}
	routes := model.RoutesOut(res.Solution.Routes)
	saved, err := s.storeReport(r.Context(), p.Tenant, "optimize", rep, routes)
	if err != nil {
		writeError(w, r, "Save report failed", err)
		return
	}
	if err := s.Store.SavePlanMetrics(r.Context(), p.Tenant, saved.ID, "alns", res.Metrics); err != nil {
		log.Printf("save plan metrics %s: %v", saved.ID, err)
	}
	opt.RecordMetrics(p.Tenant, saved.ID, "alns", res.Metrics)

	writeJSON(w, http.StatusOK, model.OptimizeResponse{
		ReportID:   saved.ID,
		Routes:     routes,
		Unassigned: rep.Entries,
		Stats:      rep.Stats,
		Metrics:    res.Metrics,
	})
}

// diagOptions layers service defaults, the tenant's stored config and the
// request overrides.
func (s *Server) diagOptions(ctx context.Context, tenant string, req *model.DiagOptions) (diag.Options, error) {
	base := s.Cfg.DiagOptions()
	tc, err := s.Store.GetDiagConfig(ctx, tenant)
	if err != nil {
		return base, err
	}
	if tc != nil {
		base, err = (&model.DiagOptions{
			Mode:              tc.Mode,
			TieBreak:          tc.TieBreak,
			IncludeDetails:    &tc.IncludeDetails,
			UseSearchEvidence: &tc.UseSearchEvidence,
		}).Apply(base)
		if err != nil {
			return base, err
		}
	}
	return req.Apply(base)
}

func optionsKey(o diag.Options) string {
	return fmt.Sprintf("%s|%s|%t|%t", o.Mode, o.TieBreak, o.IncludeDetails, o.UseSearchEvidence)
}

// storeReport persists rep and announces it on the broker and to webhooks.
func (s *Server) storeReport(ctx context.Context, tenant, source string, rep diag.Report, routes []model.RouteOut) (model.Report, error) {
	saved, err := s.Store.SaveReport(ctx, model.Report{
		TenantID:   tenant,
		Source:     source,
		Unassigned: rep.Entries,
		Stats:      rep.Stats,
		Routes:     routes,
	})
	if err != nil {
		return saved, err
	}
	byCode := make(map[string]int, len(rep.Stats.ByCode))
	for c, n := range rep.Stats.ByCode {
		byCode[c.String()] = n
	}
	metrics.ObserveReport(source, float64(rep.Stats.ElapsedMs)/1000, rep.Stats.Interrupted, byCode)

	evt := model.ReportEvent{
		Type:     "report.created",
		ReportID: saved.ID,
		TenantID: tenant,
		Source:   source,
		Jobs:     len(rep.Entries),
		ByCode:   rep.Stats.ByCode,
		TS:       time.Now().UTC().Format(time.RFC3339),
	}
	s.Broker.Publish(tenant, SSEEvent{Type: evt.Type, Data: eventData(evt)})
	s.Pub.Emit(ctx, tenant, webhooks.EventDiagnosticsCompleted, evt)
	return saved, nil
}

func eventData(evt model.ReportEvent) map[string]any {
	raw, err := json.Marshal(evt)
	if err != nil {
		return map[string]any{"reportId": evt.ReportID}
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// ReportsHandler handles GET /v1/reports.
func (s *Server) ReportsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	items, next, err := s.Store.ListReports(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeError(w, r, "List reports failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// ReportByIDHandler handles GET /v1/reports/{id} and GET /v1/reports/{id}/unassigned.
func (s *Server) ReportByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/reports/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "unassigned") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	rep, err := s.Store.GetReport(r.Context(), p.Tenant, parts[0])
	if err != nil {
		writeError(w, r, "Report not found", err)
		return
	}
	if len(parts) == 2 {
		writeJSON(w, http.StatusOK, rep.Unassigned)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// AdminDiagConfigHandler handles GET|PUT /v1/admin/diagnostics/config.
func (s *Server) AdminDiagConfigHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.admin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.Store.GetDiagConfig(r.Context(), p.Tenant)
		if err != nil {
			writeError(w, r, "Get config failed", err)
			return
		}
		stored := cfg != nil
		if cfg == nil {
			cfg = &model.DiagConfig{
				Mode:              s.Cfg.Diag.Mode,
				TieBreak:          s.Cfg.Diag.TieBreak,
				IncludeDetails:    s.Cfg.Diag.IncludeDetails,
				UseSearchEvidence: s.Cfg.Diag.UseSearchEvidence,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg, "stored": stored})
	case http.MethodPut:
		var body struct {
			Config *model.DiagConfig `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, http.StatusBadRequest, "Missing config", "", r.URL.Path)
			return
		}
		if _, err := body.Config.Options(); err != nil {
			writeError(w, r, "Invalid config", err)
			return
		}
		if err := s.Store.SaveDiagConfig(r.Context(), p.Tenant, *body.Config); err != nil {
			writeError(w, r, "Save failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics?reportId=&algo=.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.admin(w, r)
	if !ok {
		return
	}
	reportID := r.URL.Query().Get("reportId")
	algo := r.URL.Query().Get("algo")
	items, err := s.Store.ListPlanMetrics(r.Context(), p.Tenant, reportID, algo)
	if err != nil {
		writeError(w, r, "List plan metrics failed", err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{"reportId": it.ReportID, "algo": it.Algo, "createdAt": it.CreatedAt, "metrics": it.Metrics})
	}
	// runs not yet persisted are still held by the optimizer
	if len(out) == 0 && reportID != "" {
		for a, m := range opt.GetMetrics(p.Tenant, reportID) {
			if algo != "" && a != algo {
				continue
			}
			out = append(out, map[string]any{"reportId": reportID, "algo": a, "metrics": m})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
