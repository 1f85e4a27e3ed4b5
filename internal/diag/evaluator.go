package diag

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Mode selects how much evidence the evaluator gathers per vehicle.
type Mode int

const (
	// Exhaustive runs every checker at every insertion position.
	Exhaustive Mode = iota
	// BestEffort stops at the first violation per position and re-runs all checkers
	// at the position closest to feasible.
	BestEffort
)

func (m Mode) String() string {
	if m == BestEffort {
		return "best-effort"
	}
	return "exhaustive"
}

// ParseMode accepts "exhaustive" and "best-effort".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exhaustive":
		return Exhaustive, nil
	case "best-effort", "besteffort", "best_effort":
		return BestEffort, nil
	}
	return Exhaustive, fmt.Errorf("unknown evaluation mode %q", s)
}

// TieBreak decides which record represents the winning code.
type TieBreak int

const (
	// NearestMiss prefers the lowest severity, then fleet order.
	NearestMiss TieBreak = iota
	// FleetOrder prefers the first vehicle in the problem's fleet.
	FleetOrder
)

func (t TieBreak) String() string {
	if t == FleetOrder {
		return "fleet-order"
	}
	return "nearest-miss"
}

// ParseTieBreak accepts "nearest-miss" and "fleet-order".
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest-miss", "nearest_miss":
		return NearestMiss, nil
	case "fleet-order", "fleet_order":
		return FleetOrder, nil
	}
	return NearestMiss, fmt.Errorf("unknown tie-break policy %q", s)
}

type Options struct {
	Mode     Mode
	TieBreak TieBreak
	// UseSearchEvidence merges Solution.Attempts into the evidence.
	UseSearchEvidence bool
	// IncludeDetails adds the representative vehicle and severity to each reason.
	IncludeDetails bool
	// Workers bounds report fan-out; <= 0 means GOMAXPROCS.
	Workers int
}

func DefaultOptions() Options {
	return Options{Mode: Exhaustive, TieBreak: NearestMiss, UseSearchEvidence: true}
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Evaluation is the evidence gathered for one job across the fleet.
type Evaluation struct {
	JobID string
	// Records holds at most one record per (vehicle, code), in fleet then rank order.
	Records []ViolationRecord
	// Search is the evidence the optimizer recorded for this job.
	Search []ViolationRecord
	// FeasibleVehicles lists vehicles admitting a fully feasible insertion.
	FeasibleVehicles    []string
	Vehicles            int
	UnreachableVehicles int

	order map[string]int
}

// Evaluator re-checks unassigned jobs against a final solution. It is immutable
// after construction and safe for concurrent use.
type Evaluator struct {
	cat       *catalog
	solution  *Solution
	opts      Options
	states    []*routeState
	leftovers []string
	order     map[string]int
}

// NewEvaluator validates the solution against the problem and precomputes every
// vehicle's tour. Dangling references are fatal and wrap ErrInconsistent.
func NewEvaluator(p *Problem, s *Solution, t Transport, opts Options) (*Evaluator, error) {
	cat, err := newCatalog(p, t)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = &Solution{}
	}
	tours := make([][]*Job, len(p.Vehicles))
	seenRoute := make([]bool, len(p.Vehicles))
	assigned := map[string]string{}
	for _, r := range s.Routes {
		v, idx, ok := cat.vehicle(r.VehicleID)
		if !ok {
			return nil, fmt.Errorf("%w: route: %w %q", ErrInconsistent, ErrUnknownVehicle, r.VehicleID)
		}
		if seenRoute[idx] {
			return nil, fmt.Errorf("%w: vehicle %q has more than one route", ErrInconsistent, v.ID)
		}
		seenRoute[idx] = true
		ids := make([]string, len(r.Stops))
		for i, stop := range r.Stops {
			ids[i] = stop.JobID
			if other, dup := assigned[stop.JobID]; dup {
				return nil, fmt.Errorf("%w: job %q assigned to %q and %q", ErrInconsistent, stop.JobID, other, v.ID)
			}
			assigned[stop.JobID] = v.ID
		}
		if tours[idx], err = cat.tour(v.ID, ids); err != nil {
			return nil, err
		}
	}

	pending := map[string]struct{}{}
	for _, id := range s.Unassigned {
		if _, ok := cat.job(id); !ok {
			return nil, fmt.Errorf("%w: unassigned: %w %q", ErrInconsistent, ErrUnknownJob, id)
		}
		if v, ok := assigned[id]; ok {
			return nil, fmt.Errorf("%w: job %q is both unassigned and served by %q", ErrInconsistent, id, v)
		}
		pending[id] = struct{}{}
	}

	e := &Evaluator{
		cat:      cat,
		solution: s,
		opts:     opts,
		states:   make([]*routeState, len(p.Vehicles)),
		order:    make(map[string]int, len(p.Vehicles)),
	}
	for i := range p.Vehicles {
		e.states[i] = cat.newRouteState(&p.Vehicles[i], i, tours[i])
		e.order[p.Vehicles[i].ID] = i
	}
	for _, j := range p.Jobs {
		if _, ok := pending[j.ID]; ok {
			e.leftovers = append(e.leftovers, j.ID)
		}
	}
	return e, nil
}

// Unassigned returns the leftover job ids in problem order, without duplicates.
func (e *Evaluator) Unassigned() []string { return append([]string(nil), e.leftovers...) }

// Evaluate runs every checker for jobID against every vehicle. It returns ctx.Err()
// when interrupted; a partial evaluation is never returned.
func (e *Evaluator) Evaluate(ctx context.Context, jobID string) (Evaluation, error) {
	job, ok := e.cat.job(jobID)
	if !ok {
		return Evaluation{}, fmt.Errorf("%w %q", ErrUnknownJob, jobID)
	}
	ev := Evaluation{JobID: jobID, order: e.order}
	for _, st := range e.states {
		if err := ctx.Err(); err != nil {
			return Evaluation{}, err
		}
		if _, served := st.pos[jobID]; served {
			continue
		}
		res := e.cat.evaluateVehicle(job, st, e.opts.Mode)
		ev.Vehicles++
		if res.unreachable {
			ev.UnreachableVehicles++
		}
		if res.feasible() {
			ev.FeasibleVehicles = append(ev.FeasibleVehicles, st.vehicle.ID)
		}
		ev.Records = append(ev.Records, res.records()...)
	}
	if e.opts.UseSearchEvidence {
		for _, r := range e.solution.Attempts[jobID] {
			if _, known := e.order[r.VehicleID]; known && r.Code.Valid() && r.Code != NoReasonFound && !r.Evidence.Satisfied {
				ev.Search = append(ev.Search, r)
			}
		}
	}
	return ev, nil
}

// Placement is a feasible insertion position with its added distance.
type Placement struct {
	Position int
	Delta    float64
}

type vehicleResult struct {
	best        [numCodes]*ViolationRecord
	placements  []Placement
	unreachable bool
	routeOK     bool
}

func (r *vehicleResult) feasible() bool { return r.routeOK && len(r.placements) > 0 }

func (r *vehicleResult) records() []ViolationRecord {
	var out []ViolationRecord
	for _, c := range priorityOrder {
		if rec := r.best[c]; rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// add keeps the closest-to-feasible record per code; earlier positions win ties.
func (r *vehicleResult) add(rec ViolationRecord) {
	if cur := r.best[rec.Code]; cur == nil || rec.Evidence.Severity < cur.Evidence.Severity {
		r.best[rec.Code] = &rec
	}
}

// attempt is the outcome of the activity checkers at one position.
type attempt struct {
	pos      int
	passed   int
	severity float64
	ok       bool
}

func (c *catalog) evaluateVehicle(job *Job, st *routeState, mode Mode) vehicleResult {
	res := vehicleResult{routeOK: true}
	v := st.vehicle
	ic := &InsertionContext{Job: job, Vehicle: v, Position: RoutePosition, cat: c, state: st}
	record := func(code Code, ev Evidence, pos int) {
		res.add(ViolationRecord{Code: code, Evidence: ev, VehicleID: v.ID, Position: pos})
	}

	if ev, err := safeEvaluate(reachableChecker{}, ic); err == nil && !ev.Satisfied {
		// nothing else is meaningful for a vehicle that cannot get to the job
		res.unreachable, res.routeOK = true, false
		record(ReachableConstraint, ev, RoutePosition)
		return res
	}
	for _, chk := range routeCheckers {
		if ev, err := safeEvaluate(chk, ic); err == nil && !ev.Satisfied {
			res.routeOK = false
			record(chk.Code(), ev, RoutePosition)
		}
	}

	// run evaluates the activity checkers at one position, stopping at the first violation if asked.
	run := func(p int, stopEarly bool) attempt {
		ins := c.insert(st, job, p)
		actx := &InsertionContext{Job: job, Vehicle: v, Position: p, cat: c, state: st, ins: &ins}
		a := attempt{pos: p, ok: true}
		if ins.unreachable {
			record(ReachableConstraint, violated(0), p)
			a.ok = false
			return a
		}
		for _, chk := range activityCheckers {
			ev, err := safeEvaluate(chk, actx)
			if err != nil || ev.Satisfied {
				a.passed++
				continue
			}
			if a.ok {
				a.severity = ev.Severity
			}
			a.ok = false
			record(chk.Code(), ev, p)
			if stopEarly {
				break
			}
		}
		if a.ok {
			res.placements = append(res.placements, Placement{Position: p, Delta: ins.distance - st.distance})
		}
		return a
	}

	n := len(st.jobs)
	if mode != BestEffort {
		for p := 0; p <= n; p++ {
			run(p, false)
		}
		return res
	}

	var best *attempt
	for p := 0; p <= n; p++ {
		a := run(p, true)
		if best == nil || a.passed > best.passed || (a.passed == best.passed && a.severity < best.severity) {
			best = &a
		}
	}
	if best != nil && !best.ok {
		for i := range res.best {
			if rec := res.best[i]; rec != nil && rec.Position != RoutePosition {
				res.best[i] = nil
			}
		}
		run(best.pos, false)
	}
	return res
}
