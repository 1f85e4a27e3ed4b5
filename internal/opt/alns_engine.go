package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"vrpdiag/internal/diag"
)

type RoutePlan struct {
	VehicleID string
	Order     []int // indices into Problem.Diag.Jobs
}

// Solution is a search state: one plan per vehicle plus the jobs left out.
type Solution struct {
	Plans []RoutePlan
	Pool  []int
	Cost  float64

	// Attempts holds, per pooled job, the violations seen when it was last left out.
	Attempts map[int][]diag.ViolationRecord
}

func (s Solution) clone() Solution {
	out := Solution{
		Plans:    make([]RoutePlan, len(s.Plans)),
		Pool:     append([]int(nil), s.Pool...),
		Cost:     s.Cost,
		Attempts: make(map[int][]diag.ViolationRecord, len(s.Attempts)),
	}
	for job, recs := range s.Attempts {
		out.Attempts[job] = recs
	}
	for i, pl := range s.Plans {
		out.Plans[i] = RoutePlan{VehicleID: pl.VehicleID, Order: append([]int(nil), pl.Order...)}
	}
	return out
}

type engine struct {
	p     Problem
	probe *diag.Probe
	jobs  []string
	rng   *rand.Rand
}

func newEngine(p Problem, probe *diag.Probe, seed int64) *engine {
	e := &engine{
		p:     p,
		probe: probe,
		jobs:  make([]string, len(p.Diag.Jobs)),
		rng:   rand.New(rand.NewSource(seed)),
	}
	for i, j := range p.Diag.Jobs {
		e.jobs[i] = j.ID
	}
	return e
}

func (e *engine) run(ctx context.Context, timeBudget time.Duration) (Solution, Metrics) {
	p := e.p
	curr := e.greedySeed()
	best := curr.clone()
	remW := []float64{1, 1}
	insW := []float64{1, 1}
	if len(p.InitialRemovalWeights) == 2 {
		remW = []float64{p.InitialRemovalWeights[0], p.InitialRemovalWeights[1]}
	}
	if len(p.InitialInsertionWeights) == 2 {
		insW = []float64{p.InitialInsertionWeights[0], p.InitialInsertionWeights[1]}
	}
	temp := 1.0
	if p.InitialTemp > 0 {
		temp = p.InitialTemp
	}
	cool := 0.995
	if p.Cooling > 0 && p.Cooling < 1 {
		cool = p.Cooling
	}
	m := Metrics{BestCost: best.Cost}
	deadline := time.Now().Add(timeBudget)
	snapshotEvery := 50
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			m.Interrupted = true
			break
		}
		if p.IterationsLimit > 0 && m.Iterations >= p.IterationsLimit {
			break
		}
		m.Iterations++
		k := 1 + e.rng.Intn(3)
		op := selectOp(remW, e.rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW, e.rng)
		m.InsertSelects[ip]++

		cand := curr.clone()
		var removed []int
		switch op {
		case 0:
			removed = e.randomRemoval(cand, k)
		case 1:
			removed = e.shawRemoval(cand, k)
		}
		cand = removeJobs(cand, removed)
		// jobs left out earlier get another chance with the freed capacity
		pending := append(removed, cand.Pool...)
		cand.Pool = nil
		clear(cand.Attempts)
		switch ip {
		case 0:
			cand = e.greedyInsert(cand, pending)
		case 1:
			cand = e.regretInsert(cand, pending)
		}
		cand = e.twoOptImprove(cand)
		cand.Cost = e.cost(cand)

		delta := cand.Cost - curr.Cost
		if delta < 0 || e.rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr = cand
			if cand.Cost < best.Cost {
				best = cand.clone()
				remW[op] += 0.1
				insW[ip] += 0.1
				m.Improvements++
				m.BestCost = best.Cost
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
				m.AcceptedWorse++
			}
		} else {
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: [2]float64{remW[0], remW[1]}, Insertion: [2]float64{insW[0], insW[1]}})
		}
	}
	m.FinalCost = best.Cost
	m.FinalRemovalWeights = [2]float64{remW[0], remW[1]}
	m.FinalInsertionWeights = [2]float64{insW[0], insW[1]}
	return best, m
}

func (e *engine) greedySeed() Solution {
	sol := Solution{Plans: make([]RoutePlan, len(e.p.Diag.Vehicles)), Attempts: map[int][]diag.ViolationRecord{}}
	for vi, v := range e.p.Diag.Vehicles {
		sol.Plans[vi] = RoutePlan{VehicleID: v.ID}
	}
	all := make([]int, len(e.jobs))
	for i := range all {
		all[i] = i
	}
	sol = e.greedyInsert(sol, all)
	sol = e.twoOptImprove(sol)
	sol.Cost = e.cost(sol)
	return sol
}

// option is the cheapest feasible placement of a job in one plan.
type option struct {
	plan, pos int
	delta     float64
}

// options returns the cheapest placement per plan. When there is none, records
// holds the violations gathered over the fleet.
func (e *engine) options(sol Solution, job int) (out []option, records []diag.ViolationRecord) {
	for vi, pl := range sol.Plans {
		res, err := e.probe.Insert(pl.VehicleID, e.ids(pl.Order), e.jobs[job])
		if err != nil {
			continue
		}
		if len(res.Feasible) == 0 {
			records = append(records, res.Records...)
			continue
		}
		bestOpt := option{plan: vi, pos: -1, delta: math.MaxFloat64}
		for _, f := range res.Feasible {
			if f.Delta < bestOpt.delta {
				bestOpt.pos, bestOpt.delta = f.Position, f.Delta
			}
		}
		out = append(out, bestOpt)
	}
	if len(out) > 0 {
		records = nil
	}
	return out, records
}

// greedyInsert places jobs by cheapest feasible insertion. Jobs no plan can take go to the pool.
func (e *engine) greedyInsert(sol Solution, pending []int) Solution {
	nodes := append([]int(nil), pending...)
	for len(nodes) > 0 {
		bestNode := -1
		var bestOpt option
		bestCost := math.MaxFloat64
		for ni := 0; ni < len(nodes); ni++ {
			opts, records := e.options(sol, nodes[ni])
			if len(opts) == 0 {
				sol.Pool = append(sol.Pool, nodes[ni])
				sol.Attempts[nodes[ni]] = records
				nodes = append(nodes[:ni], nodes[ni+1:]...)
				ni--
				continue
			}
			for _, o := range opts {
				if o.delta < bestCost {
					bestCost, bestOpt, bestNode = o.delta, o, ni
				}
			}
		}
		if bestNode == -1 {
			break
		}
		sol.Plans[bestOpt.plan].Order = insertAt(sol.Plans[bestOpt.plan].Order, bestOpt.pos, nodes[bestNode])
		nodes = append(nodes[:bestNode], nodes[bestNode+1:]...)
	}
	sol.Cost = e.cost(sol)
	return sol
}

// regretInsert places first the job that loses most by not getting its best plan.
func (e *engine) regretInsert(sol Solution, pending []int) Solution {
	nodes := append([]int(nil), pending...)
	for len(nodes) > 0 {
		bestNode := -1
		var bestOpt option
		bestRegret := -1.0
		for ni := 0; ni < len(nodes); ni++ {
			opts, records := e.options(sol, nodes[ni])
			if len(opts) == 0 {
				sol.Pool = append(sol.Pool, nodes[ni])
				sol.Attempts[nodes[ni]] = records
				nodes = append(nodes[:ni], nodes[ni+1:]...)
				ni--
				continue
			}
			sort.Slice(opts, func(a, b int) bool { return opts[a].delta < opts[b].delta })
			regret := math.MaxFloat64
			if len(opts) > 1 {
				regret = opts[1].delta - opts[0].delta
			}
			if regret > bestRegret {
				bestRegret, bestOpt, bestNode = regret, opts[0], ni
			}
		}
		if bestNode == -1 {
			break
		}
		sol.Plans[bestOpt.plan].Order = insertAt(sol.Plans[bestOpt.plan].Order, bestOpt.pos, nodes[bestNode])
		nodes = append(nodes[:bestNode], nodes[bestNode+1:]...)
	}
	sol.Cost = e.cost(sol)
	return sol
}

func (e *engine) randomRemoval(sol Solution, k int) []int {
	var all []int
	for _, pl := range sol.Plans {
		all = append(all, pl.Order...)
	}
	var removed []int
	for i := 0; i < k && len(all) > 0; i++ {
		j := e.rng.Intn(len(all))
		removed = append(removed, all[j])
		all = append(all[:j], all[j+1:]...)
	}
	return removed
}

// shawRemoval selects k jobs related by geography and time windows.
func (e *engine) shawRemoval(sol Solution, k int) []int {
	var assigned []int
	for _, pl := range sol.Plans {
		assigned = append(assigned, pl.Order...)
	}
	if len(assigned) == 0 {
		return nil
	}
	jobs := e.p.Diag.Jobs
	seedIdx := assigned[e.rng.Intn(len(assigned))]
	type pair struct {
		idx   int
		score float64
	}
	var rel []pair
	s := jobs[seedIdx]
	for _, idx := range assigned {
		if idx == seedIdx {
			continue
		}
		n := jobs[idx]
		geo := haversine(s.Location.Lat, s.Location.Lng, n.Location.Lat, n.Location.Lng)
		score := geo - 1000.0*twOverlap(s.TimeWindows, n.TimeWindows)
		rel = append(rel, pair{idx: idx, score: score})
	}
	sort.Slice(rel, func(a, b int) bool { return rel[a].score < rel[b].score })
	removed := []int{seedIdx}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].idx)
	}
	return removed
}

// twOverlap is the largest overlap in hours between any two windows.
func twOverlap(a, b []diag.TimeWindow) float64 {
	best := 0.0
	for _, x := range a {
		for _, y := range b {
			if d := math.Min(x.End, y.End) - math.Max(x.Start, y.Start); d > best {
				best = d
			}
		}
	}
	return best / 3600
}

func removeJobs(sol Solution, removed []int) Solution {
	if len(removed) == 0 {
		return sol
	}
	rm := map[int]bool{}
	for _, i := range removed {
		rm[i] = true
	}
	for i := range sol.Plans {
		kept := sol.Plans[i].Order[:0]
		for _, idx := range sol.Plans[i].Order {
			if !rm[idx] {
				kept = append(kept, idx)
			}
		}
		sol.Plans[i].Order = kept
	}
	return sol
}

func insertAt(order []int, pos, job int) []int {
	order = append(order, 0)
	copy(order[pos+1:], order[pos:])
	order[pos] = job
	return order
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}

// export turns the best plans into a diag.Solution with scheduled stops.
func (e *engine) export(best Solution) (diag.Solution, error) {
	out := diag.Solution{Attempts: map[string][]diag.ViolationRecord{}}
	for _, pl := range best.Plans {
		if len(pl.Order) == 0 {
			continue
		}
		r, _, err := e.probe.Schedule(pl.VehicleID, e.ids(pl.Order))
		if err != nil {
			return diag.Solution{}, err
		}
		out.Routes = append(out.Routes, r)
	}
	pool := append([]int(nil), best.Pool...)
	sort.Ints(pool)
	for _, idx := range pool {
		id := e.jobs[idx]
		out.Unassigned = append(out.Unassigned, id)
		if recs := best.Attempts[idx]; len(recs) > 0 {
			out.Attempts[id] = recs
		}
	}
	return out, nil
}

func (e *engine) ids(order []int) []string {
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = e.jobs[idx]
	}
	return out
}
