package opt

import (
	"context"
	"fmt"
	"time"

	"vrpdiag/internal/diag"
)

// Problem is the optimizer input: the routing problem plus search tuning.
type Problem struct {
	Diag      *diag.Problem
	Transport diag.Transport
	// Objectives weights: "distance" per meter (default 1), "unassigned" per job left out.
	Objectives              map[string]float64
	IterationsLimit         int
	InitialTemp             float64
	Cooling                 float64
	InitialRemovalWeights   []float64 // [random, shaw]
	InitialInsertionWeights []float64 // [greedy, regret2]
}

type Metrics struct {
	// selection counts: [random, shaw] and [greedy, regret2]
	RemovalSelects        [2]int           `json:"removalSelects"`
	InsertSelects         [2]int           `json:"insertSelects"`
	Iterations            int              `json:"iterations"`
	Improvements          int              `json:"improvements"`
	AcceptedWorse         int              `json:"acceptedWorse"`
	Unassigned            int              `json:"unassigned"`
	Interrupted           bool             `json:"interrupted"`
	BestCost              float64          `json:"bestCost"`
	FinalCost             float64          `json:"finalCost"`
	FinalRemovalWeights   [2]float64       `json:"finalRemovalWeights"`
	FinalInsertionWeights [2]float64       `json:"finalInsertionWeights"`
	Snapshots             []WeightSnapshot `json:"snapshots,omitempty"`
}

type WeightSnapshot struct {
	Iteration int        `json:"iteration"`
	Removal   [2]float64 `json:"removal"`
	Insertion [2]float64 `json:"insertion"`
}

// Result carries the best solution found, ready for the diagnostics pass:
// jobs no vehicle could take are listed as unassigned with the violations
// recorded on their last failed insertion attempt.
type Result struct {
	Solution diag.Solution
	Cost     float64
	Metrics  Metrics
}

// Solve runs ALNS until the time budget, the iteration limit or ctx ends the search.
// Cancellation is not an error: the best solution so far is returned and
// Metrics.Interrupted is set.
func Solve(ctx context.Context, p Problem, seed int64, timeBudget time.Duration) (Result, error) {
	if p.Diag == nil {
		return Result{}, fmt.Errorf("opt: nil problem")
	}
	probe, err := diag.NewProbe(p.Diag, p.Transport)
	if err != nil {
		return Result{}, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e := newEngine(p, probe, seed)
	best, m := e.run(ctx, timeBudget)
	sol, err := e.export(best)
	if err != nil {
		return Result{}, err
	}
	m.Unassigned = len(sol.Unassigned)
	return Result{Solution: sol, Cost: best.Cost, Metrics: m}, nil
}
