package opt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdiag/internal/diag"
)

func berlin() *diag.Problem {
	at := func(lat, lng float64) diag.Location { return diag.Location{Lat: lat, Lng: lng} }
	return &diag.Problem{
		Jobs: []diag.Job{
			{ID: "a", Location: at(52.52, 13.40), Demand: []float64{2}, ServiceSec: 120},
			{ID: "b", Location: at(52.53, 13.42), Demand: []float64{2}, ServiceSec: 120},
			{ID: "c", Location: at(52.50, 13.45), Demand: []float64{2}, ServiceSec: 120},
			{ID: "heavy", Location: at(52.51, 13.39), Demand: []float64{50}},
			{ID: "crane", Location: at(52.49, 13.41), Demand: []float64{1}, Skills: []string{"crane"}},
		},
		Vehicles: []diag.Vehicle{
			{ID: "v1", Start: at(52.50, 13.40), Capacity: []float64{5}},
			{ID: "v2", Start: at(52.50, 13.40), Capacity: []float64{5}},
		},
	}
}

func TestSolve_LeavesInfeasibleJobsUnassigned(t *testing.T) {
	p := berlin()
	tr := diag.Haversine{SpeedKph: 40}
	res, err := Solve(context.Background(), Problem{Diag: p, Transport: tr, IterationsLimit: 25}, 7, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"heavy", "crane"}, res.Solution.Unassigned)
	assert.NotEmpty(t, res.Solution.Attempts["heavy"])
	assert.Equal(t, 25, res.Metrics.Iterations)
	assert.Equal(t, 2, res.Metrics.Unassigned)

	demand := map[string]float64{"a": 2, "b": 2, "c": 2}
	served := 0
	for _, r := range res.Solution.Routes {
		load := 0.0
		for _, s := range r.Stops {
			load += demand[s.JobID]
			served++
		}
		assert.LessOrEqual(t, load, 5.0, "route of %s", r.VehicleID)
	}
	assert.Equal(t, 3, served)

	rep, err := diag.BuildReport(context.Background(), p, &res.Solution, tr, diag.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rep.Entries, 2)
	assert.Equal(t, diag.CapacityConstraint, rep.Entries[0].Reasons[0].Code)
	assert.Equal(t, diag.SkillConstraint, rep.Entries[1].Reasons[0].Code)
}

func TestSolve_DeterministicForSeed(t *testing.T) {
	tr := diag.Haversine{SpeedKph: 40}
	first, err := Solve(context.Background(), Problem{Diag: berlin(), Transport: tr, IterationsLimit: 10}, 42, 10*time.Second)
	require.NoError(t, err)
	second, err := Solve(context.Background(), Problem{Diag: berlin(), Transport: tr, IterationsLimit: 10}, 42, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.Solution.Routes, second.Solution.Routes)
	assert.InDelta(t, first.Cost, second.Cost, 1e-9)
}

func TestSolve_CancelledContextKeepsSeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Solve(ctx, Problem{Diag: berlin(), Transport: diag.Haversine{}}, 1, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Metrics.Interrupted)
	assert.Zero(t, res.Metrics.Iterations)
	assert.Len(t, res.Solution.Unassigned, 2)
}

func TestSolve_RejectsBadInput(t *testing.T) {
	_, err := Solve(context.Background(), Problem{}, 1, time.Second)
	require.Error(t, err)
	_, err = Solve(context.Background(), Problem{Diag: berlin()}, 1, time.Second)
	require.ErrorIs(t, err, diag.ErrNoTransport)
}

func TestTwoOptSwap(t *testing.T) {
	assert.Equal(t, []int{0, 3, 2, 1, 4}, twoOptSwap([]int{0, 1, 2, 3, 4}, 1, 3))
}

func TestMetricsStore(t *testing.T) {
	RecordMetrics("t1", "r1", "alns", Metrics{Iterations: 3})
	RecordMetrics("t2", "r1", "alns", Metrics{Iterations: 9})
	got := GetMetrics("t1", "r1")
	require.Len(t, got, 1)
	assert.Equal(t, 3, got["alns"].Iterations)
}

func TestExport_KeepsEvidenceOfBestSolution(t *testing.T) {
	p := berlin()
	tr := diag.Haversine{SpeedKph: 40}
	probe, err := diag.NewProbe(p, tr)
	require.NoError(t, err)
	e := newEngine(Problem{Diag: p, Transport: tr}, probe, 1)

	best := e.greedySeed()
	const heavy = 3
	require.Contains(t, best.Pool, heavy)
	kept := best.Attempts[heavy]
	require.NotEmpty(t, kept)
	for _, r := range kept {
		assert.Equal(t, diag.CapacityConstraint, r.Code)
	}

	// later candidates record their own evidence without touching best
	cand := best.clone()
	clear(cand.Attempts)
	cand = e.greedyInsert(cand, []int{heavy})
	cand.Attempts[heavy] = nil

	out, err := e.export(best)
	require.NoError(t, err)
	assert.Equal(t, kept, out.Attempts["heavy"])
}
