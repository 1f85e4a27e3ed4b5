package diag

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hour = 3600.0

func TestReport_UnreachableBeatsEveryOtherReason(t *testing.T) {
	far := at0(50)
	p := &Problem{
		Jobs: []Job{{ID: "J", Skills: []string{"crane"}, Demand: []float64{99}, Location: far}},
		Vehicles: []Vehicle{
			{ID: "V1", Start: at0(0), Capacity: []float64{1}},
			{ID: "V2", Start: at0(1), Capacity: []float64{1}, MaxTourSize: 1},
		},
	}
	s := &Solution{Unassigned: []string{"J"}}
	rep, err := BuildReport(context.Background(), p, s, lineTransport{blocked: map[Location]bool{far: true}}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, ReachableConstraint, reasonOf(t, rep, "J"))
}

func TestReport_CapacityOnly(t *testing.T) {
	p := &Problem{
		Jobs: []Job{{ID: "J", Demand: []float64{12, 1}, Location: at0(1)}},
		Vehicles: []Vehicle{
			{ID: "V1", Start: at0(0), Capacity: []float64{10, 5}},
			{ID: "V2", Start: at0(0), Capacity: []float64{8, 5}},
		},
	}
	s := &Solution{Unassigned: []string{"J"}}
	opts := DefaultOptions()
	opts.IncludeDetails = true
	rep, err := BuildReport(context.Background(), p, s, lineTransport{}, opts)
	require.NoError(t, err)
	require.Len(t, rep.Entries, 1)
	r := rep.Entries[0].Reasons[0]
	assert.Equal(t, CapacityConstraint, r.Code)
	assert.Equal(t, "does not fit into any vehicle due to capacity", r.Description)
	require.NotNil(t, r.Details)
	assert.Equal(t, "V1", r.Details.VehicleID, "nearest miss is the vehicle with the smallest overflow")
	assert.Equal(t, 2.0, r.Details.Severity)
}

func TestReport_FleetOrderTieBreak(t *testing.T) {
	p := &Problem{
		Jobs: []Job{{ID: "J", Demand: []float64{12}, Location: at0(1)}},
		Vehicles: []Vehicle{
			{ID: "V1", Start: at0(0), Capacity: []float64{5}},
			{ID: "V2", Start: at0(0), Capacity: []float64{10}},
		},
	}
	opts := DefaultOptions()
	opts.IncludeDetails = true
	opts.TieBreak = FleetOrder
	rep, err := BuildReport(context.Background(), p, &Solution{Unassigned: []string{"J"}}, lineTransport{}, opts)
	require.NoError(t, err)
	assert.Equal(t, "V1", rep.Entries[0].Reasons[0].Details.VehicleID)
}

func TestReport_SkillOutranksTourSize(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Location: at0(1)},
			{ID: "B", Location: at0(2)},
			{ID: "J", Skills: []string{"fridge"}, Location: at0(3)},
		},
		Vehicles: []Vehicle{
			{ID: "V1", Start: at0(0), MaxTourSize: 1, Skills: []string{"lift"}},
			{ID: "V2", Start: at0(0), MaxTourSize: 1},
		},
	}
	s := &Solution{
		Routes:     []Route{route("V1", "A"), route("V2", "B")},
		Unassigned: []string{"J"},
	}
	rep, err := BuildReport(context.Background(), p, s, lineTransport{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, SkillConstraint, reasonOf(t, rep, "J"))
}

func TestReport_TourSizeAlone(t *testing.T) {
	p := &Problem{
		Jobs:     []Job{{ID: "A", Location: at0(1)}, {ID: "J", Location: at0(3)}},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0), MaxTourSize: 1}},
	}
	s := &Solution{Routes: []Route{route("V1", "A")}, Unassigned: []string{"J"}}
	rep, err := BuildReport(context.Background(), p, s, lineTransport{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, TourSizeConstraint, reasonOf(t, rep, "J"))
}

func TestReport_KeepsProblemOrder(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "J3", Demand: []float64{50}, Location: at0(1)},
			{ID: "J1", Skills: []string{"x"}, Location: at0(2)},
			{ID: "J2", TimeWindows: []TimeWindow{{Start: 0, End: 1}}, Location: at0(9)},
		},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0), Capacity: []float64{10}}},
	}
	s := &Solution{Unassigned: []string{"J2", "J1", "J3", "J1"}}
	opts := DefaultOptions()
	opts.Workers = 3
	rep, err := BuildReport(context.Background(), p, s, lineTransport{}, opts)
	require.NoError(t, err)
	var ids []string
	for _, e := range rep.Entries {
		ids = append(ids, e.JobID)
	}
	assert.Equal(t, []string{"J3", "J1", "J2"}, ids)
	assert.Equal(t, CapacityConstraint, rep.Entries[0].Reasons[0].Code)
	assert.Equal(t, SkillConstraint, rep.Entries[1].Reasons[0].Code)
	assert.Equal(t, TimeWindowConstraint, rep.Entries[2].Reasons[0].Code)
	assert.Equal(t, 3, rep.Stats.Jobs)
}

func TestReport_ShiftEndsBeforeJobWindow(t *testing.T) {
	p := &Problem{
		Jobs: []Job{{
			ID:          "J",
			Demand:      []float64{1},
			Location:    at0(1),
			TimeWindows: []TimeWindow{{Start: 13 * hour, End: 14 * hour}},
		}},
		Vehicles: []Vehicle{{
			ID:       "V1",
			Start:    at0(0),
			Capacity: []float64{10},
			Shift:    TimeWindow{Start: 8 * hour, End: 12 * hour},
		}},
	}
	rep, err := BuildReport(context.Background(), p, &Solution{Unassigned: []string{"J"}}, lineTransport{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, TimeWindowConstraint, reasonOf(t, rep, "J"))
}

func TestReport_Idempotent(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Demand: []float64{4}, Location: at0(1)},
			{ID: "B", Demand: []float64{9}, Location: at0(2), Priority: 1},
			{ID: "C", Location: at0(3), TimeWindows: []TimeWindow{{Start: 0, End: 30}}},
		},
		Vehicles: []Vehicle{
			{ID: "V1", Start: at0(0), Capacity: []float64{10}, MaxDistance: 2500},
			{ID: "V2", Start: at0(5), Capacity: []float64{6}},
		},
	}
	s := &Solution{Routes: []Route{route("V1", "A")}, Unassigned: []string{"B", "C"}}
	opts := DefaultOptions()
	opts.IncludeDetails = true
	e, err := NewEvaluator(p, s, lineTransport{}, opts)
	require.NoError(t, err)

	first := e.Report(context.Background())
	second := e.Report(context.Background())
	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, first.Stats.ByCode, second.Stats.ByCode)
}

func TestReport_CancelledContext(t *testing.T) {
	p := &Problem{
		Jobs:     []Job{{ID: "J1", Location: at0(1)}, {ID: "J2", Demand: []float64{20}, Location: at0(2)}},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0), Capacity: []float64{1}}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := BuildReport(ctx, p, &Solution{Unassigned: []string{"J1", "J2"}}, lineTransport{}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rep.Entries, 2)
	for _, e := range rep.Entries {
		assert.Equal(t, NoReasonFound, e.Reasons[0].Code)
		assert.Equal(t, "unknown", e.Reasons[0].Description)
	}
	assert.True(t, rep.Stats.Interrupted)
	assert.Equal(t, 2, rep.Stats.ByCode[NoReasonFound])
}

func TestReport_FeasibleVehicleNeedsSearchEvidence(t *testing.T) {
	p := &Problem{
		Jobs:     []Job{{ID: "J", Location: at0(1)}},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0)}},
	}
	s := &Solution{
		Unassigned: []string{"J"},
		Attempts: map[string][]ViolationRecord{
			"J": {{Code: CapacityConstraint, Evidence: violated(3), VehicleID: "V1", Position: 0}},
		},
	}
	rep, err := BuildReport(context.Background(), p, s, lineTransport{}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, CapacityConstraint, reasonOf(t, rep, "J"))

	opts := DefaultOptions()
	opts.UseSearchEvidence = false
	rep, err = BuildReport(context.Background(), p, s, lineTransport{}, opts)
	require.NoError(t, err)
	assert.Equal(t, NoReasonFound, reasonOf(t, rep, "J"))
}

func TestReport_SingleVehicleReasons(t *testing.T) {
	noBreak := false
	cases := []struct {
		name    string
		job     Job
		vehicle Vehicle
		want    Code
	}{
		{
			name: "break",
			job:  Job{ID: "J", Location: at0(1), BreakEligible: &noBreak, TimeWindows: []TimeWindow{{Start: 120, End: 130}}},
			vehicle: Vehicle{ID: "V", Start: at0(0), Shift: TimeWindow{Start: 0, End: 10000},
				Breaks: []Break{{Window: TimeWindow{Start: 100, End: 200}, DurationSec: 50}}},
			want: BreakConstraint,
		},
		{
			name: "dispatch",
			job:  Job{ID: "J", Location: at0(6)},
			vehicle: Vehicle{ID: "V", Start: at0(0),
				Dispatch: &Dispatch{Location: at0(5), Window: TimeWindow{Start: 0, End: 100}}},
			want: DispatchConstraint,
		},
		{
			name:    "max distance",
			job:     Job{ID: "J", Location: at0(1)},
			vehicle: Vehicle{ID: "V", Start: at0(0), MaxDistance: 500},
			want:    MaxDistanceConstraint,
		},
		{
			name:    "shift duration",
			job:     Job{ID: "J", Location: at0(1), ServiceSec: 600},
			vehicle: Vehicle{ID: "V", Start: at0(0), MaxDuration: 300},
			want:    ShiftTimeConstraint,
		},
		{
			name:    "area",
			job:     Job{ID: "J", Location: at0(1)},
			vehicle: Vehicle{ID: "V", Start: at0(0), Areas: []string{"north"}},
			want:    AreaConstraint,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Problem{
				Jobs:     []Job{tc.job},
				Vehicles: []Vehicle{tc.vehicle},
				Areas:    []Area{{ID: "north", Center: &Location{Lat: 10}, RadiusM: 1000}},
			}
			rep, err := BuildReport(context.Background(), p, &Solution{Unassigned: []string{"J"}}, lineTransport{}, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, tc.want, reasonOf(t, rep, "J"))
		})
	}
}

func TestReport_BestEffortAgreesWithExhaustive(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Demand: []float64{6}, Location: at0(1), Priority: 1},
			{ID: "B", Demand: []float64{3}, Location: at0(2), Priority: 2},
			{ID: "J", Demand: []float64{5}, Location: at0(3), Priority: 1},
		},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0), Capacity: []float64{10}}},
	}
	s := &Solution{Routes: []Route{route("V1", "A", "B")}, Unassigned: []string{"J"}}
	ex, err := BuildReport(context.Background(), p, s, lineTransport{}, DefaultOptions())
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Mode = BestEffort
	be, err := BuildReport(context.Background(), p, s, lineTransport{}, opts)
	require.NoError(t, err)
	assert.Equal(t, CapacityConstraint, reasonOf(t, ex, "J"))
	assert.Equal(t, ex.Entries, be.Entries)
}

func TestNewEvaluator_FatalReferences(t *testing.T) {
	p := &Problem{
		Jobs:     []Job{{ID: "A", Location: at0(1)}},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0)}},
	}
	cases := map[string]*Solution{
		"unknown leftover":      {Unassigned: []string{"ghost"}},
		"unknown route vehicle": {Routes: []Route{route("V9", "A")}},
		"unknown route job":     {Routes: []Route{route("V1", "ghost")}},
		"assigned and leftover": {Routes: []Route{route("V1", "A")}, Unassigned: []string{"A"}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewEvaluator(p, s, lineTransport{}, DefaultOptions())
			require.ErrorIs(t, err, ErrInconsistent)
		})
	}

	_, err := NewEvaluator(p, &Solution{}, nil, DefaultOptions())
	require.ErrorIs(t, err, ErrNoTransport)
}

func TestReport_JSONFragment(t *testing.T) {
	p := &Problem{
		Jobs:     []Job{{ID: "J", Skills: []string{"x"}, Location: at0(1)}},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0)}},
	}
	rep, err := BuildReport(context.Background(), p, &Solution{Unassigned: []string{"J"}}, lineTransport{}, DefaultOptions())
	require.NoError(t, err)
	b, err := json.Marshal(rep.Entries)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"jobId":"J","reasons":[{"code":"SKILL_CONSTRAINT","description":"cannot serve required skill"}]}]`, string(b))
}
