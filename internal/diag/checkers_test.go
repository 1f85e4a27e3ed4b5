package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OneCheckerPerCodeInRankOrder(t *testing.T) {
	reg := Registry()
	require.Len(t, reg, int(numCodes)-1)
	for i, c := range reg {
		assert.Equal(t, i, c.Code().Rank())
	}
}

func TestCapacity_DeliveryAndPickup(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Demand: []float64{6}, Location: at0(1)},
			{ID: "D", Kind: Delivery, Demand: []float64{5}, Location: at0(2)},
			{ID: "P", Kind: Pickup, Demand: []float64{5}, Location: at0(2)},
		},
		Vehicles: []Vehicle{{ID: "V", Start: at0(0), Capacity: []float64{10}}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V", "A")

	for _, pos := range []int{0, 1} {
		ev, err := check(t, cat, st, capacityChecker{}, "D", pos)
		require.NoError(t, err)
		assert.False(t, ev.Satisfied, "delivery rides with A's load at position %d", pos)
		assert.Equal(t, 1.0, ev.Severity)
	}

	ev, err := check(t, cat, st, capacityChecker{}, "P", 0)
	require.NoError(t, err)
	assert.False(t, ev.Satisfied, "pickup before A shares the truck with A's delivery")
	ev, err = check(t, cat, st, capacityChecker{}, "P", 1)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied, "pickup after A's drop fits")
}

func TestCapacity_UnlimitedAndMissingDimensions(t *testing.T) {
	p := &Problem{
		Jobs: []Job{{ID: "J", Demand: []float64{1, 2}, Location: at0(1)}},
		Vehicles: []Vehicle{
			{ID: "free", Start: at0(0)},
			{ID: "one-dim", Start: at0(0), Capacity: []float64{5}},
		},
	}
	cat, st := stateFor(t, p, lineTransport{}, "free")
	ev, err := check(t, cat, st, capacityChecker{}, "J", 0)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied)

	cat, st = stateFor(t, p, lineTransport{}, "one-dim")
	ev, err = check(t, cat, st, capacityChecker{}, "J", 0)
	require.NoError(t, err)
	assert.False(t, ev.Satisfied)
	assert.Equal(t, 2.0, ev.Severity)
}

func TestTimeWindow_DownstreamDelay(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Location: at0(1), TimeWindows: []TimeWindow{{Start: 100, End: 130}}},
			{ID: "J", Location: at0(2)},
		},
		Vehicles: []Vehicle{{ID: "V", Start: at0(0)}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V", "A")
	assert.Equal(t, 130.0, st.latest[0])

	ev, err := check(t, cat, st, timeWindowChecker{}, "J", 0)
	require.NoError(t, err)
	assert.False(t, ev.Satisfied)
	assert.Equal(t, 50.0, ev.Severity, "J first pushes A's arrival to 180")

	ev, err = check(t, cat, st, timeWindowChecker{}, "J", 1)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied)
}

func TestTimeWindow_WaitingAbsorbsDelay(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Location: at0(1), TimeWindows: []TimeWindow{{Start: 1000, End: 1100}}},
			{ID: "J", Location: at0(2)},
		},
		Vehicles: []Vehicle{{ID: "V", Start: at0(0), Shift: TimeWindow{Start: 0, End: 1000}, End: &Location{}}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V", "A")
	ev, err := check(t, cat, st, timeWindowChecker{}, "J", 0)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied)
	ev, err = check(t, cat, st, shiftTimeChecker{}, "J", 0)
	require.NoError(t, err)
	assert.False(t, ev.Satisfied, "tour returns at 1060 which is past the shift end")
	assert.Equal(t, 60.0, ev.Severity)
}

func TestTimeWindow_MultipleWindowsAndMalformed(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "J", Location: at0(1), TimeWindows: []TimeWindow{{Start: 0, End: 10}, {Start: 200, End: 300}}},
			{ID: "bad", Location: at0(1), TimeWindows: []TimeWindow{{Start: 50, End: 10}}},
		},
		Vehicles: []Vehicle{{ID: "V", Start: at0(0)}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V")
	ev, err := check(t, cat, st, timeWindowChecker{}, "J", 0)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied, "the second window admits a 60s arrival after waiting")

	_, err = check(t, cat, st, timeWindowChecker{}, "bad", 0)
	require.ErrorIs(t, err, errNotEvaluable)
}

func TestPriority_Ordering(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Location: at0(1), Priority: 1},
			{ID: "B", Location: at0(2), Priority: 3},
			{ID: "J", Location: at0(3), Priority: 2},
		},
		Vehicles: []Vehicle{{ID: "V", Start: at0(0)}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V", "A", "B")
	want := []bool{false, true, false}
	for pos, ok := range want {
		ev, err := check(t, cat, st, priorityChecker{}, "J", pos)
		require.NoError(t, err)
		assert.Equal(t, ok, ev.Satisfied, "position %d", pos)
		if !ok {
			assert.Equal(t, 1.0, ev.Severity)
		}
	}
}

func TestLocking_Relations(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Location: at0(1)},
			{ID: "B", Location: at0(2)},
			{ID: "C", Location: at0(3)},
			{ID: "J", Location: at0(4)},
			{ID: "K", Location: at0(5)},
		},
		Vehicles: []Vehicle{{ID: "V1", Start: at0(0)}, {ID: "V2", Start: at0(0)}},
		Relations: []Relation{
			{Type: RelationStrict, VehicleID: "V1", JobIDs: []string{"A", "B"}},
			{Type: RelationSequence, VehicleID: "V1", JobIDs: []string{"A", "J", "C"}},
			{Type: RelationAny, VehicleID: "V2", JobIDs: []string{"K"}},
		},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V1", "A", "B", "C")

	// J must sit after A, before C, and not between the strict pair A,B.
	want := []bool{false, false, true, false}
	for pos, ok := range want {
		ev, err := check(t, cat, st, lockingChecker{}, "J", pos)
		require.NoError(t, err)
		assert.Equal(t, ok, ev.Satisfied, "position %d", pos)
	}

	ev, err := check(t, cat, st, lockingChecker{}, "K", 3)
	require.NoError(t, err)
	assert.False(t, ev.Satisfied, "K is locked to V2")
}

func TestArea_MembershipAndGeometry(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "inside", Location: Location{Lat: 0.5, Lng: 0.5}},
			{ID: "declared", Location: Location{Lat: 40, Lng: 40}, Areas: []string{"square"}},
			{ID: "outside", Location: Location{Lat: 40, Lng: 40}},
		},
		Vehicles: []Vehicle{
			{ID: "V", Start: at0(0), Areas: []string{"square"}},
			{ID: "lost", Start: at0(0), Areas: []string{"nowhere"}},
		},
		Areas: []Area{{ID: "square", Polygon: []Location{{0, 0}, {0, 1}, {1, 1}, {1, 0}}}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V")
	for id, ok := range map[string]bool{"inside": true, "declared": true, "outside": false} {
		ev, err := check(t, cat, st, areaChecker{}, id, RoutePosition)
		require.NoError(t, err)
		assert.Equal(t, ok, ev.Satisfied, id)
	}

	cat, st = stateFor(t, p, lineTransport{}, "lost")
	_, err := check(t, cat, st, areaChecker{}, "outside", RoutePosition)
	require.ErrorIs(t, err, errNotEvaluable)
}

func TestBreak_ExistingMissIsNotBlamedOnNewJob(t *testing.T) {
	p := &Problem{
		Jobs: []Job{
			{ID: "A", Location: at0(1), TimeWindows: []TimeWindow{{Start: 500, End: 600}}},
			{ID: "J", Location: at0(1)},
		},
		Vehicles: []Vehicle{{
			ID: "V", Start: at0(0), Shift: TimeWindow{Start: 0, End: 5000},
			Breaks: []Break{{Window: TimeWindow{Start: 0, End: 10}, DurationSec: 5000}},
		}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V", "A")
	require.True(t, st.breakBase[0].needed)
	require.Positive(t, st.breakBase[0].overrun)

	ev, err := check(t, cat, st, breakChecker{}, "J", 1)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied)
}

func TestTourSize_LimitIsInclusive(t *testing.T) {
	p := &Problem{
		Jobs:     []Job{{ID: "A", Location: at0(1)}, {ID: "J", Location: at0(2)}},
		Vehicles: []Vehicle{{ID: "V", Start: at0(0), MaxTourSize: 2}},
	}
	cat, st := stateFor(t, p, lineTransport{}, "V", "A")
	ev, err := check(t, cat, st, tourSizeChecker{}, "J", RoutePosition)
	require.NoError(t, err)
	assert.True(t, ev.Satisfied)
}

func TestSafeEvaluate_RecoversPanics(t *testing.T) {
	_, err := safeEvaluate(capacityChecker{}, &InsertionContext{Job: &Job{}, Vehicle: &Vehicle{Capacity: []float64{1}}})
	require.ErrorIs(t, err, errNotEvaluable)
}
