package diag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// lineTransport places locations on the equator and measures them by longitude:
// one unit is 1000 m and 60 s.
type lineTransport struct {
	blocked map[Location]bool
}

func (lt lineTransport) Leg(_ string, from, to Location) (Leg, bool) {
	if lt.blocked[from] || lt.blocked[to] {
		return Leg{}, false
	}
	d := math.Abs(to.Lng - from.Lng)
	return Leg{Distance: d * 1000, Duration: d * 60}, true
}

func at0(x float64) Location { return Location{Lng: x} }

func route(vehicleID string, jobIDs ...string) Route {
	r := Route{VehicleID: vehicleID}
	for _, id := range jobIDs {
		r.Stops = append(r.Stops, Stop{JobID: id})
	}
	return r
}

// stateFor builds the route state of vehicleID serving tour.
func stateFor(t *testing.T, p *Problem, tr Transport, vehicleID string, tour ...string) (*catalog, *routeState) {
	t.Helper()
	cat, err := newCatalog(p, tr)
	require.NoError(t, err)
	v, idx, ok := cat.vehicle(vehicleID)
	require.True(t, ok)
	jobs, err := cat.tour(vehicleID, tour)
	require.NoError(t, err)
	return cat, cat.newRouteState(v, idx, jobs)
}

// check runs one checker at position p (RoutePosition for route scoped checkers).
func check(t *testing.T, cat *catalog, st *routeState, c Checker, jobID string, p int) (Evidence, error) {
	t.Helper()
	job, ok := cat.job(jobID)
	require.True(t, ok)
	ic := &InsertionContext{Job: job, Vehicle: st.vehicle, Position: p, cat: cat, state: st}
	if p != RoutePosition {
		in := cat.insert(st, job, p)
		ic.ins = &in
	}
	return c.Evaluate(ic)
}

func reasonOf(t *testing.T, rep Report, jobID string) Code {
	t.Helper()
	for _, e := range rep.Entries {
		if e.JobID == jobID {
			require.Len(t, e.Reasons, 1)
			return e.Reasons[0].Code
		}
	}
	t.Fatalf("no entry for %s", jobID)
	return NoReasonFound
}
