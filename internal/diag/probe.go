package diag

import "fmt"

// Probe answers feasibility questions about tours that are still being built,
// with the same checkers the evaluator uses.
type Probe struct {
	cat *catalog
}

func NewProbe(p *Problem, t Transport) (*Probe, error) {
	cat, err := newCatalog(p, t)
	if err != nil {
		return nil, err
	}
	return &Probe{cat: cat}, nil
}

// InsertionResult lists the feasible positions of a job in a tour, or the
// violations that rule it out.
type InsertionResult struct {
	Feasible []Placement
	Records  []ViolationRecord
}

// Insert checks every position of jobID in the tour of vehicleID.
func (pr *Probe) Insert(vehicleID string, tour []string, jobID string) (InsertionResult, error) {
	st, err := pr.state(vehicleID, tour)
	if err != nil {
		return InsertionResult{}, err
	}
	job, ok := pr.cat.job(jobID)
	if !ok {
		return InsertionResult{}, fmt.Errorf("%w %q", ErrUnknownJob, jobID)
	}
	if _, dup := st.pos[jobID]; dup {
		return InsertionResult{}, fmt.Errorf("%w: job %q already on route of %q", ErrInconsistent, jobID, vehicleID)
	}
	res := pr.cat.evaluateVehicle(job, st, Exhaustive)
	out := InsertionResult{Records: res.records()}
	if res.routeOK {
		out.Feasible = res.placements
	}
	return out, nil
}

// Schedule computes the stops of a tour as the checkers see it, plus its distance
// and end time.
func (pr *Probe) Schedule(vehicleID string, tour []string) (Route, float64, error) {
	st, err := pr.state(vehicleID, tour)
	if err != nil {
		return Route{}, 0, err
	}
	if st.err != nil {
		return Route{}, 0, st.err
	}
	r := Route{VehicleID: vehicleID, Stops: make([]Stop, len(st.jobs))}
	dist := st.dispatchLeg.Distance
	for i, j := range st.jobs {
		dist += st.legs[i].Distance
		r.Stops[i] = Stop{
			JobID:     j.ID,
			Arrival:   st.arrival[i],
			Departure: st.departure[i],
			Load:      st.loads[i],
			Distance:  dist,
		}
	}
	return r, st.distance, nil
}

func (pr *Probe) state(vehicleID string, tour []string) (*routeState, error) {
	v, idx, ok := pr.cat.vehicle(vehicleID)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVehicle, vehicleID)
	}
	jobs, err := pr.cat.tour(vehicleID, tour)
	if err != nil {
		return nil, err
	}
	return pr.cat.newRouteState(v, idx, jobs), nil
}
