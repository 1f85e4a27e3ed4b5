package diag

import "math"

// Location is a point in WGS84 degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TimeWindow is a closed interval of seconds.
type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Valid reports whether the window is well formed.
func (w TimeWindow) Valid() bool {
	return !math.IsNaN(w.Start) && !math.IsNaN(w.End) && w.End >= w.Start
}

func (w TimeWindow) IsZero() bool { return w.Start == 0 && w.End == 0 }

// Contains reports whether t lies inside the window.
func (w TimeWindow) Contains(t float64) bool { return t >= w.Start && t <= w.End }

var anyTime = TimeWindow{Start: math.Inf(-1), End: math.Inf(1)}

// JobKind tells where the demand of a job is loaded.
type JobKind int

const (
	// Delivery demand is loaded at the route start and unloaded at the stop.
	Delivery JobKind = iota
	// Pickup demand is loaded at the stop and carried to the route end.
	Pickup
)

type Job struct {
	ID          string
	Kind        JobKind
	Skills      []string
	Demand      []float64
	TimeWindows []TimeWindow
	Location    Location
	ServiceSec  float64
	// Priority orders jobs inside a tour: 1 is served first. 0 leaves the job unordered.
	Priority int
	Areas    []string
	// BreakEligible is nil or true when a vehicle break may start right after this stop.
	BreakEligible *bool
}

func (j *Job) breakEligible() bool { return j.BreakEligible == nil || *j.BreakEligible }

func (j *Job) windows() []TimeWindow {
	if len(j.TimeWindows) == 0 {
		return []TimeWindow{anyTime}
	}
	return j.TimeWindows
}

// RelationType controls how jobs locked to a vehicle are ordered.
type RelationType int

const (
	// RelationAny locks jobs to the vehicle in any order.
	RelationAny RelationType = iota
	// RelationSequence keeps the listed order, other jobs may be in between.
	RelationSequence
	// RelationStrict keeps the listed order with no other jobs in between.
	RelationStrict
)

// Relation locks jobs to one vehicle.
type Relation struct {
	Type      RelationType
	VehicleID string
	JobIDs    []string
}

// Area is an operating area: a polygon, or a circle when Center is set.
type Area struct {
	ID      string
	Polygon []Location
	Center  *Location
	RadiusM float64
}

// Contains reports whether loc lies inside the area.
func (a *Area) Contains(loc Location) bool {
	if a.Center != nil {
		return haversineMeters(a.Center.Lat, a.Center.Lng, loc.Lat, loc.Lng) <= a.RadiusM
	}
	n := len(a.Polygon)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := a.Polygon[i], a.Polygon[j]
		if (pi.Lat > loc.Lat) != (pj.Lat > loc.Lat) &&
			loc.Lng < (pj.Lng-pi.Lng)*(loc.Lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lng {
			inside = !inside
		}
	}
	return inside
}

// Break is a mandatory rest that must start inside Window.
type Break struct {
	Window      TimeWindow
	DurationSec float64
}

// Dispatch is a point the vehicle must load at before serving jobs.
type Dispatch struct {
	Location    Location
	Window      TimeWindow
	DurationSec float64
}

type Vehicle struct {
	ID       string
	Profile  string
	Skills   []string
	Capacity []float64
	Shift    TimeWindow
	Start    Location
	// End is nil for open routes.
	End *Location
	// Zero limits are unlimited.
	MaxDistance float64
	MaxDuration float64
	MaxTourSize int
	Dispatch    *Dispatch
	Breaks      []Break
	Areas       []string
}

func (v *Vehicle) shift() TimeWindow {
	if v.Shift.IsZero() {
		return TimeWindow{Start: 0, End: math.Inf(1)}
	}
	return v.Shift
}

// Problem is the static input of the solver.
type Problem struct {
	Jobs      []Job
	Vehicles  []Vehicle
	Relations []Relation
	Areas     []Area
}

// Stop is one visited job of a route as reported by the solver.
type Stop struct {
	JobID     string    `json:"jobId"`
	Arrival   float64   `json:"arrival"`
	Departure float64   `json:"departure"`
	Load      []float64 `json:"load,omitempty"`
	Distance  float64   `json:"distance"`
}

// Route is the ordered tour of one vehicle.
type Route struct {
	VehicleID string `json:"vehicleId"`
	Stops     []Stop `json:"stops"`
}

// Solution is the final optimizer output the diagnostics pass reads.
type Solution struct {
	Routes     []Route
	Unassigned []string
	// Attempts holds violation evidence the search collected per job, if any.
	Attempts map[string][]ViolationRecord
}

// Evidence is the outcome of one checker for one insertion attempt.
type Evidence struct {
	Satisfied bool    `json:"satisfied"`
	Severity  float64 `json:"severity"`
}

func satisfied() Evidence { return Evidence{Satisfied: true} }

func violated(severity float64) Evidence {
	switch {
	case severity < 0 || math.IsNaN(severity):
		severity = 0
	case math.IsInf(severity, 1):
		severity = math.MaxFloat64
	}
	return Evidence{Severity: severity}
}

// RoutePosition marks records produced by position-independent checkers.
const RoutePosition = -1

// ViolationRecord is one violated dimension for a (job, vehicle) pair.
type ViolationRecord struct {
	Code      Code     `json:"code"`
	Evidence  Evidence `json:"evidence"`
	VehicleID string   `json:"vehicleId"`
	Position  int      `json:"position"`
}
