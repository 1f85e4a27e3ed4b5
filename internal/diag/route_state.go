package diag

import (
	"fmt"
	"math"
)

// routeState is the precomputed schedule of one vehicle's tour. It is built once
// and only read afterwards, so checkers can answer per position in constant time.
type routeState struct {
	vehicle *Vehicle
	index   int
	jobs    []*Job
	pos     map[string]int
	shift   TimeWindow
	// err is set when the tour itself has a leg without a path; timing is then unknown.
	err error

	startLoc            Location
	startTime           float64
	end                 *Location
	dispatchLeg         Leg
	dispatchUnreachable bool
	dispatchLate        float64
	// leadWait is the waiting before the first stop; leaving that much later changes nothing.
	leadWait float64

	arrival   []float64
	start     []float64
	departure []float64
	window    []TimeWindow
	// legs[i] leads into stop i, legs[n] into the tour end (zero for open tours).
	legs     []Leg
	distance float64
	endTime  float64
	// latest[i] is the latest arrival at stop i that keeps every later stop on time.
	latest     []float64
	waitSuffix []float64

	loadStart  []float64
	loads      [][]float64
	prefixLoad [][]float64
	suffixLoad [][]float64

	prioPrefixMax []int
	prioSuffixMin []int
	strictSplit   []bool

	baseline  timeline
	breakBase []breakOutcome
}

type breakOutcome struct {
	needed  bool
	overrun float64
}

func (c *catalog) leg(v *Vehicle, from, to Location) (Leg, bool) {
	l, ok := c.transport.Leg(v.Profile, from, to)
	if !ok || l.Distance < 0 || l.Duration < 0 || math.IsNaN(l.Distance) || math.IsNaN(l.Duration) ||
		math.IsInf(l.Distance, 0) || math.IsInf(l.Duration, 0) {
		return Leg{}, false
	}
	return l, true
}

func (c *catalog) newRouteState(v *Vehicle, index int, jobs []*Job) *routeState {
	n := len(jobs)
	st := &routeState{
		vehicle:   v,
		index:     index,
		jobs:      jobs,
		pos:       make(map[string]int, n),
		shift:     v.shift(),
		end:       v.End,
		arrival:   make([]float64, n),
		start:     make([]float64, n),
		departure: make([]float64, n),
		window:    make([]TimeWindow, n),
		legs:      make([]Leg, n+1),
	}
	for i, j := range jobs {
		st.pos[j.ID] = i
	}
	st.startLoc, st.startTime = v.Start, st.shift.Start
	if d := v.Dispatch; d != nil {
		if leg, ok := c.leg(v, v.Start, d.Location); ok {
			w := d.Window
			if w.IsZero() {
				w = anyTime
			}
			arr := st.shift.Start + leg.Duration
			if arr > w.End {
				st.dispatchLate = arr - w.End
			}
			st.dispatchLeg = leg
			st.startLoc = d.Location
			st.startTime = math.Max(arr, w.Start) + d.DurationSec
			st.leadWait = math.Max(0, w.Start-arr)
		} else {
			st.dispatchUnreachable = true
		}
	}

	prevLoc, prevDep := st.startLoc, st.startTime
	for i, j := range jobs {
		leg, ok := c.leg(v, prevLoc, j.Location)
		if !ok && st.err == nil {
			st.err = fmt.Errorf("%w: no path to job %q on route of %q", errNotEvaluable, j.ID, v.ID)
		}
		st.legs[i] = leg
		st.arrival[i] = prevDep + leg.Duration
		windows, _ := validWindows(j)
		var late float64
		st.start[i], st.window[i], late = serviceWindow(st.arrival[i], windows, st.shift.End)
		if late > 0 {
			// the tour is already late here; tolerate it and judge only additional delay
			st.window[i].End = st.start[i]
		}
		st.departure[i] = st.start[i] + j.ServiceSec
		prevLoc, prevDep = j.Location, st.departure[i]
	}
	st.endTime = prevDep
	if n > 0 {
		st.leadWait += st.start[0] - st.arrival[0]
	}
	if st.end != nil {
		leg, ok := c.leg(v, prevLoc, *st.end)
		if !ok && st.err == nil {
			st.err = fmt.Errorf("%w: no path to the end of route of %q", errNotEvaluable, v.ID)
		}
		st.legs[n] = leg
		st.endTime = prevDep + leg.Duration
	}
	st.distance = st.dispatchLeg.Distance
	for _, l := range st.legs {
		st.distance += l.Distance
	}

	st.latest = make([]float64, n+1)
	st.waitSuffix = make([]float64, n+1)
	st.latest[n] = math.Inf(1)
	for i := n - 1; i >= 0; i-- {
		st.latest[i] = math.Min(st.window[i].End, st.latest[i+1]-st.legs[i+1].Duration-jobs[i].ServiceSec)
		st.waitSuffix[i] = st.waitSuffix[i+1] + st.start[i] - st.arrival[i]
	}

	st.buildLoads()
	st.buildPriorities()
	st.strictSplit = c.strictSplits(v, st.pos, n)

	if len(v.Breaks) > 0 {
		st.baseline = newTimeline(st.startTime, jobs, legDurations(st.legs), st.window, st.shift.End)
		st.breakBase = make([]breakOutcome, len(v.Breaks))
		for k, br := range v.Breaks {
			st.breakBase[k].overrun, st.breakBase[k].needed = st.baseline.breakOverrun(br)
		}
	}
	return st
}

func (st *routeState) buildLoads() {
	n := len(st.jobs)
	dims := len(st.vehicle.Capacity)
	for _, j := range st.jobs {
		dims = max(dims, len(j.Demand))
	}
	st.loadStart = make([]float64, dims)
	for _, j := range st.jobs {
		if j.Kind == Delivery {
			for d, q := range j.Demand {
				st.loadStart[d] += q
			}
		}
	}
	st.loads = make([][]float64, n)
	cur := st.loadStart
	for i, j := range st.jobs {
		next := append([]float64(nil), cur...)
		for d, q := range j.Demand {
			if j.Kind == Delivery {
				next[d] -= q
			} else {
				next[d] += q
			}
		}
		st.loads[i] = next
		cur = next
	}
	loadAt := func(k int) []float64 {
		if k < 0 {
			return st.loadStart
		}
		return st.loads[k]
	}
	// prefixLoad[p] covers loads from the tour start up to stop p-1, suffixLoad[p] from stop p-1 to the end.
	st.prefixLoad = make([][]float64, n+1)
	st.suffixLoad = make([][]float64, n+1)
	st.prefixLoad[0] = st.loadStart
	for p := 1; p <= n; p++ {
		st.prefixLoad[p] = maxVec(st.prefixLoad[p-1], st.loads[p-1])
	}
	st.suffixLoad[n] = loadAt(n - 1)
	for p := n - 1; p >= 0; p-- {
		st.suffixLoad[p] = maxVec(st.suffixLoad[p+1], loadAt(p-1))
	}
}

func (st *routeState) buildPriorities() {
	n := len(st.jobs)
	st.prioPrefixMax = make([]int, n+1)
	st.prioSuffixMin = make([]int, n+1)
	for p := 1; p <= n; p++ {
		st.prioPrefixMax[p] = max(st.prioPrefixMax[p-1], st.jobs[p-1].Priority)
	}
	for p := n - 1; p >= 0; p-- {
		st.prioSuffixMin[p] = minPriority(st.prioSuffixMin[p+1], st.jobs[p].Priority)
	}
}

// strictSplits marks positions where an insertion would separate two jobs of a strict relation.
func (c *catalog) strictSplits(v *Vehicle, pos map[string]int, n int) []bool {
	split := make([]bool, n+1)
	for ri := range c.problem.Relations {
		rel := &c.problem.Relations[ri]
		if rel.Type != RelationStrict || rel.VehicleID != v.ID {
			continue
		}
		for k := 0; k+1 < len(rel.JobIDs); k++ {
			a, okA := pos[rel.JobIDs[k]]
			b, okB := pos[rel.JobIDs[k+1]]
			if okA && okB && b == a+1 {
				split[b] = true
			}
		}
	}
	return split
}

// insertion is the effect of placing one job before stop pos of a tour.
type insertion struct {
	pos            int
	toJob, fromJob Leg
	unreachable    bool

	arrival   float64
	start     float64
	departure float64
	window    TimeWindow
	// late is how far service starts past every admissible window.
	late      float64
	windowErr bool
	// downstream is how far the following stop is pushed past its latest arrival.
	downstream float64
	endTime    float64
	leadWait   float64
	distance   float64
}

func (c *catalog) insert(st *routeState, j *Job, p int) insertion {
	n := len(st.jobs)
	in := insertion{pos: p}
	prevLoc, prevDep := st.startLoc, st.startTime
	if p > 0 {
		prevLoc, prevDep = st.jobs[p-1].Location, st.departure[p-1]
	}
	var ok bool
	if in.toJob, ok = c.leg(st.vehicle, prevLoc, j.Location); !ok {
		in.unreachable = true
		return in
	}
	next := st.end
	if p < n {
		next = &st.jobs[p].Location
	}
	if next != nil {
		if in.fromJob, ok = c.leg(st.vehicle, j.Location, *next); !ok {
			in.unreachable = true
			return in
		}
	}

	in.arrival = prevDep + in.toJob.Duration
	windows, malformed := validWindows(j)
	in.windowErr = malformed
	in.start, in.window, in.late = serviceWindow(in.arrival, windows, st.shift.End)
	in.departure = in.start + j.ServiceSec
	in.leadWait = st.leadWait
	if p == 0 {
		in.leadWait -= at(st.start, 0) - at(st.arrival, 0)
		in.leadWait += in.start - in.arrival
	}
	nextArr := in.departure + in.fromJob.Duration
	if p < n {
		in.downstream = math.Max(0, nextArr-st.latest[p])
		delay := nextArr - st.arrival[p]
		in.endTime = st.endTime + math.Max(0, delay-st.waitSuffix[p])
	} else {
		in.endTime = nextArr
	}
	in.distance = st.distance - st.legs[p].Distance + in.toJob.Distance + in.fromJob.Distance
	return in
}

// timelineWith rebuilds the tour timeline with j inserted at in.pos.
func (st *routeState) timelineWith(j *Job, in *insertion) timeline {
	n := len(st.jobs)
	p := in.pos
	jobs := make([]*Job, 0, n+1)
	jobs = append(append(append(jobs, st.jobs[:p]...), j), st.jobs[p:]...)

	windows := make([]TimeWindow, 0, n+1)
	jw := in.window
	if in.late > 0 {
		jw.End = in.start
	}
	windows = append(append(append(windows, st.window[:p]...), jw), st.window[p:]...)

	travel := make([]float64, 0, n+2)
	for i := 0; i < p; i++ {
		travel = append(travel, st.legs[i].Duration)
	}
	travel = append(travel, in.toJob.Duration, in.fromJob.Duration)
	for i := p + 1; i <= n; i++ {
		travel = append(travel, st.legs[i].Duration)
	}
	return newTimeline(st.startTime, jobs, travel, windows, st.shift.End)
}

// timeline is a tour schedule in the shape the break simulation needs.
type timeline struct {
	start float64
	dep   []float64
	// travel[b] leads into visit b, travel[m] into the tour end.
	travel   []float64
	latest   []float64
	eligible []bool
	end      float64
}

func newTimeline(start float64, jobs []*Job, travel []float64, windows []TimeWindow, shiftEnd float64) timeline {
	m := len(jobs)
	tl := timeline{
		start:    start,
		dep:      make([]float64, m),
		travel:   travel,
		latest:   make([]float64, m+1),
		eligible: make([]bool, m),
	}
	t := start
	for i, j := range jobs {
		s := math.Max(t+travel[i], windows[i].Start)
		tl.dep[i] = s + j.ServiceSec
		tl.eligible[i] = j.breakEligible()
		t = tl.dep[i]
	}
	tl.end = t + travel[m]
	tl.latest[m] = shiftEnd
	for i := m - 1; i >= 0; i-- {
		tl.latest[i] = math.Min(windows[i].End, tl.latest[i+1]-travel[i+1]-jobs[i].ServiceSec)
	}
	return tl
}

// breakOverrun returns the smallest amount by which br misses its window or makes the
// following visit late, over every boundary where the break may be taken. needed is
// false when the tour ends before the break window opens.
func (tl *timeline) breakOverrun(br Break) (overrun float64, needed bool) {
	if tl.end <= br.Window.Start {
		return 0, false
	}
	best := math.Inf(1)
	for b := 0; b <= len(tl.dep); b++ {
		t := tl.start
		if b > 0 {
			if !tl.eligible[b-1] {
				continue
			}
			t = tl.dep[b-1]
		}
		s := math.Max(t, br.Window.Start)
		over := math.Max(0, s-br.Window.End) + math.Max(0, s+br.DurationSec+tl.travel[b]-tl.latest[b])
		best = math.Min(best, over)
	}
	return best, true
}

// serviceWindow picks the window giving the earliest service start for an arrival.
// Windows are cut at limit (the shift end). When none admits service, start is the
// one with the least lateness and late is that lateness.
func serviceWindow(arrival float64, windows []TimeWindow, limit float64) (start float64, chosen TimeWindow, late float64) {
	start, late = math.Inf(1), math.Inf(1)
	found := false
	for _, w := range windows {
		end := math.Min(w.End, limit)
		s := math.Max(arrival, w.Start)
		switch {
		case s <= end:
			if !found || s < start {
				start, chosen, late, found = s, TimeWindow{Start: w.Start, End: end}, 0, true
			}
		case !found && s-end < late:
			start, chosen, late = s, TimeWindow{Start: w.Start, End: end}, s-end
		}
	}
	if math.IsInf(start, 1) {
		return arrival, anyTime, 0
	}
	return start, chosen, late
}

// validWindows drops malformed windows; malformed reports whether any were dropped.
func validWindows(j *Job) (windows []TimeWindow, malformed bool) {
	all := j.windows()
	windows = make([]TimeWindow, 0, len(all))
	for _, w := range all {
		if w.Valid() {
			windows = append(windows, w)
		} else {
			malformed = true
		}
	}
	if len(windows) == 0 {
		windows = append(windows, anyTime)
	}
	return windows, malformed
}

func legDurations(legs []Leg) []float64 {
	out := make([]float64, len(legs))
	for i, l := range legs {
		out[i] = l.Duration
	}
	return out
}

func maxVec(a, b []float64) []float64 {
	out := make([]float64, max(len(a), len(b)))
	for i := range out {
		out[i] = math.Max(at(a, i), at(b, i))
	}
	return out
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

// minPriority is the most important of two priorities, 0 meaning none.
func minPriority(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}

// duration is the working time of the tour when the vehicle leaves as late as the
// first stop allows, never before the shift start.
func (st *routeState) duration(endTime, leadWait float64) float64 {
	return endTime - st.shift.Start - leadWait
}
