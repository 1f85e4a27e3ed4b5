package diag

import (
	"fmt"
	"math"
	"slices"
)

// Scope tells whether a checker depends on the insertion position.
type Scope int

const (
	// RouteScope checkers are evaluated once per vehicle.
	RouteScope Scope = iota
	// ActivityScope checkers are evaluated at every insertion position.
	ActivityScope
)

// InsertionContext is one insertion attempt: a job against a vehicle tour,
// at Position or at RoutePosition for route scoped checkers.
type InsertionContext struct {
	Job      *Job
	Vehicle  *Vehicle
	Position int

	cat   *catalog
	state *routeState
	ins   *insertion
}

func (ic *InsertionContext) timing() error {
	if ic.state.err != nil {
		return ic.state.err
	}
	if ic.ins == nil || ic.ins.unreachable {
		return errNotEvaluable
	}
	return nil
}

// Checker judges one constraint dimension. Implementations must not modify the context.
type Checker interface {
	Code() Code
	Scope() Scope
	Evaluate(ic *InsertionContext) (Evidence, error)
}

type (
	skillChecker       struct{}
	timeWindowChecker  struct{}
	capacityChecker    struct{}
	reachableChecker   struct{}
	maxDistanceChecker struct{}
	shiftTimeChecker   struct{}
	breakChecker       struct{}
	lockingChecker     struct{}
	priorityChecker    struct{}
	areaChecker        struct{}
	dispatchChecker    struct{}
	tourSizeChecker    struct{}
)

// registry holds one checker per reason code, in resolver priority order.
var registry = [...]Checker{
	skillChecker{},
	timeWindowChecker{},
	capacityChecker{},
	reachableChecker{},
	maxDistanceChecker{},
	shiftTimeChecker{},
	breakChecker{},
	lockingChecker{},
	priorityChecker{},
	areaChecker{},
	dispatchChecker{},
	tourSizeChecker{},
}

// Registry returns the checkers in resolver priority order.
func Registry() []Checker { return slices.Clone(registry[:]) }

var routeCheckers, activityCheckers []Checker

func init() {
	for _, c := range registry {
		if c.Code() == ReachableConstraint {
			continue
		}
		if c.Scope() == RouteScope {
			routeCheckers = append(routeCheckers, c)
		} else {
			activityCheckers = append(activityCheckers, c)
		}
	}
}

func (skillChecker) Code() Code   { return SkillConstraint }
func (skillChecker) Scope() Scope { return RouteScope }

func (skillChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	for _, s := range ic.Job.Skills {
		if !slices.Contains(ic.Vehicle.Skills, s) {
			return violated(0), nil
		}
	}
	return satisfied(), nil
}

func (timeWindowChecker) Code() Code   { return TimeWindowConstraint }
func (timeWindowChecker) Scope() Scope { return ActivityScope }

func (timeWindowChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	if err := ic.timing(); err != nil {
		return Evidence{}, err
	}
	if ic.ins.windowErr {
		return Evidence{}, fmt.Errorf("%w: job %q has a malformed time window", errNotEvaluable, ic.Job.ID)
	}
	if over := math.Max(ic.ins.late, ic.ins.downstream); over > 0 {
		return violated(over), nil
	}
	return satisfied(), nil
}

func (capacityChecker) Code() Code   { return CapacityConstraint }
func (capacityChecker) Scope() Scope { return ActivityScope }

func (capacityChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	capacity := ic.Vehicle.Capacity
	if len(capacity) == 0 {
		return satisfied(), nil
	}
	profile := ic.state.prefixLoad[ic.Position]
	if ic.Job.Kind == Pickup {
		profile = ic.state.suffixLoad[ic.Position]
	}
	var over float64
	for d, q := range ic.Job.Demand {
		if q < 0 || math.IsNaN(q) {
			return Evidence{}, fmt.Errorf("%w: job %q has a negative demand", errNotEvaluable, ic.Job.ID)
		}
		if q == 0 {
			continue
		}
		over = math.Max(over, at(profile, d)+q-at(capacity, d))
	}
	if over > 0 {
		return violated(over), nil
	}
	return satisfied(), nil
}

func (reachableChecker) Code() Code   { return ReachableConstraint }
func (reachableChecker) Scope() Scope { return RouteScope }

func (reachableChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	st := ic.state
	if _, ok := ic.cat.leg(ic.Vehicle, st.startLoc, ic.Job.Location); !ok {
		return violated(0), nil
	}
	if st.end != nil {
		if _, ok := ic.cat.leg(ic.Vehicle, ic.Job.Location, *st.end); !ok {
			return violated(0), nil
		}
	}
	return satisfied(), nil
}

func (maxDistanceChecker) Code() Code   { return MaxDistanceConstraint }
func (maxDistanceChecker) Scope() Scope { return ActivityScope }

func (maxDistanceChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	limit := ic.Vehicle.MaxDistance
	if limit <= 0 {
		return satisfied(), nil
	}
	if err := ic.timing(); err != nil {
		return Evidence{}, err
	}
	if over := ic.ins.distance - limit; over > 0 {
		return violated(over), nil
	}
	return satisfied(), nil
}

func (shiftTimeChecker) Code() Code   { return ShiftTimeConstraint }
func (shiftTimeChecker) Scope() Scope { return ActivityScope }

func (shiftTimeChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	if err := ic.timing(); err != nil {
		return Evidence{}, err
	}
	shift := ic.state.shift
	over := ic.ins.endTime - shift.End
	if limit := ic.Vehicle.MaxDuration; limit > 0 {
		over = math.Max(over, ic.state.duration(ic.ins.endTime, ic.ins.leadWait)-limit)
	}
	if over > 0 {
		return violated(over), nil
	}
	return satisfied(), nil
}

func (breakChecker) Code() Code   { return BreakConstraint }
func (breakChecker) Scope() Scope { return ActivityScope }

func (breakChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	breaks := ic.Vehicle.Breaks
	if len(breaks) == 0 {
		return satisfied(), nil
	}
	if err := ic.timing(); err != nil {
		return Evidence{}, err
	}
	tl := ic.state.timelineWith(ic.Job, ic.ins)
	var worst float64
	for k, br := range breaks {
		if !br.Window.Valid() || br.DurationSec < 0 {
			return Evidence{}, fmt.Errorf("%w: vehicle %q has a malformed break", errNotEvaluable, ic.Vehicle.ID)
		}
		over, needed := tl.breakOverrun(br)
		if !needed {
			continue
		}
		// a break the tour already misses only counts for the extra overrun
		if base := ic.state.breakBase[k]; base.needed {
			over -= base.overrun
		}
		worst = math.Max(worst, over)
	}
	if worst > 0 {
		return violated(worst), nil
	}
	return satisfied(), nil
}

func (lockingChecker) Code() Code   { return LockingConstraint }
func (lockingChecker) Scope() Scope { return ActivityScope }

func (lockingChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	p := ic.Position
	st := ic.state
	if st.strictSplit[p] {
		return violated(0), nil
	}
	for _, ref := range ic.cat.relations[ic.Job.ID] {
		rel := ref.rel
		if rel.VehicleID != ic.Vehicle.ID {
			return violated(0), nil
		}
		if rel.Type == RelationAny {
			continue
		}
		for k, id := range rel.JobIDs {
			q, ok := st.pos[id]
			if !ok || k == ref.idx {
				continue
			}
			if (k < ref.idx && q >= p) || (k > ref.idx && q < p) {
				return violated(0), nil
			}
		}
		if rel.Type == RelationStrict {
			if ref.idx > 0 {
				if q, ok := st.pos[rel.JobIDs[ref.idx-1]]; ok && q != p-1 {
					return violated(0), nil
				}
			}
			if ref.idx+1 < len(rel.JobIDs) {
				if q, ok := st.pos[rel.JobIDs[ref.idx+1]]; ok && q != p {
					return violated(0), nil
				}
			}
		}
	}
	return satisfied(), nil
}

func (priorityChecker) Code() Code   { return PriorityConstraint }
func (priorityChecker) Scope() Scope { return ActivityScope }

func (priorityChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	prio := ic.Job.Priority
	if prio < 0 {
		return Evidence{}, fmt.Errorf("%w: job %q has a negative priority", errNotEvaluable, ic.Job.ID)
	}
	if prio == 0 {
		return satisfied(), nil
	}
	var gap int
	if before := ic.state.prioPrefixMax[ic.Position]; before > prio {
		gap = before - prio
	}
	if after := ic.state.prioSuffixMin[ic.Position]; after != 0 && after < prio {
		gap = max(gap, prio-after)
	}
	if gap > 0 {
		return violated(float64(gap)), nil
	}
	return satisfied(), nil
}

func (areaChecker) Code() Code   { return AreaConstraint }
func (areaChecker) Scope() Scope { return RouteScope }

func (areaChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	allowed := ic.Vehicle.Areas
	if len(allowed) == 0 {
		return satisfied(), nil
	}
	known := 0
	for _, id := range allowed {
		if slices.Contains(ic.Job.Areas, id) {
			return satisfied(), nil
		}
		if a, ok := ic.cat.areas[id]; ok {
			known++
			if a.Contains(ic.Job.Location) {
				return satisfied(), nil
			}
		}
	}
	if known == 0 {
		return Evidence{}, fmt.Errorf("%w: vehicle %q references no known area", errNotEvaluable, ic.Vehicle.ID)
	}
	return violated(0), nil
}

func (dispatchChecker) Code() Code   { return DispatchConstraint }
func (dispatchChecker) Scope() Scope { return RouteScope }

func (dispatchChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	d := ic.Vehicle.Dispatch
	if d == nil {
		return satisfied(), nil
	}
	st := ic.state
	if !d.Window.IsZero() && !d.Window.Valid() {
		return Evidence{}, fmt.Errorf("%w: vehicle %q has a malformed dispatch window", errNotEvaluable, ic.Vehicle.ID)
	}
	if st.dispatchUnreachable {
		return violated(0), nil
	}
	if st.dispatchLate > 0 {
		return violated(st.dispatchLate), nil
	}
	leg, ok := ic.cat.leg(ic.Vehicle, d.Location, ic.Job.Location)
	if !ok {
		return violated(0), nil
	}
	earliest := st.startTime + leg.Duration
	windows, _ := validWindows(ic.Job)
	closes := math.Inf(-1)
	for _, w := range windows {
		closes = math.Max(closes, math.Min(w.End, st.shift.End))
	}
	if over := earliest - closes; over > 0 {
		return violated(over), nil
	}
	return satisfied(), nil
}

func (tourSizeChecker) Code() Code   { return TourSizeConstraint }
func (tourSizeChecker) Scope() Scope { return RouteScope }

func (tourSizeChecker) Evaluate(ic *InsertionContext) (Evidence, error) {
	limit := ic.Vehicle.MaxTourSize
	if limit <= 0 {
		return satisfied(), nil
	}
	if over := len(ic.state.jobs) + 1 - limit; over > 0 {
		return violated(float64(over)), nil
	}
	return satisfied(), nil
}

// safeEvaluate runs a checker and turns a panic into "not evaluable".
func safeEvaluate(c Checker, ic *InsertionContext) (ev Evidence, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s checker panicked: %v", errNotEvaluable, c.Code(), r)
		}
	}()
	return c.Evaluate(ic)
}
