package diag

import "math"

// Resolution is the single reason chosen for an unassigned job.
type Resolution struct {
	Code Code
	// Record is the representative evidence, nil for NO_REASON_FOUND.
	Record *ViolationRecord
}

// Resolve reduces an evaluation to one reason code.
//
// A job unreachable from every evaluated vehicle is REACHABLE_CONSTRAINT outright.
// Otherwise the violated code ranked first in priority order wins, and policy picks
// its representative record. When some vehicle could take the job, only search
// evidence can explain why it was left out; without any, the result is NO_REASON_FOUND.
func Resolve(ev Evaluation, policy TieBreak) Resolution {
	if ev.Vehicles > 0 && ev.UnreachableVehicles == ev.Vehicles {
		return pick(ev, ReachableConstraint, ev.Records, policy)
	}
	candidates := ev.Search
	if len(ev.FeasibleVehicles) == 0 {
		candidates = append(append([]ViolationRecord(nil), ev.Records...), ev.Search...)
	}
	top := NoReasonFound
	for _, r := range candidates {
		if r.Evidence.Satisfied || !r.Code.Valid() || r.Code == NoReasonFound {
			continue
		}
		if top == NoReasonFound || r.Code.Rank() < top.Rank() {
			top = r.Code
		}
	}
	if top == NoReasonFound {
		return Resolution{Code: NoReasonFound}
	}
	return pick(ev, top, candidates, policy)
}

func pick(ev Evaluation, code Code, records []ViolationRecord, policy TieBreak) Resolution {
	var best *ViolationRecord
	for i := range records {
		r := &records[i]
		if r.Code != code || r.Evidence.Satisfied {
			continue
		}
		if best == nil || better(ev, r, best, policy) {
			best = r
		}
	}
	if best == nil {
		return Resolution{Code: code}
	}
	rec := *best
	return Resolution{Code: code, Record: &rec}
}

func better(ev Evaluation, a, b *ViolationRecord, policy TieBreak) bool {
	if policy == NearestMiss && a.Evidence.Severity != b.Evidence.Severity {
		return a.Evidence.Severity < b.Evidence.Severity
	}
	ia, ib := fleetIndex(ev, a.VehicleID), fleetIndex(ev, b.VehicleID)
	if ia != ib {
		return ia < ib
	}
	return a.Position < b.Position
}

func fleetIndex(ev Evaluation, vehicleID string) int {
	if i, ok := ev.order[vehicleID]; ok {
		return i
	}
	return math.MaxInt
}
