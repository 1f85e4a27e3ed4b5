package diag

import "fmt"

// Code is a reason code from the fixed unassigned-job taxonomy.
type Code int

const (
	NoReasonFound Code = iota
	SkillConstraint
	TimeWindowConstraint
	CapacityConstraint
	ReachableConstraint
	MaxDistanceConstraint
	ShiftTimeConstraint
	BreakConstraint
	LockingConstraint
	PriorityConstraint
	AreaConstraint
	DispatchConstraint
	TourSizeConstraint

	numCodes
)

var codeNames = [numCodes]string{
	NoReasonFound:         "NO_REASON_FOUND",
	SkillConstraint:       "SKILL_CONSTRAINT",
	TimeWindowConstraint:  "TIME_WINDOW_CONSTRAINT",
	CapacityConstraint:    "CAPACITY_CONSTRAINT",
	ReachableConstraint:   "REACHABLE_CONSTRAINT",
	MaxDistanceConstraint: "MAX_DISTANCE_CONSTRAINT",
	ShiftTimeConstraint:   "SHIFT_TIME_CONSTRAINT",
	BreakConstraint:       "BREAK_CONSTRAINT",
	LockingConstraint:     "LOCKING_CONSTRAINT",
	PriorityConstraint:    "PRIORITY_CONSTRAINT",
	AreaConstraint:        "AREA_CONSTRAINT",
	DispatchConstraint:    "DISPATCH_CONSTRAINT",
	TourSizeConstraint:    "TOUR_SIZE_CONSTRAINT",
}

var codeDescriptions = [numCodes]string{
	NoReasonFound:         "unknown",
	SkillConstraint:       "cannot serve required skill",
	TimeWindowConstraint:  "cannot be visited within time window",
	CapacityConstraint:    "does not fit into any vehicle due to capacity",
	ReachableConstraint:   "location unreachable",
	MaxDistanceConstraint: "cannot be assigned due to max distance constraint of vehicle",
	ShiftTimeConstraint:   "cannot be assigned due to shift time constraint of vehicle",
	BreakConstraint:       "break is not assignable",
	LockingConstraint:     "cannot be served due to relation lock",
	PriorityConstraint:    "cannot be served due to priority",
	AreaConstraint:        "cannot be assigned due to area constraint",
	DispatchConstraint:    "cannot be assigned due to vehicle dispatch",
	TourSizeConstraint:    "cannot be assigned due to tour size constraint of vehicle",
}

// priorityOrder is the resolver ranking: the first violated code in this list wins.
// Reordering reasons is a change to this list only.
var priorityOrder = [...]Code{
	SkillConstraint,
	TimeWindowConstraint,
	CapacityConstraint,
	ReachableConstraint,
	MaxDistanceConstraint,
	ShiftTimeConstraint,
	BreakConstraint,
	LockingConstraint,
	PriorityConstraint,
	AreaConstraint,
	DispatchConstraint,
	TourSizeConstraint,
}

var codeRank [numCodes]int

func init() {
	for i := range codeRank {
		codeRank[i] = len(priorityOrder)
	}
	for i, c := range priorityOrder {
		codeRank[c] = i
	}
}

// Codes returns the full taxonomy, NO_REASON_FOUND first, then in resolver priority order.
func Codes() []Code {
	out := make([]Code, 0, len(priorityOrder)+1)
	out = append(out, NoReasonFound)
	return append(out, priorityOrder[:]...)
}

// Valid reports whether c belongs to the taxonomy.
func (c Code) Valid() bool { return c >= NoReasonFound && c < numCodes }

// Rank is the position of c in the resolver order; lower wins. NO_REASON_FOUND and
// unknown codes rank last.
func (c Code) Rank() int {
	if !c.Valid() {
		return len(priorityOrder)
	}
	return codeRank[c]
}

func (c Code) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// Description is the fixed human-readable text for c.
func (c Code) Description() string {
	if !c.Valid() {
		return codeDescriptions[NoReasonFound]
	}
	return codeDescriptions[c]
}

func (c Code) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid reason code %d", int(c))
	}
	return []byte(codeNames[c]), nil
}

func (c *Code) UnmarshalText(b []byte) error {
	parsed, err := ParseCode(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCode maps a taxonomy name such as "SKILL_CONSTRAINT" back to its Code.
func ParseCode(s string) (Code, error) {
	for i, name := range codeNames {
		if name == s {
			return Code(i), nil
		}
	}
	return NoReasonFound, fmt.Errorf("unknown reason code %q", s)
}
