package diag

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

type ReasonDetail struct {
	VehicleID string  `json:"vehicleId"`
	Position  int     `json:"position"`
	Severity  float64 `json:"severity"`
}

type Reason struct {
	Code        Code          `json:"code"`
	Description string        `json:"description"`
	Details     *ReasonDetail `json:"details,omitempty"`
}

// Entry is the final reason for one unassigned job.
type Entry struct {
	JobID   string   `json:"jobId"`
	Reasons []Reason `json:"reasons"`
}

type Stats struct {
	Jobs        int          `json:"jobs"`
	Vehicles    int          `json:"vehicles"`
	ElapsedMs   int64        `json:"elapsedMs"`
	Interrupted bool         `json:"interrupted"`
	ByCode      map[Code]int `json:"byCode"`
}

// Report is the unassigned report in problem job order.
type Report struct {
	Entries []Entry `json:"unassigned"`
	Stats   Stats   `json:"stats"`
}

// BuildReport validates the inputs and produces the unassigned report.
func BuildReport(ctx context.Context, p *Problem, s *Solution, t Transport, opts Options) (Report, error) {
	e, err := NewEvaluator(p, s, t, opts)
	if err != nil {
		return Report{}, err
	}
	return e.Report(ctx), nil
}

// Report resolves every leftover job. Jobs are evaluated concurrently and collected
// by index. A job whose evaluation is interrupted or panics gets NO_REASON_FOUND and
// the report is flagged Interrupted; every leftover job always gets an entry.
func (e *Evaluator) Report(ctx context.Context) Report {
	began := time.Now()
	entries := make([]Entry, len(e.leftovers))
	failed := make([]bool, len(e.leftovers))

	var g errgroup.Group
	g.SetLimit(e.opts.workers())
	for i, id := range e.leftovers {
		g.Go(func() error {
			res, err := e.resolveJob(ctx, id)
			if err != nil {
				failed[i] = true
				res = Resolution{Code: NoReasonFound}
			}
			entries[i] = e.entry(id, res)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Entries: entries,
		Stats: Stats{
			Jobs:     len(entries),
			Vehicles: len(e.states),
			ByCode:   map[Code]int{},
		},
	}
	for i, en := range entries {
		rep.Stats.ByCode[en.Reasons[0].Code]++
		if failed[i] {
			rep.Stats.Interrupted = true
		}
	}
	rep.Stats.ElapsedMs = time.Since(began).Milliseconds()
	return rep
}

// Resolve evaluates and resolves a single job.
func (e *Evaluator) Resolve(ctx context.Context, jobID string) (Resolution, error) {
	return e.resolveJob(ctx, jobID)
}

func (e *Evaluator) resolveJob(ctx context.Context, jobID string) (res Resolution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluating job %q: %v", jobID, r)
		}
	}()
	ev, err := e.Evaluate(ctx, jobID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(ev, e.opts.TieBreak), nil
}

func (e *Evaluator) entry(jobID string, res Resolution) Entry {
	reason := Reason{Code: res.Code, Description: res.Code.Description()}
	if e.opts.IncludeDetails && res.Record != nil {
		reason.Details = &ReasonDetail{
			VehicleID: res.Record.VehicleID,
			Position:  res.Record.Position,
			Severity:  res.Record.Evidence.Severity,
		}
	}
	return Entry{JobID: jobID, Reasons: []Reason{reason}}
}
