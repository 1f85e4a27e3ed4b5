package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"vrpdiag/internal/diag"
	"vrpdiag/internal/model"
)

type reportOptions struct {
	problem, solution, out string
	policy, mode           string
	details, noEvidence    bool
	fragment               bool
	jobs                   []string
	timeout                time.Duration
}

func newReportCmd(ro *rootOptions) *cobra.Command {
	o := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the unassigned report for a problem and its solution",
		Example: `  vrpdiag report --problem problem.json --solution solution.json
  vrpdiag report --problem p.json --solution s.json --policy fleet-order --details --fragment
  vrpdiag report --problem p.json --solution s.json --job j17 --job j42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, ro, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.problem, "problem", "", "problem JSON file")
	f.StringVar(&o.solution, "solution", "", "solution JSON file")
	f.StringVarP(&o.out, "out", "o", "-", "output file")
	f.StringVar(&o.policy, "policy", "", "tie-break policy: nearest-miss or fleet-order")
	f.StringVar(&o.mode, "mode", "", "evaluation mode: exhaustive or best-effort")
	f.BoolVar(&o.details, "details", false, "include vehicle, position and severity of the chosen violation")
	f.BoolVar(&o.noEvidence, "no-evidence", false, "ignore violations recorded by the solver")
	f.BoolVar(&o.fragment, "fragment", false, "print only the unassigned array")
	f.StringSliceVar(&o.jobs, "job", nil, "explain only these unassigned jobs (repeatable)")
	f.DurationVar(&o.timeout, "timeout", 0, "evaluation deadline (0 uses diag.timeout_ms)")
	_ = cmd.MarkFlagRequired("problem")
	_ = cmd.MarkFlagRequired("solution")
	return cmd
}

func runReport(cmd *cobra.Command, ro *rootOptions, o *reportOptions) error {
	cfg, err := ro.load()
	if err != nil {
		return err
	}
	var pin model.ProblemIn
	if err := readJSON(o.problem, &pin); err != nil {
		return err
	}
	var sin model.SolutionIn
	if err := readJSON(o.solution, &sin); err != nil {
		return err
	}
	prob, err := pin.ToDiag()
	if err != nil {
		return err
	}
	sol, err := sin.ToDiag()
	if err != nil {
		return err
	}
	tr, err := pin.Transport.Build(cfg.Diag.SpeedKph)
	if err != nil {
		return err
	}
	overrides := &model.DiagOptions{Mode: o.mode, TieBreak: o.policy}
	if cmd.Flags().Changed("details") {
		overrides.IncludeDetails = &o.details
	}
	if o.noEvidence {
		use := false
		overrides.UseSearchEvidence = &use
	}
	opts, err := overrides.Apply(cfg.DiagOptions())
	if err != nil {
		return err
	}

	timeout := o.timeout
	if timeout == 0 && cfg.Diag.TimeoutMs > 0 {
		timeout = time.Duration(cfg.Diag.TimeoutMs) * time.Millisecond
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e, err := diag.NewEvaluator(prob, sol, tr, opts)
	if err != nil {
		return err
	}
	if len(o.jobs) > 0 {
		return explainJobs(ctx, cmd, e, o)
	}
	rep := e.Report(ctx)
	if ro.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d unassigned jobs, %d vehicles, %dms (mode=%s tie-break=%s)\n",
			len(rep.Entries), rep.Stats.Vehicles, rep.Stats.ElapsedMs, opts.Mode, opts.TieBreak)
	}
	if rep.Stats.Interrupted {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: deadline reached, some jobs are reported as NO_REASON_FOUND")
	}
	if o.fragment {
		return writeJSON(cmd.OutOrStdout(), o.out, rep.Entries)
	}
	return writeJSON(cmd.OutOrStdout(), o.out, rep)
}

// explanation is the resolved reason of one job with its representative evidence.
type explanation struct {
	JobID       string    `json:"jobId"`
	Code        diag.Code `json:"code"`
	Description string    `json:"description"`
	VehicleID   string    `json:"vehicleId,omitempty"`
	Position    *int      `json:"position,omitempty"`
	Severity    *float64  `json:"severity,omitempty"`
}

func explainJobs(ctx context.Context, cmd *cobra.Command, e *diag.Evaluator, o *reportOptions) error {
	leftovers := e.Unassigned()
	out := make([]explanation, 0, len(o.jobs))
	for _, id := range o.jobs {
		if !slices.Contains(leftovers, id) {
			return fmt.Errorf("job %q is not unassigned in the solution", id)
		}
		res, err := e.Resolve(ctx, id)
		if err != nil {
			return fmt.Errorf("explain %s: %w", id, err)
		}
		ex := explanation{JobID: id, Code: res.Code, Description: res.Code.Description()}
		if r := res.Record; r != nil {
			pos, sev := r.Position, r.Evidence.Severity
			ex.VehicleID, ex.Position, ex.Severity = r.VehicleID, &pos, &sev
		}
		out = append(out, ex)
	}
	return writeJSON(cmd.OutOrStdout(), o.out, out)
}
