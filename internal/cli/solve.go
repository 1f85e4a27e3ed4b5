package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vrpdiag/internal/diag"
	"vrpdiag/internal/model"
	"vrpdiag/internal/opt"
)

type solveOptions struct {
	problem, out, solutionOut string
	budget                    time.Duration
	iterations                int
	seed                      int64
}

func newSolveCmd(ro *rootOptions) *cobra.Command {
	o := &solveOptions{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a problem with the built-in optimizer and diagnose what it leaves out",
		Example: `  vrpdiag solve --problem problem.json --budget 2s --solution-out solution.json
  vrpdiag report --problem problem.json --solution solution.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, ro, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.problem, "problem", "", "problem JSON file")
	f.StringVarP(&o.out, "out", "o", "-", "output file for routes, report and metrics")
	f.StringVar(&o.solutionOut, "solution-out", "", "also write the solution in the report input format")
	f.DurationVar(&o.budget, "budget", 0, "search time budget (0 uses optimize.time_budget_ms)")
	f.IntVar(&o.iterations, "iterations", 0, "iteration limit (0 uses optimize.max_iterations)")
	f.Int64Var(&o.seed, "seed", 0, "random seed (0 picks one)")
	_ = cmd.MarkFlagRequired("problem")
	return cmd
}

func runSolve(cmd *cobra.Command, ro *rootOptions, o *solveOptions) error {
	cfg, err := ro.load()
	if err != nil {
		return err
	}
	var pin model.ProblemIn
	if err := readJSON(o.problem, &pin); err != nil {
		return err
	}
	prob, err := pin.ToDiag()
	if err != nil {
		return err
	}
	tr, err := pin.Transport.Build(cfg.Diag.SpeedKph)
	if err != nil {
		return err
	}
	budget := o.budget
	if budget == 0 {
		budget = time.Duration(cfg.Optimize.TimeBudgetMs) * time.Millisecond
	}
	iters := o.iterations
	if iters == 0 {
		iters = cfg.Optimize.MaxIterations
	}

	res, err := opt.Solve(cmd.Context(), opt.Problem{Diag: prob, Transport: tr, IterationsLimit: iters}, o.seed, budget)
	if err != nil {
		return err
	}
	rep, err := diag.BuildReport(cmd.Context(), prob, &res.Solution, tr, cfg.DiagOptions())
	if err != nil {
		return err
	}
	if ro.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d iterations, cost %.1f, %d unassigned\n",
			res.Metrics.Iterations, res.Cost, len(res.Solution.Unassigned))
	}
	if o.solutionOut != "" {
		if err := writeJSON(cmd.OutOrStdout(), o.solutionOut, solutionIn(res.Solution)); err != nil {
			return err
		}
	}
	return writeJSON(cmd.OutOrStdout(), o.out, model.OptimizeResponse{
		Routes:     model.RoutesOut(res.Solution.Routes),
		Unassigned: rep.Entries,
		Stats:      rep.Stats,
		Metrics:    res.Metrics,
	})
}

func solutionIn(s diag.Solution) model.SolutionIn {
	out := model.SolutionIn{
		Routes:     make([]model.RouteIn, 0, len(s.Routes)),
		Unassigned: append([]string{}, s.Unassigned...),
		Attempts:   model.AttemptsOut(s.Attempts),
	}
	for _, r := range s.Routes {
		ri := model.RouteIn{VehicleID: r.VehicleID, Stops: make([]model.RouteStopIn, len(r.Stops))}
		for i, st := range r.Stops {
			ri.Stops[i] = model.RouteStopIn{JobID: st.JobID}
		}
		out.Routes = append(out.Routes, ri)
	}
	return out
}
