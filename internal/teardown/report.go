package teardown

import (
	"github.com/openemr-eks/teardown/internal/ui"
)

// Report aggregates a run's stage results into the caller-visible outcome.
type Report struct {
	run *Run
}

// Summarize builds the report for a finished run.
func Summarize(run *Run) *Report {
	return &Report{run: run}
}

// Complete reports whether every planned stage was recorded; a cancelled
// run is incomplete and never clean.
func (r *Report) Complete() bool {
	return len(r.run.results) >= r.run.Planned
}

// Clean reports whether the teardown left nothing behind: the run finished,
// no stage failed or was blocked, and every residual list is empty.
func (r *Report) Clean() bool {
	if !r.Complete() {
		return false
	}
	for _, res := range r.run.results {
		if len(res.Residual) > 0 {
			return false
		}
		switch res.Outcome {
		case OutcomeFailed, OutcomePartiallyFailed, OutcomeSkippedBlocked:
			return false
		}
	}
	return true
}

// Residual returns every resource still present at the end of the run,
// deduplicated so a resource failing in its own stage and showing up again
// in the final sweep is reported once.
func (r *Report) Residual() []ResourceRef {
	var all []ResourceRef
	for _, res := range r.run.results {
		all = append(all, res.Residual...)
	}
	return dedupeRefs(all)
}

// ExitCode is 0 only for a clean run (or a dry run, which mutates nothing).
func (r *Report) ExitCode() int {
	if r.run.DryRun || r.Clean() {
		return 0
	}
	return 1
}

// Render writes the human-readable report to the console.
func (r *Report) Render(c *ui.Console) {
	c.Headerf("Teardown report for %s (%s)", r.run.Target, r.run.Region)
	c.Dimf("started %s, finished %s",
		r.run.StartedAt.Format("15:04:05"), r.run.EndedAt.Format("15:04:05"))

	for _, res := range r.run.results {
		switch res.Outcome {
		case OutcomeSucceeded:
			c.Successf("  %-26s %s", res.Stage, res.Outcome)
		case OutcomeSkippedEmpty, OutcomeDryRun:
			c.Dimf("  %-26s %s", res.Stage, res.Outcome)
		case OutcomeSkippedBlocked:
			c.Warnf("  %-26s %s (blocked by %s)", res.Stage, res.Outcome, res.BlockedOn)
		default:
			c.Errorf("  %-26s %s: %v", res.Stage, res.Outcome, res.Err)
		}
	}

	if r.run.DryRun {
		would := r.Residual()
		if len(would) == 0 {
			c.Successf("Dry run: nothing to remove.")
			return
		}
		c.Warnf("Dry run: %d resources would be removed:", len(would))
		for _, ref := range would {
			c.Printf("  - %s", ref)
		}
		return
	}

	if !r.Complete() {
		c.Warnf("Run cancelled: %d of %d stages executed.", len(r.run.results), r.run.Planned)
	}

	residual := r.Residual()
	if len(residual) == 0 && r.Clean() {
		c.Successf("Teardown clean: no residual resources.")
		return
	}

	if len(residual) > 0 {
		c.Errorf("%d residual resources remain; finish these manually:", len(residual))
		for _, ref := range residual {
			c.Errorf("  - %s", ref)
		}
	} else {
		c.Errorf("Teardown did not complete cleanly.")
	}
}
