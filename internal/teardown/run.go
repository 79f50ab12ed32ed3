package teardown

import (
	"context"
	"fmt"
)

// Runner executes a plan stage by stage, strictly in declaration order,
// gating each stage on its dependency edges.
type Runner struct {
	Executor *Executor
	Observer Observer
}

// NewRunner returns a runner around the given executor.
func NewRunner(ex *Executor) *Runner {
	return &Runner{Executor: ex, Observer: ex.Observer}
}

// Run executes every stage of the plan. Stages whose dependencies did not
// end Succeeded or SkippedEmpty are recorded as skipped-blocked and never
// act. Cancellation is honored between stages and between retry attempts,
// never mid-mutating-call.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Run, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	run := NewRun(p.Target, p.Region, p.Forced, p.DryRun, r.Executor.Clock.Now())
	run.Planned = len(p.Stages)

	for _, st := range p.Stages {
		if ctx.Err() != nil {
			// Stop between stages; unexecuted stages stay unrecorded and the
			// report marks the run incomplete.
			break
		}

		if p.DryRun {
			run.Append(r.enumerate(ctx, st))
			continue
		}

		if dep, blocked := blockedBy(run, st); blocked {
			r.Observer.Printf("[%s] skipped: blocked by dependency %q", st.Name, dep)
			run.Append(StageResult{Stage: st.Name, Outcome: OutcomeSkippedBlocked, BlockedOn: dep})
			continue
		}

		r.Observer.Printf("[%s] %s", st.Name, st.Description)
		res := r.Executor.Execute(ctx, st)
		run.Append(res)
		r.Observer.Printf("[%s] outcome: %s (%d residual)", st.Name, res.Outcome, len(res.Residual))
	}

	run.EndedAt = r.Executor.Clock.Now()
	return run, nil
}

// enumerate performs the dry-run walk of one stage: list, report, never act.
func (r *Runner) enumerate(ctx context.Context, st Stage) StageResult {
	res := StageResult{Stage: st.Name, Outcome: OutcomeDryRun}
	refs, err := st.Discover(ctx)
	if err != nil {
		res.Err = fmt.Errorf("enumerating targets: %w", err)
		return res
	}
	res.Residual = dedupeRefs(refs)
	for _, ref := range res.Residual {
		r.Observer.Printf("[%s] would remove %s", st.Name, ref)
	}
	return res
}

// blockedBy returns the first dependency of st that has not succeeded.
func blockedBy(run *Run, st Stage) (string, bool) {
	for _, dep := range st.DependsOn {
		res, ok := run.Result(dep)
		if !ok || !res.Outcome.ok() {
			return dep, true
		}
	}
	return "", false
}
