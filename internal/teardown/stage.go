package teardown

import (
	"context"
	"time"

	"github.com/openemr-eks/teardown/internal/retry"
)

// Observer receives progress lines from the engine. The CLI backs it with
// the colored console; tests capture it.
type Observer interface {
	Printf(format string, v ...any)
}

// DiscoverFunc re-derives the stage's current working set from the cloud.
// It must return only resources that still need acting on, so an already
// torn-down target yields an empty slice and the stage is skipped with zero
// mutating calls.
type DiscoverFunc func(ctx context.Context) ([]ResourceRef, error)

// ActionFunc mutates or inspects a single target. Errors should be
// classified through the fault package at the provider boundary.
type ActionFunc func(ctx context.Context, ref ResourceRef) error

// BulkActionFunc acts on the whole working set at once, for stages whose
// targets are not independent (the recovery-point forest). It returns the
// targets it could not remove.
type BulkActionFunc func(ctx context.Context, refs []ResourceRef) ([]ResourceRef, error)

// Stage is one step of the teardown plan. Immutable configuration data
// owned by the planner.
//
// The combination of funcs selects the execution shape:
//   - Act + Verify: per-target act/verify/retry/fallback state machine
//   - Verify only: poll Verify until it passes (a wait stage)
//   - BulkAct: delegate the whole set to a composite resolver
//   - none: enumeration-only; anything discovered is residual
type Stage struct {
	Name        string
	Description string

	// DependsOn lists stages that must have ended Succeeded or SkippedEmpty
	// before this stage may act. These are hard ordering edges, not hints.
	DependsOn []string

	Discover DiscoverFunc
	Act      ActionFunc
	// Verify re-reads the target and returns nil only when the
	// postcondition holds (flag cleared, resource absent). A successful
	// mutation call alone is never sufficient evidence.
	Verify ActionFunc
	// Fallback is an alternate removal path tried exactly once after the
	// primary path exhausts its attempts.
	Fallback ActionFunc
	BulkAct  BulkActionFunc

	Policy retry.Policy
	// SharedBudget makes Policy.MaxAttempts a stage-wide budget drawn down
	// across targets instead of a per-target allowance. Wait stages use it
	// so the stage's total wait stays bounded no matter how many targets
	// are in flight; once the budget is spent, each remaining target gets
	// one final check and is recorded residual if it still fails.
	SharedBudget bool
}

// Outcome is the terminal status of a stage execution.
type Outcome string

const (
	// OutcomeSucceeded: re-enumeration confirmed nothing matching remains.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeSkippedEmpty: the stage had no matching targets to begin with.
	OutcomeSkippedEmpty Outcome = "skipped-empty"
	// OutcomeSkippedBlocked: a dependency stage did not succeed, so this
	// stage never acted.
	OutcomeSkippedBlocked Outcome = "skipped-blocked"
	// OutcomePartiallyFailed: some targets were removed, some remain.
	OutcomePartiallyFailed Outcome = "partially-failed"
	// OutcomeFailed: no target was removed, or the stage aborted.
	OutcomeFailed Outcome = "failed"
	// OutcomeDryRun: the stage only enumerated; Residual lists what a real
	// run would remove.
	OutcomeDryRun Outcome = "dry-run"
)

// ok reports whether the outcome unblocks dependent stages.
func (o Outcome) ok() bool {
	return o == OutcomeSucceeded || o == OutcomeSkippedEmpty
}

// StageResult is the immutable record of one stage execution.
type StageResult struct {
	Stage    string
	Outcome  Outcome
	Attempts int
	// Residual lists every matching resource still present when the stage
	// ended.
	Residual []ResourceRef
	// BlockedOn names the failed dependency for OutcomeSkippedBlocked.
	BlockedOn string
	Err       error
	Duration  time.Duration
}

// Run is the caller-visible record of a whole teardown invocation. It is
// mutated only by appending stage results and is read-only afterwards.
type Run struct {
	Target    string
	Region    string
	Forced    bool
	DryRun    bool
	StartedAt time.Time
	EndedAt   time.Time
	// Planned is the number of stages the plan declared; when fewer results
	// were recorded the run was cancelled part way.
	Planned int

	results []StageResult
	byName  map[string]int
}

// NewRun creates the run record at invocation time.
func NewRun(target, region string, forced, dryRun bool, startedAt time.Time) *Run {
	return &Run{
		Target:    target,
		Region:    region,
		Forced:    forced,
		DryRun:    dryRun,
		StartedAt: startedAt,
		byName:    make(map[string]int),
	}
}

// Append records a stage result.
func (r *Run) Append(res StageResult) {
	r.byName[res.Stage] = len(r.results)
	r.results = append(r.results, res)
}

// Results returns the recorded stage results in execution order.
func (r *Run) Results() []StageResult {
	out := make([]StageResult, len(r.results))
	copy(out, r.results)
	return out
}

// Result returns the result of a named stage, if it has run.
func (r *Run) Result(name string) (StageResult, bool) {
	i, ok := r.byName[name]
	if !ok {
		return StageResult{}, false
	}
	return r.results[i], true
}
