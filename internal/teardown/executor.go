package teardown

import (
	"context"
	"errors"
	"fmt"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/util/clock"
)

// Executor drives one stage's targets through the act/verify/retry/fallback
// state machine.
type Executor struct {
	Clock    clock.Clock
	Observer Observer
}

// NewExecutor returns an executor using the given clock and observer.
func NewExecutor(clk clock.Clock, obs Observer) *Executor {
	return &Executor{Clock: clk, Observer: obs}
}

// Execute runs the stage to completion and returns its result. The stage's
// working set is re-derived on entry; success is established by a final
// re-enumeration, never by mutating-call return codes.
func (e *Executor) Execute(ctx context.Context, st Stage) StageResult {
	start := e.Clock.Now()
	res := e.execute(ctx, st)
	res.Duration = e.Clock.Now().Sub(start)
	return res
}

func (e *Executor) execute(ctx context.Context, st Stage) StageResult {
	res := StageResult{Stage: st.Name}

	refs, err := st.Discover(ctx)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("enumerating targets: %w", err)
		return res
	}
	refs = dedupeRefs(refs)

	if len(refs) == 0 {
		res.Outcome = OutcomeSkippedEmpty
		return res
	}

	switch {
	case st.BulkAct != nil:
		e.executeBulk(ctx, st, refs, &res)
	case st.Act == nil && st.Verify == nil:
		// Enumeration-only stage: anything discovered is residual.
		res.Residual = refs
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%d matching resources still present", len(refs))
	default:
		e.executeTargets(ctx, st, refs, &res)
	}
	return res
}

// executeBulk delegates the whole working set to the stage's bulk action
// (the composite resolver path), then re-enumerates to establish truth.
func (e *Executor) executeBulk(ctx context.Context, st Stage, refs []ResourceRef, res *StageResult) {
	residual, err := st.BulkAct(ctx, refs)
	if err != nil {
		res.Err = err
	}

	if left, derr := st.Discover(ctx); derr == nil {
		residual = left
	} else if len(residual) == 0 {
		// Cannot confirm success without re-enumeration.
		residual = refs
		res.Err = errors.Join(res.Err, fmt.Errorf("re-enumerating after bulk action: %w", derr))
	}
	res.Residual = dedupeRefs(residual)
	res.Outcome = outcomeFor(len(refs), len(res.Residual))
}

// executeTargets runs the per-target state machine over the working set.
func (e *Executor) executeTargets(ctx context.Context, st Stage, refs []ResourceRef, res *StageResult) {
	var residual []ResourceRef
	budget := st.Policy.MaxAttempts

	for i, ref := range refs {
		allowed := st.Policy.MaxAttempts
		if st.SharedBudget {
			allowed = budget
		}
		if allowed < 1 {
			allowed = 1
		}
		attempts, err := e.runTarget(ctx, st, ref, allowed)
		budget -= attempts
		if attempts > res.Attempts {
			res.Attempts = attempts
		}
		if err == nil {
			e.Observer.Printf("[%s] %s removed", st.Name, ref)
			continue
		}

		residual = append(residual, ref)
		res.Err = err
		e.Observer.Printf("[%s] %s failed: %v", st.Name, ref, err)

		if abortStage(err) {
			// A permanent error (or cancellation) aborts this stage; the
			// untried targets are residual and independent stages still run.
			residual = append(residual, refs[i+1:]...)
			break
		}
	}

	if len(residual) == 0 {
		left, derr := st.Discover(ctx)
		switch {
		case derr != nil:
			residual = refs
			res.Err = fmt.Errorf("re-enumerating for verification: %w", derr)
		default:
			residual = left
			if len(left) > 0 {
				res.Err = fmt.Errorf("%d resources reappeared on re-enumeration", len(left))
			}
		}
	}

	res.Residual = dedupeRefs(residual)
	res.Outcome = outcomeFor(len(refs), len(res.Residual))
}

// runTarget drives a single target: ACTING, then VERIFYING via provider
// read-back, retrying up to the allowed attempts, with a one-shot fallback
// after the primary path is exhausted. Returns the attempts used.
func (e *Executor) runTarget(ctx context.Context, st Stage, ref ResourceRef, attempts int) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		if st.Act != nil {
			actErr := st.Act(ctx, ref)
			if actErr != nil {
				switch fault.KindOf(actErr) {
				case fault.KindNotFound:
					// Already gone: idempotent success.
					return attempt, nil
				case fault.KindUnsupported:
					// Sub-step not supported for this subtype; the direct
					// path may still have worked, so verify.
				case fault.KindBlockingDependency:
					// Dependent resources still exist. Ordering clears that,
					// repetition does not; fail the target and move on.
					return attempt, actErr
				case fault.KindTransient, fault.KindInvalidState, fault.KindTimeout:
					// Busy: wait for a stable state, then re-act.
					lastErr = actErr
					if attempt < attempts {
						if serr := e.Clock.Sleep(ctx, st.Policy.Backoff.Delay(attempt)); serr != nil {
							return attempt, serr
						}
					}
					continue
				default:
					return attempt, actErr
				}
			}
		}

		verr := st.Verify(ctx, ref)
		if verr == nil || fault.IsNotFound(verr) {
			return attempt, nil
		}
		lastErr = verr
		if attempt < attempts {
			if serr := e.Clock.Sleep(ctx, st.Policy.Backoff.Delay(attempt)); serr != nil {
				return attempt, serr
			}
		}
	}

	if st.Fallback != nil {
		e.Observer.Printf("[%s] %s: primary path exhausted, invoking fallback", st.Name, ref)
		ferr := st.Fallback(ctx, ref)
		if ferr == nil || fault.IsNotFound(ferr) {
			if verr := st.Verify(ctx, ref); verr == nil || fault.IsNotFound(verr) {
				return attempts, nil
			} else {
				lastErr = verr
			}
		} else {
			lastErr = ferr
		}
	}

	if lastErr == nil {
		lastErr = fault.Timeout(fmt.Errorf("postcondition never confirmed"))
	}
	return attempts, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// abortStage reports whether the target error ends the whole stage instead
// of moving on to the next target: permanent (unclassified) errors and
// caller cancellation do; exhausted retries on classified errors do not.
func abortStage(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return fault.KindOf(err) == fault.KindUnknown
}

// outcomeFor maps working-set and residual sizes to a stage outcome.
func outcomeFor(total, residual int) Outcome {
	switch {
	case residual == 0:
		return OutcomeSucceeded
	case residual >= total:
		return OutcomeFailed
	default:
		return OutcomePartiallyFailed
	}
}
