package teardown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/retry"
	"github.com/openemr-eks/teardown/internal/util/clock"
)

type captureObserver struct{ lines []string }

func (o *captureObserver) Printf(format string, _ ...any) {
	o.lines = append(o.lines, format)
}

func newTestExecutor() (*Executor, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewExecutor(clk, &captureObserver{}), clk
}

func ref(id string) ResourceRef {
	return ResourceRef{Type: TypeLogGroup, ID: id}
}

func fixedStage(name string, attempts int) Stage {
	return Stage{Name: name, Policy: retry.FixedPolicy(attempts, time.Second)}
}

func TestExecuteSkippedEmptyMakesNoMutatingCalls(t *testing.T) {
	ex, _ := newTestExecutor()
	acts := 0

	st := fixedStage("log-groups", 3)
	st.Discover = func(context.Context) ([]ResourceRef, error) { return nil, nil }
	st.Act = func(context.Context, ResourceRef) error { acts++; return nil }
	st.Verify = func(context.Context, ResourceRef) error { return nil }

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeSkippedEmpty, res.Outcome)
	assert.Zero(t, acts)
}

func TestExecuteSuccessRequiresReenumeration(t *testing.T) {
	ex, _ := newTestExecutor()
	discovers := 0

	st := fixedStage("log-groups", 3)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		discovers++
		if discovers == 1 {
			return []ResourceRef{ref("a")}, nil
		}
		return nil, nil
	}
	st.Act = func(context.Context, ResourceRef) error { return nil }
	st.Verify = func(context.Context, ResourceRef) error { return nil }

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 2, discovers, "success must be confirmed by re-enumeration")
}

func TestExecuteResourceReappearingIsNotSuccess(t *testing.T) {
	ex, _ := newTestExecutor()

	st := fixedStage("log-groups", 2)
	// The mutating call reports success and per-target verify passes, but
	// the final enumeration still sees the resource.
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{ref("zombie")}, nil
	}
	st.Act = func(context.Context, ResourceRef) error { return nil }
	st.Verify = func(context.Context, ResourceRef) error { return nil }

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Len(t, res.Residual, 1)
	assert.Equal(t, "zombie", res.Residual[0].ID)
}

func TestExecuteRetriesTransientWithBackoff(t *testing.T) {
	ex, clk := newTestExecutor()
	acts := 0

	st := fixedStage("log-groups", 4)
	gone := false
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		if gone {
			return nil, nil
		}
		return []ResourceRef{ref("a")}, nil
	}
	st.Act = func(context.Context, ResourceRef) error {
		acts++
		if acts < 3 {
			return fault.Transient(errors.New("throttled"))
		}
		gone = true
		return nil
	}
	st.Verify = func(context.Context, ResourceRef) error { return nil }

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 3, acts)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, clk.SleepCount())
}

func TestExecuteNotFoundIsIdempotentSuccess(t *testing.T) {
	ex, _ := newTestExecutor()

	st := fixedStage("log-groups", 3)
	calls := 0
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		calls++
		if calls == 1 {
			return []ResourceRef{ref("a")}, nil
		}
		return nil, nil
	}
	st.Act = func(context.Context, ResourceRef) error {
		return fault.NotFound(errors.New("gone already"))
	}
	st.Verify = func(context.Context, ResourceRef) error {
		t.Fatal("verify should not run after a not-found action")
		return nil
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
}

func TestExecuteUnsupportedSubStepProceedsToVerify(t *testing.T) {
	ex, _ := newTestExecutor()
	verified := false

	st := fixedStage("cloudtrail", 3)
	calls := 0
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		calls++
		if calls == 1 {
			return []ResourceRef{ref("trail")}, nil
		}
		return nil, nil
	}
	st.Act = func(context.Context, ResourceRef) error {
		return fault.Unsupported(errors.New("stop-logging not supported for this trail type"))
	}
	st.Verify = func(context.Context, ResourceRef) error { verified = true; return nil }

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.True(t, verified)
}

func TestExecuteBlockingDependencyFailsWithoutRetry(t *testing.T) {
	ex, clk := newTestExecutor()
	acts := 0

	st := fixedStage("backup-vaults", 4)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{ref("vault")}, nil
	}
	st.Act = func(context.Context, ResourceRef) error {
		acts++
		return fault.BlockingDependency(errors.New("vault still contains recovery points"))
	}
	st.Verify = func(context.Context, ResourceRef) error { return nil }

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, acts, "ordering clears a dependency rejection, repetition does not")
	assert.Zero(t, clk.SleepCount())
	require.Len(t, res.Residual, 1)
}

func TestExecutePermanentErrorAbortsStage(t *testing.T) {
	ex, _ := newTestExecutor()
	var acted []string

	st := fixedStage("storage", 3)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{ref("a"), ref("b"), ref("c")}, nil
	}
	st.Act = func(_ context.Context, r ResourceRef) error {
		acted = append(acted, r.ID)
		if r.ID == "b" {
			return errors.New("access denied") // unclassified: permanent
		}
		return nil
	}
	st.Verify = func(context.Context, ResourceRef) error { return nil }

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomePartiallyFailed, res.Outcome)
	assert.Equal(t, []string{"a", "b"}, acted, "stage must abort on permanent error")

	ids := make([]string, 0, len(res.Residual))
	for _, r := range res.Residual {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestExecuteFallbackRunsOnceAfterExhaustion(t *testing.T) {
	ex, _ := newTestExecutor()
	fallbacks := 0
	gone := false

	st := fixedStage("storage", 2)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		if gone {
			return nil, nil
		}
		return []ResourceRef{ref("stuck")}, nil
	}
	st.Act = func(context.Context, ResourceRef) error {
		return fault.Transient(errors.New("timeout issuing delete"))
	}
	st.Verify = func(context.Context, ResourceRef) error {
		if gone {
			return nil
		}
		return fault.Newf(fault.KindInvalidState, "still present")
	}
	st.Fallback = func(context.Context, ResourceRef) error {
		fallbacks++
		gone = true
		return nil
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 1, fallbacks)
}

func TestExecuteFallbackFailureLeavesSingleResidual(t *testing.T) {
	ex, _ := newTestExecutor()
	fallbacks := 0

	st := fixedStage("storage", 2)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{ref("stuck")}, nil
	}
	st.Act = func(context.Context, ResourceRef) error {
		return fault.Transient(errors.New("primary path hangs"))
	}
	st.Verify = func(context.Context, ResourceRef) error {
		return fault.Newf(fault.KindInvalidState, "still present")
	}
	st.Fallback = func(context.Context, ResourceRef) error {
		fallbacks++
		return errors.New("fallback rejected")
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, fallbacks)
	require.Len(t, res.Residual, 1)
	assert.Equal(t, "stuck", res.Residual[0].ID)
}

func TestExecuteWaitStagePollsVerify(t *testing.T) {
	ex, clk := newTestExecutor()
	polls := 0

	st := fixedStage("backup-job-drain", 5)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		if polls >= 3 {
			return nil, nil
		}
		return []ResourceRef{{Type: TypeBackupJob, ID: "job-1", State: "RUNNING"}}, nil
	}
	st.Verify = func(context.Context, ResourceRef) error {
		polls++
		if polls < 3 {
			return fault.Newf(fault.KindInvalidState, "job still running")
		}
		return nil
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 3, polls)
	assert.Equal(t, 2, clk.SleepCount())
}

func TestExecuteWaitStageTimesOut(t *testing.T) {
	ex, _ := newTestExecutor()

	st := fixedStage("backup-job-drain", 3)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{{Type: TypeBackupJob, ID: "job-1"}}, nil
	}
	st.Verify = func(context.Context, ResourceRef) error {
		return fault.Newf(fault.KindInvalidState, "job still running")
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, res.Residual, 1)
}

func TestExecuteWaitStageSharesAttemptBudget(t *testing.T) {
	ex, clk := newTestExecutor()
	polls := map[string]int{}

	st := fixedStage("backup-job-drain", 4)
	st.SharedBudget = true
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{
			{Type: TypeBackupJob, ID: "job-1"},
			{Type: TypeBackupJob, ID: "job-2"},
			{Type: TypeBackupJob, ID: "job-3"},
		}, nil
	}
	st.Verify = func(_ context.Context, r ResourceRef) error {
		polls[r.ID]++
		return fault.Newf(fault.KindInvalidState, "job %s still running", r.ID)
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 4, polls["job-1"], "the first job may use the whole budget")
	assert.Equal(t, 1, polls["job-2"], "a spent budget leaves one final check per job")
	assert.Equal(t, 1, polls["job-3"])
	assert.Equal(t, 3, clk.SleepCount(), "total waiting is bounded by the stage budget, not per job")
	require.Len(t, res.Residual, 3)
}

func TestExecuteEnumerationOnlyStage(t *testing.T) {
	ex, _ := newTestExecutor()

	st := Stage{Name: StageFinalSweep}
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{ref("leftover")}, nil
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Len(t, res.Residual, 1)
	assert.Equal(t, "leftover", res.Residual[0].ID)
}

func TestExecuteBulkStageTrustsReenumeration(t *testing.T) {
	ex, _ := newTestExecutor()

	lists := 0
	st := Stage{Name: StageRecoveryPoints}
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		lists++
		if lists == 1 {
			return []ResourceRef{
				{Type: TypeRecoveryPoint, ID: "arn:1"},
				{Type: TypeRecoveryPoint, ID: "arn:2"},
			}, nil
		}
		return []ResourceRef{{Type: TypeRecoveryPoint, ID: "arn:2"}}, nil
	}
	st.BulkAct = func(context.Context, []ResourceRef) ([]ResourceRef, error) {
		// The bulk action claims everything was removed.
		return nil, nil
	}

	res := ex.Execute(context.Background(), st)
	assert.Equal(t, OutcomePartiallyFailed, res.Outcome)
	require.Len(t, res.Residual, 1)
	assert.Equal(t, "arn:2", res.Residual[0].ID)
}

func TestExecuteCancellationBetweenAttempts(t *testing.T) {
	ex, _ := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())

	acts := 0
	st := fixedStage("storage", 5)
	st.Discover = func(context.Context) ([]ResourceRef, error) {
		return []ResourceRef{ref("a")}, nil
	}
	st.Act = func(context.Context, ResourceRef) error {
		acts++
		cancel() // abort is requested while the call is in flight
		return fault.Transient(errors.New("throttled"))
	}
	st.Verify = func(context.Context, ResourceRef) error { return nil }

	res := ex.Execute(ctx, st)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, acts, "no further attempt may start after cancellation")
}
