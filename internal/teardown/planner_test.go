package teardown

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openemr-eks/teardown/internal/config"
	"github.com/openemr-eks/teardown/internal/fault"
)

// fakeCloud is an in-memory provider backing every service interface. Each
// mutating call is appended to trace; list calls are read-only.
type fakeCloud struct {
	protected  map[string]bool
	dbClusters []string
	snapshots  []string
	trails     []string
	logGroups  []string
	jobs       []string
	selections []string
	plans      []string
	vaults     []string
	points     []string
	buckets    []string
	eks        []string
	stackLive  bool
	stateLive  bool

	// stuckProtection keeps the protection flag set no matter how often the
	// disable call is issued.
	stuckProtection bool
	jobSettleAfter  int
	jobPolls        int

	trace []string
}

func populatedCloud(target string) *fakeCloud {
	db := target + "-aurora"
	return &fakeCloud{
		protected:  map[string]bool{db: true},
		dbClusters: []string{db},
		snapshots:  []string{target + "-manual-1"},
		trails:     []string{target + "-audit"},
		logGroups:  []string{"/aws/eks/" + target + "/cluster"},
		selections: []string{"plan-1/sel-1"},
		plans:      []string{"plan-1"},
		vaults:     []string{target + "-vault"},
		points:     []string{"arn:rp-1", "arn:rp-2"},
		buckets:    []string{target + "-documents"},
		eks:        []string{target},
		stackLive:  true,
		stateLive:  true,
	}
}

func (f *fakeCloud) record(format string, args ...any) {
	f.trace = append(f.trace, fmt.Sprintf(format, args...))
}

func refsFor(rt ResourceType, ids []string) []ResourceRef {
	out := make([]ResourceRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, ResourceRef{Type: rt, ID: id})
	}
	return out
}

func drop(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func goneUnless(list []string, id string) error {
	if slices.Contains(list, id) {
		return fault.Newf(fault.KindInvalidState, "%s still present", id)
	}
	return nil
}

func (f *fakeCloud) ListProtectedClusters(_ context.Context, _ string) ([]ResourceRef, error) {
	var ids []string
	for id, on := range f.protected {
		if on {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return refsFor(TypeDBCluster, ids), nil
}

func (f *fakeCloud) DisableDeletionProtection(_ context.Context, id string) error {
	f.record("disable-protection:%s", id)
	if !f.stuckProtection {
		f.protected[id] = false
	}
	return nil
}

func (f *fakeCloud) VerifyProtectionCleared(_ context.Context, id string) error {
	if f.protected[id] {
		return fault.Newf(fault.KindInvalidState, "deletion protection still enabled on %s", id)
	}
	return nil
}

func (f *fakeCloud) ListManualSnapshots(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeDBClusterSnapshot, f.snapshots), nil
}

func (f *fakeCloud) DeleteSnapshot(_ context.Context, id string) error {
	f.record("delete-snapshot:%s", id)
	f.snapshots = drop(f.snapshots, id)
	return nil
}

func (f *fakeCloud) VerifySnapshotGone(_ context.Context, id string) error {
	return goneUnless(f.snapshots, id)
}

func (f *fakeCloud) ListClusters(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeDBCluster, f.dbClusters), nil
}

func (f *fakeCloud) ListBuckets(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeBucket, f.buckets), nil
}

func (f *fakeCloud) DeleteBucket(_ context.Context, name string) error {
	f.record("delete-bucket:%s", name)
	f.buckets = drop(f.buckets, name)
	return nil
}

func (f *fakeCloud) VerifyBucketGone(_ context.Context, name string) error {
	return goneUnless(f.buckets, name)
}

func (f *fakeCloud) ListLogGroups(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeLogGroup, f.logGroups), nil
}

func (f *fakeCloud) DeleteLogGroup(_ context.Context, name string) error {
	f.record("delete-log-group:%s", name)
	f.logGroups = drop(f.logGroups, name)
	return nil
}

func (f *fakeCloud) VerifyLogGroupGone(_ context.Context, name string) error {
	return goneUnless(f.logGroups, name)
}

func (f *fakeCloud) ListTrails(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeTrail, f.trails), nil
}

func (f *fakeCloud) DeleteTrail(_ context.Context, name string) error {
	f.record("delete-trail:%s", name)
	f.trails = drop(f.trails, name)
	return nil
}

func (f *fakeCloud) VerifyTrailGone(_ context.Context, name string) error {
	return goneUnless(f.trails, name)
}

func (f *fakeCloud) ListActiveJobs(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeBackupJob, f.jobs), nil
}

func (f *fakeCloud) VerifyJobSettled(_ context.Context, id string) error {
	f.jobPolls++
	if f.jobPolls < f.jobSettleAfter {
		return fault.Newf(fault.KindInvalidState, "job %s still running", id)
	}
	f.jobs = nil
	return nil
}

func (f *fakeCloud) ListRecoveryPoints(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeRecoveryPoint, f.points), nil
}

func (f *fakeCloud) ListSelections(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeBackupSelection, f.selections), nil
}

func (f *fakeCloud) DeleteSelection(_ context.Context, id string) error {
	f.record("delete-selection:%s", id)
	f.selections = drop(f.selections, id)
	return nil
}

func (f *fakeCloud) VerifySelectionGone(_ context.Context, id string) error {
	return goneUnless(f.selections, id)
}

func (f *fakeCloud) ListPlans(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeBackupPlan, f.plans), nil
}

func (f *fakeCloud) DeletePlan(_ context.Context, id string) error {
	f.record("delete-plan:%s", id)
	f.plans = drop(f.plans, id)
	return nil
}

func (f *fakeCloud) VerifyPlanGone(_ context.Context, id string) error {
	return goneUnless(f.plans, id)
}

func (f *fakeCloud) ListVaults(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeBackupVault, f.vaults), nil
}

func (f *fakeCloud) DeleteVault(_ context.Context, name string) error {
	f.record("delete-vault:%s", name)
	if len(f.points) > 0 {
		return fault.BlockingDependency(fmt.Errorf("vault %s still contains recovery points", name))
	}
	f.vaults = drop(f.vaults, name)
	return nil
}

func (f *fakeCloud) VerifyVaultGone(_ context.Context, name string) error {
	return goneUnless(f.vaults, name)
}

func (f *fakeCloud) Resolve(_ context.Context) ([]ResourceRef, error) {
	f.record("resolve-recovery-points")
	f.points = nil
	return nil, nil
}

// ListEKSClusters feeds the final sweep.
func (f *fakeCloud) ListEKSClusters(_ context.Context, _ string) ([]ResourceRef, error) {
	return refsFor(TypeEKSCluster, f.eks), nil
}

func (f *fakeCloud) Stack(_ context.Context) ([]ResourceRef, error) {
	if !f.stackLive {
		return nil, nil
	}
	return []ResourceRef{{Type: TypeStack, ID: "root"}}, nil
}

func (f *fakeCloud) Destroy(_ context.Context) error {
	f.record("destroy")
	f.stackLive = false
	f.eks = nil
	f.dbClusters = nil
	return nil
}

func (f *fakeCloud) VerifyDestroyed(_ context.Context) error {
	if f.stackLive {
		return fault.Newf(fault.KindInvalidState, "stack still tracks resources")
	}
	return nil
}

func (f *fakeCloud) StateFiles(_ context.Context) ([]ResourceRef, error) {
	if !f.stateLive {
		return nil, nil
	}
	return []ResourceRef{{Type: TypeStateFile, ID: "terraform.tfstate"}}, nil
}

func (f *fakeCloud) RemoveState(_ context.Context) error {
	f.record("remove-state")
	f.stateLive = false
	return nil
}

func (f *fakeCloud) VerifyStateGone(_ context.Context) error {
	if f.stateLive {
		return fault.Newf(fault.KindInvalidState, "state file still present")
	}
	return nil
}

type eksLister struct{ f *fakeCloud }

func (l eksLister) ListClusters(ctx context.Context, target string) ([]ResourceRef, error) {
	return l.f.ListEKSClusters(ctx, target)
}

func servicesFor(f *fakeCloud) Services {
	return Services{
		Database:       f,
		Storage:        f,
		Logs:           f,
		Trail:          f,
		Backup:         f,
		RecoveryPoints: f,
		Cluster:        eksLister{f},
		Infra:          f,
	}
}

func testConfig(target string) *config.Config {
	return &config.Config{
		Region:      "us-west-2",
		ClusterName: target,
		StateDir:    ".",
		Timeouts: &config.Timeouts{
			BackupDrainTimeout:  4 * time.Second,
			BackupPollInterval:  time.Second,
			DisassociateTimeout: time.Second,
			SettleDelay:         time.Second,
			DestroyTimeout:      time.Minute,
			RetryMaxAttempts:    2,
			RetryInitialDelay:   time.Millisecond,
		},
	}
}

func stageNames(p *Plan) []string {
	names := make([]string, 0, len(p.Stages))
	for _, st := range p.Stages {
		names = append(names, st.Name)
	}
	return names
}

func TestBuildPlanIsValid(t *testing.T) {
	cfg := testConfig("openemr-eks")
	p := BuildPlan(cfg, servicesFor(populatedCloud("openemr-eks")))
	require.NoError(t, p.Validate())
	assert.Len(t, p.Stages, 13)

	cfg.PreserveBackups = true
	p = BuildPlan(cfg, servicesFor(populatedCloud("openemr-eks")))
	require.NoError(t, p.Validate())
}

func TestBuildPlanToleratesZeroPollInterval(t *testing.T) {
	cfg := testConfig("openemr-eks")
	cfg.Timeouts.BackupPollInterval = 0

	p := BuildPlan(cfg, servicesFor(populatedCloud("openemr-eks")))
	require.NoError(t, p.Validate())

	for _, st := range p.Stages {
		if st.Name == StageBackupJobDrain {
			assert.GreaterOrEqual(t, st.Policy.MaxAttempts, 1)
		}
	}
}

func TestBuildPlanPreserveBackupsOmitsBackupStages(t *testing.T) {
	cfg := testConfig("openemr-eks")
	cfg.PreserveBackups = true
	p := BuildPlan(cfg, servicesFor(populatedCloud("openemr-eks")))

	names := stageNames(p)
	assert.NotContains(t, names, StageClusterSnapshots)
	assert.NotContains(t, names, StageRecoveryPoints)
	assert.NotContains(t, names, StageBackupVaults)
	assert.Contains(t, names, StageBackupPlans, "plan metadata is removed even when data is preserved")

	for _, st := range p.Stages {
		if st.Name == StageInfraDestroy {
			assert.NotContains(t, st.DependsOn, StageBackupVaults)
		}
	}
}

func TestPlanValidateRejectsDuplicates(t *testing.T) {
	p := &Plan{Stages: []Stage{{Name: "a"}, {Name: "a"}}}
	require.Error(t, p.Validate())
}

func TestRunEmptyEnvironmentIsCleanNoop(t *testing.T) {
	f := &fakeCloud{protected: map[string]bool{}}
	r := newTestRunner()

	run, err := r.Run(context.Background(), BuildPlan(testConfig("gone-already"), servicesFor(f)))
	require.NoError(t, err)

	for _, res := range run.Results() {
		assert.Equal(t, OutcomeSkippedEmpty, res.Outcome, "stage %s", res.Stage)
	}

	rep := Summarize(run)
	assert.True(t, rep.Clean())
	assert.Equal(t, 0, rep.ExitCode())
	assert.Empty(t, f.trace, "re-running against a torn-down target must mutate nothing")
}

func TestRunFullTeardown(t *testing.T) {
	target := "openemr-eks"
	f := populatedCloud(target)
	f.jobs = []string{"job-1"}
	f.jobSettleAfter = 2
	r := newTestRunner()

	run, err := r.Run(context.Background(), BuildPlan(testConfig(target), servicesFor(f)))
	require.NoError(t, err)

	for _, res := range run.Results() {
		assert.True(t, res.Outcome.ok(), "stage %s ended %s: %v", res.Stage, res.Outcome, res.Err)
	}

	rep := Summarize(run)
	assert.True(t, rep.Clean())
	assert.Equal(t, 0, rep.ExitCode())
	assert.Empty(t, rep.Residual())

	// Ordering edges hold on the actual call trace.
	resolveIdx := slices.Index(f.trace, "resolve-recovery-points")
	vaultIdx := slices.Index(f.trace, "delete-vault:"+target+"-vault")
	destroyIdx := slices.Index(f.trace, "destroy")
	stateIdx := slices.Index(f.trace, "remove-state")
	protectIdx := slices.Index(f.trace, "disable-protection:"+target+"-aurora")
	bucketIdx := slices.Index(f.trace, "delete-bucket:"+target+"-documents")

	require.GreaterOrEqual(t, resolveIdx, 0)
	require.GreaterOrEqual(t, vaultIdx, 0)
	require.GreaterOrEqual(t, destroyIdx, 0)
	require.GreaterOrEqual(t, stateIdx, 0)

	assert.Less(t, resolveIdx, vaultIdx, "vault deletion needs an emptied vault")
	assert.Less(t, protectIdx, destroyIdx, "destroy needs deletion protection cleared first")
	assert.Less(t, bucketIdx, destroyIdx, "destroy needs buckets gone first")
	assert.Less(t, vaultIdx, destroyIdx, "destroy needs vaults gone first")
	assert.Less(t, destroyIdx, stateIdx, "state is removed only after a successful destroy")
}

func TestRunSecondInvocationMutatesNothing(t *testing.T) {
	target := "openemr-eks"
	f := populatedCloud(target)
	r := newTestRunner()

	_, err := r.Run(context.Background(), BuildPlan(testConfig(target), servicesFor(f)))
	require.NoError(t, err)

	f.trace = nil
	run, err := r.Run(context.Background(), BuildPlan(testConfig(target), servicesFor(f)))
	require.NoError(t, err)

	rep := Summarize(run)
	assert.True(t, rep.Clean())
	assert.Empty(t, f.trace, "second invocation must be a pure read-only pass")
}

func TestRunStuckProtectionBlocksDestroy(t *testing.T) {
	target := "openemr-eks"
	f := populatedCloud(target)
	f.stuckProtection = true
	r := newTestRunner()

	run, err := r.Run(context.Background(), BuildPlan(testConfig(target), servicesFor(f)))
	require.NoError(t, err)

	guard, _ := run.Result(StageDeletionProtection)
	assert.Equal(t, OutcomeFailed, guard.Outcome)

	destroy, _ := run.Result(StageInfraDestroy)
	assert.Equal(t, OutcomeSkippedBlocked, destroy.Outcome)
	assert.Equal(t, StageDeletionProtection, destroy.BlockedOn)

	state, _ := run.Result(StageStateCleanup)
	assert.Equal(t, OutcomeSkippedBlocked, state.Outcome,
		"state cleanup is transitively blocked by the skipped destroy")

	assert.NotContains(t, f.trace, "destroy",
		"destroy must never be issued while deletion protection reads back enabled")
	assert.NotContains(t, f.trace, "remove-state")

	rep := Summarize(run)
	assert.Equal(t, 1, rep.ExitCode())

	found := false
	for _, ref := range rep.Residual() {
		if ref.ID == target+"-aurora" {
			found = true
		}
	}
	assert.True(t, found, "the stuck cluster must be named in the residual report")

	// Independent stages still ran to completion.
	assert.Contains(t, f.trace, "delete-trail:"+target+"-audit")
	assert.Contains(t, f.trace, "delete-bucket:"+target+"-documents")
}
