package teardown

import (
	"context"
	"fmt"
	"time"

	"github.com/openemr-eks/teardown/internal/config"
	"github.com/openemr-eks/teardown/internal/retry"
)

// Stage names. Dependency edges refer to these.
const (
	StageDeletionProtection = "rds-deletion-protection"
	StageClusterSnapshots   = "rds-cluster-snapshots"
	StageCloudTrail         = "cloudtrail"
	StageLogGroups          = "log-groups"
	StageBackupJobDrain     = "backup-job-drain"
	StageRecoveryPoints     = "backup-recovery-points"
	StageBackupSelections   = "backup-selections"
	StageBackupPlans        = "backup-plans"
	StageBackupVaults       = "backup-vaults"
	StageStorage            = "storage"
	StageInfraDestroy       = "infrastructure-destroy"
	StageStateCleanup       = "state-cleanup"
	StageFinalSweep         = "final-sweep"
)

// DatabaseService covers the RDS operations the plan needs.
type DatabaseService interface {
	// ListProtectedClusters returns target-matching DB clusters whose
	// deletion-protection flag is still set.
	ListProtectedClusters(ctx context.Context, target string) ([]ResourceRef, error)
	DisableDeletionProtection(ctx context.Context, id string) error
	// VerifyProtectionCleared returns nil only when a read-back shows the
	// flag false or the cluster absent.
	VerifyProtectionCleared(ctx context.Context, id string) error

	ListManualSnapshots(ctx context.Context, target string) ([]ResourceRef, error)
	DeleteSnapshot(ctx context.Context, id string) error
	VerifySnapshotGone(ctx context.Context, id string) error

	// ListClusters enumerates all target-matching DB clusters, protected or
	// not, for the final sweep.
	ListClusters(ctx context.Context, target string) ([]ResourceRef, error)
}

// StorageService covers S3 bucket removal. DeleteBucket is expected to
// empty the bucket first (versions, delete markers, in-flight multipart
// uploads) in provider-bounded batches.
type StorageService interface {
	ListBuckets(ctx context.Context, target string) ([]ResourceRef, error)
	DeleteBucket(ctx context.Context, name string) error
	VerifyBucketGone(ctx context.Context, name string) error
}

// LogService covers CloudWatch log-group removal.
type LogService interface {
	ListLogGroups(ctx context.Context, target string) ([]ResourceRef, error)
	DeleteLogGroup(ctx context.Context, name string) error
	VerifyLogGroupGone(ctx context.Context, name string) error
}

// TrailService covers the audit trail. DeleteTrail stops logging first,
// tolerating subtypes that do not support it.
type TrailService interface {
	ListTrails(ctx context.Context, target string) ([]ResourceRef, error)
	DeleteTrail(ctx context.Context, name string) error
	VerifyTrailGone(ctx context.Context, name string) error
}

// BackupService covers vaults, plans, selections and job draining.
type BackupService interface {
	ListActiveJobs(ctx context.Context, target string) ([]ResourceRef, error)
	// VerifyJobSettled returns nil once the job has reached a terminal state.
	VerifyJobSettled(ctx context.Context, id string) error

	// ListRecoveryPoints enumerates every recovery point in target-matching
	// vaults, composite or not.
	ListRecoveryPoints(ctx context.Context, target string) ([]ResourceRef, error)

	ListSelections(ctx context.Context, target string) ([]ResourceRef, error)
	DeleteSelection(ctx context.Context, id string) error
	VerifySelectionGone(ctx context.Context, id string) error

	ListPlans(ctx context.Context, target string) ([]ResourceRef, error)
	DeletePlan(ctx context.Context, id string) error
	VerifyPlanGone(ctx context.Context, id string) error

	ListVaults(ctx context.Context, target string) ([]ResourceRef, error)
	DeleteVault(ctx context.Context, name string) error
	VerifyVaultGone(ctx context.Context, name string) error
}

// CompositeService resolves the recovery-point forest in an order the
// provider accepts and returns whatever it could not remove.
type CompositeService interface {
	Resolve(ctx context.Context) ([]ResourceRef, error)
}

// ClusterService enumerates compute clusters for the final sweep; their
// deletion itself belongs to the bulk infrastructure-destroy stage.
type ClusterService interface {
	ListClusters(ctx context.Context, target string) ([]ResourceRef, error)
}

// InfraService wraps the infrastructure-as-code tool: the bulk destroy call
// and the local state it owns.
type InfraService interface {
	// Stack returns a single stack ref while the state still tracks
	// resources, and nothing once it is empty.
	Stack(ctx context.Context) ([]ResourceRef, error)
	Destroy(ctx context.Context) error
	VerifyDestroyed(ctx context.Context) error

	StateFiles(ctx context.Context) ([]ResourceRef, error)
	RemoveState(ctx context.Context) error
	VerifyStateGone(ctx context.Context) error
}

// Services bundles every provider-facing collaborator the planner wires
// into stages.
type Services struct {
	Database       DatabaseService
	Storage        StorageService
	Logs           LogService
	Trail          TrailService
	Backup         BackupService
	RecoveryPoints CompositeService
	Cluster        ClusterService
	Infra          InfraService
}

// Plan is the ordered, dependency-annotated stage list for one target.
type Plan struct {
	Target string
	Region string
	Forced bool
	DryRun bool
	Stages []Stage
}

// Validate checks that stage names are unique and every dependency edge
// points at an earlier stage, so declaration order is a valid execution
// order.
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Stages))
	for _, st := range p.Stages {
		if st.Name == "" {
			return fmt.Errorf("plan contains an unnamed stage")
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage %q", st.Name)
		}
		for _, dep := range st.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("stage %q depends on %q which is not declared before it", st.Name, dep)
			}
		}
		seen[st.Name] = true
	}
	return nil
}

// BuildPlan declares the standard teardown stage graph for the configured
// target. When backups are preserved, the snapshot, recovery-point and
// vault stages are omitted and the final sweep ignores backup artifacts.
func BuildPlan(cfg *config.Config, svcs Services) *Plan {
	target := cfg.ClusterName
	tm := cfg.Timeouts

	std := retry.Policy{
		MaxAttempts: tm.RetryMaxAttempts,
		Backoff: retry.Backoff{
			Strategy: retry.Exponential,
			Initial:  tm.RetryInitialDelay,
			Max:      30 * time.Second,
		},
	}

	drainAttempts := 1
	if tm.BackupPollInterval > 0 {
		if n := int(tm.BackupDrainTimeout / tm.BackupPollInterval); n > 1 {
			drainAttempts = n
		}
	}

	p := &Plan{
		Target: target,
		Region: cfg.Region,
		Forced: cfg.Force,
		DryRun: cfg.DryRun,
	}

	p.Stages = append(p.Stages, Stage{
		Name:        StageDeletionProtection,
		Description: "clear deletion protection on database clusters",
		Discover:    discover(svcs.Database.ListProtectedClusters, target),
		Act:         act(svcs.Database.DisableDeletionProtection),
		Verify:      act(svcs.Database.VerifyProtectionCleared),
		Policy:      std,
	})

	if !cfg.PreserveBackups {
		p.Stages = append(p.Stages, Stage{
			Name:        StageClusterSnapshots,
			Description: "delete manual database cluster snapshots",
			Discover:    discover(svcs.Database.ListManualSnapshots, target),
			Act:         act(svcs.Database.DeleteSnapshot),
			Verify:      act(svcs.Database.VerifySnapshotGone),
			Policy:      std,
		})
	}

	p.Stages = append(p.Stages,
		Stage{
			Name:        StageCloudTrail,
			Description: "stop and delete the audit trail",
			Discover:    discover(svcs.Trail.ListTrails, target),
			Act:         act(svcs.Trail.DeleteTrail),
			Verify:      act(svcs.Trail.VerifyTrailGone),
			Policy:      std,
		},
		Stage{
			Name:        StageLogGroups,
			Description: "delete log groups",
			Discover:    discover(svcs.Logs.ListLogGroups, target),
			Act:         act(svcs.Logs.DeleteLogGroup),
			Verify:      act(svcs.Logs.VerifyLogGroupGone),
			Policy:      std,
		},
		Stage{
			Name:        StageBackupJobDrain,
			Description: "wait for in-flight backup jobs to finish",
			Discover:    discover(svcs.Backup.ListActiveJobs, target),
			Verify:      act(svcs.Backup.VerifyJobSettled),
			// The drain timeout is the max total wait for the stage, not per
			// job, so the attempt budget is shared across all active jobs.
			Policy:       retry.FixedPolicy(drainAttempts, tm.BackupPollInterval),
			SharedBudget: true,
		},
	)

	if !cfg.PreserveBackups {
		p.Stages = append(p.Stages, Stage{
			Name:        StageRecoveryPoints,
			Description: "delete recovery points, children before composites",
			DependsOn:   []string{StageBackupJobDrain},
			Discover:    discover(svcs.Backup.ListRecoveryPoints, target),
			BulkAct: func(ctx context.Context, _ []ResourceRef) ([]ResourceRef, error) {
				return svcs.RecoveryPoints.Resolve(ctx)
			},
			Policy: std,
		})
	}

	p.Stages = append(p.Stages,
		Stage{
			Name:        StageBackupSelections,
			Description: "delete backup plan selections",
			Discover:    discover(svcs.Backup.ListSelections, target),
			Act:         act(svcs.Backup.DeleteSelection),
			Verify:      act(svcs.Backup.VerifySelectionGone),
			Policy:      std,
		},
		Stage{
			Name:        StageBackupPlans,
			Description: "delete backup plans",
			DependsOn:   []string{StageBackupSelections},
			Discover:    discover(svcs.Backup.ListPlans, target),
			Act:         act(svcs.Backup.DeletePlan),
			Verify:      act(svcs.Backup.VerifyPlanGone),
			Policy:      std,
		},
	)

	if !cfg.PreserveBackups {
		p.Stages = append(p.Stages, Stage{
			Name:        StageBackupVaults,
			Description: "delete emptied backup vaults",
			DependsOn:   []string{StageRecoveryPoints},
			Discover:    discover(svcs.Backup.ListVaults, target),
			Act:         act(svcs.Backup.DeleteVault),
			Verify:      act(svcs.Backup.VerifyVaultGone),
			Policy:      std,
		})
	}

	p.Stages = append(p.Stages, Stage{
		Name:        StageStorage,
		Description: "empty and delete buckets",
		Discover:    discover(svcs.Storage.ListBuckets, target),
		Act:         act(svcs.Storage.DeleteBucket),
		Verify:      act(svcs.Storage.VerifyBucketGone),
		Policy:      std,
	})

	destroyDeps := []string{StageDeletionProtection, StageStorage}
	if !cfg.PreserveBackups {
		destroyDeps = append(destroyDeps, StageBackupVaults)
	}
	p.Stages = append(p.Stages,
		Stage{
			Name:        StageInfraDestroy,
			Description: "destroy remaining infrastructure",
			DependsOn:   destroyDeps,
			Discover:    func(ctx context.Context) ([]ResourceRef, error) { return svcs.Infra.Stack(ctx) },
			Act:         func(ctx context.Context, _ ResourceRef) error { return svcs.Infra.Destroy(ctx) },
			Verify:      func(ctx context.Context, _ ResourceRef) error { return svcs.Infra.VerifyDestroyed(ctx) },
			Policy:      retry.FixedPolicy(2, tm.SettleDelay),
		},
		Stage{
			Name:        StageStateCleanup,
			Description: "remove local state after successful destroy",
			DependsOn:   []string{StageInfraDestroy},
			Discover:    func(ctx context.Context) ([]ResourceRef, error) { return svcs.Infra.StateFiles(ctx) },
			Act:         func(ctx context.Context, _ ResourceRef) error { return svcs.Infra.RemoveState(ctx) },
			Verify:      func(ctx context.Context, _ ResourceRef) error { return svcs.Infra.VerifyStateGone(ctx) },
			Policy:      retry.FixedPolicy(1, 0),
		},
		Stage{
			Name:        StageFinalSweep,
			Description: "re-enumerate everything; anything left is residual",
			Discover:    sweepDiscover(svcs, target, cfg.PreserveBackups),
		},
	)

	return p
}

// sweepDiscover aggregates every enumeration the plan knows about. Backup
// artifacts are excluded when the run preserves them.
func sweepDiscover(svcs Services, target string, preserveBackups bool) DiscoverFunc {
	return func(ctx context.Context) ([]ResourceRef, error) {
		lists := []func(context.Context, string) ([]ResourceRef, error){
			svcs.Cluster.ListClusters,
			svcs.Database.ListClusters,
			svcs.Storage.ListBuckets,
			svcs.Logs.ListLogGroups,
			svcs.Trail.ListTrails,
		}
		if !preserveBackups {
			lists = append(lists,
				svcs.Backup.ListVaults,
				svcs.Backup.ListRecoveryPoints,
			)
		}

		var all []ResourceRef
		for _, list := range lists {
			refs, err := list(ctx, target)
			if err != nil {
				return nil, err
			}
			all = append(all, refs...)
		}
		return dedupeRefs(all), nil
	}
}

// discover adapts a target-filtered list method into a DiscoverFunc.
func discover(list func(context.Context, string) ([]ResourceRef, error), target string) DiscoverFunc {
	return func(ctx context.Context) ([]ResourceRef, error) {
		return list(ctx, target)
	}
}

// act adapts an ID-keyed provider method into an ActionFunc.
func act(op func(context.Context, string) error) ActionFunc {
	return func(ctx context.Context, ref ResourceRef) error {
		return op(ctx, ref.ID)
	}
}
