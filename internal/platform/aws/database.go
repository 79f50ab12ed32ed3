package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/teardown"
)

type rdsAPI interface {
	DescribeDBClusters(ctx context.Context, in *rds.DescribeDBClustersInput, opts ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	ModifyDBCluster(ctx context.Context, in *rds.ModifyDBClusterInput, opts ...func(*rds.Options)) (*rds.ModifyDBClusterOutput, error)
	DescribeDBClusterSnapshots(ctx context.Context, in *rds.DescribeDBClusterSnapshotsInput, opts ...func(*rds.Options)) (*rds.DescribeDBClusterSnapshotsOutput, error)
	DeleteDBClusterSnapshot(ctx context.Context, in *rds.DeleteDBClusterSnapshotInput, opts ...func(*rds.Options)) (*rds.DeleteDBClusterSnapshotOutput, error)
}

// DatabaseClient implements the database operations against RDS.
type DatabaseClient struct {
	api rdsAPI
}

// ListProtectedClusters returns target-matching clusters whose deletion
// protection flag is still enabled.
func (c *DatabaseClient) ListProtectedClusters(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	err := c.eachCluster(ctx, func(id, status string, protected bool) {
		if matchesTarget(id, target) && protected {
			refs = append(refs, teardown.ResourceRef{Type: teardown.TypeDBCluster, ID: id, State: status})
		}
	})
	return refs, err
}

// ListClusters enumerates every target-matching cluster for the final sweep.
func (c *DatabaseClient) ListClusters(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	err := c.eachCluster(ctx, func(id, status string, _ bool) {
		if matchesTarget(id, target) {
			refs = append(refs, teardown.ResourceRef{Type: teardown.TypeDBCluster, ID: id, State: status})
		}
	})
	return refs, err
}

func (c *DatabaseClient) eachCluster(ctx context.Context, fn func(id, status string, protected bool)) error {
	var marker *string
	for {
		out, err := c.api.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{Marker: marker})
		if err != nil {
			return Classify(err)
		}
		for _, cl := range out.DBClusters {
			fn(awssdk.ToString(cl.DBClusterIdentifier),
				awssdk.ToString(cl.Status),
				awssdk.ToBool(cl.DeletionProtection))
		}
		if out.Marker == nil {
			return nil
		}
		marker = out.Marker
	}
}

// DisableDeletionProtection clears the protection flag, applying immediately
// so the change is not queued behind the maintenance window.
func (c *DatabaseClient) DisableDeletionProtection(ctx context.Context, id string) error {
	_, err := c.api.ModifyDBCluster(ctx, &rds.ModifyDBClusterInput{
		DBClusterIdentifier: awssdk.String(id),
		DeletionProtection:  awssdk.Bool(false),
		ApplyImmediately:    awssdk.Bool(true),
	})
	return Classify(err)
}

// VerifyProtectionCleared re-reads the cluster and returns nil only when the
// flag is observed false or the cluster is gone.
func (c *DatabaseClient) VerifyProtectionCleared(ctx context.Context, id string) error {
	out, err := c.api.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: awssdk.String(id),
	})
	if err != nil {
		return Classify(err)
	}
	for _, cl := range out.DBClusters {
		if awssdk.ToBool(cl.DeletionProtection) {
			return fault.Newf(fault.KindInvalidState, "deletion protection still enabled on %s", id)
		}
	}
	return nil
}

// ListManualSnapshots returns target-matching manual cluster snapshots.
// Automated snapshots are excluded: they disappear with their cluster.
func (c *DatabaseClient) ListManualSnapshots(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	var marker *string
	for {
		out, err := c.api.DescribeDBClusterSnapshots(ctx, &rds.DescribeDBClusterSnapshotsInput{
			SnapshotType: awssdk.String("manual"),
			Marker:       marker,
		})
		if err != nil {
			return nil, Classify(err)
		}
		for _, snap := range out.DBClusterSnapshots {
			id := awssdk.ToString(snap.DBClusterSnapshotIdentifier)
			cluster := awssdk.ToString(snap.DBClusterIdentifier)
			if matchesTarget(id, target) || matchesTarget(cluster, target) {
				refs = append(refs, teardown.ResourceRef{
					Type:  teardown.TypeDBClusterSnapshot,
					ID:    id,
					State: awssdk.ToString(snap.Status),
				})
			}
		}
		if out.Marker == nil {
			return refs, nil
		}
		marker = out.Marker
	}
}

// DeleteSnapshot removes one manual cluster snapshot.
func (c *DatabaseClient) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := c.api.DeleteDBClusterSnapshot(ctx, &rds.DeleteDBClusterSnapshotInput{
		DBClusterSnapshotIdentifier: awssdk.String(id),
	})
	return Classify(err)
}

// VerifySnapshotGone returns nil once a read-back no longer sees the snapshot.
func (c *DatabaseClient) VerifySnapshotGone(ctx context.Context, id string) error {
	out, err := c.api.DescribeDBClusterSnapshots(ctx, &rds.DescribeDBClusterSnapshotsInput{
		DBClusterSnapshotIdentifier: awssdk.String(id),
	})
	if err != nil {
		return Classify(err)
	}
	if len(out.DBClusterSnapshots) > 0 {
		return fault.Newf(fault.KindInvalidState, "snapshot %s still present (%s)",
			id, awssdk.ToString(out.DBClusterSnapshots[0].Status))
	}
	return nil
}
