package aws

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/backup"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Client bundles the per-service clients for one region.
type Client struct {
	region string

	rds    rdsAPI
	s3     s3API
	logs   logsAPI
	trail  trailAPI
	backup backupAPI
	eks    eksAPI
	sts    stsAPI
}

// New resolves credentials from the default chain and builds the service
// clients for the given region.
func New(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return &Client{
		region: region,
		rds:    rds.NewFromConfig(cfg),
		s3:     s3.NewFromConfig(cfg),
		logs:   cloudwatchlogs.NewFromConfig(cfg),
		trail:  cloudtrail.NewFromConfig(cfg),
		backup: backup.NewFromConfig(cfg),
		eks:    eks.NewFromConfig(cfg),
		sts:    sts.NewFromConfig(cfg),
	}, nil
}

// Region returns the region the client acts on.
func (c *Client) Region() string { return c.region }

// Identity is the resolved AWS caller.
type Identity struct {
	Account string
	ARN     string
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// CallerIdentity resolves who the credentials belong to. Used as a preflight
// check so a misconfigured environment fails before anything is enumerated.
func (c *Client) CallerIdentity(ctx context.Context) (Identity, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("resolving caller identity: %w", err)
	}
	return Identity{
		Account: awssdk.ToString(out.Account),
		ARN:     awssdk.ToString(out.Arn),
	}, nil
}

// Database returns the RDS-facing service.
func (c *Client) Database() *DatabaseClient { return &DatabaseClient{api: c.rds} }

// Storage returns the S3-facing service.
func (c *Client) Storage() *StorageClient { return &StorageClient{api: c.s3} }

// Logs returns the CloudWatch-Logs-facing service.
func (c *Client) Logs() *LogClient { return &LogClient{api: c.logs} }

// Trail returns the CloudTrail-facing service.
func (c *Client) Trail() *TrailClient { return &TrailClient{api: c.trail} }

// Backup returns the AWS-Backup-facing service.
func (c *Client) Backup() *BackupClient { return &BackupClient{api: c.backup} }

// RecoveryPoints returns the recovery-point forest client for the target.
func (c *Client) RecoveryPoints(target string) *RecoveryPointClient {
	return &RecoveryPointClient{api: c.backup, target: target}
}

// Cluster returns the EKS-facing service.
func (c *Client) Cluster() *ClusterClient { return &ClusterClient{api: c.eks} }

// matchesTarget reports whether a resource name belongs to the target. The
// provisioning tooling embeds the cluster name in every resource it creates,
// so substring match is the working-set filter.
func matchesTarget(name, target string) bool {
	return target != "" && strings.Contains(name, target)
}
