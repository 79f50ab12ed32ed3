package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/teardown"
)

type logsAPI interface {
	DescribeLogGroups(ctx context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	DeleteLogGroup(ctx context.Context, in *cloudwatchlogs.DeleteLogGroupInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteLogGroupOutput, error)
}

// LogClient implements log-group removal against CloudWatch Logs.
type LogClient struct {
	api logsAPI
}

// ListLogGroups returns every log group whose name embeds the target. The
// cluster name sits mid-path in the EKS and application groups, so this
// walks all groups instead of relying on a name prefix.
func (c *LogClient) ListLogGroups(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	var token *string
	for {
		out, err := c.api.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{NextToken: token})
		if err != nil {
			return nil, Classify(err)
		}
		for _, g := range out.LogGroups {
			name := awssdk.ToString(g.LogGroupName)
			if matchesTarget(name, target) {
				refs = append(refs, teardown.ResourceRef{Type: teardown.TypeLogGroup, ID: name})
			}
		}
		if out.NextToken == nil {
			return refs, nil
		}
		token = out.NextToken
	}
}

// DeleteLogGroup removes one log group.
func (c *LogClient) DeleteLogGroup(ctx context.Context, name string) error {
	_, err := c.api.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: awssdk.String(name),
	})
	return Classify(err)
}

// VerifyLogGroupGone returns nil once a prefix read-back no longer sees the
// exact group.
func (c *LogClient) VerifyLogGroupGone(ctx context.Context, name string) error {
	out, err := c.api.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: awssdk.String(name),
	})
	if err != nil {
		return Classify(err)
	}
	for _, g := range out.LogGroups {
		if awssdk.ToString(g.LogGroupName) == name {
			return fault.Newf(fault.KindInvalidState, "log group %s still present", name)
		}
	}
	return nil
}
