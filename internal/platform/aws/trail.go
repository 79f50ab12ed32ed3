package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/teardown"
)

type trailAPI interface {
	DescribeTrails(ctx context.Context, in *cloudtrail.DescribeTrailsInput, opts ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error)
	StopLogging(ctx context.Context, in *cloudtrail.StopLoggingInput, opts ...func(*cloudtrail.Options)) (*cloudtrail.StopLoggingOutput, error)
	DeleteTrail(ctx context.Context, in *cloudtrail.DeleteTrailInput, opts ...func(*cloudtrail.Options)) (*cloudtrail.DeleteTrailOutput, error)
}

// TrailClient implements audit-trail removal against CloudTrail.
type TrailClient struct {
	api trailAPI
}

// ListTrails returns the target-matching trails homed in this region.
func (c *TrailClient) ListTrails(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	out, err := c.api.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return nil, Classify(err)
	}
	var refs []teardown.ResourceRef
	for _, tr := range out.TrailList {
		name := awssdk.ToString(tr.Name)
		if matchesTarget(name, target) {
			refs = append(refs, teardown.ResourceRef{Type: teardown.TypeTrail, ID: name})
		}
	}
	return refs, nil
}

// DeleteTrail stops logging, then deletes the trail. Organization and
// shadow trails reject the stop call; that alone does not block deletion.
func (c *TrailClient) DeleteTrail(ctx context.Context, name string) error {
	if _, err := c.api.StopLogging(ctx, &cloudtrail.StopLoggingInput{Name: awssdk.String(name)}); err != nil {
		cerr := Classify(err)
		switch {
		case fault.IsUnsupported(cerr), fault.IsNotFound(cerr), fault.IsInvalidState(cerr):
			// Proceed to deletion.
		default:
			return cerr
		}
	}
	_, err := c.api.DeleteTrail(ctx, &cloudtrail.DeleteTrailInput{Name: awssdk.String(name)})
	return Classify(err)
}

// VerifyTrailGone returns nil once a read-back no longer lists the trail.
func (c *TrailClient) VerifyTrailGone(ctx context.Context, name string) error {
	out, err := c.api.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{
		TrailNameList: []string{name},
	})
	if err != nil {
		return Classify(err)
	}
	if len(out.TrailList) > 0 {
		return fault.Newf(fault.KindInvalidState, "trail %s still present", name)
	}
	return nil
}
