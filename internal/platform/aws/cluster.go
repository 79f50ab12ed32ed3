package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/eks"

	"github.com/openemr-eks/teardown/internal/teardown"
)

type eksAPI interface {
	ListClusters(ctx context.Context, in *eks.ListClustersInput, opts ...func(*eks.Options)) (*eks.ListClustersOutput, error)
}

// ClusterClient enumerates EKS clusters. Their deletion belongs to the bulk
// infrastructure destroy; this client only feeds the final sweep.
type ClusterClient struct {
	api eksAPI
}

// ListClusters returns the target-matching EKS clusters.
func (c *ClusterClient) ListClusters(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	var refs []teardown.ResourceRef
	var token *string
	for {
		out, err := c.api.ListClusters(ctx, &eks.ListClustersInput{NextToken: token})
		if err != nil {
			return nil, Classify(err)
		}
		for _, name := range out.Clusters {
			if matchesTarget(name, target) {
				refs = append(refs, teardown.ResourceRef{Type: teardown.TypeEKSCluster, ID: name})
			}
		}
		if out.NextToken == nil {
			return refs, nil
		}
		token = out.NextToken
	}
}
