package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/teardown"
)

// deleteBatchMax is the provider's hard cap on objects per bulk delete call.
const deleteBatchMax = 1000

type s3API interface {
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, opts ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, opts ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, opts ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, opts ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// StorageClient implements bucket removal against S3.
type StorageClient struct {
	api s3API
}

// ListBuckets returns the target-matching buckets.
func (c *StorageClient) ListBuckets(ctx context.Context, target string) ([]teardown.ResourceRef, error) {
	out, err := c.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, Classify(err)
	}
	var refs []teardown.ResourceRef
	for _, b := range out.Buckets {
		name := awssdk.ToString(b.Name)
		if matchesTarget(name, target) {
			refs = append(refs, teardown.ResourceRef{Type: teardown.TypeBucket, ID: name})
		}
	}
	return refs, nil
}

// DeleteBucket empties the bucket and deletes it. Emptying covers object
// versions, delete markers and in-flight multipart uploads; a versioned
// bucket rejects deletion while any of those remain.
func (c *StorageClient) DeleteBucket(ctx context.Context, name string) error {
	if err := c.emptyBucket(ctx, name); err != nil {
		return err
	}
	if err := c.abortMultipartUploads(ctx, name); err != nil {
		return err
	}
	_, err := c.api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: awssdk.String(name)})
	return Classify(err)
}

// VerifyBucketGone returns nil once the bucket no longer answers.
func (c *StorageClient) VerifyBucketGone(ctx context.Context, name string) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: awssdk.String(name)})
	if err != nil {
		cerr := Classify(err)
		if fault.IsNotFound(cerr) {
			return nil
		}
		return cerr
	}
	return fault.Newf(fault.KindInvalidState, "bucket %s still exists", name)
}

// emptyBucket deletes every object version and delete marker, page by page.
func (c *StorageClient) emptyBucket(ctx context.Context, name string) error {
	var keyMarker, versionMarker *string
	for {
		out, err := c.api.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          awssdk.String(name),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			cerr := Classify(err)
			if fault.IsNotFound(cerr) {
				return nil
			}
			return cerr
		}

		batch := make([]s3types.ObjectIdentifier, 0, len(out.Versions)+len(out.DeleteMarkers))
		for _, v := range out.Versions {
			batch = append(batch, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range out.DeleteMarkers {
			batch = append(batch, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		if err := c.deleteBatch(ctx, name, batch); err != nil {
			return err
		}

		if !awssdk.ToBool(out.IsTruncated) {
			return nil
		}
		keyMarker = out.NextKeyMarker
		versionMarker = out.NextVersionIdMarker
	}
}

// deleteBatch issues bulk deletes in chunks the provider accepts.
func (c *StorageClient) deleteBatch(ctx context.Context, name string, ids []s3types.ObjectIdentifier) error {
	for len(ids) > 0 {
		n := min(len(ids), deleteBatchMax)
		chunk := ids[:n]
		ids = ids[n:]

		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: awssdk.String(name),
			Delete: &s3types.Delete{Objects: chunk, Quiet: awssdk.Bool(true)},
		})
		if err != nil {
			return Classify(err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return Classify(fmt.Errorf("deleting %d of %d objects failed, first: %s (%s: %s)",
				len(out.Errors), n, awssdk.ToString(e.Key), awssdk.ToString(e.Code), awssdk.ToString(e.Message)))
		}
	}
	return nil
}

// abortMultipartUploads aborts every in-flight multipart upload; their parts
// are invisible to the version listing but still block bucket deletion.
func (c *StorageClient) abortMultipartUploads(ctx context.Context, name string) error {
	var keyMarker, uploadMarker *string
	for {
		out, err := c.api.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         awssdk.String(name),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadMarker,
		})
		if err != nil {
			cerr := Classify(err)
			if fault.IsNotFound(cerr) {
				return nil
			}
			return cerr
		}

		for _, up := range out.Uploads {
			_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   awssdk.String(name),
				Key:      up.Key,
				UploadId: up.UploadId,
			})
			if err != nil {
				cerr := Classify(err)
				if !fault.IsNotFound(cerr) {
					return cerr
				}
			}
		}

		if !awssdk.ToBool(out.IsTruncated) {
			return nil
		}
		keyMarker = out.NextKeyMarker
		uploadMarker = out.NextUploadIdMarker
	}
}
