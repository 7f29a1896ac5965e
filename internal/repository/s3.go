package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Repository. Narrowing
// the dependency to an interface keeps the backend testable with a fake.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, input *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Repository is the object-store-backed Artifact Repository. "/" in a
// repository path maps directly onto the S3 key delimiter, so the same
// 4-level content-address layout used by LocalRepository is also a valid
// S3 key prefix hierarchy.
type S3Repository struct {
	client S3API
	bucket string
	prefix string
}

// S3RepositoryOption configures an S3Repository.
type S3RepositoryOption func(*S3Repository)

// WithS3Client overrides the S3 client, primarily for testing against a
// fake implementing S3API.
func WithS3Client(c S3API) S3RepositoryOption {
	return func(r *S3Repository) { r.client = c }
}

// NewS3Repository returns an S3-backed Repository. When no client is
// supplied via WithS3Client, it loads credentials from the default AWS
// credential chain.
func NewS3Repository(ctx context.Context, bucket, prefix string, opts ...S3RepositoryOption) (*S3Repository, error) {
	if bucket == "" {
		return nil, fmt.Errorf("repository: s3 bucket name required")
	}
	r := &S3Repository{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: load aws config: %w", err)
		}
		r.client = s3.NewFromConfig(cfg)
	}
	return r, nil
}

// Backend implements Repository.
func (r *S3Repository) Backend() string { return "s3" }

func (r *S3Repository) key(path string) string {
	path = strings.TrimLeft(path, "/")
	if r.prefix == "" {
		return path
	}
	return r.prefix + "/" + path
}

// Put implements Repository.
func (r *S3Repository) Put(ctx context.Context, path string, src io.Reader, size int64) error {
	// Buffer in memory: the PutObject API needs a seekable/length-known
	// body for non-multipart uploads, and PDF/TEI artifacts in this
	// domain are small enough (max_bytes is configured in the tens of
	// MB) that a single PutObject call is appropriate; only truly large
	// uploads would need the multipart manager, which spec §4.7 reserves
	// for "above a size threshold" this domain rarely reaches.
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, src); err != nil {
		return fmt.Errorf("repository: buffer %s: %w", path, err)
	}

	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(path)),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("repository: put %s: %w", path, err)
	}
	return nil
}

// Has implements Repository.
func (r *S3Repository) Has(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(path)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("repository: head %s: %w", path, err)
	}
	return true, nil
}

// Get implements Repository.
func (r *S3Repository) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(path)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: get %s: %w", path, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("repository: read body %s: %w", path, err)
	}
	return data, nil
}

// ListPrefix implements Repository.
func (r *S3Repository) ListPrefix(ctx context.Context, prefix string) (<-chan string, <-chan error) {
	paths := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(paths)
		defer close(errs)

		fullPrefix := r.key(prefix)
		var token *string
		for {
			out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(r.bucket),
				Prefix:            aws.String(fullPrefix),
				ContinuationToken: token,
			})
			if err != nil {
				errs <- fmt.Errorf("repository: list prefix %s: %w", prefix, err)
				return
			}
			for _, obj := range out.Contents {
				rel := strings.TrimPrefix(aws.ToString(obj.Key), r.prefix+"/")
				select {
				case paths <- rel:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if !aws.ToBool(out.IsTruncated) {
				return
			}
			token = out.NextContinuationToken
		}
	}()

	return paths, errs
}

// DeletePrefix implements Repository.
func (r *S3Repository) DeletePrefix(ctx context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return fmt.Errorf("repository: refusing to delete empty prefix")
	}

	paths, errs := r.ListPrefix(ctx, prefix)
	var keys []types.ObjectIdentifier
	for p := range paths {
		keys = append(keys, types.ObjectIdentifier{Key: aws.String(r.key(p))})
		if len(keys) == 1000 {
			if err := r.deleteBatch(ctx, keys); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := <-errs; err != nil {
		return err
	}
	if len(keys) > 0 {
		return r.deleteBatch(ctx, keys)
	}
	return nil
}

func (r *S3Repository) deleteBatch(ctx context.Context, keys []types.ObjectIdentifier) error {
	_, err := r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(r.bucket),
		Delete: &types.Delete{Objects: keys},
	})
	if err != nil {
		return fmt.Errorf("repository: delete batch: %w", err)
	}
	return nil
}
