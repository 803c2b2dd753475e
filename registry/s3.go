package registry

import (
	"bytes"
	"context"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YuminosukeSato/featurepipe/core/model"
	"github.com/YuminosukeSato/featurepipe/pkg/errors"
	"github.com/YuminosukeSato/featurepipe/pkg/log"
)

// S3API is the subset of the S3 client used by S3Registry
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Registry keeps bundles under s3://<bucket>/<prefix>/<name>/<version>/bundle.json.zst
type S3Registry struct {
	client S3API
	bucket string
	prefix string
	mu     sync.Mutex
}

// NewS3Registry creates a registry on an existing client
func NewS3Registry(client S3API, bucket, prefix string) (*S3Registry, error) {
	if bucket == "" {
		return nil, errors.NewValidationError("bucket", "is required", bucket)
	}
	return &S3Registry{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// NewS3RegistryFromConfig creates a registry with the default AWS credential
// chain. An empty region falls back to the environment.
func NewS3RegistryFromConfig(ctx context.Context, bucket, prefix, region string) (*S3Registry, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return NewS3Registry(s3.NewFromConfig(cfg), bucket, prefix)
}

func (r *S3Registry) namePrefix(name string) string {
	return path.Join(r.prefix, name) + "/"
}

func (r *S3Registry) key(name string, version int) string {
	return path.Join(r.prefix, name, strconv.Itoa(version), BundleFile)
}

// Save implements Registry.Save
func (r *S3Registry) Save(ctx context.Context, b *Bundle) (int, error) {
	if b == nil {
		return 0, errors.NewValueError("S3Registry.Save", "bundle cannot be nil")
	}
	if err := ValidateName(b.Name); err != nil {
		return 0, err
	}

	// Serializes version assignment within this process only
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.Versions(ctx, b.Name)
	if err != nil {
		return 0, err
	}
	stored, err := prepare(b, existing)
	if err != nil {
		return 0, err
	}
	data, err := model.Marshal(stored)
	if err != nil {
		return 0, err
	}

	key := r.key(stored.Name, stored.Version)
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(r.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to upload s3://%s/%s", r.bucket, key)
	}

	log.GetLoggerWithName("registry.s3").Info("Bundle saved",
		log.OperationKey, log.OperationSave,
		log.ArtifactNameKey, stored.Name,
		log.ArtifactVersionKey, stored.Version,
		log.BackendKey, "s3",
		"s3.key", key,
	)
	return b.commit(stored), nil
}

// Get implements Registry.Get
func (r *S3Registry) Get(ctx context.Context, name string, version int) (*Bundle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if version == 0 {
		return r.Latest(ctx, name)
	}

	key := r.key(name, version)
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errors.NewArtifactNotFoundError(name, version)
		}
		return nil, errors.Wrapf(err, "failed to download s3://%s/%s", r.bucket, key)
	}
	defer out.Body.Close()

	var b Bundle
	if err := model.LoadModelFromReader(&b, out.Body); err != nil {
		return nil, errors.Wrapf(err, "failed to decode s3://%s/%s", r.bucket, key)
	}
	return &b, nil
}

// Latest implements Registry.Latest
func (r *S3Registry) Latest(ctx context.Context, name string) (*Bundle, error) {
	versions, err := r.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	v, err := latestVersion(name, versions)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, name, v)
}

// Versions implements Registry.Versions
func (r *S3Registry) Versions(ctx context.Context, name string) ([]int, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	prefix := r.namePrefix(name)

	var versions []int
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list s3://%s/%s", r.bucket, prefix)
		}
		for _, obj := range page.Contents {
			// <prefix><version>/bundle.json.zst
			rest := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			dir, file, ok := strings.Cut(rest, "/")
			if !ok || file != BundleFile {
				continue
			}
			if v, err := strconv.Atoi(dir); err == nil && v > 0 {
				versions = append(versions, v)
			}
		}
	}
	return sortedVersions(versions), nil
}

var _ Registry = (*S3Registry)(nil)
