package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hypersim/hookengine/pkg/storage"
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Backend implements storage using AWS S3 or S3-compatible services
type S3Backend struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Backend creates a new S3 storage backend
func NewS3Backend() *S3Backend {
	return &S3Backend{}
}

// NewS3BackendWithClient uses client instead of building one in Init.
func NewS3BackendWithClient(client S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Init reads bucket, prefix, region, credentials and an optional custom
// endpoint for S3-compatible stores.
func (s3b *S3Backend) Init(config map[string]any) error {
	bucket, ok := config["bucket"].(string)
	if !ok || bucket == "" {
		return fmt.Errorf("%w: bucket is required for S3 backend", storage.ErrInvalidConfig)
	}
	s3b.bucket = bucket

	if prefix, ok := config["prefix"].(string); ok {
		s3b.prefix = strings.Trim(prefix, "/")
	}

	if err := s3b.initClient(config); err != nil {
		return fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	return nil
}

// initClient initializes the AWS S3 client
func (s3b *S3Backend) initClient(config map[string]any) error {
	ctx := context.Background()

	region, ok := config["region"].(string)
	if !ok || region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile, ok := config["profile"].(string); ok && profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	} else if accessKey, ok := config["access_key_id"].(string); ok && accessKey != "" {
		secretKey, _ := config["secret_access_key"].(string)
		sessionToken, _ := config["session_token"].(string)
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3b.client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if endpoint, ok := config["endpoint"].(string); ok && endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if usePathStyle, ok := config["use_path_style"].(bool); ok {
			o.UsePathStyle = usePathStyle
		}
	})
	return nil
}

// Save stores data to S3 at the specified key
func (s3b *S3Backend) Save(ctx context.Context, key string, data io.Reader) error {
	if s3b.client == nil {
		return storage.ErrBackendNotReady
	}
	fullKey := s3b.buildKey(key)

	_, err := s3b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3b.bucket),
		Key:         aws.String(fullKey),
		Body:        data,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save object to S3 s3://%s/%s: %w", s3b.bucket, fullKey, err)
	}
	return nil
}

// Load retrieves data from S3 for the given key
func (s3b *S3Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if s3b.client == nil {
		return nil, storage.ErrBackendNotReady
	}
	fullKey := s3b.buildKey(key)

	result, err := s3b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3 s3://%s/%s: %w", s3b.bucket, fullKey, err)
	}
	return result.Body, nil
}

// Delete removes data from S3 for the given key
func (s3b *S3Backend) Delete(ctx context.Context, key string) error {
	exists, err := s3b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrKeyNotFound
	}

	fullKey := s3b.buildKey(key)
	_, err = s3b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3 s3://%s/%s: %w", s3b.bucket, fullKey, err)
	}
	return nil
}

// Exists checks if data exists at the given key in S3
func (s3b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if s3b.client == nil {
		return false, storage.ErrBackendNotReady
	}
	fullKey := s3b.buildKey(key)

	_, err := s3b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence in S3 s3://%s/%s: %w", s3b.bucket, fullKey, err)
	}
	return true, nil
}

// List returns a list of keys with the given prefix
func (s3b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if s3b.client == nil {
		return nil, storage.ErrBackendNotReady
	}

	paginator := s3.NewListObjectsV2Paginator(s3b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3b.bucket),
		Prefix: aws.String(s3b.buildKey(prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in S3 bucket %s: %w", s3b.bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, s3b.stripPrefix(*obj.Key))
			}
		}
	}
	return keys, nil
}

// Close is a no-op; the SDK client holds no connections of its own.
func (s3b *S3Backend) Close() error {
	return nil
}

// buildKey constructs the full S3 key including any configured prefix
func (s3b *S3Backend) buildKey(key string) string {
	if s3b.prefix == "" {
		return key
	}
	return s3b.prefix + "/" + strings.TrimPrefix(key, "/")
}

// stripPrefix removes the configured prefix from an S3 key to get the original key
func (s3b *S3Backend) stripPrefix(s3Key string) string {
	if s3b.prefix == "" {
		return s3Key
	}
	return strings.TrimPrefix(s3Key, s3b.prefix+"/")
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	// S3-compatible stores do not always return typed errors
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}
