package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// S3ContentStore implements document.ContentStore on any S3-compatible
// storage (AWS S3, MinIO, RustFS).
type S3ContentStore struct {
	client       *s3.Client
	bucket       string
	algorithm    string
	hashMaxBytes int64
	logger       *zap.Logger
}

// S3Option is a functional option for configuring S3ContentStore
type S3Option func(*S3ContentStore)

// WithS3Logger sets a custom logger
func WithS3Logger(logger *zap.Logger) S3Option {
	return func(s *S3ContentStore) {
		s.logger = logger
	}
}

// NewS3ContentStore creates the store from configuration. Without static
// credentials the default AWS credential chain is used.
func NewS3ContentStore(ctx context.Context, cfg *config.StorageConfig, opts ...S3Option) (*S3ContentStore, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("storage secret access key is required with an access key id")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	var endpoint *string
	if cfg.Endpoint != "" {
		ep := cfg.Endpoint
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			ep = "https://" + ep
		}
		if _, err := url.Parse(ep); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
		endpoint = aws.String(ep)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})

	store := &S3ContentStore{
		client:       client,
		bucket:       cfg.Bucket,
		algorithm:    cfg.ChecksumAlgorithm,
		hashMaxBytes: cfg.HashMaxBytes,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *S3ContentStore) locate(locator string) (Locator, error) {
	loc, err := ParseLocator(locator, s.bucket)
	if err != nil {
		return Locator{}, err
	}
	if loc.Scheme != "" && loc.Scheme != "s3" {
		return Locator{}, fmt.Errorf("locator %q is not an s3 locator", locator)
	}
	return loc, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	// some S3-compatible services only report it in the message
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

// Exists implements document.ContentStore
func (s *S3ContentStore) Exists(ctx context.Context, locator string) (bool, error) {
	loc, err := s.locate(locator)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// Checksum implements document.ContentStore. It prefers the provider's
// SHA-256, then the "checksum" metadata entry, and finally hashes the object
// when hashing on read is enabled. "" means no checksum is available.
func (s *S3ContentStore) Checksum(ctx context.Context, locator string) (string, error) {
	loc, err := s.locate(locator)
	if err != nil {
		return "", err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(loc.Bucket),
		Key:          aws.String(loc.Key),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read object metadata: %w", err)
	}
	if sum := fromBase64SHA256(aws.ToString(head.ChecksumSHA256)); sum != "" && s.algorithm != document.ChecksumBLAKE2b {
		return sum, nil
	}
	if sum := fromMetadata(head.Metadata); sum != "" {
		return sum, nil
	}
	if s.hashMaxBytes <= 0 || aws.ToInt64(head.ContentLength) > s.hashMaxBytes {
		return "", nil
	}

	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read object: %w", err)
	}
	defer obj.Body.Close()

	sum, err := Digest(s.algorithm, obj.Body, s.hashMaxBytes)
	if errors.Is(err, ErrContentTooLarge) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s.logger.Debug("Hashed object content", zap.String("bucket", loc.Bucket), zap.String("key", loc.Key))
	return sum, nil
}

// EnsureBucket checks that the configured bucket is reachable
func (s *S3ContentStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("storage bucket %q not accessible: %w", s.bucket, err)
	}
	return nil
}

// Bucket returns the configured bucket name
func (s *S3ContentStore) Bucket() string {
	return s.bucket
}

var _ document.ContentStore = (*S3ContentStore)(nil)
