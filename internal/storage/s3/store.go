package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/levelfs/levelfs/pkg/types"
)

// API is the subset of the S3 client used by Store.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store implements types.Store with one S3 object per key.
type Store struct {
	client  API
	bucket  string
	prefix  string
	logger  *slog.Logger
	metrics *MetricsCollector
}

var _ types.Store = (*Store)(nil)

// Open creates an S3 client from cfg and verifies the bucket is reachable.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	store := NewWithClient(client, cfg.Bucket, cfg.Prefix)
	if err := store.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("S3 store health check failed: %w", err)
	}
	return store, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket, prefix string) *Store {
	return &Store{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		logger:  slog.Default().With("component", "s3-store", "bucket", bucket),
		metrics: NewMetricsCollector(),
	}
}

// Get retrieves the object for key.
func (s *Store) Get(ctx context.Context, key []byte) (data []byte, err error) {
	start := time.Now()
	defer func() { s.record(start, err) }()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectName(key)),
	})
	if err != nil {
		return nil, s.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	s.metrics.RecordBytesDownloaded(int64(len(data)))
	return data, nil
}

// Put stores value as the object for key.
func (s *Store) Put(ctx context.Context, key, value []byte) (err error) {
	start := time.Now()
	defer func() { s.record(start, err) }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectName(key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return s.translateError(err, "PutObject", key)
	}
	s.metrics.RecordBytesUploaded(int64(len(value)))
	return nil
}

// Delete removes the object for key. S3 deletes are idempotent.
func (s *Store) Delete(ctx context.Context, key []byte) (err error) {
	start := time.Now()
	defer func() { s.record(start, err) }()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectName(key)),
	})
	if err != nil {
		return s.translateError(err, "DeleteObject", key)
	}
	return nil
}

// Keys lists up to limit keys under prefix sorting after startAfter.
func (s *Store) Keys(ctx context.Context, prefix, startAfter []byte, limit int) (keys [][]byte, err error) {
	if limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { s.record(start, err) }()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectName(prefix)),
	}
	if startAfter != nil {
		input.StartAfter = aws.String(s.objectName(startAfter))
	}

	for len(keys) < limit {
		remaining := limit - len(keys)
		if remaining > 1000 {
			remaining = 1000
		}
		input.MaxKeys = aws.Int32(int32(remaining))

		result, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, s.translateError(err, "ListObjectsV2", prefix)
		}
		for _, obj := range result.Contents {
			key, ok := s.decodeName(aws.ToString(obj.Key))
			if !ok {
				s.logger.Debug("skipping foreign object", "object", aws.ToString(obj.Key))
				continue
			}
			keys = append(keys, key)
			if len(keys) >= limit {
				break
			}
		}
		if !aws.ToBool(result.IsTruncated) || result.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = result.NextContinuationToken
	}
	return keys, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

// GetMetrics returns current store metrics
func (s *Store) GetMetrics() StoreMetrics {
	return s.metrics.GetMetrics()
}

// Status renders the request metrics for the debug endpoint.
func (s *Store) Status() map[string]string {
	m := s.GetMetrics()
	status := map[string]string{
		"bucket":           s.bucket,
		"requests":         strconv.FormatInt(m.Requests, 10),
		"errors":           strconv.FormatInt(m.Errors, 10),
		"error_rate":       strconv.FormatFloat(s.metrics.GetErrorRate(), 'f', 4, 64),
		"bytes_uploaded":   strconv.FormatInt(m.BytesUploaded, 10),
		"bytes_downloaded": strconv.FormatInt(m.BytesDownloaded, 10),
		"average_latency":  m.AverageLatency.String(),
	}
	if m.LastError != "" {
		status["last_error"] = m.LastError
		status["last_error_time"] = m.LastErrorTime.Format(time.RFC3339)
	}
	return status
}

// Close releases resources. The S3 client holds none that need closing.
func (s *Store) Close() error {
	return nil
}

// IsRetryable reports whether err is a throttling or transient server error.
func IsRetryable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
		"InternalError", "ServiceUnavailable", "RequestTimeTooSkewed":
		return true
	}
	return false
}

func (s *Store) objectName(key []byte) string {
	return s.prefix + hex.EncodeToString(key)
}

func (s *Store) decodeName(name string) ([]byte, bool) {
	if !strings.HasPrefix(name, s.prefix) {
		return nil, false
	}
	key, err := hex.DecodeString(name[len(s.prefix):])
	if err != nil {
		return nil, false
	}
	return key, true
}

func (s *Store) record(start time.Time, err error) {
	if errors.Is(err, types.ErrKeyNotFound) {
		err = nil
	}
	s.metrics.RecordRequest(time.Since(start), err)
}

func (s *Store) translateError(err error, operation string, key []byte) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return types.ErrKeyNotFound
	case isErrorType[*s3types.NoSuchBucket](err):
		return fmt.Errorf("bucket not found: %s: %w", s.bucket, err)
	default:
		s.logger.Warn("S3 request failed", "operation", operation, "key", hex.EncodeToString(key), "error", err)
		return fmt.Errorf("%s failed for %x: %w", operation, key, err)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
