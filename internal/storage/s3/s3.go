// Package s3 stores and fetches rule documents (override documents and
// account directories) in an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectTooLarge is returned when an object exceeds Config.MaxObjectSize.
var ErrObjectTooLarge = errors.New("s3: object too large")

// Config holds S3 connection and behavior configuration.
type Config struct {
	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is the key prefix for all objects.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Endpoint is an optional custom endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// AccessKeyID for static credentials (optional, uses IAM if not set).
	AccessKeyID string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`

	// SecretAccessKey for static credentials.
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`

	// SessionToken for temporary credentials.
	SessionToken string `json:"session_token,omitempty" yaml:"session_token,omitempty"`

	// ServerSideEncryption type (AES256 or aws:kms).
	ServerSideEncryption string `json:"server_side_encryption,omitempty" yaml:"server_side_encryption,omitempty"`

	// UsePathStyle forces path-style addressing (for MinIO, etc.).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// MaxObjectSize bounds how much of a single document is read.
	MaxObjectSize int64 `json:"max_object_size" yaml:"max_object_size"`

	// RetryMaxAttempts for failed operations.
	RetryMaxAttempts int `json:"retry_max_attempts" yaml:"retry_max_attempts"`

	// Timeout for a single operation.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Region:           "us-east-1",
		Bucket:           "siem-detect-content",
		Prefix:           "overrides/",
		MaxObjectSize:    1024 * 1024, // 1MB
		RetryMaxAttempts: 3,
		Timeout:          30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	if c.MaxObjectSize <= 0 {
		return errors.New("s3: max object size must be positive")
	}
	switch c.ServerSideEncryption {
	case "", "AES256", "aws:kms":
	default:
		return fmt.Errorf("s3: unsupported server side encryption %q", c.ServerSideEncryption)
	}
	return nil
}

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Client reads and writes documents under the configured prefix.
type Client struct {
	client  API
	config  *Config
	logger  *slog.Logger
	metrics *clientMetrics
}

type clientMetrics struct {
	bytesUploaded     atomic.Int64
	bytesDownloaded   atomic.Int64
	objectsUploaded   atomic.Int64
	objectsDownloaded atomic.Int64
	errors            atomic.Int64
}

// NewClient creates a client from the AWS default credential chain, or from
// static credentials when they are configured.
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	// Custom endpoint (for MinIO, LocalStack, etc.)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	c := NewClientWithAPI(s3.NewFromConfig(awsCfg, s3Opts...), cfg, logger)
	c.logger.Info("s3 client initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"prefix", cfg.Prefix,
	)
	return c, nil
}

// NewClientWithAPI wraps an existing S3 API implementation. A nil logger
// uses slog.Default.
func NewClientWithAPI(api API, cfg *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:  api,
		config:  cfg,
		logger:  logger,
		metrics: &clientMetrics{},
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// UploadInput contains parameters for uploading a document.
type UploadInput struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// UploadOutput contains the result of an upload operation.
type UploadOutput struct {
	Key      string
	ETag     string
	Location string
	Size     int64
}

// Upload stores a document under the configured prefix.
func (c *Client) Upload(ctx context.Context, input *UploadInput) (*UploadOutput, error) {
	key := c.config.Prefix + input.Key
	size := int64(len(input.Body))
	if size > c.config.MaxObjectSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, key, size)
	}

	putInput := &s3.PutObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(input.Body),
	}
	if input.ContentType != "" {
		putInput.ContentType = aws.String(input.ContentType)
	}
	if len(input.Metadata) > 0 {
		putInput.Metadata = input.Metadata
	}
	switch c.config.ServerSideEncryption {
	case "AES256":
		putInput.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		putInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.client.PutObject(ctx, putInput)
	if err != nil {
		c.metrics.errors.Add(1)
		return nil, fmt.Errorf("s3: failed to upload object %s: %w", key, err)
	}

	c.metrics.bytesUploaded.Add(size)
	c.metrics.objectsUploaded.Add(1)
	c.logger.Debug("uploaded object", "key", key, "size", size)

	return &UploadOutput{
		Key:      key,
		ETag:     aws.ToString(result.ETag),
		Location: fmt.Sprintf("s3://%s/%s", c.config.Bucket, key),
		Size:     size,
	}, nil
}

// Download reads a whole document. key is relative to the configured prefix.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	fullKey := c.config.Prefix + key
	return c.read(ctx, fullKey)
}

func (c *Client) read(ctx context.Context, fullKey string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		c.metrics.errors.Add(1)
		return nil, fmt.Errorf("s3: failed to download object %s: %w", fullKey, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, c.config.MaxObjectSize+1))
	if err != nil {
		c.metrics.errors.Add(1)
		return nil, fmt.Errorf("s3: failed to read object %s: %w", fullKey, err)
	}
	if int64(len(data)) > c.config.MaxObjectSize {
		c.metrics.errors.Add(1)
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrObjectTooLarge, fullKey, c.config.MaxObjectSize)
	}

	c.metrics.bytesDownloaded.Add(int64(len(data)))
	c.metrics.objectsDownloaded.Add(1)
	c.logger.Debug("downloaded object", "key", fullKey, "size", len(data))
	return data, nil
}

// ObjectInfo contains information about an S3 object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// List lists objects under the configured prefix plus prefix, sorted by key.
// Keys are returned in full.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.Bucket),
		Prefix: aws.String(c.config.Prefix + prefix),
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			c.metrics.errors.Add(1)
			return nil, fmt.Errorf("s3: failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Document is a fetched document.
type Document struct {
	Key  string
	Data []byte
}

// FetchAll downloads every object under prefix whose key ends in one of
// suffixes, in key order. No suffixes means every object.
func (c *Client) FetchAll(ctx context.Context, prefix string, suffixes ...string) ([]Document, error) {
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, obj := range objects {
		if !hasSuffix(obj.Key, suffixes) {
			continue
		}
		data, err := c.read(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Key: obj.Key, Data: data})
	}
	return docs, nil
}

func hasSuffix(key string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	for _, s := range suffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// Metrics contains S3 client metrics.
type Metrics struct {
	BytesUploaded     int64
	BytesDownloaded   int64
	ObjectsUploaded   int64
	ObjectsDownloaded int64
	Errors            int64
}

// GetMetrics returns current client metrics.
func (c *Client) GetMetrics() Metrics {
	return Metrics{
		BytesUploaded:     c.metrics.bytesUploaded.Load(),
		BytesDownloaded:   c.metrics.bytesDownloaded.Load(),
		ObjectsUploaded:   c.metrics.objectsUploaded.Load(),
		ObjectsDownloaded: c.metrics.objectsDownloaded.Load(),
		Errors:            c.metrics.errors.Load(),
	}
}

// HealthStatus represents the health of the S3 client.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// HealthCheck verifies the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{}
	start := time.Now()

	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// Prefix returns the configured key prefix.
func (c *Client) Prefix() string {
	return c.config.Prefix
}
