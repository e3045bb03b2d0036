package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory bucket. It pages ListObjectsV2 results two keys at
// a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("access denied")
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{ETag: aws.String(`"etag"`)}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k == tok {
				start = i
				break
			}
		}
	}
	end := start + 2
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func getTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Region == "" {
		t.Error("expected default region")
	}
	if cfg.Bucket == "" {
		t.Error("expected default bucket")
	}
	if cfg.MaxObjectSize <= 0 {
		t.Error("expected positive max object size")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty region", func(c *Config) { c.Region = "" }, true},
		{"empty bucket", func(c *Config) { c.Bucket = "" }, true},
		{"zero max size", func(c *Config) { c.MaxObjectSize = 0 }, true},
		{"kms encryption", func(c *Config) { c.ServerSideEncryption = "aws:kms" }, false},
		{"unknown encryption", func(c *Config) { c.ServerSideEncryption = "rot13" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	client := NewClientWithAPI(fake, DefaultConfig(), getTestLogger())

	out, err := client.Upload(ctx, &UploadInput{
		Key:         "aws.yaml",
		Body:        []byte("overrides: []\n"),
		ContentType: "application/yaml",
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if out.Key != "overrides/aws.yaml" {
		t.Errorf("Key = %q, want overrides/aws.yaml", out.Key)
	}
	if out.Location != "s3://siem-detect-content/overrides/aws.yaml" {
		t.Errorf("Location = %q", out.Location)
	}

	data, err := client.Download(ctx, "aws.yaml")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != "overrides: []\n" {
		t.Errorf("Download() = %q", data)
	}

	m := client.GetMetrics()
	if m.ObjectsUploaded != 1 || m.ObjectsDownloaded != 1 || m.BytesDownloaded != int64(len(data)) {
		t.Errorf("GetMetrics() = %+v", m)
	}
}

func TestDownload_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	cfg := DefaultConfig()
	cfg.MaxObjectSize = 8
	client := NewClientWithAPI(fake, cfg, getTestLogger())

	fake.objects["overrides/big.yaml"] = []byte("0123456789")
	if _, err := client.Download(ctx, "big.yaml"); !errors.Is(err, ErrObjectTooLarge) {
		t.Errorf("Download(big) error = %v, want ErrObjectTooLarge", err)
	}

	if _, err := client.Download(ctx, "missing.yaml"); err == nil {
		t.Error("Download(missing) should fail")
	}
	if _, err := client.Upload(ctx, &UploadInput{Key: "x", Body: []byte("0123456789")}); !errors.Is(err, ErrObjectTooLarge) {
		t.Errorf("Upload(big) error = %v, want ErrObjectTooLarge", err)
	}
	if got := client.GetMetrics().Errors; got != 2 {
		t.Errorf("Errors = %d, want 2", got)
	}
}

func TestFetchAll(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	client := NewClientWithAPI(fake, DefaultConfig(), getTestLogger())

	fake.objects["overrides/c.yaml"] = []byte("c")
	fake.objects["overrides/a.yml"] = []byte("a")
	fake.objects["overrides/b.yaml"] = []byte("b")
	fake.objects["overrides/readme.md"] = []byte("skip")
	fake.objects["other/d.yaml"] = []byte("elsewhere")

	docs, err := client.FetchAll(ctx, "", ".yaml", ".yml")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	var keys []string
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	want := []string{"overrides/a.yml", "overrides/b.yaml", "overrides/c.yaml"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("FetchAll() keys = %v, want %v", keys, want)
	}

	objects, err := client.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 4 {
		t.Errorf("List() returned %d objects across pages, want 4", len(objects))
	}

	fake.failGet = true
	if _, err := client.FetchAll(ctx, ""); err == nil {
		t.Error("FetchAll() should fail when a download fails")
	}
}

func TestHealthCheck(t *testing.T) {
	client := NewClientWithAPI(newFakeS3(), DefaultConfig(), nil)
	if status := client.HealthCheck(context.Background()); !status.Healthy {
		t.Errorf("HealthCheck() = %+v", status)
	}
	if client.Bucket() != "siem-detect-content" || client.Prefix() != "overrides/" {
		t.Errorf("Bucket()/Prefix() = %q/%q", client.Bucket(), client.Prefix())
	}
}

func skipIfNoS3(t *testing.T) {
	t.Helper()
	if os.Getenv("S3_TEST_BUCKET") == "" {
		t.Skip("S3_TEST_BUCKET not set, skipping integration test")
	}
}

// Integration tests - skipped if S3 is not available
func TestS3ClientIntegration(t *testing.T) {
	skipIfNoS3(t)

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Bucket = os.Getenv("S3_TEST_BUCKET")
	cfg.Prefix = "test/"
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Region = region
	}

	client, err := NewClient(ctx, cfg, getTestLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if status := client.HealthCheck(ctx); !status.Healthy {
		t.Fatalf("expected healthy, got error: %s", status.Error)
	}

	key := "integration-test-" + time.Now().Format("20060102150405") + ".yaml"
	if _, err := client.Upload(ctx, &UploadInput{Key: key, Body: []byte("overrides: []\n")}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	docs, err := client.FetchAll(ctx, "integration-test-", ".yaml")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(docs) == 0 {
		t.Error("uploaded object not found")
	}
}
