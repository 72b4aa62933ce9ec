// Package artifacts stores generated images in an S3-compatible bucket.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"bananagen/core"
	"bananagen/imagegen"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOSink is an imagegen.ArtifactSink writing objects to one bucket.
// Refs have the form s3://bucket/key.
type MinIOSink struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

var _ imagegen.ArtifactSink = (*MinIOSink)(nil)

// NewMinIOSink builds a client from settings. It does not contact the server.
func NewMinIOSink(settings core.MinIOSettings) (*MinIOSink, error) {
	if !settings.Enabled() {
		return nil, core.ErrInvalidObjectStore("endpoint is required")
	}
	if settings.AccessKey == "" || settings.SecretKey == "" {
		return nil, core.ErrInvalidObjectStore("credentials are required")
	}
	if settings.Bucket == "" {
		return nil, core.ErrInvalidObjectStore("bucket is required")
	}

	client, err := minio.New(settings.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(settings.AccessKey, settings.SecretKey, ""),
		Secure:    settings.UseSSL,
		Region:    settings.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOSink{
		client: client,
		bucket: settings.Bucket,
		prefix: strings.Trim(settings.Prefix, "/"),
		region: settings.Region,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *MinIOSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Save uploads data under prefix/name.
func (s *MinIOSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	key := s.Key(name)
	if key == "" {
		return "", fmt.Errorf("artifact name is empty")
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: imagegen.DetectImageMIME(data)})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return Ref(s.bucket, key), nil
}

// Key maps an artifact name to its object key.
func (s *MinIOSink) Key(name string) string {
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	if name == "" {
		return ""
	}
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Bucket returns the target bucket name.
func (s *MinIOSink) Bucket() string {
	return s.bucket
}

// Ref formats an object reference.
func Ref(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// ParseRef splits an s3:// reference into bucket and key.
func ParseRef(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
