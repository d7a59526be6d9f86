// Package artifacts uploads run output (screenshots, reports) to S3-compatible
// object storage. Local files in the results directory stay the source of truth;
// uploads only add shareable URLs. Tests use gofakes3.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kuitang/handover-verify/internal/urlutil"
)

// Store writes objects to one bucket.
type Store struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
}

// Config holds the connection settings for a Store.
type Config struct {
	// Endpoint is the S3 endpoint URL. Empty means AWS S3.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicURL is the base URL objects are reachable under.
	PublicURL string
	// UsePathStyle is needed by gofakes3 and some S3-compatible services.
	UsePathStyle bool
}

// New creates a Store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromS3Client(s3Client, cfg.BucketName, cfg.PublicURL), nil
}

// NewFromS3Client wraps an existing S3 client.
func NewFromS3Client(s3Client *s3.Client, bucketName, publicURL string) *Store {
	return &Store{
		s3Client:   s3Client,
		bucketName: bucketName,
		publicURL:  urlutil.TrimBase(publicURL),
	}
}

// Put stores content under key.
func (s *Store) Put(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("artifacts: failed to put object %q: %w", key, err)
	}
	return nil
}

// PublicURL returns the URL key is reachable under.
func (s *Store) PublicURL(key string) string {
	return urlutil.Join(s.publicURL, key)
}

// BucketName returns the configured bucket name.
func (s *Store) BucketName() string {
	return s.bucketName
}

// contentType picks the MIME type for the files a run produces.
func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".html":
		return "text/html; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
