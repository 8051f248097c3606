// Package paper stores compiled papers and computes where they can be fetched.
package paper

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// FileName is the name of the compiled document.
const FileName = "main.pdf"

// ObjectKey is the storage path of an artifact's paper: the URL-safe base64
// of the source URL, the revision, then main.pdf.
func ObjectKey(key models.ArtifactKey) string {
	return fmt.Sprintf("%s/%s/%s", base64.URLEncoding.EncodeToString([]byte(key.SourceURL)), key.Revision, FileName)
}

// URL returns where the paper for key is served under base.
func URL(base string, key models.ArtifactKey) string {
	return strings.TrimRight(base, "/") + "/" + ObjectKey(key)
}

// Sink receives compiled papers.
type Sink interface {
	Put(ctx context.Context, key models.ArtifactKey, pdf io.Reader) error
}

// New builds the sink selected by cfg.Backend. The "none" backend yields a nil sink.
func New(ctx context.Context, cfg config.PaperConfig) (Sink, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil
	case "http":
		return NewHTTPSink(cfg.BaseURL, 30*time.Second), nil
	case "s3":
		s, err := NewS3Sink(ctx, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown paper backend %q", cfg.Backend)
	}
}

// HTTPSink uploads papers with PUT to the paper service.
type HTTPSink struct {
	base   string
	client *http.Client
}

// NewHTTPSink creates a sink for the paper service at base.
func NewHTTPSink(base string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{base: base, client: &http.Client{Timeout: timeout}}
}

// Put implements Sink.
func (s *HTTPSink) Put(ctx context.Context, key models.ArtifactKey, pdf io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, URL(s.base, key), pdf)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload paper for %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload paper for %s: status %d", key, resp.StatusCode)
	}
	return nil
}

// putObjectAPI is the subset of the S3 client the sink uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes papers to an S3 bucket.
type S3Sink struct {
	client putObjectAPI
	bucket string
}

// NewS3Sink loads the default AWS configuration (environment, shared files)
// and returns a sink for bucket.
func NewS3Sink(ctx context.Context, bucket string) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("paper.bucket is required for the s3 backend")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Sink{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

// Put implements Sink. The document is buffered so the upload has a known length.
func (s *S3Sink) Put(ctx context.Context, key models.ArtifactKey, pdf io.Reader) error {
	data, err := io.ReadAll(pdf)
	if err != nil {
		return fmt.Errorf("read paper for %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ObjectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return fmt.Errorf("put paper for %s: %w", key, err)
	}
	return nil
}

// Compile-time verification that both sinks implement Sink.
var (
	_ Sink = (*HTTPSink)(nil)
	_ Sink = (*S3Sink)(nil)
)
