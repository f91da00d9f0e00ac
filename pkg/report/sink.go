package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrUploaderNotInitialized is returned by an S3Sink without an uploader.
var ErrUploaderNotInitialized = errors.New("S3 uploader not initialized")

var reportsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trademark_reports_published_total",
	Help: "Reports published by sink and status",
}, []string{"sink", "status"})

// Sink publishes a finished report file.
type Sink interface {
	// Publish returns the location the report is available at.
	Publish(ctx context.Context, file string) (string, error)
}

// LocalSink leaves reports where they were written.
type LocalSink struct{}

// Publish implements Sink.
func (LocalSink) Publish(_ context.Context, file string) (string, error) {
	if _, err := os.Stat(file); err != nil {
		reportsPublished.WithLabelValues("local", "error").Inc()
		return "", fmt.Errorf("report %s: %w", file, err)
	}
	reportsPublished.WithLabelValues("local", "success").Inc()
	return file, nil
}

// S3Config configures the S3 sink.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the AWS endpoint (S3-compatible storage).
	Endpoint string
	// AccessKey and SecretKey are optional; the default credential chain
	// is used when empty.
	AccessKey string
	SecretKey string
}

// S3Sink uploads reports to a bucket.
type S3Sink struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
	logger   zerolog.Logger
}

// NewS3Sink creates an AWS session and uploader.
func NewS3Sink(cfg S3Config, logger zerolog.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}

	return NewS3SinkWithUploader(s3manager.NewUploader(sess), cfg.Bucket, cfg.Prefix, logger), nil
}

// NewS3SinkWithUploader wraps an existing uploader.
func NewS3SinkWithUploader(uploader s3manageriface.UploaderAPI, bucket, prefix string, logger zerolog.Logger) *S3Sink {
	return &S3Sink{uploader: uploader, bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key for a local file.
func (s *S3Sink) Key(file string) string {
	return path.Join(s.prefix, filepath.Base(file))
}

// Publish implements Sink.
func (s *S3Sink) Publish(ctx context.Context, file string) (string, error) {
	if s.uploader == nil {
		return "", ErrUploaderNotInitialized
	}

	f, err := os.Open(file)
	if err != nil {
		reportsPublished.WithLabelValues("s3", "error").Inc()
		return "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	key := s.Key(file)
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		reportsPublished.WithLabelValues("s3", "error").Inc()
		return "", fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}

	reportsPublished.WithLabelValues("s3", "success").Inc()
	s.logger.Info().Str("bucket", s.bucket).Str("key", key).Msg("Report uploaded")
	return out.Location, nil
}
