package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter saves outcome files locally and optionally to S3.
type Exporter struct {
	dir    string
	s3     S3API
	bucket string
	prefix string
	now    func() time.Time
}

// New creates an exporter writing under dir with no S3 upload.
func New(dir string) *Exporter {
	return &Exporter{dir: dir, now: time.Now}
}

// NewS3Client builds an S3 client from the default credential chain.
func NewS3Client(ctx context.Context, region, profile string) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// WithS3 enables uploads to bucket under prefix.
func (e *Exporter) WithS3(client S3API, bucket, prefix string) *Exporter {
	e.s3 = client
	e.bucket = bucket
	e.prefix = prefix
	return e
}

// UploadEnabled reports whether an S3 bucket is configured.
func (e *Exporter) UploadEnabled() bool { return e.s3 != nil && e.bucket != "" }

// FileName is email_log_<campaign>_<YYYYMMDD_HHMMSS>.<ext>.
func FileName(campaignID string, f Format, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, campaignID)
	return fmt.Sprintf("email_log_%s_%s.%s", safe, at.UTC().Format("20060102_150405"), f)
}

// Save writes the outcomes to a new file under the export directory and
// returns its path.
func (e *Exporter) Save(campaignID string, f Format, outcomes []domain.DeliveryOutcome) (string, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", err
	}
	now := e.now()
	p := filepath.Join(e.dir, FileName(campaignID, f, now))

	file, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if err := Write(file, f, campaignID, outcomes, now); err != nil {
		file.Close()
		return "", fmt.Errorf("writing %s: %w", p, err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return p, nil
}

// Upload puts the encoded outcomes to S3 and returns the object key.
func (e *Exporter) Upload(ctx context.Context, campaignID string, f Format, outcomes []domain.DeliveryOutcome) (string, error) {
	if !e.UploadEnabled() {
		return "", fmt.Errorf("s3 upload is not configured")
	}
	now := e.now()
	var buf bytes.Buffer
	if err := Write(&buf, f, campaignID, outcomes, now); err != nil {
		return "", err
	}

	key := path.Join(e.prefix, FileName(campaignID, f, now))
	_, err := e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(f.ContentType()),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3 bucket %s: %w", e.bucket, err)
	}
	logger.Info("Outcome export uploaded", "campaign_id", campaignID, "bucket", e.bucket, "key", key)
	return key, nil
}
