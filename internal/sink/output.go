package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// Output is where a rendered document ends up.
type Output interface {
	Put(ctx context.Context, data []byte, contentType string) error
	Location() string
}

// LocalOutput writes to a file, replacing it atomically.
type LocalOutput struct {
	Path string
}

func (o LocalOutput) Location() string {
	return o.Path
}

func (o LocalOutput) Put(_ context.Context, data []byte, _ string) error {
	if strings.TrimSpace(o.Path) == "" {
		return fmt.Errorf("%w: output path is empty", ErrUnavailable)
	}
	dir := filepath.Dir(o.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(o.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", o.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", o.Path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", o.Path, err)
	}
	if err := os.Rename(tmpName, o.Path); err != nil {
		return fmt.Errorf("rename into %s: %w", o.Path, err)
	}
	return nil
}

// S3Output uploads to a single object.
type S3Output struct {
	bucket   string
	key      string
	uploader s3manageriface.UploaderAPI
}

// NewS3Output creates an uploader from the default AWS credential chain.
// An empty region falls back to AWS_REGION.
func NewS3Output(bucket, key, region string) (*S3Output, error) {
	cfg := &aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: aws session: %v", ErrUnavailable, err)
	}
	return NewS3OutputWithUploader(bucket, key, s3manager.NewUploader(sess)), nil
}

func NewS3OutputWithUploader(bucket, key string, uploader s3manageriface.UploaderAPI) *S3Output {
	return &S3Output{
		bucket:   bucket,
		key:      strings.TrimLeft(key, "/"),
		uploader: uploader,
	}
}

func (o *S3Output) Location() string {
	return "s3://" + o.bucket + "/" + o.key
}

func (o *S3Output) Put(ctx context.Context, data []byte, contentType string) error {
	input := &s3manager.UploadInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := o.uploader.UploadWithContext(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", o.Location(), err)
	}
	return nil
}
