package bundle

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flowforge/catalog/pkg/catalog/model"
)

// ArtifactStorage materializes a bundle version's archive bytes onto
// local disk at destPath, returning once the artifact is fully written.
// Local storage copies from the configured root; S3 storage downloads to
// a staging path and the cache performs the atomic rename into place.
type ArtifactStorage interface {
	Fetch(ctx context.Context, v *model.JobBundleVersion, destPath string) error
}

// LocalStorage reads artifacts from a configured root directory, joining
// ArtifactPath beneath it.
type LocalStorage struct {
	Root string
}

func (s *LocalStorage) Fetch(ctx context.Context, v *model.JobBundleVersion, destPath string) error {
	src := filepath.Join(s.Root, v.ArtifactPath)
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("local storage: open artifact %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("local storage: create staging file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("local storage: copy artifact: %w", err)
	}
	return nil
}

// S3Storage downloads artifacts from an S3-compatible bucket using the
// default AWS credential chain (env, shared config, instance role, or
// STS-assumed role).
type S3Storage struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool

	client *s3.Client
}

// NewS3Storage builds an S3Storage, resolving credentials via the
// default AWS SDK v2 config chain.
func NewS3Storage(ctx context.Context, bucket, region, endpoint string, forcePathStyle bool) (*S3Storage, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3 storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})
	return &S3Storage{Bucket: bucket, Region: region, Endpoint: endpoint, ForcePathStyle: forcePathStyle, client: client}, nil
}

func (s *S3Storage) Fetch(ctx context.Context, v *model.JobBundleVersion, destPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(v.ArtifactPath),
	})
	if err != nil {
		return fmt.Errorf("s3 storage: get object %s: %w", v.ArtifactPath, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("s3 storage: create staging file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("s3 storage: write staging file: %w", err)
	}
	return nil
}
