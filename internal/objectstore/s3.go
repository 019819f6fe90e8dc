package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"medguard/internal/config"
	"medguard/internal/digest"
	"medguard/internal/guard"
)

// s3Timeout bounds every request made on behalf of a single store call.
const s3Timeout = 30 * time.Second

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Uploader is the subset of manager.Uploader the store uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store keeps block payloads in an S3 bucket under
// <prefix>/blocks/<digest[0:2]>/<digest>.
type S3Store struct {
	client   S3API
	uploader Uploader
	bucket   string
	prefix   string
}

var _ guard.ObjectStore = (*S3Store)(nil)

// NewS3Store creates a store over an existing client and uploader.
func NewS3Store(client S3API, uploader Uploader, bucket, prefix string) *S3Store {
	return &S3Store{client: client, uploader: uploader, bucket: bucket, prefix: prefix}
}

// NewS3StoreFromConfig builds the S3 client from the default AWS credential chain,
// or from static credentials when both are configured.
func NewS3StoreFromConfig(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 object store requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Store(client, manager.NewUploader(client), cfg.S3Bucket, cfg.S3Prefix), nil
}

func (s *S3Store) objectKey(d string) (string, error) {
	if !digest.Valid(d) {
		return "", fmt.Errorf("invalid digest: %q", d)
	}
	return path.Join(s.prefix, "blocks", d[:2], d), nil
}

// PutIfAbsent uploads payload unless an object with digest already exists.
func (s *S3Store) PutIfAbsent(d string, payload []byte) error {
	exists, err := s.Has(d)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	key, err := s.objectKey(d)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3Timeout)
	defer cancel()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return fmt.Errorf("%w: uploading object %s: %w", guard.ErrIO, d, err)
	}
	return nil
}

// Get downloads the payload stored under digest.
func (s *S3Store) Get(d string) ([]byte, error) {
	key, err := s.objectKey(d)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3Timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", guard.ErrObjectNotFound, d)
		}
		return nil, fmt.Errorf("%w: getting object %s: %w", guard.ErrIO, d, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading object %s: %w", guard.ErrIO, d, err)
	}
	return data, nil
}

// Has issues a HeadObject for digest.
func (s *S3Store) Has(d string) (bool, error) {
	key, err := s.objectKey(d)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s3Timeout)
	defer cancel()

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: head object %s: %w", guard.ErrIO, d, err)
	}
	return true, nil
}

// Stats lists every object under the blocks prefix.
func (s *S3Store) Stats() (guard.StoreStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3Timeout)
	defer cancel()

	var stats guard.StoreStats
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(path.Join(s.prefix, "blocks") + "/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return guard.StoreStats{}, fmt.Errorf("%w: listing objects: %w", guard.ErrIO, err)
		}
		for _, obj := range page.Contents {
			stats.Objects++
			stats.Bytes += aws.ToInt64(obj.Size)
		}
	}
	return stats, nil
}
