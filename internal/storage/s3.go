package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	cfg "github.com/puppals/mediastore/internal/config"
)

// S3 rejects multipart parts smaller than this, except the last one.
const minPartSize = 5 << 20

// S3API is the subset of *s3.Client used by S3BlobStore.
type S3API interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, opts ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// S3BlobStore maps each chunk onto one multipart upload part. Objects only
// exist in the bucket after CompleteMultipartUpload, so readers never see a
// partial write. Works with AWS S3, MinIO, Cloudflare R2 and other compatible services.
type S3BlobStore struct {
	client   S3API
	bucket   string
	prefix   string
	partSize int64
}

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string // Optional: for S3-compatible services
	PathStyle bool
	Prefix    string
	PartSize  int64
}

// NewS3FromConfig creates an S3 blob store from app config
func NewS3FromConfig(ctx context.Context, c *cfg.Config) (*S3BlobStore, error) {
	slog.Info("initializing S3 blob store",
		"bucket", c.S3Bucket,
		"region", c.S3Region,
		"endpoint", c.S3Endpoint,
		"prefix", c.S3Prefix,
	)
	return NewS3BlobStore(ctx, S3Config{
		Region:    c.S3Region,
		Bucket:    c.S3Bucket,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Endpoint:  c.S3Endpoint,
		PathStyle: c.S3PathStyle,
		Prefix:    c.S3Prefix,
		PartSize:  c.S3PartSize,
	})
}

// NewS3BlobStore builds the client and makes sure the bucket exists.
func NewS3BlobStore(ctx context.Context, c S3Config) (*S3BlobStore, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(c.Region))

	// Add static credentials if provided
	if c.AccessKey != "" && c.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = c.PathStyle
		}
	})

	store := NewS3BlobStoreWithClient(client, c.Bucket, c.Prefix, c.PartSize)

	err = store.ensureBucket(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return store, nil
}

// NewS3BlobStoreWithClient wraps an existing client. Part sizes below the S3 minimum are raised to it.
func NewS3BlobStoreWithClient(client S3API, bucket, prefix string, partSize int64) *S3BlobStore {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	return &S3BlobStore{client: client, bucket: bucket, prefix: prefix, partSize: partSize}
}

// ensureBucket checks if bucket exists, creates it if not
func (s *S3BlobStore) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %q does not exist and could not be created: %w", s.bucket, err)
	}

	slog.Info("created S3 bucket", "bucket", s.bucket)
	return nil
}

func (s *S3BlobStore) key(name string) string {
	return s.prefix + name
}

func (s *S3BlobStore) Write(ctx context.Context, name string, r io.Reader) (Object, error) {
	key := s.key(name)

	_, err := s.Stat(ctx, name)
	if err == nil {
		return Object{}, fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	if !errors.Is(err, ErrNotFound) {
		return Object{}, err
	}

	buf := make([]byte, s.partSize)
	n, readErr := readChunk(r, buf)
	if readErr != nil && readErr != io.EOF {
		return Object{}, fmt.Errorf("read upload stream: %w", readErr)
	}

	// Whole object fits in one part
	if readErr == io.EOF {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
			IfNoneMatch:   aws.String("*"),
		})
		if err != nil {
			return Object{}, s.writeError(name, err)
		}
		return Object{Ref: key, Name: name, Size: int64(n), CreatedAt: time.Now().UTC()}, nil
	}

	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, fmt.Errorf("start multipart upload: %w", err)
	}

	size, err := s.uploadParts(ctx, key, created.UploadId, buf, n, r)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		_, abortErr := s.client.AbortMultipartUpload(cleanupCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: created.UploadId,
		})
		if abortErr != nil {
			slog.Error("failed to abort multipart upload", "error", abortErr, "key", key)
		}
		return Object{}, err
	}

	return Object{Ref: key, Name: name, Size: size, CreatedAt: time.Now().UTC()}, nil
}

// uploadParts sends the already-read first part, then the rest of r, and completes the upload.
func (s *S3BlobStore) uploadParts(ctx context.Context, key string, uploadID *string, buf []byte, n int, r io.Reader) (int64, error) {
	var parts []types.CompletedPart
	var total int64
	last := false

	for partNumber := int32(1); ; partNumber++ {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		})
		if err != nil {
			return 0, fmt.Errorf("upload part %d: %w", partNumber, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
		total += int64(n)

		if last {
			break
		}
		err = ctx.Err()
		if err != nil {
			return 0, err
		}

		var readErr error
		n, readErr = readChunk(r, buf)
		if readErr == io.EOF {
			if n == 0 {
				break
			}
			last = true
		} else if readErr != nil {
			return 0, fmt.Errorf("read upload stream: %w", readErr)
		}
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		IfNoneMatch:     aws.String("*"),
	})
	if err != nil {
		return 0, s.writeError(strings.TrimPrefix(key, s.prefix), err)
	}
	return total, nil
}

// writeError maps a lost If-None-Match race onto ErrNameTaken.
func (s *S3BlobStore) writeError(name string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	return fmt.Errorf("failed to upload to S3: %w", err)
}

func (s *S3BlobStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return out.Body, nil
}

func (s *S3BlobStore) Stat(ctx context.Context, name string) (Object, error) {
	key := s.key(name)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return Object{
		Ref:       key,
		Name:      name,
		Size:      aws.ToInt64(out.ContentLength),
		CreatedAt: aws.ToTime(out.LastModified),
	}, nil
}

// Delete removes a key. S3 reports success for missing keys, which keeps it idempotent.
func (s *S3BlobStore) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

func (s *S3BlobStore) Walk(ctx context.Context, fn func(Object) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			err = fn(Object{
				Ref:       key,
				Name:      strings.TrimPrefix(key, s.prefix),
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// PurgeIncomplete aborts multipart uploads under the prefix started before the cutoff.
func (s *S3BlobStore) PurgeIncomplete(ctx context.Context, before time.Time) (int, error) {
	in := &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}

	purged := 0
	for {
		page, err := s.client.ListMultipartUploads(ctx, in)
		if err != nil {
			return purged, fmt.Errorf("failed to list multipart uploads: %w", err)
		}

		for _, u := range page.Uploads {
			if !aws.ToTime(u.Initiated).Before(before) {
				continue
			}
			_, err = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(s.bucket),
				Key:      u.Key,
				UploadId: u.UploadId,
			})
			if err != nil {
				return purged, fmt.Errorf("failed to abort upload %s: %w", aws.ToString(u.Key), err)
			}
			purged++
		}

		if !aws.ToBool(page.IsTruncated) {
			return purged, nil
		}
		in.KeyMarker = page.NextKeyMarker
		in.UploadIdMarker = page.NextUploadIdMarker
	}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}
