package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Defaults applied to every S3 write unless the destination overrides them.
const (
	DefaultACL          = types.ObjectCannedACLPublicRead
	DefaultCacheControl = "public,max-age=31536000"
	DefaultContentType  = "application/pdf"
)

// Uploader is the subset of the S3 upload manager used here.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ObjectDeleter removes objects that finished uploading after an abort.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Option configures an S3 backend.
type S3Option func(*S3)

// WithObjectDeleter sets the client used to remove uploads that completed
// after their write was aborted.
func WithObjectDeleter(d ObjectDeleter) S3Option {
	return func(s *S3) {
		s.deleter = d
	}
}

const cleanupTimeout = 30 * time.Second

// S3 streams artifacts to an S3 bucket using multipart uploads.
type S3 struct {
	uploader Uploader
	deleter  ObjectDeleter
	bucket   string
	logger   *slog.Logger
}

// NewS3 creates an S3 backend around an uploader.
func NewS3(uploader Uploader, bucket string, logger *slog.Logger, opts ...S3Option) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required for s3 persistence")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &S3{uploader: uploader, bucket: bucket, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewS3FromConfig creates an S3 backend using the default AWS credential
// chain.
func NewS3FromConfig(ctx context.Context, region, bucket string, logger *slog.Logger) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return NewS3(manager.NewUploader(client), bucket, logger, WithObjectDeleter(client))
}

// Options merges dest over the backend defaults.
func (s *S3) Options(dest Destination) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(dest.Key),
		ACL:          DefaultACL,
		CacheControl: aws.String(DefaultCacheControl),
		ContentType:  aws.String(DefaultContentType),
	}
	if dest.ACL != "" {
		in.ACL = types.ObjectCannedACL(dest.ACL)
	}
	if dest.CacheControl != "" {
		in.CacheControl = aws.String(dest.CacheControl)
	}
	if dest.ContentType != "" {
		in.ContentType = aws.String(dest.ContentType)
	}
	if len(dest.Metadata) > 0 {
		in.Metadata = maps.Clone(dest.Metadata)
	}
	return in
}

type s3Write struct {
	write
	cancel context.CancelFunc
}

// Write starts a streaming upload of r.
func (s *S3) Write(ctx context.Context, dest Destination, r io.Reader) Handle {
	ctx, cancel := context.WithCancel(ctx)
	w := &s3Write{write: newWrite(), cancel: cancel}

	input := s.Options(dest)
	input.Body = r
	logger := s.logger.With("bucket", s.bucket, "key", dest.Key)

	go func() {
		defer close(w.done)
		defer cancel()

		out, err := s.uploader.Upload(ctx, input)
		if err != nil {
			if w.latch.Claimed() {
				// Aborted: the cause has already been delivered.
				logger.Debug("aborted upload returned", "error", err)
				return
			}
			w.fail(fmt.Errorf("upload s3://%s/%s: %w", s.bucket, dest.Key, err))
			return
		}
		if !w.succeed(out.Location) {
			logger.Warn("upload completed after abort, deleting", "location", out.Location)
			s.discard(ctx, dest.Key, logger)
		}
	}()

	return w
}

// discard removes an object whose write was aborted. Best effort.
func (s *S3) discard(ctx context.Context, key string, logger *slog.Logger) {
	if s.deleter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if _, err := s.deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		logger.Warn("failed to delete aborted upload", "error", err)
	}
}

// Abort delivers err first, then cancels the upload; the upload manager
// aborts the multipart upload server-side and its error is swallowed.
func (w *s3Write) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	if !w.fail(err) {
		return
	}
	w.cancel()
}
