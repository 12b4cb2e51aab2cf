package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Per-tier object size ceilings. Checked before any network call.
const (
	// MaxRecordingSize is the recordings bucket ceiling (50MiB).
	MaxRecordingSize = 50 * 1024 * 1024
	// MaxTranscriptSize is the session transcripts bucket ceiling (5MiB).
	MaxTranscriptSize = 5 * 1024 * 1024
	// MaxUserTranscriptSize is the persistent user transcripts bucket ceiling (10MiB).
	MaxUserTranscriptSize = 10 * 1024 * 1024

	// FolderRecordings is the key prefix for temporary recordings.
	FolderRecordings = "recordings"
	// FolderTranscripts is the key prefix for temporary session transcripts.
	FolderTranscripts = "transcripts"
	// FolderUsers is the key prefix for persistent user transcripts.
	FolderUsers = "users"
)

// ErrPayloadTooLarge is returned when an object exceeds its bucket's ceiling.
var ErrPayloadTooLarge = errors.New("payload exceeds bucket size limit")

// AllowedRecordingTypes maps accepted recording MIME types to file extensions.
var AllowedRecordingTypes = map[string]string{
	"video/webm": ".webm",
	"video/mp4":  ".mp4",
	"audio/webm": ".webm",
	"audio/mp4":  ".mp4",
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region                string
	AccessKeyID           string
	SecretAccessKey       string
	RecordingsBucket      string
	TranscriptsBucket     string
	UserTranscriptsBucket string
	PresignExpireSeconds  int
}

// S3 provides bucket operations with validation and pre-signed URLs.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ValidateRecordingType returns true if the content type is an accepted recording format.
func ValidateRecordingType(contentType string) bool {
	_, ok := AllowedRecordingTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ok
}

// RecordingExtension returns the file extension for a recording MIME type.
func RecordingExtension(contentType string) string {
	if ext, ok := AllowedRecordingTypes[strings.ToLower(strings.TrimSpace(contentType))]; ok {
		return ext
	}
	return ".webm"
}

// RecordingKey returns the object key: recordings/{conversation_id}/{name}.
func RecordingKey(conversationID, name string) string {
	return path.Join(FolderRecordings, conversationID, path.Base(name))
}

// TranscriptKey returns the object key: transcripts/{conversation_id}/transcript.json.
func TranscriptKey(conversationID string) string {
	return path.Join(FolderTranscripts, conversationID, "transcript.json")
}

// UserTranscriptKey returns the object key: users/{user_id}/{conversation_id}.json.
func UserTranscriptKey(userID, conversationID string) string {
	return path.Join(FolderUsers, userID, conversationID+".json")
}

// RecordingsBucket returns the temporary recordings bucket name.
func (s *S3) RecordingsBucket() string { return s.cfg.RecordingsBucket }

// TranscriptsBucket returns the temporary session transcripts bucket name.
func (s *S3) TranscriptsBucket() string { return s.cfg.TranscriptsBucket }

// UserTranscriptsBucket returns the persistent user transcripts bucket name.
func (s *S3) UserTranscriptsBucket() string { return s.cfg.UserTranscriptsBucket }

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.cfg.PresignExpireSeconds) * time.Second
}

// maxSizeForBucket returns the size ceiling for a known bucket, 0 for unknown.
func (s *S3) maxSizeForBucket(bucket string) int64 {
	switch bucket {
	case s.cfg.RecordingsBucket:
		return MaxRecordingSize
	case s.cfg.TranscriptsBucket:
		return MaxTranscriptSize
	case s.cfg.UserTranscriptsBucket:
		return MaxUserTranscriptSize
	}
	return 0
}

// Upload streams a reader into a bucket. The size ceiling for the bucket is
// enforced before any network call; contentLength must be known.
func (s *S3) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	if max := s.maxSizeForBucket(bucket); max > 0 && contentLength > max {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, contentLength, max)
	}
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	}
	_, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key), nil
}

// ListKeys returns all object keys under a prefix.
func (s *S3) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// DeleteObject removes an object.
func (s *S3) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under a prefix. Best effort: the first
// error aborts and is returned.
func (s *S3) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	keys, err := s.ListKeys(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.DeleteObject(ctx, bucket, key); err != nil {
			return err
		}
	}
	return nil
}

// GeneratePresignedDownloadURL returns a time-boxed GET URL. An expired link
// requires re-issuance, not retry.
func (s *S3) GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
