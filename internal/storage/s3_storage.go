package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"afriverse/core/internal/config"
)

// Bucket selects one of the three object stores.
type Bucket string

const (
	BucketListingImages Bucket = "listing-images"
	BucketAvatars       Bucket = "avatars"
	BucketModels        Bucket = "3d-models"
)

// IS3Storage defines the interface for S3 operations across the three
// buckets: listing photos, avatars, and generated 3D models.
type IS3Storage interface {
	// GeneratePresignedPutURL creates a pre-signed upload URL in the given
	// bucket and returns the URL plus the generated object key.
	GeneratePresignedPutURL(ctx context.Context, bucket Bucket, ownerID, filename, contentType string) (string, string, error)
	// Upload writes an object directly. Used by background workers re-hosting
	// generated assets; interactive uploads go through presigned URLs.
	Upload(ctx context.Context, bucket Bucket, key string, body io.Reader, contentType string) error
	Download(ctx context.Context, bucket Bucket, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucket Bucket, key string) error
	// PublicURL returns the client-facing URL for a stored object.
	PublicURL(bucket Bucket, key string) string
	Client() *s3.Client
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	buckets       map[Bucket]string
}

// NewS3Storage creates a new S3 storage service.
func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		// Static credentials from config. Production deployments should use
		// IAM roles instead.
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"", // session token
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	presignClient := s3.NewPresignClient(s3Client)

	return &s3Storage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: presignClient,
		buckets: map[Bucket]string{
			BucketListingImages: cfg.ListingImagesBucket,
			BucketAvatars:       cfg.AvatarsBucket,
			BucketModels:        cfg.ModelsBucket,
		},
	}, nil
}

func (s *s3Storage) bucketName(bucket Bucket) (string, error) {
	name, ok := s.buckets[bucket]
	if !ok || name == "" {
		return "", fmt.Errorf("no S3 bucket configured for %q", bucket)
	}
	return name, nil
}

// sanitizeFilename keeps only the base name and replaces characters that have
// no business in an object key.
func sanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if cleaned == "" || cleaned == "." {
		cleaned = "upload"
	}
	return cleaned
}

// GeneratePresignedPutURL creates a pre-signed URL for uploading an object.
// It returns the URL and the generated S3 object key.
func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, bucket Bucket, ownerID, filename, contentType string) (string, string, error) {
	bucketName, err := s.bucketName(bucket)
	if err != nil {
		return "", "", err
	}

	objectKey := fmt.Sprintf("%s/%s_%s", ownerID, uuid.NewString(), sanitizeFilename(filename))
	expiration := 15 * time.Minute

	presignParams := &s3.PutObjectInput{
		Bucket:      aws.String(bucketName),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}

	presignedReq, err := s.presignClient.PresignPutObject(ctx, presignParams, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}

	log.Printf("Generated presigned URL in bucket %s for key: %s", bucketName, objectKey)
	return presignedReq.URL, objectKey, nil
}

// Upload writes an object directly to the given bucket.
func (s *s3Storage) Upload(ctx context.Context, bucket Bucket, key string, body io.Reader, contentType string) error {
	bucketName, err := s.bucketName(bucket)
	if err != nil {
		return err
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s to bucket %s: %w", key, bucketName, err)
	}
	return nil
}

// Download fetches an object's body. The caller must close it.
func (s *s3Storage) Download(ctx context.Context, bucket Bucket, key string) (io.ReadCloser, error) {
	bucketName, err := s.bucketName(bucket)
	if err != nil {
		return nil, err
	}

	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucketName, err)
	}
	return out.Body, nil
}

// DeleteObject removes an object from the given bucket.
func (s *s3Storage) DeleteObject(ctx context.Context, bucket Bucket, key string) error {
	bucketName, err := s.bucketName(bucket)
	if err != nil {
		return err
	}

	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s from bucket %s: %w", key, bucketName, err)
	}
	return nil
}

// PublicURL returns the client-facing URL for a stored object, routed through
// the configured asset base (CDN or direct S3).
func (s *s3Storage) PublicURL(bucket Bucket, key string) string {
	bucketName, err := s.bucketName(bucket)
	if err != nil {
		return ""
	}
	if s.cfg.AssetBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.AssetBaseURL, "/"), bucketName, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucketName, s.cfg.AwsRegion, key)
}

// Client exposes the raw S3 client for task handlers doing bulk operations.
func (s *s3Storage) Client() *s3.Client {
	return s.s3Client
}
