// Package objstore is the durable attachment store. Keys map to permanently
// valid public URLs; no signed-URL expiry is assumed.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

// Store uploads binary attachments and returns their public URL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// S3Store stores attachments in an S3 bucket.
type S3Store struct {
	client    *s3.Client
	bucket    string
	region    string
	publicURL string
}

// NewS3Store builds the S3-backed attachment store from ambient AWS
// credentials.
func NewS3Store(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: object store bucket is not set", apperrors.ErrConfiguration)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Store{
		client:    s3.NewFromConfig(awsCfg),
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// Put uploads data under key and returns the public URL the row should
// persist.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	url := s.objectURL(key)
	logger.FromContext(ctx).Debug("Uploaded attachment",
		zap.String("key", key),
		zap.Int("size", len(data)),
		zap.String("url", url))
	return url, nil
}

func (s *S3Store) objectURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
