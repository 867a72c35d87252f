// Package objectstore adapts S3 for replay, bracket and error-log blobs and
// for fetching submitted bots.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/acm-cmu/awap-matchmaking/internal/config"
	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
)

// S3 is a thin wrapper over the AWS client with the operations the storage
// handler needs.
type S3 struct {
	client *s3.S3
}

// NewS3 opens a session against AWS (or an S3-compatible endpoint when
// configured).
func NewS3(cfg *config.Config) (*S3, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.AWSRegion)
	if cfg.AWSClientKey != "" {
		awsCfg = awsCfg.WithCredentials(
			credentials.NewStaticCredentials(cfg.AWSClientKey, cfg.AWSClientSecret, ""))
	}
	if cfg.AWSEndpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.AWSEndpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("open aws session: %w", err)
	}
	return &S3{client: s3.New(sess)}, nil
}

// Upload writes body as bucket/key.
func (s *S3) Upload(ctx context.Context, bucket, key string, body []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return apperr.Transport("could not upload %s/%s", bucket, key).WithErr(err)
	}
	return nil
}

// Download fetches bucket/key into localPath.
func (s *S3) Download(ctx context.Context, bucket, key, localPath string) error {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperr.Transport("could not download %s/%s", bucket, key).WithErr(err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return apperr.IO("could not create %s", localPath).WithErr(err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(out.Body); err != nil {
		return apperr.IO("could not write %s", localPath).WithErr(err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for bucket/key.
func (s *S3) PresignGet(bucket, key string, ttl time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", apperr.Transport("could not presign %s/%s", bucket, key).WithErr(err)
	}
	return url, nil
}
