package vfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/spaghettifunk/anima-resources/engine/core"
)

// S3Client is the subset of *s3.Client the S3 filesystem needs.
type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 serves resources from objects under a bucket prefix.
type S3 struct {
	client  S3Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3 creates an S3 filesystem. Object keys are prefix joined with the resource path.
func NewS3(client S3Client, bucket, prefix string) *S3 {
	return &S3{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		timeout: 30 * time.Second,
	}
}

// SetTimeout bounds every request issued by the filesystem.
func (s *S3) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *S3) key(p string) string {
	return strings.TrimPrefix(path.Join(s.prefix, p), "/")
}

func (s *S3) Exists(p string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	return err == nil
}

func (s *S3) LoadInto(p string, dst []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return dst, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key(p), core.ErrNotFound)
		}
		return dst, err
	}
	defer func() { _ = resp.Body.Close() }()

	from := len(dst)
	out, err := readAppend(dst, resp.Body, aws.ToInt64(resp.ContentLength))
	if err != nil {
		return dst[:from], err
	}
	return out, nil
}
