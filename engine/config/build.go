package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spaghettifunk/anima-resources/engine/vfs"
)

// BuildFilesystem creates the filesystem described by m, wrapped in
// vfs.Compressed when requested. Remote clients are configured but not
// contacted.
func BuildFilesystem(ctx context.Context, m MountConfig) (vfs.Filesystem, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var (
		fs  vfs.Filesystem
		err error
	)
	switch m.Kind {
	case KindMemory:
		fs = vfs.NewMemory()
	case KindDirectory:
		fs, err = vfs.NewDirectory(m.Root)
	case KindS3:
		fs, err = buildS3(ctx, m)
	case KindMinio:
		fs, err = buildMinio(m)
	}
	if err != nil {
		return nil, fmt.Errorf("mount %q: %w", m.ID, err)
	}

	if m.Compressed {
		fs = vfs.NewCompressed(fs)
	}
	return fs, nil
}

func buildS3(ctx context.Context, m MountConfig) (*vfs.S3, error) {
	region := m.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if m.AccessKey != "" && m.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(m.AccessKey, m.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if m.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(m.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}
	return vfs.NewS3(client, m.Bucket, m.Prefix), nil
}

func buildMinio(m MountConfig) (*vfs.Minio, error) {
	client, err := minio.New(m.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(m.AccessKey, m.SecretKey, ""),
		Secure: m.Secure,
		Region: m.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return vfs.NewMinio(client, m.Bucket, m.Prefix), nil
}
