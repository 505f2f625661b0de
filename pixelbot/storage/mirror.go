package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Mirror uploads dated backups to an S3-compatible bucket (DigitalOcean
// Spaces style endpoint). It is optional: a nil *Mirror disables offsite
// copies.
type Mirror struct {
	client *s3.Client
	bucket string
	root   string
}

func NewMirror(key, secret, region, bucket, root string) (*Mirror, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	return &Mirror{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		root:   strings.Trim(root, "/"),
	}, nil
}

func (m *Mirror) Upload(ctx context.Context, name string, data []byte) error {
	key := name
	if m.root != "" {
		key = path.Join(m.root, name)
	}
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		ACL:    "private",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
