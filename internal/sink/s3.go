package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/galois26/meetup-city-events/internal/config"
)

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3Sink mirrors artifacts to s3://bucket/prefix/<stage>/<name>.
type s3Sink struct {
	client objectAPI
	bucket string
	prefix string
}

// NewS3 builds an S3 sink from the default AWS credential chain. If endpoint
// is set, path-style addressing is enabled (for MinIO and similar).
func NewS3(ctx context.Context, c config.S3Config) (Sink, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if c.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		})
	}
	return newS3Sink(s3.NewFromConfig(cfg, s3opts...), c.Bucket, c.Prefix), nil
}

func newS3Sink(client objectAPI, bucket, prefix string) *s3Sink {
	return &s3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *s3Sink) Name() string { return "s3" }

func (s *s3Sink) key(a Artifact) string {
	return path.Join(s.prefix, a.Stage, a.Name())
}

func (s *s3Sink) Push(ctx context.Context, a Artifact) error {
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(a)),
		Body:        bytes.NewReader(a.Data),
		ContentType: aws.String(ct),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", s.key(a), err)
	}
	return nil
}

func (s *s3Sink) Remove(ctx context.Context, a Artifact) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(a)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object %s: %w", s.key(a), err)
	}
	return nil
}
