package offload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/TheGojiOG/servervisor/internal/config"
)

// S3Destination stores files in AWS S3 or S3-compatible storage
type S3Destination struct {
	bucket string
	prefix string
	client *s3.S3
}

// NewS3Destination creates a new S3 destination. Without static keys the
// default AWS credential chain is used.
func NewS3Destination(cfg config.S3Config, prefix string) (*S3Destination, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s", cfg.Bucket, cfg.Region)
	return &S3Destination{
		bucket: cfg.Bucket,
		prefix: strings.Trim(path.Clean("/"+prefix), "/"),
		client: s3.New(sess),
	}, nil
}

func (sd *S3Destination) key(name string) string {
	return path.Join(sd.prefix, name)
}

// Upload puts r under name. PutObject needs a seekable body, so other
// readers are buffered in memory.
func (sd *S3Destination) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	key := sd.key(name)
	_, err := sd.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(sd.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("[S3Dest] Stored s3://%s/%s (%d bytes)", sd.bucket, key, size)
	return nil
}

// List returns every object under the prefix
func (sd *S3Destination) List(ctx context.Context) ([]RemoteFile, error) {
	prefix := sd.prefix
	if prefix != "" {
		prefix += "/"
	}

	var files []RemoteFile
	err := sd.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(sd.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			files = append(files, RemoteFile{
				Name:      name,
				SizeBytes: aws.Int64Value(obj.Size),
				ModTime:   aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return files, nil
}

// Delete removes name from the bucket
func (sd *S3Destination) Delete(ctx context.Context, name string) error {
	_, err := sd.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sd.bucket),
		Key:    aws.String(sd.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

func (sd *S3Destination) Type() string { return "s3" }

func (sd *S3Destination) Close() error { return nil }

func contentType(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return "application/gzip"
	}
	return "text/plain; charset=utf-8"
}
