package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/filecollect/file-registry-backend/common"
	"github.com/filecollect/file-registry-backend/interfaces"
)

// S3Backend implements a storage backend using Amazon S3 or compatible
// services. The client is constructed lazily on first use; concurrent
// first-users share one construction.
type S3Backend struct {
	client *common.Lazy[*s3.S3]

	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 storage backend. Empty accessKey/secretKey
// fall back to the SDK's default credential chain.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("%w: empty S3 bucket name", interfaces.ErrInvalidLocationURI)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	client := common.NewLazy(func() (*s3.S3, error) {
		sess, err := session.NewSession(&cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		return s3.New(sess), nil
	})

	return &S3Backend{
		client:      client,
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Upload stores data under a hash-derived key and returns the canonical
// s3:// URL.
func (b *S3Backend) Upload(ctx context.Context, data []byte, hash interfaces.FileHash) (string, error) {
	start := time.Now()
	key := b.objectKey(hash)

	client, err := b.client.Get()
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	_, err = client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object to S3: %w", err)
	}

	objectURL := fmt.Sprintf("s3://%s/%s", b.bucketName, key)
	b.log.Debug("Stored content in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return objectURL, nil
}

// Download retrieves an object by its canonical URL. Returns
// ErrContentNotFound if the object doesn't exist.
func (b *S3Backend) Download(ctx context.Context, objectURL string) ([]byte, error) {
	start := time.Now()
	key, err := b.keyFromURL(objectURL)
	if err != nil {
		return nil, err
	}

	client, err := b.client.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	result, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Fetched content from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Delete removes the object at the URL, or every object under it when the
// URL ends with a slash. Returns the deleted keys.
func (b *S3Backend) Delete(ctx context.Context, urlOrPrefix string) ([]string, error) {
	client, err := b.client.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	key, err := b.keyFromURL(urlOrPrefix)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(urlOrPrefix, "/") {
		_, err := client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to delete object from S3: %w", err)
		}
		return []string{key}, nil
	}

	var deleted []string
	err = client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(key),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			_, delErr := client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucketName),
				Key:    obj.Key,
			})
			if delErr != nil {
				b.log.Warn("Failed to delete object during prefix delete",
					slog.String("key", aws.StringValue(obj.Key)),
					"err", delErr)
				continue
			}
			deleted = append(deleted, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return deleted, fmt.Errorf("failed to list objects for prefix delete: %w", err)
	}

	return deleted, nil
}

// Exists checks whether an object is present at the URL.
func (b *S3Backend) Exists(ctx context.Context, objectURL string) (bool, error) {
	key, err := b.keyFromURL(objectURL)
	if err != nil {
		return false, err
	}

	client, err := b.client.Get()
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	_, err = client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object: %w", err)
	}
	return true, nil
}

// SignURL issues a presigned GET URL valid for ttl. Evaluated fresh on
// every call so issued URLs always carry a full expiration window.
func (b *S3Backend) SignURL(ctx context.Context, objectURL string, ttl time.Duration) (string, error) {
	key, err := b.keyFromURL(objectURL)
	if err != nil {
		return "", err
	}

	client, err := b.client.Get()
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	req, _ := client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)

	signed, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("failed to presign S3 URL: %w", err)
	}
	return signed, nil
}

// Available checks if the S3 backend is accessible by heading the bucket.
func (b *S3Backend) Available(ctx context.Context) bool {
	client, err := b.client.Get()
	if err != nil {
		return false
	}

	start := time.Now()
	_, err = client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(hash interfaces.FileHash) string {
	if b.prefix == "" {
		return hash.String()
	}
	return path.Join(b.prefix, hash.String())
}

// keyFromURL extracts the object key from an s3:// URL, verifying the
// bucket matches this backend.
func (b *S3Backend) keyFromURL(objectURL string) (string, error) {
	u, err := url.Parse(objectURL)
	if err != nil || u.Scheme != "s3" {
		return "", fmt.Errorf("%w: %q is not an s3 URL", interfaces.ErrInvalidLocationURI, objectURL)
	}
	if u.Host != b.bucketName {
		return "", fmt.Errorf("%w: bucket %q does not match backend bucket %q", interfaces.ErrInvalidLocationURI, u.Host, b.bucketName)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty object key in %q", interfaces.ErrInvalidLocationURI, objectURL)
	}
	return key, nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound", "NoSuchBucket":
			return true
		}
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404")
}
