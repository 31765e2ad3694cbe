// Package storage is the read-only view of the object store holding raw
// uploads and thumbnail derivatives.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"splicework.tv/mediasync/internal/config"
)

// ErrUnavailable marks object-store failures (network, auth, throttling).
// A failed listing yields no partial page; callers never see a truncated
// result dressed up as a complete one.
var ErrUnavailable = errors.New("object store unavailable")

// Object describes one stored object.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Inventory lists objects and issues time-limited signed access URLs against
// an S3-compatible bucket.
type Inventory struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewInventory builds an Inventory from the process AWS environment plus the
// bucket settings in conf. STORAGE_ENDPOINT switches to any S3-compatible
// store (MinIO, R2).
func NewInventory(ctx context.Context, conf config.Config) (*Inventory, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if conf.StorageRegion != "" {
		opts = append(opts, awsconfig.WithRegion(conf.StorageRegion))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.StorageEndpoint != "" {
			o.BaseEndpoint = aws.String(conf.StorageEndpoint)
			o.UsePathStyle = true
		}
	})

	return &Inventory{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  conf.StorageBucket,
	}, nil
}

// List returns every object under prefix. Pagination is walked to the end
// before anything is returned; any page failure discards the partial result.
func (inv *Inventory) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(inv.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(inv.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %q: %v", ErrUnavailable, prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// Head probes a single key. The second return value reports existence;
// transport failures surface as ErrUnavailable, never as "absent".
func (inv *Inventory) Head(ctx context.Context, key string) (Object, bool, error) {
	out, err := inv.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(inv.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return Object{}, false, nil
		}
		return Object{}, false, fmt.Errorf("%w: head %q: %v", ErrUnavailable, key, err)
	}

	return Object{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, true, nil
}

// SignedURL issues a presigned GET for key, valid until now + ttl.
func (inv *Inventory) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := inv.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(inv.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign %q: %v", ErrUnavailable, key, err)
	}
	return req.URL, nil
}
