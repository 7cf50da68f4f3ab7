package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/djgus/bucket2bucket/internal/config"
	"github.com/djgus/bucket2bucket/internal/notify"
	"github.com/djgus/bucket2bucket/internal/store"
	"github.com/djgus/bucket2bucket/internal/store/blobstore"
	"github.com/djgus/bucket2bucket/internal/store/miniostore"
	"github.com/djgus/bucket2bucket/internal/store/s3store"
)

// destination is an opened store plus the target inside it.
type destination struct {
	store  store.Store
	target store.Target
	close  func() error
}

func (d *destination) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

// openDestination picks the store implementation from the bucket URL scheme.
func openDestination(ctx context.Context, cfg config.Config, logger *slog.Logger) (*destination, error) {
	switch cfg.StoreKind() {
	case config.StoreS3:
		return openS3(ctx, cfg, logger)
	case config.StoreMinio:
		return openMinio(cfg, logger)
	default:
		return openBlob(ctx, cfg, logger)
	}
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}

func openS3(ctx context.Context, cfg config.Config, logger *slog.Logger) (*destination, error) {
	u, err := url.Parse(cfg.Bucket)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid bucket URL %q", cfg.Bucket)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
		o.UsePathStyle = cfg.AWS.PathStyle
		// Parts are retried by the transfer itself; SDK retries would
		// multiply the attempt count.
		o.RetryMaxAttempts = 1
	})

	return &destination{
		store:  s3store.New(client, logger),
		target: store.Target{Bucket: u.Host, Key: cfg.Object},
	}, nil
}

func openMinio(cfg config.Config, logger *slog.Logger) (*destination, error) {
	u, err := url.Parse(cfg.Bucket)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid bucket URL %q", cfg.Bucket)
	}
	bucket := strings.Trim(u.Path, "/")
	if bucket == "" || strings.Contains(bucket, "/") {
		return nil, fmt.Errorf("bucket URL %q must look like minio://host:port/bucket", cfg.Bucket)
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvMinio{},
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{Profile: cfg.AWS.Profile},
	})
	core, err := minio.NewCore(u.Host, &minio.Options{
		Creds:        creds,
		Secure:       u.Scheme == "minios",
		Region:       cfg.AWS.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &destination{
		store:  miniostore.New(core, logger),
		target: store.Target{Bucket: bucket, Key: cfg.Object},
	}, nil
}

func openBlob(ctx context.Context, cfg config.Config, logger *slog.Logger) (*destination, error) {
	bkt, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return &destination{
		store:  blobstore.New(bkt, logger),
		target: store.Target{Bucket: cfg.Bucket, Key: cfg.Object},
		close:  bkt.Close,
	}, nil
}

// openNotifier returns nil when no queue is configured.
func openNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.NotifyQueueURL == "" {
		return nil, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return notify.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.NotifyQueueURL, logger), nil
}
