package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"
)

const numAccessCheckRetries = 3

// Chunks are complete local files and are sent as a single part; S3
// caps a single part at 5 GiB.
const maxSinglePartSize = 5 * units.GiB

// Uploader pushes one completed local chunk file to the object store
// under a computed key.
type Uploader interface {
	Upload(ctx context.Context, localPath string, key string) error
}

// ClientParams ...
type ClientParams struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// credentialSource is the resolution strategy selected once at client
// construction: an explicit key pair from the configuration, a key pair
// found in the environment, or the SDK default chain (instance role and
// friends).
type credentialSource int

const (
	credentialsExplicit credentialSource = iota
	credentialsEnvironment
	credentialsDefaultChain
)

func resolveCredentialSource(params ClientParams, envRepo env.Repository) credentialSource {
	if params.AccessKeyID != "" && params.SecretAccessKey != "" {
		return credentialsExplicit
	}
	if envRepo.Get("AWS_ACCESS_KEY_ID") != "" && envRepo.Get("AWS_SECRET_ACCESS_KEY") != "" {
		return credentialsEnvironment
	}
	return credentialsDefaultChain
}

// S3Uploader holds one task's S3 client. It keeps no other state; the
// same client uploads every chunk of the task.
type S3Uploader struct {
	client *s3.Client
	bucket string
	logger log.Logger
}

// NewS3Uploader builds the S3 client for one task and probes bucket
// access, so credential problems surface before the task stages any
// data.
func NewS3Uploader(ctx context.Context, params ClientParams, envRepo env.Repository, logger log.Logger) (*S3Uploader, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(newTransportClient()),
	}
	if params.Region != "" {
		opts = append(opts, awsconfig.WithRegion(params.Region))
	}

	switch resolveCredentialSource(params, envRepo) {
	case credentialsExplicit:
		logger.Debugf("Using the access key pair from the configuration")
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	case credentialsEnvironment:
		logger.Debugf("Using the access key pair from the environment")
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				envRepo.Get("AWS_ACCESS_KEY_ID"),
				envRepo.Get("AWS_SECRET_ACCESS_KEY"),
				envRepo.Get("AWS_SESSION_TOKEN"))))
	case credentialsDefaultChain:
		logger.Debugf("Using the default credential chain")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(ensureScheme(params.Endpoint))
			o.UsePathStyle = true
		}
	})

	if err := checkBucketAccess(ctx, client, params.Bucket); err != nil {
		return nil, err
	}

	return &S3Uploader{
		client: client,
		bucket: params.Bucket,
		logger: logger,
	}, nil
}

// Upload transmits the file at localPath to bucket/key, overwriting any
// object already stored under that key. A resumed task recomputes the
// same key for an unconfirmed chunk, so the overwrite makes re-upload
// safe. Failures are not retried here; resume is the only retry path.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open chunk file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat chunk file: %w", err)
	}

	u.logger.Infof("Uploading chunk (%s) to s3://%s/%s",
		units.HumanSizeWithPrecision(float64(info.Size()), 3), u.bucket, key)

	uploader := manager.NewUploader(u.client, func(up *manager.Uploader) {
		up.Concurrency = 1
		up.PartSize = maxSinglePartSize
	})
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
	}); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	return nil
}

func checkBucketAccess(ctx context.Context, client *s3.Client, bucket string) error {
	return retry.Times(numAccessCheckRetries).Wait(2 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(bucket),
		})
		if err == nil {
			return nil, true
		}
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			// A denied or missing bucket will not get better on retry.
			return fmt.Errorf("access check for bucket %s: %w", bucket, err), true
		}
		return fmt.Errorf("access check for bucket %s: %w", bucket, err), false
	})
}

// newTransportClient hands the SDK an HTTP client with transport-level
// retries. Completed chunk uploads are never replayed at this level; a
// failed upload propagates to the pipeline.
func newTransportClient() *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return client.StandardClient()
}

func ensureScheme(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}
