package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/damkit-io/go-damkit/upload/filehandle"
	"github.com/damkit-io/go-damkit/upload/network"
)

const numBucketCheckRetries = 3

// S3TransportParams configures the direct-S3 transport for deployments where
// the uploader holds scoped bucket credentials instead of pre-signed URLs.
type S3TransportParams struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Transport uploads parts with UploadPart calls against the multipart
// upload IDs issued by the backend at sequence initialization.
type S3Transport struct {
	client *s3.Client
	bucket string
	logger log.Logger
}

// NewS3Transport loads AWS credentials, verifies the bucket is reachable and
// returns the transport.
func NewS3Transport(ctx context.Context, params S3TransportParams, logger log.Logger) (*S3Transport, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	transport := &S3Transport{
		client: s3.NewFromConfig(*cfg),
		bucket: params.Bucket,
		logger: logger,
	}
	if err := transport.checkBucketWithRetry(ctx); err != nil {
		return nil, fmt.Errorf("validate bucket: %w", err)
	}

	return transport, nil
}

// UploadPart reads the part's byte range into memory (UploadPart requires a
// seekable body for signing) and uploads it against the part's S3 upload ID.
func (t *S3Transport) UploadPart(ctx context.Context, part *FilePart, handle filehandle.Handle) (string, error) {
	if part.S3UploadID == "" {
		return "", fmt.Errorf("part %d of file %d has no S3 upload ID", part.PartNumber, part.FileIndex)
	}

	reader, err := handle.ReadRange(part.StartByte, part.EndByte)
	if err != nil {
		return "", fmt.Errorf("read range [%d, %d): %w", part.StartByte, part.EndByte, err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			t.logger.Printf(err.Error())
		}
	}(reader)

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read part data: %w", err)
	}

	output, err := t.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(part.RelativeKey),
		UploadId:      aws.String(part.S3UploadID),
		PartNumber:    aws.Int32(int32(part.PartNumber)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", classifyS3Error(err)
	}

	return aws.ToString(output.ETag), nil
}

func (t *S3Transport) checkBucketWithRetry(ctx context.Context) error {
	return retry.Times(numBucketCheckRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(t.bucket),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				// Missing bucket or denied access won't fix itself.
				return fmt.Errorf("head bucket: %w", err), true
			}
			return fmt.Errorf("head bucket: %w", err), false
		}
		return nil, true
	})
}

// classifyS3Error maps throttling responses onto the shared rate-limit class
// so the engine applies the long fixed backoff to them too.
func classifyS3Error(err error) error {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return fmt.Errorf("s3 throttled: %w", &network.StatusError{
				StatusCode: http.StatusTooManyRequests,
				Body:       apiError.ErrorMessage(),
			})
		}
	}
	return fmt.Errorf("upload part: %w", err)
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		opts = append(opts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("aws credentials not defined, loading credentials from environment...")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
