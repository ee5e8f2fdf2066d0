package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"clocktrack/internal/config"
	"clocktrack/internal/encryption"
	"clocktrack/internal/tracker"
)

// S3Submitter writes each record version as its own object. Uploads are
// conditional on the key not existing, so a re-upload is a duplicate.
type S3Submitter struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	maxBatch int
	enc      tracker.Encryptor
}

// NewS3Submitter loads AWS configuration and builds the client. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Submitter(ctx context.Context, cfg config.RemoteConfig, enc tracker.Encryptor) (*S3Submitter, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 remote requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SubmitterFromClient(client, cfg.S3Bucket, cfg.S3Prefix, cfg.MaxBatchSize, enc), nil
}

// NewS3SubmitterFromClient wraps an existing client.
func NewS3SubmitterFromClient(client *s3.Client, bucket, prefix string, maxBatch int, enc tracker.Encryptor) *S3Submitter {
	if enc == nil {
		enc = encryption.NewPlainEncryptor()
	}
	return &S3Submitter{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		maxBatch: batchLimit(maxBatch),
		enc:      enc,
	}
}

// Limits returns the configured batch limit.
func (s *S3Submitter) Limits(context.Context) (tracker.Limits, error) {
	return tracker.Limits{MaxBatchSize: s.maxBatch}, nil
}

// Submit uploads records one by one. The first transport or authorization
// failure stops the batch and is reported for every record not yet sent.
func (s *S3Submitter) Submit(ctx context.Context, batch tracker.Batch) (tracker.BatchResult, error) {
	results := make([]tracker.RecordResult, 0, len(batch.Records))
	for i, r := range batch.Records {
		if err := ctx.Err(); err != nil {
			return tracker.BatchResult{}, err
		}

		body, err := encryption.Seal(s.enc, r.Payload)
		if err != nil {
			return tracker.BatchResult{}, fmt.Errorf("sealing %s %s: %w", batch.Type, r.ID, err)
		}
		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.objectKey(batch, r)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeInserted})
			continue
		}

		res := s.classify(r.ID, err)
		if res.Outcome == tracker.OutcomeDuplicate || res.Outcome == tracker.OutcomePermanent {
			results = append(results, res)
			continue
		}
		for _, rest := range batch.Records[i:] {
			results = append(results, tracker.RecordResult{ID: rest.ID, Outcome: res.Outcome, Code: res.Code, Message: res.Message})
		}
		break
	}
	return tally(results), nil
}

// Ping checks that the bucket is reachable with the current credentials.
func (s *S3Submitter) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if status, ok := httpStatus(err); ok {
		return StatusError(status, err.Error())
	}
	return TransportError("head bucket", err)
}

func (s *S3Submitter) objectKey(batch tracker.Batch, r tracker.Record) string {
	return path.Join(s.prefix, string(batch.Type), fileName(r.Key))
}

func (s *S3Submitter) classify(id string, err error) tracker.RecordResult {
	status, ok := httpStatus(err)
	if !ok {
		return tracker.RecordResult{ID: id, Outcome: tracker.OutcomeTransient, Code: "network", Message: err.Error()}
	}
	if status == http.StatusPreconditionFailed {
		return tracker.RecordResult{ID: id, Outcome: tracker.OutcomeDuplicate}
	}
	code := fmt.Sprint(status)
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code = ae.ErrorCode()
	}
	outcome := Classify(status)
	// Concurrent conditional writes to the same key surface as 409.
	if status == http.StatusConflict {
		outcome = tracker.OutcomeTransient
	}
	return tracker.RecordResult{ID: id, Outcome: outcome, Code: code, Message: err.Error()}
}

func httpStatus(err error) (int, bool) {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode(), true
	}
	return 0, false
}

var _ tracker.Submitter = (*S3Submitter)(nil)
