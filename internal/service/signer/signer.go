package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssigner "github.com/aws/aws-sdk-go-v2/service/signer"
	"github.com/aws/aws-sdk-go-v2/service/signer/types"

	"github.com/oshokin/create-ota-job/internal/cloud"
	"github.com/oshokin/create-ota-job/internal/config"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/logger"
	"github.com/oshokin/create-ota-job/internal/repository/objects"
)

// certnameParameter is the signing parameter naming the code signing certificate.
const certnameParameter = "certname"

var (
	// ErrSigningFailed is returned when the signing job ends in any status but Succeeded.
	ErrSigningFailed = errors.New("signing job failed")
	// ErrSigningTimeout is returned when the signing job is still running after the timeout.
	ErrSigningTimeout = errors.New("signing job timed out")
	// errNoSignedObject is returned when a succeeded job reports no output location.
	errNoSignedObject = errors.New("signing job reported no signed object")
)

// Request names the binary to sign.
type Request struct {
	Bucket            string
	Key               string
	ProfileName       string
	DestinationPrefix string
}

// Result is what signing produced.
type Result struct {
	// Request is the submitted request, pinned to the binary version that was signed.
	Request ota.SigningRequest
	// Job is the terminal state of the signing job.
	Job ota.SigningJob
	// Signed is the parsed signer output.
	Signed ota.SignedObject
}

// Signer runs signing jobs.
type Signer struct {
	// client talks to AWS Signer.
	client cloud.SignerAPI
	// store reads the raw binary version and the signed output.
	store *objects.Store
	// pollInterval is the fixed delay between status checks.
	pollInterval time.Duration
	// timeout bounds the wait for a terminal status.
	timeout time.Duration
}

// Option configures a Signer.
type Option func(*Signer)

// WithPollInterval sets the delay between status checks.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Signer) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithTimeout sets how long to wait for the signing job.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Signer) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// New creates a Signer.
func New(client cloud.SignerAPI, store *objects.Store, opts ...Option) *Signer {
	s := &Signer{
		client:       client,
		store:        store,
		pollInterval: config.DefaultPollInterval,
		timeout:      config.DefaultSigningTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sign signs the current version of the binary and reads back the signature.
func (s *Signer) Sign(ctx context.Context, req Request) (*Result, error) {
	source, err := s.store.CurrentVersion(ctx, req.Bucket, req.Key)
	if err != nil {
		return nil, fmt.Errorf("resolve binary version: %w", err)
	}

	signingRequest := ota.SigningRequest{
		Source:            source,
		ProfileName:       req.ProfileName,
		DestinationPrefix: req.DestinationPrefix,
	}

	logger.InfoKV(ctx, "Starting signing job", "source", source.String(), "profile", req.ProfileName)

	jobID, err := s.start(ctx, signingRequest)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "signing_job_id", jobID)

	out, err := s.wait(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job := ota.SigningJob{
		ID:              jobID,
		Status:          ota.SigningStatus(out.Status),
		StatusReason:    aws.ToString(out.StatusReason),
		CertificateName: out.SigningParameters[certnameParameter],
	}

	logger.InfoKV(ctx, "Signing job finished", "status", job.Status, "reason", job.StatusReason)

	if out.Status != types.SigningStatusSucceeded {
		return nil, fmt.Errorf("%w: %s (%s)", ErrSigningFailed, job.Status, job.StatusReason)
	}

	if out.SignedObject == nil || out.SignedObject.S3 == nil {
		return nil, errNoSignedObject
	}

	// Only the signed JSON exists at this key until the stream stage copies the raw binary over it.
	data, signedLocation, err := s.store.Read(ctx, ota.ObjectLocation{
		Bucket: aws.ToString(out.SignedObject.S3.BucketName),
		Key:    aws.ToString(out.SignedObject.S3.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("read signed object: %w", err)
	}

	signed, err := ota.ParseSignedObject(data)
	if err != nil {
		return nil, err
	}

	job.SignedObject = signedLocation

	logger.InfoKV(ctx, "Created signed object",
		"location", signedLocation.String(),
		"algorithm", signed.SignatureAlgorithm,
		"raw_payload_size", signed.RawPayloadSize,
	)

	return &Result{
		Request: signingRequest,
		Job:     job,
		Signed:  *signed,
	}, nil
}

// start submits the signing job and returns its id.
func (s *Signer) start(ctx context.Context, req ota.SigningRequest) (string, error) {
	out, err := s.client.StartSigningJob(ctx, &awssigner.StartSigningJobInput{
		Source: &types.Source{
			S3: &types.S3Source{
				BucketName: aws.String(req.Source.Bucket),
				Key:        aws.String(req.Source.Key),
				Version:    aws.String(req.Source.Version),
			},
		},
		Destination: &types.Destination{
			S3: &types.S3Destination{
				BucketName: aws.String(req.Source.Bucket),
				Prefix:     aws.String(req.DestinationPrefix),
			},
		},
		ProfileName: aws.String(req.ProfileName),
	})
	if err != nil {
		logger.ErrorKV(ctx, "Signing job was rejected", "error_code", cloud.ErrorCode(err))

		return "", fmt.Errorf("start signing job: %w", err)
	}

	return aws.ToString(out.JobId), nil
}

// wait polls the signing job until it is no longer in progress.
func (s *Signer) wait(ctx context.Context, jobID string) (*awssigner.DescribeSigningJobOutput, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		out, err := s.client.DescribeSigningJob(waitCtx, &awssigner.DescribeSigningJobInput{
			JobId: aws.String(jobID),
		})

		switch {
		case err != nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return nil, fmt.Errorf("%w after %s: %w", ErrSigningTimeout, s.timeout, err)
		case err != nil:
			return nil, fmt.Errorf("describe signing job: %w", err)
		case out.Status != types.SigningStatusInProgress:
			return out, nil
		}

		logger.DebugKV(ctx, "Signing job in progress", "attempt", attempt)

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("%w after %s", ErrSigningTimeout, s.timeout)
		case <-ticker.C:
		}
	}
}
