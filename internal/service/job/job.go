package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/iot/types"

	"github.com/oshokin/create-ota-job/internal/cloud"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/logger"
)

var (
	// ErrJobExists is returned when the job id is already taken.
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidSpec is returned for specs CreateJob would reject.
	ErrInvalidSpec = errors.New("invalid job spec")
)

// Submitter creates IoT jobs.
type Submitter struct {
	// client talks to AWS IoT.
	client cloud.IoTAPI
}

// New creates a Submitter.
func New(client cloud.IoTAPI) *Submitter {
	return &Submitter{client: client}
}

// Exists reports whether a job with the prefixed id is already known to IoT.
func (s *Submitter) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.DescribeJob(ctx, &iot.DescribeJobInput{
		JobId: aws.String(ota.JobID(id)),
	})

	var notFound *types.ResourceNotFoundException

	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &notFound):
		return false, nil
	default:
		return false, fmt.Errorf("describe job %s: %w", ota.JobID(id), err)
	}
}

// Submit creates the job described by spec.
func (s *Submitter) Submit(ctx context.Context, spec *ota.JobSpec) (*ota.Job, error) {
	input, err := buildInput(spec)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Creating job",
		"target", spec.Target,
		"start", spec.Schedule.StartString(),
		"end", spec.Schedule.EndString(),
		"retries", spec.Retry.NumberOfRetries,
	)

	out, err := s.client.CreateJob(ctx, input)
	if err != nil {
		logger.ErrorKV(ctx, "Job was rejected", "error_code", cloud.ErrorCode(err))

		var exists *types.ResourceAlreadyExistsException
		if errors.As(err, &exists) {
			return nil, fmt.Errorf("%w: %s: %w", ErrJobExists, aws.ToString(input.JobId), err)
		}

		return nil, fmt.Errorf("create job %s: %w", aws.ToString(input.JobId), err)
	}

	job := &ota.Job{
		ID:          aws.ToString(out.JobId),
		ARN:         aws.ToString(out.JobArn),
		Description: aws.ToString(out.Description),
	}

	logger.InfoKV(ctx, "Created job", "job_arn", job.ARN)

	return job, nil
}

// Description is the default job description, matching what CreateOTAUpdate would show.
func Description(id string) string {
	return "AWS job for deconstructed OTAUpdateJobId = " + id
}

// buildInput maps a spec to CreateJob parameters.
func buildInput(spec *ota.JobSpec) (*iot.CreateJobInput, error) {
	if err := ota.ValidateJobID(spec.ID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}

	switch {
	case spec.Target == "":
		return nil, fmt.Errorf("%w: no target", ErrInvalidSpec)
	case len(spec.Document) == 0:
		return nil, fmt.Errorf("%w: empty document", ErrInvalidSpec)
	case !spec.Schedule.End.After(spec.Schedule.Start):
		return nil, fmt.Errorf("%w: schedule ends before it starts", ErrInvalidSpec)
	case len(spec.MaintenanceWindows) > 0 && spec.TargetSelection != string(types.TargetSelectionContinuous):
		return nil, fmt.Errorf("%w: maintenance windows require a CONTINUOUS job", ErrInvalidSpec)
	case spec.PresignedURL != nil && spec.PresignedURL.RoleARN == "":
		return nil, fmt.Errorf("%w: pre-signed URLs need a role", ErrInvalidSpec)
	}

	description := spec.Description
	if description == "" {
		description = Description(spec.ID)
	}

	input := &iot.CreateJobInput{
		JobId:           aws.String(ota.JobID(spec.ID)),
		Targets:         []string{spec.Target},
		Document:        aws.String(string(spec.Document)),
		Description:     aws.String(description),
		TargetSelection: types.TargetSelection(spec.TargetSelection),
		SchedulingConfig: &types.SchedulingConfig{
			StartTime:   aws.String(spec.Schedule.StartString()),
			EndTime:     aws.String(spec.Schedule.EndString()),
			EndBehavior: types.JobEndBehavior(spec.Schedule.EndBehavior),
		},
	}

	if spec.TimeoutMinutes > 0 {
		input.TimeoutConfig = &types.TimeoutConfig{
			InProgressTimeoutInMinutes: aws.Int64(spec.TimeoutMinutes),
		}
	}

	if spec.Retry.NumberOfRetries > 0 {
		input.JobExecutionsRetryConfig = &types.JobExecutionsRetryConfig{
			CriteriaList: []types.RetryCriteria{
				{
					FailureType:     types.RetryableFailureType(spec.Retry.FailureType),
					NumberOfRetries: aws.Int32(spec.Retry.NumberOfRetries),
				},
			},
		}
	}

	for _, window := range spec.MaintenanceWindows {
		input.SchedulingConfig.MaintenanceWindows = append(input.SchedulingConfig.MaintenanceWindows,
			types.MaintenanceWindow{
				StartTime:         aws.String(window.StartTime),
				DurationInMinutes: aws.Int32(window.DurationMinutes),
			})
	}

	if cfg := spec.PresignedURL; cfg != nil {
		input.PresignedUrlConfig = &types.PresignedUrlConfig{
			RoleArn:      aws.String(cfg.RoleARN),
			ExpiresInSec: aws.Int64(int64(cfg.ExpiresIn / time.Second)),
		}
	}

	if len(spec.PackageVersions) > 0 {
		input.DestinationPackageVersions = append([]string(nil), spec.PackageVersions...)
	}

	return input, nil
}
