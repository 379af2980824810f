package creator

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/create-ota-job/internal/cloud"
	"github.com/oshokin/create-ota-job/internal/config"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/logger"
)

// Options contains inputs for the create-ota-job entry point.
type Options struct {
	// ConfigPath is an optional YAML configuration file (defaults to create-ota-job.yaml).
	ConfigPath string
	// EnvFile is a dotenv file loaded before AWS configuration is resolved.
	EnvFile string
	// Target names the binary and the AWS resources to work with.
	Target Target
	// Configure applies command line overrides on top of the loaded configuration.
	Configure func(cfg *config.Config)
}

// Target holds the positional arguments of a run.
type Target struct {
	// BinaryKey is the S3 key of the unsigned firmware binary.
	BinaryKey string
	// Bucket is the versioned S3 bucket holding the binary.
	Bucket string
	// SigningProfile is the AWS Signer profile name.
	SigningProfile string
	// Role is the IAM role name or ARN IoT assumes to read the firmware.
	Role string
	// ThingGroup is the target thing group name or ARN.
	ThingGroup string
	// JobID is the job id without the AFR_OTA- prefix.
	JobID string
}

// errMissingArgument is returned when a positional argument is empty.
var errMissingArgument = errors.New("missing argument")

// Run loads configuration, connects to AWS and executes the workflow.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "create-ota-job")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if err = logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}

	if err = opts.Target.validate(); err != nil {
		return err
	}

	clients, err := cloud.New(ctx, cloud.Options{
		Region:      cfg.Region,
		Profile:     cfg.Profile,
		SDKLogLevel: cfg.SDKLogLevel,
	})
	if err != nil {
		return fmt.Errorf("initialize AWS clients: %w", err)
	}

	report, err := Execute(ctx, cfg, opts.Target, clients)
	if err != nil {
		return fmt.Errorf("create OTA job: %w", err)
	}

	logger.InfoKV(ctx, "OTA job created successfully",
		"job_id", report.Job.ID,
		"job_arn", report.Job.ARN,
		"stream_id", report.Stream.ID,
	)

	return nil
}

// loadConfig reads the environment and configuration files, applies the
// command line overrides and validates the merged result once.
func loadConfig(opts *Options) (*config.Config, error) {
	if err := config.LoadEnv(opts.EnvFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if opts.Configure != nil {
		opts.Configure(cfg)
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects empty arguments and job ids IoT would refuse.
func (t Target) validate() error {
	args := []struct {
		name  string
		value string
	}{
		{"binary key", t.BinaryKey},
		{"bucket", t.Bucket},
		{"signing profile", t.SigningProfile},
		{"role", t.Role},
		{"thing group", t.ThingGroup},
		{"job id", t.JobID},
	}

	for _, arg := range args {
		if arg.value == "" {
			return fmt.Errorf("%w: %s", errMissingArgument, arg.name)
		}
	}

	return ota.ValidateJobID(t.JobID)
}
