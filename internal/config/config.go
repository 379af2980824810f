package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/create-ota-job/internal/cloud"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/logger"
)

// Config holds every tunable of a run. CLI positional arguments are not part of it.
type Config struct {
	// Region overrides the region resolved by the AWS SDK.
	Region string `yaml:"region,omitempty"`
	// Profile selects a shared AWS config profile.
	Profile string `yaml:"profile,omitempty"`
	// Partition is the ARN partition (aws, aws-cn, aws-us-gov).
	Partition string `yaml:"partition"`
	// SignedPrefix is the S3 key prefix the signer writes signed objects under.
	SignedPrefix string `yaml:"signed_prefix"`
	// PollInterval is the fixed delay between signing job status checks.
	PollInterval time.Duration `yaml:"poll_interval"`
	// SigningTimeout bounds the whole signing poll.
	SigningTimeout time.Duration `yaml:"signing_timeout"`
	// Protocols lists the transfer protocols advertised in the job document.
	Protocols []string `yaml:"protocols"`
	// PresignExpiry is the lifetime of the URL IoT signs for HTTP downloads.
	PresignExpiry time.Duration `yaml:"presign_expiry"`
	// Job contains the IoT job execution settings.
	Job JobConfig `yaml:"job"`
	// ReportFile is where the run report is written. ReportDisabled turns it off.
	ReportFile string `yaml:"report_file"`
	// PushgatewayURL enables pushing run metrics to a Prometheus Pushgateway.
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
	// LogLevel is the minimum level of log messages.
	LogLevel string `yaml:"log_level"`
	// SDKLogLevel is the minimum level of AWS SDK log messages, independent of LogLevel.
	SDKLogLevel string `yaml:"sdk_log_level"`
}

// JobConfig holds the CreateJob options that CreateOTAUpdate does not expose.
type JobConfig struct {
	// TimeoutMinutes is the in-progress timeout of each job execution. Nil means DefaultTimeoutMinutes.
	TimeoutMinutes *int64 `yaml:"timeout_minutes,omitempty"`
	// Retries is the number of retries per execution. Nil means DefaultRetries.
	Retries *int32 `yaml:"retries,omitempty"`
	// RetryFailureType is the failure type the retries apply to.
	RetryFailureType string `yaml:"retry_failure_type"`
	// TargetSelection is SNAPSHOT or CONTINUOUS.
	TargetSelection string `yaml:"target_selection"`
	// StartDelay is how far in the future the scheduled rollout starts. Nil means DefaultStartDelay.
	StartDelay *time.Duration `yaml:"start_delay,omitempty"`
	// Window is the duration of the scheduled rollout. Nil means DefaultWindow.
	Window *time.Duration `yaml:"window,omitempty"`
	// EndBehavior is applied to executions still pending when the window ends.
	EndBehavior string `yaml:"end_behavior"`
	// MaintenanceWindows are recurring rollout windows (CONTINUOUS jobs only).
	MaintenanceWindows []MaintenanceWindow `yaml:"maintenance_windows,omitempty"`
	// PackageVersions are Software Package Catalog version ARNs attached to the job.
	PackageVersions []string `yaml:"package_versions,omitempty"`
}

// MaintenanceWindow is a recurring window described by a cron expression.
type MaintenanceWindow struct {
	// StartTime is a cron expression, e.g. "cron(0 2 ? * SUN *)".
	StartTime string `yaml:"start_time"`
	// DurationMinutes is the length of the window.
	DurationMinutes int32 `yaml:"duration_minutes"`
}

const (
	// DefaultConfigFilename is the default filename for run settings.
	DefaultConfigFilename = "create-ota-job.yaml"

	// DefaultEnvFilename is the dotenv file loaded when present.
	DefaultEnvFilename = ".env"

	// DefaultReportFilename is the default run report path.
	DefaultReportFilename = "create-ota-job-report.yaml"

	// ReportDisabled as report_file disables the run report.
	ReportDisabled = "-"

	// DefaultPartition is the commercial AWS partition.
	DefaultPartition = "aws"

	// DefaultSignedPrefix matches the prefix CreateOTAUpdate uses for signed images.
	DefaultSignedPrefix = "SignedImage/"

	// DefaultPollInterval is the delay between signing job status checks.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultSigningTimeout bounds the signing poll.
	DefaultSigningTimeout = 5 * time.Minute

	// DefaultPresignExpiry is the lifetime of HTTP download URLs.
	DefaultPresignExpiry = time.Hour

	// DefaultTimeoutMinutes is the in-progress timeout of each execution.
	DefaultTimeoutMinutes int64 = 10

	// DefaultRetries is the number of retries per execution.
	DefaultRetries int32 = 3

	// DefaultRetryFailureType retries executions that timed out.
	DefaultRetryFailureType = "TIMED_OUT"

	// DefaultTargetSelection creates a one-shot job.
	DefaultTargetSelection = "SNAPSHOT"

	// DefaultStartDelay schedules the rollout one hour ahead.
	DefaultStartDelay = time.Hour

	// DefaultWindow keeps the rollout open for one hour.
	DefaultWindow = time.Hour

	// DefaultEndBehavior cancels executions left when the window closes.
	DefaultEndBehavior = "CANCEL"

	// DefaultLogLevel is the minimum log level.
	DefaultLogLevel = "info"

	// DefaultSDKLogLevel keeps AWS SDK output to warnings.
	DefaultSDKLogLevel = "warn"

	// DefaultFilePermissions is the file permission for config and report files.
	DefaultFilePermissions = 0o600

	maxTimeoutMinutes      = 10080
	maxRetries             = 10
	minWindow              = 30 * time.Minute
	maxMaintenanceDuration = 1440
	minPresignExpiry       = time.Minute
	maxPresignExpiry       = time.Hour
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid configuration")
)

// Default returns a configuration populated with default values.
func Default() *Config {
	cfg := new(Config)
	applyDefaults(cfg)

	return cfg
}

// Load reads configuration from the provided path and fills defaults.
// A missing file is not an error: the defaults are returned. The result is
// not validated so that command line overrides can still be applied.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// LoadEnv loads a dotenv file into the process environment without overriding
// variables that are already set. A missing DefaultEnvFilename is ignored.
func LoadEnv(path string) error {
	if path == "" {
		path = DefaultEnvFilename
	}

	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	if errors.Is(err, os.ErrNotExist) && path == DefaultEnvFilename {
		return nil
	}

	return fmt.Errorf("load env file %s: %w", path, err)
}

// Validate fills defaults and reports every invalid field at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	var result *multierror.Error

	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := cloud.DNSSuffix(cfg.Partition); err != nil {
		add("partition: %v", err)
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		add("log_level %q is not a known level", cfg.LogLevel)
	}

	if _, ok := logger.ParseLogLevel(cfg.SDKLogLevel); !ok {
		add("sdk_log_level %q is not a known level", cfg.SDKLogLevel)
	}

	if cfg.PollInterval <= 0 {
		add("poll_interval must be positive, got %s", cfg.PollInterval)
	}

	if cfg.SigningTimeout < cfg.PollInterval {
		add("signing_timeout %s is shorter than poll_interval %s", cfg.SigningTimeout, cfg.PollInterval)
	}

	if _, err := ota.ParseProtocols(cfg.Protocols); err != nil {
		add("protocols: %v", err)
	}

	if cfg.PresignExpiry < minPresignExpiry || cfg.PresignExpiry > maxPresignExpiry {
		add("presign_expiry must be within [%s, %s], got %s", minPresignExpiry, maxPresignExpiry, cfg.PresignExpiry)
	}

	if cfg.PushgatewayURL != "" {
		if _, err := url.ParseRequestURI(cfg.PushgatewayURL); err != nil {
			add("pushgateway_url: %v", err)
		}
	}

	validateJob(&cfg.Job, add)

	return result.ErrorOrNil()
}

// validateJob checks the job settings against the limits AWS IoT enforces.
func validateJob(job *JobConfig, add func(format string, args ...any)) {
	if timeout := *job.TimeoutMinutes; timeout < 1 || timeout > maxTimeoutMinutes {
		add("job.timeout_minutes must be within [1, %d], got %d", maxTimeoutMinutes, timeout)
	}

	if retries := *job.Retries; retries < 0 || retries > maxRetries {
		add("job.retries must be within [0, %d], got %d", maxRetries, retries)
	}

	if !slices.Contains([]string{"FAILED", "TIMED_OUT", "ALL"}, job.RetryFailureType) {
		add("job.retry_failure_type %q is not one of FAILED, TIMED_OUT, ALL", job.RetryFailureType)
	}

	if !slices.Contains([]string{"SNAPSHOT", "CONTINUOUS"}, job.TargetSelection) {
		add("job.target_selection %q is not one of SNAPSHOT, CONTINUOUS", job.TargetSelection)
	}

	if !slices.Contains([]string{"STOP_ROLLOUT", "CANCEL", "FORCE_CANCEL"}, job.EndBehavior) {
		add("job.end_behavior %q is not one of STOP_ROLLOUT, CANCEL, FORCE_CANCEL", job.EndBehavior)
	}

	if *job.StartDelay <= 0 {
		add("job.start_delay must be positive, got %s", *job.StartDelay)
	}

	if *job.Window < minWindow {
		add("job.window must be at least %s, got %s", minWindow, *job.Window)
	}

	if len(job.MaintenanceWindows) > 0 && job.TargetSelection != "CONTINUOUS" {
		add("job.maintenance_windows require CONTINUOUS target selection")
	}

	for i, window := range job.MaintenanceWindows {
		if !strings.HasPrefix(window.StartTime, "cron(") {
			add("job.maintenance_windows[%d].start_time %q is not a cron expression", i, window.StartTime)
		}

		if window.DurationMinutes < 1 || window.DurationMinutes > maxMaintenanceDuration {
			add("job.maintenance_windows[%d].duration_minutes must be within [1, %d], got %d",
				i, maxMaintenanceDuration, window.DurationMinutes)
		}
	}
}

// applyDefaults sets every zero-valued field to its default.
func applyDefaults(cfg *Config) {
	setDefault(&cfg.Partition, DefaultPartition)
	setDefault(&cfg.SignedPrefix, DefaultSignedPrefix)
	setDefault(&cfg.PollInterval, DefaultPollInterval)
	setDefault(&cfg.SigningTimeout, DefaultSigningTimeout)
	setDefault(&cfg.PresignExpiry, DefaultPresignExpiry)
	setDefault(&cfg.LogLevel, DefaultLogLevel)
	setDefault(&cfg.SDKLogLevel, DefaultSDKLogLevel)
	setDefault(&cfg.ReportFile, DefaultReportFilename)

	if len(cfg.Protocols) == 0 {
		cfg.Protocols = []string{string(ota.ProtocolMQTT)}
	}

	job := &cfg.Job
	setDefaultPtr(&job.TimeoutMinutes, DefaultTimeoutMinutes)
	setDefault(&job.RetryFailureType, DefaultRetryFailureType)
	setDefault(&job.TargetSelection, DefaultTargetSelection)
	setDefaultPtr(&job.StartDelay, DefaultStartDelay)
	setDefaultPtr(&job.Window, DefaultWindow)
	setDefault(&job.EndBehavior, DefaultEndBehavior)

	setDefaultPtr(&job.Retries, DefaultRetries)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// setDefaultPtr sets an unset optional field, keeping explicit zero values.
func setDefaultPtr[T any](field **T, value T) {
	if *field == nil {
		*field = &value
	}
}
