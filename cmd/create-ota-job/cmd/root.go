package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oshokin/create-ota-job/internal/config"
	"github.com/oshokin/create-ota-job/internal/service/creator"
	"github.com/oshokin/create-ota-job/internal/version"
)

// overrides holds flag values that replace configuration file settings when set.
type overrides struct {
	logLevel         string
	sdkLogLevel      string
	region           string
	profile          string
	protocols        []string
	timeoutMinutes   int64
	retries          int32
	retryFailureType string
	startDelay       time.Duration
	window           time.Duration
	endBehavior      string
	targetSelection  string
	reportFile       string
	pushgatewayURL   string
}

var (
	// configPath to the configuration YAML file.
	configPath string
	// envFile is the dotenv file loaded before AWS configuration.
	envFile string
	// flagValues are applied on top of the configuration file.
	flagValues overrides

	// rootCmd represents the base command for creating an OTA update job.
	rootCmd = &cobra.Command{
		Use:   "create-ota-job [binary-key] [bucket] [signing-profile] [ota-role] [thing-group] [job-id]",
		Short: "Create an AWS IoT OTA update job step by step.",
		Long: `Signs a firmware binary with AWS Signer, creates an IoT stream for it,
builds the OTA job document and submits an IoT job to a thing group.

Unlike CreateOTAUpdate, the job is created directly, so retries, scheduling,
target selection, maintenance windows and package versions can be set.
The job id is prefixed with AFR_OTA- and must not exist yet.`,
		Args: cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Errors are logged by the workflow.
			cmd.SilenceUsage = true

			options := &creator.Options{
				ConfigPath: configPath,
				EnvFile:    envFile,
				Target: creator.Target{
					BinaryKey:      args[0],
					Bucket:         args[1],
					SigningProfile: args[2],
					Role:           args[3],
					ThingGroup:     args[4],
					JobID:          args[5],
				},
				Configure: func(cfg *config.Config) {
					applyOverrides(cmd.Flags(), cfg)
				},
			}

			return creator.Run(ctx, options)
		},
	}
)

// Execute runs the create-ota-job CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyOverrides copies the flags the user set into cfg.
func applyOverrides(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("log-level", func() { cfg.LogLevel = flagValues.logLevel })
	set("sdk-log-level", func() { cfg.SDKLogLevel = flagValues.sdkLogLevel })
	set("region", func() { cfg.Region = flagValues.region })
	set("profile", func() { cfg.Profile = flagValues.profile })
	set("protocol", func() { cfg.Protocols = flagValues.protocols })
	set("timeout-minutes", func() { cfg.Job.TimeoutMinutes = &flagValues.timeoutMinutes })
	set("retries", func() { cfg.Job.Retries = &flagValues.retries })
	set("retry-failure-type", func() { cfg.Job.RetryFailureType = flagValues.retryFailureType })
	set("start-delay", func() { cfg.Job.StartDelay = &flagValues.startDelay })
	set("window", func() { cfg.Job.Window = &flagValues.window })
	set("end-behavior", func() { cfg.Job.EndBehavior = flagValues.endBehavior })
	set("target-selection", func() { cfg.Job.TargetSelection = flagValues.targetSelection })
	set("report", func() { cfg.ReportFile = flagValues.reportFile })
	set("pushgateway", func() { cfg.PushgatewayURL = flagValues.pushgatewayURL })
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVar(&envFile, "env-file", config.DefaultEnvFilename, "dotenv file with AWS settings")
	flags.StringVar(&flagValues.logLevel, "log-level", config.DefaultLogLevel, "minimum log level")
	flags.StringVar(&flagValues.sdkLogLevel, "sdk-log-level", config.DefaultSDKLogLevel, "minimum level of AWS SDK logs")
	flags.StringVar(&flagValues.region, "region", "", "AWS region (defaults to the SDK chain)")
	flags.StringVar(&flagValues.profile, "profile", "", "shared AWS config profile")
	flags.StringSliceVar(&flagValues.protocols, "protocol", []string{"MQTT"}, "transfer protocol: MQTT, HTTP (repeatable)")
	flags.Int64Var(&flagValues.timeoutMinutes, "timeout-minutes", config.DefaultTimeoutMinutes,
		"in-progress timeout of each job execution")
	flags.Int32Var(&flagValues.retries, "retries", config.DefaultRetries, "retries per job execution, 0 disables")
	flags.StringVar(&flagValues.retryFailureType, "retry-failure-type", config.DefaultRetryFailureType,
		"failure type retried: FAILED, TIMED_OUT, ALL")
	flags.DurationVar(&flagValues.startDelay, "start-delay", config.DefaultStartDelay, "delay before the rollout starts")
	flags.DurationVar(&flagValues.window, "window", config.DefaultWindow, "duration of the rollout window")
	flags.StringVar(&flagValues.endBehavior, "end-behavior", config.DefaultEndBehavior,
		"behavior at window end: STOP_ROLLOUT, CANCEL, FORCE_CANCEL")
	flags.StringVar(&flagValues.targetSelection, "target-selection", config.DefaultTargetSelection,
		"SNAPSHOT or CONTINUOUS")
	flags.StringVar(&flagValues.reportFile, "report", config.DefaultReportFilename,
		"path of the run report, - disables it")
	flags.StringVar(&flagValues.pushgatewayURL, "pushgateway", "", "Prometheus Pushgateway URL for run metrics")
}
