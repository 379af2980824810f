package creator

import (
	"context"
	"fmt"
	"time"

	"github.com/oshokin/create-ota-job/internal/cloud"
	"github.com/oshokin/create-ota-job/internal/config"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/logger"
	"github.com/oshokin/create-ota-job/internal/metrics"
	"github.com/oshokin/create-ota-job/internal/repository/objects"
	"github.com/oshokin/create-ota-job/internal/repository/report"
	"github.com/oshokin/create-ota-job/internal/service/job"
	"github.com/oshokin/create-ota-job/internal/service/signer"
	"github.com/oshokin/create-ota-job/internal/service/stream"
	"github.com/oshokin/create-ota-job/internal/version"
)

// StageError reports the stage a run failed in.
type StageError struct {
	// Stage is the stage that could not be completed.
	Stage ota.Stage
	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *StageError) Error() string {
	return e.Stage.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Option customizes Execute.
type Option func(*pipeline)

// WithClock replaces time.Now, which drives the job schedule and report timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithStreamIDGenerator replaces the random stream id suffix.
func WithStreamIDGenerator(newID func() string) Option {
	return func(p *pipeline) {
		p.streamOpts = append(p.streamOpts, stream.WithIDGenerator(newID))
	}
}

// WithReportRepository replaces the report file named by the configuration.
func WithReportRepository(repo report.Repository) Option {
	return func(p *pipeline) {
		p.reports = repo
	}
}

// WithMetrics replaces the per-run metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(p *pipeline) {
		if recorder != nil {
			p.metrics = recorder
		}
	}
}

// pipeline carries the state of one run from stage to stage.
type pipeline struct {
	cfg        *config.Config
	target     Target
	protocols  []ota.Protocol
	clients    *cloud.Clients
	now        func() time.Time
	streamOpts []stream.Option

	signer  *signer.Signer
	streams *stream.Provisioner
	jobs    *job.Submitter
	reports report.Repository
	metrics *metrics.Recorder

	progress ota.Progress
	report   *ota.RunReport
	identity *cloud.Identity
	signed   *signer.Result
	stream   *ota.Stream
	document []byte
}

// Execute runs every stage against clients and returns the run report.
// The report is returned on failure too, holding whatever was created.
func Execute(
	ctx context.Context,
	cfg *config.Config,
	target Target,
	clients *cloud.Clients,
	opts ...Option,
) (*ota.RunReport, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	if err := target.validate(); err != nil {
		return nil, err
	}

	p, err := newPipeline(cfg, target, clients, opts...)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "job_id", ota.JobID(target.JobID))

	err = p.run(ctx)
	p.finish(ctx, err)

	return p.report, err
}

// newPipeline wires the stage services around clients.
func newPipeline(cfg *config.Config, target Target, clients *cloud.Clients, opts ...Option) (*pipeline, error) {
	protocols, err := ota.ParseProtocols(cfg.Protocols)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:       cfg,
		target:    target,
		protocols: protocols,
		clients:   clients,
		now:       time.Now,
		metrics:   metrics.New(),
	}

	if cfg.ReportFile != config.ReportDisabled {
		p.reports = report.NewFileRepository(cfg.ReportFile)
	}

	for _, opt := range opts {
		opt(p)
	}

	store := objects.NewStore(clients.S3)

	p.signer = signer.New(clients.Signer, store,
		signer.WithPollInterval(cfg.PollInterval),
		signer.WithTimeout(cfg.SigningTimeout),
	)
	p.streams = stream.New(clients.IoT, store, p.streamOpts...)
	p.jobs = job.New(clients.IoT)

	p.report = &ota.RunReport{
		Version:   version.Version,
		StartedAt: p.now().UTC(),
		Region:    clients.Region,
		Binary: ota.ObjectLocation{
			Bucket: target.Bucket,
			Key:    target.BinaryKey,
		},
	}

	return p, nil
}

// run executes the stages in order and stops at the first failure.
func (p *pipeline) run(ctx context.Context) error {
	stages := []struct {
		stage ota.Stage
		fn    func(context.Context) error
	}{
		{ota.StagePreflight, p.preflight},
		{ota.StageSigning, p.sign},
		{ota.StageStreamCreated, p.createStream},
		{ota.StageDocumentBuilt, p.buildDocument},
		{ota.StageJobSubmitted, p.submitJob},
	}

	for _, s := range stages {
		if err := p.step(ctx, s.stage, s.fn); err != nil {
			return err
		}
	}

	return p.progress.Advance(ota.StageDone)
}

// step runs fn and records stage as completed when it succeeds.
func (p *pipeline) step(ctx context.Context, stage ota.Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: stage, Err: err}
	}

	ctx = logger.WithKV(ctx, "stage", stage.String())
	done := p.metrics.Track(stage.String())

	err := fn(ctx)
	done(err)

	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}

	return p.progress.Advance(stage)
}

// preflight resolves the caller account and fails early on a taken job id.
func (p *pipeline) preflight(ctx context.Context) error {
	identity, err := cloud.ResolveIdentity(ctx, p.clients.STS, p.cfg.Partition, p.clients.Region)
	if err != nil {
		return err
	}

	p.identity = identity
	p.report.Account = identity.Account

	logger.InfoKV(ctx, "Resolved caller identity", "account", identity.Account, "region", identity.Region)

	exists, err := p.jobs.Exists(ctx, p.target.JobID)
	if err != nil {
		return err
	}

	if exists {
		return fmt.Errorf("%w: %s", job.ErrJobExists, ota.JobID(p.target.JobID))
	}

	return nil
}

// sign signs the binary and keeps the signature for the document.
func (p *pipeline) sign(ctx context.Context) error {
	result, err := p.signer.Sign(ctx, signer.Request{
		Bucket:            p.target.Bucket,
		Key:               p.target.BinaryKey,
		ProfileName:       p.target.SigningProfile,
		DestinationPrefix: p.cfg.SignedPrefix,
	})
	if err != nil {
		return err
	}

	p.signed = result
	p.report.Binary = result.Request.Source
	p.report.SigningJobID = result.Job.ID
	signedObject := result.Job.SignedObject
	p.report.SignedObject = &signedObject

	return nil
}

// createStream provisions the IoT stream serving the binary over MQTT.
func (p *pipeline) createStream(ctx context.Context) error {
	created, err := p.streams.Create(ctx, stream.Request{
		Binary:       p.signed.Request.Source,
		SignedObject: p.signed.Job.SignedObject,
		RoleARN:      p.identity.RoleARN(p.target.Role),
		JobID:        p.target.JobID,
	})
	if err != nil {
		return err
	}

	p.stream = created
	p.report.Stream = created

	return nil
}

// buildDocument renders the job document for the stream and signature.
func (p *pipeline) buildDocument(ctx context.Context) error {
	in := ota.DocumentInput{
		Protocols:       p.protocols,
		StreamName:      p.stream.ID,
		CertificateName: p.signed.Job.CertificateName,
		Signed:          p.signed.Signed,
	}

	if ota.HasProtocol(p.protocols, ota.ProtocolHTTP) {
		in.UpdateDataURL = ota.PresignedURLPlaceholder(p.stream.File, p.identity.S3Endpoint())
	}

	doc, err := ota.BuildDocument(in)
	if err != nil {
		return err
	}

	rendered, err := doc.Render()
	if err != nil {
		return err
	}

	p.document = rendered
	p.report.Document = string(rendered)

	logger.InfoKV(ctx, "Built job document", "document", string(rendered))

	return nil
}

// submitJob creates the IoT job targeting the thing group.
func (p *pipeline) submitJob(ctx context.Context) error {
	settings := &p.cfg.Job

	spec := &ota.JobSpec{
		ID:              p.target.JobID,
		Target:          p.identity.ThingGroupARN(p.target.ThingGroup),
		Document:        p.document,
		Description:     job.Description(p.target.JobID),
		TargetSelection: settings.TargetSelection,
		TimeoutMinutes:  *settings.TimeoutMinutes,
		Retry: ota.RetryPolicy{
			FailureType:     settings.RetryFailureType,
			NumberOfRetries: *settings.Retries,
		},
		Schedule:        ota.NewSchedule(p.now(), *settings.StartDelay, *settings.Window, settings.EndBehavior),
		PackageVersions: settings.PackageVersions,
	}

	for _, window := range settings.MaintenanceWindows {
		spec.MaintenanceWindows = append(spec.MaintenanceWindows, ota.MaintenanceWindow{
			StartTime:       window.StartTime,
			DurationMinutes: window.DurationMinutes,
		})
	}

	if ota.HasProtocol(p.protocols, ota.ProtocolHTTP) {
		spec.PresignedURL = &ota.PresignedURLConfig{
			RoleARN:   p.identity.RoleARN(p.target.Role),
			ExpiresIn: p.cfg.PresignExpiry,
		}
	}

	created, err := p.jobs.Submit(ctx, spec)
	if err != nil {
		return err
	}

	p.report.Job = created

	return nil
}

// finish completes the report, saves it and pushes metrics.
// Failures here are logged and never change the run result.
func (p *pipeline) finish(ctx context.Context, runErr error) {
	ctx = context.WithoutCancel(ctx)

	p.report.FinishedAt = p.now().UTC()
	p.report.Stage = p.progress.Current()

	if runErr != nil {
		p.report.Error = runErr.Error()

		logger.ErrorKV(ctx, "Run failed", "stage", p.report.Stage.String(), "error", runErr)
	}

	p.metrics.RunFinished(runErr)

	if p.reports != nil {
		if err := p.reports.Save(ctx, p.report); err != nil {
			logger.ErrorKV(ctx, "Failed to save run report", "error", err)
		} else {
			logger.Debug(ctx, "Saved run report")
		}
	}

	if p.cfg.PushgatewayURL != "" {
		if err := p.metrics.Push(ctx, p.cfg.PushgatewayURL, ota.JobID(p.target.JobID)); err != nil {
			logger.WarnKV(ctx, "Failed to push metrics", "error", err)
		}
	}
}
