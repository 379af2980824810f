package creator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	iottypes "github.com/aws/aws-sdk-go-v2/service/iot/types"
	signertypes "github.com/aws/aws-sdk-go-v2/service/signer/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/create-ota-job/internal/cloud/cloudtest"
	"github.com/oshokin/create-ota-job/internal/config"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/metrics"
	"github.com/oshokin/create-ota-job/internal/repository/report"
	"github.com/oshokin/create-ota-job/internal/service/job"
	"github.com/oshokin/create-ota-job/internal/service/signer"
)

var (
	errTestThrottled = errors.New("throttled")

	testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	testTarget = Target{
		BinaryKey:      "fw.bin",
		Bucket:         "b",
		SigningProfile: "p",
		Role:           "r",
		ThingGroup:     "g",
		JobID:          "j1",
	}
)

// testConfig returns a validated configuration with a fast signing poll.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.PollInterval = time.Millisecond
	cfg.SigningTimeout = 5 * time.Second
	cfg.ReportFile = filepath.Join(t.TempDir(), "report.yaml")

	return cfg
}

// newFake returns a fake account holding the firmware binary.
func newFake() *cloudtest.Fake {
	fake := cloudtest.New()
	fake.PutObject("b", "fw.bin", []byte("firmware image"))

	return fake
}

func testOptions() []Option {
	return []Option{
		WithClock(func() time.Time { return testNow }),
		WithStreamIDGenerator(func() string { return "11111111-2222-4333-8444-555555555555" }),
	}
}

// TestExecute_CreatesJob runs every stage and checks the created resources.
func TestExecute_CreatesJob(t *testing.T) {
	t.Parallel()

	fake := newFake()
	cfg := testConfig(t)

	result, err := Execute(context.Background(), cfg, testTarget, fake.Clients(), testOptions()...)
	require.NoError(t, err)

	require.Equal(t, ota.StageDone, result.Stage)
	require.Empty(t, result.Error)
	require.Equal(t, cloudtest.Account, result.Account)
	require.Equal(t, cloudtest.Region, result.Region)
	require.Equal(t, "AFR_OTA-j1", result.Job.ID)
	require.Equal(t, "AFR_OTA-11111111-2222-4333-8444-555555555555", result.Stream.ID)
	require.Equal(t, 1, fake.SigningJobCount())
	require.Equal(t, 1, fake.StreamCount())

	// The signed key holds the signed JSON first and the raw binary second.
	versions := fake.Versions("b", result.SignedObject.Key)
	require.Len(t, versions, 2)
	require.Equal(t, versions[0], result.SignedObject.Version)
	require.Equal(t, versions[1], result.Stream.File.Version)

	raw, ok := fake.Object("b", result.SignedObject.Key, versions[1])
	require.True(t, ok)
	require.Equal(t, []byte("firmware image"), raw)

	streamInput, ok := fake.Stream(result.Stream.ID)
	require.True(t, ok)
	require.Equal(t, "arn:aws:iam::123456789012:role/r", aws.ToString(streamInput.RoleArn))
	require.Equal(t, "Stream for deconstructed OTAUpdate j1", aws.ToString(streamInput.Description))

	jobInput, ok := fake.Job("AFR_OTA-j1")
	require.True(t, ok)
	require.Equal(t, []string{"arn:aws:iot:us-east-1:123456789012:thinggroup/g"}, jobInput.Targets)
	require.Equal(t, "AWS job for deconstructed OTAUpdateJobId = j1", aws.ToString(jobInput.Description))
	require.Equal(t, "2024-06-01T13:00", aws.ToString(jobInput.SchedulingConfig.StartTime))
	require.Equal(t, "2024-06-01T14:00", aws.ToString(jobInput.SchedulingConfig.EndTime))
	require.Equal(t, iottypes.JobEndBehaviorCancel, jobInput.SchedulingConfig.EndBehavior)
	require.Nil(t, jobInput.PresignedUrlConfig)

	doc, err := ota.ParseDocument([]byte(aws.ToString(jobInput.Document)))
	require.NoError(t, err)
	require.Equal(t, []ota.Protocol{ota.ProtocolMQTT}, doc.OTA.Protocols)
	require.Equal(t, result.Stream.ID, doc.OTA.StreamName)
	require.Len(t, doc.OTA.Files, 1)

	file := doc.OTA.Files[0]
	require.Equal(t, 0, file.FileID)
	require.EqualValues(t, len("firmware image"), file.FileSize)
	require.Equal(t, cloudtest.Certname, file.CertFile)
	require.Equal(t, "sig-sha256-ecdsa", file.SignatureKey)
	require.Equal(t, cloudtest.Signature, file.Signature)
	require.Nil(t, file.UpdateDataURL)
	require.Nil(t, file.AuthScheme)
	require.Equal(t, aws.ToString(jobInput.Document), result.Document)

	saved, err := report.NewFileRepository(cfg.ReportFile).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, ota.StageDone, saved.Stage)
	require.Equal(t, result.Job.ARN, saved.Job.ARN)
	require.True(t, testNow.Equal(saved.StartedAt))
}

// TestExecute_HTTP delivers a placeholder URL signed by the OTA role.
func TestExecute_HTTP(t *testing.T) {
	t.Parallel()

	fake := newFake()
	cfg := testConfig(t)
	cfg.Protocols = []string{"MQTT", "HTTP"}

	result, err := Execute(context.Background(), cfg, testTarget, fake.Clients(), testOptions()...)
	require.NoError(t, err)

	jobInput, ok := fake.Job("AFR_OTA-j1")
	require.True(t, ok)
	require.NotNil(t, jobInput.PresignedUrlConfig)
	require.Equal(t, "arn:aws:iam::123456789012:role/r", aws.ToString(jobInput.PresignedUrlConfig.RoleArn))
	require.EqualValues(t, 3600, aws.ToInt64(jobInput.PresignedUrlConfig.ExpiresInSec))

	doc, err := ota.ParseDocument([]byte(result.Document))
	require.NoError(t, err)

	file := doc.OTA.Files[0]
	require.NotNil(t, file.UpdateDataURL)
	require.Equal(t, ota.PresignedURLPlaceholder(result.Stream.File, "https://s3.us-east-1.amazonaws.com"), *file.UpdateDataURL)
	require.NotNil(t, file.AuthScheme)
	require.Equal(t, ota.HTTPAuthScheme, *file.AuthScheme)
}

// TestExecute_JobIDTaken fails in preflight without creating anything.
func TestExecute_JobIDTaken(t *testing.T) {
	t.Parallel()

	fake := newFake()

	first, err := Execute(context.Background(), testConfig(t), testTarget, fake.Clients(), testOptions()...)
	require.NoError(t, err)

	firstJob, ok := fake.Job("AFR_OTA-j1")
	require.True(t, ok)

	second, err := Execute(context.Background(), testConfig(t), testTarget, fake.Clients())
	require.ErrorIs(t, err, job.ErrJobExists)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, ota.StagePreflight, stageErr.Stage)

	require.Equal(t, ota.StageNotStarted, second.Stage)
	require.NotEmpty(t, second.Error)
	require.Nil(t, second.Stream)
	require.Nil(t, second.Job)

	require.Equal(t, 1, fake.SigningJobCount())
	require.Equal(t, 1, fake.StreamCount())
	require.Equal(t, 1, fake.CallCount("CreateJob"))
	require.Len(t, fake.Versions("b", first.SignedObject.Key), 2)

	unchanged, ok := fake.Job("AFR_OTA-j1")
	require.True(t, ok)
	require.Equal(t, firstJob, unchanged)
}

// TestExecute_SigningFailed stops before any stream is created.
func TestExecute_SigningFailed(t *testing.T) {
	t.Parallel()

	fake := newFake()
	fake.SigningStatus = signertypes.SigningStatusFailed
	fake.SigningReason = "profile revoked"

	cfg := testConfig(t)

	result, err := Execute(context.Background(), cfg, testTarget, fake.Clients())
	require.ErrorIs(t, err, signer.ErrSigningFailed)
	require.ErrorContains(t, err, "profile revoked")

	require.Equal(t, ota.StagePreflight, result.Stage)
	require.Zero(t, fake.StreamCount())
	require.Zero(t, fake.CallCount("CreateJob"))

	saved, err := report.NewFileRepository(cfg.ReportFile).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, ota.StagePreflight, saved.Stage)
	require.Contains(t, saved.Error, "profile revoked")
}

// TestExecute_JobRejected keeps the created stream in the report.
func TestExecute_JobRejected(t *testing.T) {
	t.Parallel()

	fake := newFake()
	fake.Fail("CreateJob", errTestThrottled)

	cfg := testConfig(t)
	recorder := metrics.New()

	options := append(testOptions(), WithMetrics(recorder))

	result, err := Execute(context.Background(), cfg, testTarget, fake.Clients(), options...)
	require.ErrorIs(t, err, errTestThrottled)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, ota.StageJobSubmitted, stageErr.Stage)

	require.Equal(t, ota.StageDocumentBuilt, result.Stage)
	require.NotNil(t, result.Stream)
	require.NotEmpty(t, result.Document)
	require.Nil(t, result.Job)
	require.Equal(t, 1, fake.StreamCount())

	count, err := testutil.GatherAndCount(recorder.Registry(), "ota_job_runs_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

// TestExecute_ReportDisabled writes nothing when the report is turned off.
func TestExecute_ReportDisabled(t *testing.T) {
	t.Parallel()

	fake := newFake()
	cfg := testConfig(t)
	path := cfg.ReportFile
	cfg.ReportFile = config.ReportDisabled

	_, err := Execute(context.Background(), cfg, testTarget, fake.Clients(), testOptions()...)
	require.NoError(t, err)

	_, err = report.NewFileRepository(path).Load(context.Background())
	require.ErrorIs(t, err, report.ErrNotFound)
}

// TestExecute_InvalidTarget rejects arguments before calling AWS.
func TestExecute_InvalidTarget(t *testing.T) {
	t.Parallel()

	fake := newFake()

	target := testTarget
	target.JobID = "with space"

	_, err := Execute(context.Background(), testConfig(t), target, fake.Clients())
	require.ErrorIs(t, err, ota.ErrInvalidJobID)

	target = testTarget
	target.ThingGroup = ""

	_, err = Execute(context.Background(), testConfig(t), target, fake.Clients())
	require.ErrorIs(t, err, errMissingArgument)
	require.Empty(t, fake.Calls())
}

// TestExecute_Canceled stops before the first call.
func TestExecute_Canceled(t *testing.T) {
	t.Parallel()

	fake := newFake()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Execute(ctx, testConfig(t), testTarget, fake.Clients())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ota.StageNotStarted, result.Stage)
	require.Empty(t, fake.Calls())
}

// TestStageError formats the failed stage in front of the cause.
func TestStageError(t *testing.T) {
	t.Parallel()

	err := &StageError{Stage: ota.StageStreamCreated, Err: errTestThrottled}
	require.Equal(t, "stream-created: throttled", err.Error())
	require.ErrorIs(t, err, errTestThrottled)
}
