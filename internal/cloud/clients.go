package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/signer"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// S3API is the subset of S3 used to version, read and copy firmware objects.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// SignerAPI is the subset of AWS Signer used to sign a binary.
type SignerAPI interface {
	StartSigningJob(
		ctx context.Context,
		params *signer.StartSigningJobInput,
		optFns ...func(*signer.Options),
	) (*signer.StartSigningJobOutput, error)
	DescribeSigningJob(
		ctx context.Context,
		params *signer.DescribeSigningJobInput,
		optFns ...func(*signer.Options),
	) (*signer.DescribeSigningJobOutput, error)
}

// IoTAPI is the subset of AWS IoT used to create the stream and the job.
type IoTAPI interface {
	CreateStream(ctx context.Context, params *iot.CreateStreamInput, optFns ...func(*iot.Options)) (*iot.CreateStreamOutput, error)
	CreateJob(ctx context.Context, params *iot.CreateJobInput, optFns ...func(*iot.Options)) (*iot.CreateJobOutput, error)
	DescribeJob(ctx context.Context, params *iot.DescribeJobInput, optFns ...func(*iot.Options)) (*iot.DescribeJobOutput, error)
}

// STSAPI resolves the account of the caller.
type STSAPI interface {
	GetCallerIdentity(
		ctx context.Context,
		params *sts.GetCallerIdentityInput,
		optFns ...func(*sts.Options),
	) (*sts.GetCallerIdentityOutput, error)
}

// Compile-time checks that the SDK clients satisfy the interfaces.
var (
	_ S3API     = (*s3.Client)(nil)
	_ SignerAPI = (*signer.Client)(nil)
	_ IoTAPI    = (*iot.Client)(nil)
	_ STSAPI    = (*sts.Client)(nil)
)

// ErrNoRegion is returned when neither the flags nor the SDK chain yield a region.
var ErrNoRegion = errors.New("no AWS region configured")

// Options selects the credentials and region used by the clients.
type Options struct {
	// Region overrides the region from the environment or shared config.
	Region string
	// Profile selects a shared config profile.
	Profile string
	// SDKLogLevel is the minimum level of SDK log lines; empty means DefaultSDKLogLevel.
	SDKLogLevel string
}

// Clients bundles the service clients of a run.
type Clients struct {
	S3     S3API
	Signer SignerAPI
	IoT    IoTAPI
	STS    STSAPI
	// Region is the region the clients were configured for.
	Region string
}

// New loads the default AWS configuration chain and creates every client.
func New(ctx context.Context, opts Options) (*Clients, error) {
	level, err := parseSDKLogLevel(opts.SDKLogLevel)
	if err != nil {
		return nil, err
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithLogger(NewSDKLogger(ctx, level)),
		awsconfig.WithClientLogMode(sdkLogMode(level)),
	}

	if opts.Region != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(opts.Region))
	}

	if opts.Profile != "" {
		loadOptions = append(loadOptions, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return FromConfig(cfg)
}

// FromConfig creates every client from an already resolved configuration.
func FromConfig(cfg aws.Config) (*Clients, error) {
	if cfg.Region == "" {
		return nil, ErrNoRegion
	}

	return &Clients{
		S3:     s3.NewFromConfig(cfg),
		Signer: signer.NewFromConfig(cfg),
		IoT:    iot.NewFromConfig(cfg),
		STS:    sts.NewFromConfig(cfg),
		Region: cfg.Region,
	}, nil
}
