// Package cloudtest provides an in-memory stand-in for the AWS services a run
// talks to. S3 keeps every object version, the signer writes its signed JSON
// into the fake bucket, and IoT remembers streams and jobs by id.
package cloudtest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	iottypes "github.com/aws/aws-sdk-go-v2/service/iot/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/signer"
	signertypes "github.com/aws/aws-sdk-go-v2/service/signer/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/oshokin/create-ota-job/internal/cloud"
)

// Defaults reported by a fresh Fake.
const (
	Account            = "123456789012"
	Region             = "us-east-1"
	Certname           = "ota-signer-cert"
	Signature          = "MEUCIQCmEf5DuEBrB2Xv0qvg=="
	SignatureAlgorithm = "SHA256withECDSA"
)

// Fake implements every interface of package cloud.
type Fake struct {
	mu sync.Mutex

	// SigningPolls is how many DescribeSigningJob calls report InProgress.
	SigningPolls int
	// SigningStatus is the terminal status of signing jobs.
	SigningStatus signertypes.SigningStatus
	// SigningReason is reported alongside the terminal status.
	SigningReason string
	// Certname is returned as the certname signing parameter.
	Certname string
	// SignatureAlgorithm and Signature are written into signed objects.
	SignatureAlgorithm string
	Signature          string

	objects     map[string][]objectVersion
	signingJobs map[string]*signingJob
	streams     map[string]*iot.CreateStreamInput
	jobs        map[string]*iot.CreateJobInput
	failures    map[string]error
	calls       []string
	nextVersion int
}

type objectVersion struct {
	id   string
	data []byte
}

type signingJob struct {
	input  *signer.StartSigningJobInput
	polls  int
	output string
}

// New returns a Fake whose signing jobs succeed immediately.
func New() *Fake {
	return &Fake{
		SigningStatus:      signertypes.SigningStatusSucceeded,
		SigningReason:      "Signing Succeeded",
		Certname:           Certname,
		SignatureAlgorithm: SignatureAlgorithm,
		Signature:          Signature,
		objects:            make(map[string][]objectVersion),
		signingJobs:        make(map[string]*signingJob),
		streams:            make(map[string]*iot.CreateStreamInput),
		jobs:               make(map[string]*iot.CreateJobInput),
		failures:           make(map[string]error),
	}
}

// Clients exposes the fake through the cloud.Clients bundle.
func (f *Fake) Clients() *cloud.Clients {
	return &cloud.Clients{
		S3:     f,
		Signer: f,
		IoT:    f,
		STS:    f,
		Region: Region,
	}
}

// Fail makes the named operation return err from now on.
func (f *Fake) Fail(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[operation] = err
}

// Calls returns the operations invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

// CallCount returns how often operation was invoked.
func (f *Fake) CallCount(operation string) int {
	count := 0

	for _, call := range f.Calls() {
		if call == operation {
			count++
		}
	}

	return count
}

// PutObject stores a new version of bucket/key and returns its version id.
func (f *Fake) PutObject(bucket, key string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.put(bucket, key, data)
}

// Object returns one version of bucket/key.
func (f *Fake) Object(bucket, key, version string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.find(bucket, key, version)
	if !ok {
		return nil, false
	}

	return v.data, true
}

// Versions returns the version ids of bucket/key, oldest first.
func (f *Fake) Versions(bucket, key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	versions := f.objects[bucket+"/"+key]
	ids := make([]string, 0, len(versions))

	for _, v := range versions {
		ids = append(ids, v.id)
	}

	return ids
}

// Stream returns the input a stream was created with.
func (f *Fake) Stream(id string) (*iot.CreateStreamInput, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.streams[id]

	return s, ok
}

// StreamCount returns the number of streams created.
func (f *Fake) StreamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.streams)
}

// Job returns the input a job was created with.
func (f *Fake) Job(id string) (*iot.CreateJobInput, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j, ok := f.jobs[id]

	return j, ok
}

// SigningJobCount returns the number of signing jobs started.
func (f *Fake) SigningJobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.signingJobs)
}

// HeadObject implements cloud.S3API.
func (f *Fake) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("HeadObject"); err != nil {
		return nil, err
	}

	v, ok := f.find(aws.ToString(in.Bucket), aws.ToString(in.Key), aws.ToString(in.VersionId))
	if !ok {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}

	return &s3.HeadObjectOutput{
		VersionId:     aws.String(v.id),
		ContentLength: aws.Int64(int64(len(v.data))),
	}, nil
}

// GetObject implements cloud.S3API.
func (f *Fake) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetObject"); err != nil {
		return nil, err
	}

	v, ok := f.find(aws.ToString(in.Bucket), aws.ToString(in.Key), aws.ToString(in.VersionId))
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}

	return &s3.GetObjectOutput{
		Body:      io.NopCloser(bytes.NewReader(v.data)),
		VersionId: aws.String(v.id),
	}, nil
}

// CopyObject implements cloud.S3API.
func (f *Fake) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CopyObject"); err != nil {
		return nil, err
	}

	bucket, key, version, err := parseCopySource(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}

	src, ok := f.find(bucket, key, version)
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("copy source does not exist")}
	}

	id := f.put(aws.ToString(in.Bucket), aws.ToString(in.Key), src.data)

	return &s3.CopyObjectOutput{
		VersionId:           aws.String(id),
		CopySourceVersionId: aws.String(src.id),
	}, nil
}

// StartSigningJob implements cloud.SignerAPI. The signed JSON is written right away.
func (f *Fake) StartSigningJob(
	_ context.Context,
	in *signer.StartSigningJobInput,
	_ ...func(*signer.Options),
) (*signer.StartSigningJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("StartSigningJob"); err != nil {
		return nil, err
	}

	source := in.Source.S3

	raw, ok := f.find(aws.ToString(source.BucketName), aws.ToString(source.Key), aws.ToString(source.Version))
	if !ok {
		return nil, &signertypes.ValidationException{Message: aws.String("source object not found")}
	}

	id := fmt.Sprintf("signing-job-%d", len(f.signingJobs)+1)
	output := aws.ToString(in.Destination.S3.Prefix) + id

	signed, err := json.Marshal(map[string]any{
		"rawPayloadSize":     len(raw.data),
		"signature":          f.Signature,
		"signatureAlgorithm": f.SignatureAlgorithm,
		"payload":            base64.StdEncoding.EncodeToString(raw.data),
	})
	if err != nil {
		return nil, err
	}

	f.put(aws.ToString(in.Destination.S3.BucketName), output, signed)
	f.signingJobs[id] = &signingJob{input: in, output: output}

	return &signer.StartSigningJobOutput{JobId: aws.String(id)}, nil
}

// DescribeSigningJob implements cloud.SignerAPI.
func (f *Fake) DescribeSigningJob(
	_ context.Context,
	in *signer.DescribeSigningJobInput,
	_ ...func(*signer.Options),
) (*signer.DescribeSigningJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("DescribeSigningJob"); err != nil {
		return nil, err
	}

	job, ok := f.signingJobs[aws.ToString(in.JobId)]
	if !ok {
		return nil, &signertypes.ResourceNotFoundException{Message: aws.String("no such signing job")}
	}

	out := &signer.DescribeSigningJobOutput{
		JobId:       in.JobId,
		ProfileName: job.input.ProfileName,
	}

	if job.polls < f.SigningPolls {
		job.polls++
		out.Status = signertypes.SigningStatusInProgress

		return out, nil
	}

	out.Status = f.SigningStatus
	out.StatusReason = aws.String(f.SigningReason)

	if f.SigningStatus == signertypes.SigningStatusSucceeded {
		out.SignedObject = &signertypes.SignedObject{
			S3: &signertypes.S3SignedObject{
				BucketName: job.input.Destination.S3.BucketName,
				Key:        aws.String(job.output),
			},
		}
		out.SigningParameters = map[string]string{"certname": f.Certname}
	}

	return out, nil
}

// CreateStream implements cloud.IoTAPI.
func (f *Fake) CreateStream(_ context.Context, in *iot.CreateStreamInput, _ ...func(*iot.Options)) (*iot.CreateStreamOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateStream"); err != nil {
		return nil, err
	}

	id := aws.ToString(in.StreamId)
	if _, exists := f.streams[id]; exists {
		return nil, &iottypes.ResourceAlreadyExistsException{Message: aws.String("stream exists")}
	}

	for _, file := range in.Files {
		loc := file.S3Location
		if _, ok := f.find(aws.ToString(loc.Bucket), aws.ToString(loc.Key), aws.ToString(loc.Version)); !ok {
			return nil, &iottypes.InvalidRequestException{Message: aws.String("stream file not found")}
		}
	}

	f.streams[id] = in

	return &iot.CreateStreamOutput{
		StreamId:      in.StreamId,
		StreamArn:     aws.String(fmt.Sprintf("arn:aws:iot:%s:%s:stream/%s", Region, Account, id)),
		StreamVersion: aws.Int32(1),
		Description:   in.Description,
	}, nil
}

// CreateJob implements cloud.IoTAPI.
func (f *Fake) CreateJob(_ context.Context, in *iot.CreateJobInput, _ ...func(*iot.Options)) (*iot.CreateJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateJob"); err != nil {
		return nil, err
	}

	id := aws.ToString(in.JobId)
	if _, exists := f.jobs[id]; exists {
		return nil, &iottypes.ResourceAlreadyExistsException{
			Message:    aws.String(fmt.Sprintf("Job %s already exists", id)),
			ResourceId: in.JobId,
		}
	}

	f.jobs[id] = in

	return &iot.CreateJobOutput{
		JobId:       in.JobId,
		JobArn:      aws.String(fmt.Sprintf("arn:aws:iot:%s:%s:job/%s", Region, Account, id)),
		Description: in.Description,
	}, nil
}

// DescribeJob implements cloud.IoTAPI.
func (f *Fake) DescribeJob(_ context.Context, in *iot.DescribeJobInput, _ ...func(*iot.Options)) (*iot.DescribeJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("DescribeJob"); err != nil {
		return nil, err
	}

	id := aws.ToString(in.JobId)

	job, ok := f.jobs[id]
	if !ok {
		return nil, &iottypes.ResourceNotFoundException{Message: aws.String(fmt.Sprintf("Job %s does not exist", id))}
	}

	return &iot.DescribeJobOutput{
		Job: &iottypes.Job{
			JobId:       job.JobId,
			Description: job.Description,
			Status:      iottypes.JobStatusScheduled,
		},
	}, nil
}

// GetCallerIdentity implements cloud.STSAPI.
func (f *Fake) GetCallerIdentity(
	_ context.Context,
	_ *sts.GetCallerIdentityInput,
	_ ...func(*sts.Options),
) (*sts.GetCallerIdentityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("GetCallerIdentity"); err != nil {
		return nil, err
	}

	return &sts.GetCallerIdentityOutput{
		Account: aws.String(Account),
		Arn:     aws.String(fmt.Sprintf("arn:aws:iam::%s:user/ota-admin", Account)),
	}, nil
}

// record notes a call and returns the failure injected for it, if any.
func (f *Fake) record(operation string) error {
	f.calls = append(f.calls, operation)

	return f.failures[operation]
}

func (f *Fake) put(bucket, key string, data []byte) string {
	f.nextVersion++
	id := fmt.Sprintf("v%03d", f.nextVersion)

	path := bucket + "/" + key
	f.objects[path] = append(f.objects[path], objectVersion{
		id:   id,
		data: append([]byte(nil), data...),
	})

	return id
}

func (f *Fake) find(bucket, key, version string) (objectVersion, bool) {
	versions := f.objects[bucket+"/"+key]
	if len(versions) == 0 {
		return objectVersion{}, false
	}

	if version == "" {
		return versions[len(versions)-1], true
	}

	for _, v := range versions {
		if v.id == version {
			return v, true
		}
	}

	return objectVersion{}, false
}

func parseCopySource(source string) (string, string, string, error) {
	path, query, _ := strings.Cut(source, "?")

	bucket, escapedKey, ok := strings.Cut(path, "/")
	if !ok {
		return "", "", "", fmt.Errorf("malformed copy source %q", source)
	}

	key, err := url.PathUnescape(escapedKey)
	if err != nil {
		return "", "", "", fmt.Errorf("malformed copy source key %q: %w", escapedKey, err)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", "", fmt.Errorf("malformed copy source query %q: %w", query, err)
	}

	return bucket, key, values.Get("versionId"), nil
}
