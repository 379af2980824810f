package ota

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// IDPrefix is prepended to job and stream ids, as CreateOTAUpdate does.
const IDPrefix = "AFR_OTA-"

// maxJobIDLength is the IoT limit on job ids, prefix included.
const maxJobIDLength = 64

var (
	// ErrInvalidJobID is returned for job ids IoT would reject.
	ErrInvalidJobID = errors.New("invalid job id")
	// ErrInvalidSignedObject is returned when the signer output cannot be used.
	ErrInvalidSignedObject = errors.New("invalid signed object")

	jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ObjectLocation addresses one version of an S3 object.
type ObjectLocation struct {
	Bucket  string `yaml:"bucket"`
	Key     string `yaml:"key"`
	Version string `yaml:"version,omitempty"`
}

// String renders the location as s3://bucket/key[?versionId=...].
func (l ObjectLocation) String() string {
	if l.Version == "" {
		return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
	}

	return fmt.Sprintf("s3://%s/%s?versionId=%s", l.Bucket, l.Key, l.Version)
}

// SigningRequest describes the binary to sign and where the signer writes its output.
type SigningRequest struct {
	// Source is the raw binary, pinned to a version.
	Source ObjectLocation
	// ProfileName is the AWS Signer signing profile.
	ProfileName string
	// DestinationPrefix is the key prefix of the signed output in Source.Bucket.
	DestinationPrefix string
}

// SigningStatus mirrors the AWS Signer job status.
type SigningStatus string

// Signing job statuses.
const (
	SigningInProgress SigningStatus = "InProgress"
	SigningSucceeded  SigningStatus = "Succeeded"
	SigningFailed     SigningStatus = "Failed"
)

// SigningJob is the terminal description of a signing job.
type SigningJob struct {
	ID              string
	Status          SigningStatus
	StatusReason    string
	SignedObject    ObjectLocation
	CertificateName string
}

// SignedObject is the JSON document AWS Signer writes for AWS IoT signing platforms.
type SignedObject struct {
	Signature          string `json:"signature"`
	SignatureAlgorithm string `json:"signatureAlgorithm"`
	RawPayloadSize     int64  `json:"rawPayloadSize"`
	Payload            string `json:"payload"`
}

// ParseSignedObject decodes and checks the signer output.
func ParseSignedObject(data []byte) (*SignedObject, error) {
	var signed SignedObject
	if err := json.Unmarshal(data, &signed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignedObject, err)
	}

	switch {
	case signed.Signature == "":
		return nil, fmt.Errorf("%w: signature is empty", ErrInvalidSignedObject)
	case signed.SignatureAlgorithm == "":
		return nil, fmt.Errorf("%w: signature algorithm is empty", ErrInvalidSignedObject)
	case signed.RawPayloadSize < 0:
		return nil, fmt.Errorf("%w: negative payload size %d", ErrInvalidSignedObject, signed.RawPayloadSize)
	}

	return &signed, nil
}

// Stream is a registered IoT stream serving the raw binary as file id 0.
type Stream struct {
	ID      string         `yaml:"id"`
	ARN     string         `yaml:"arn"`
	Version int32          `yaml:"version"`
	File    ObjectLocation `yaml:"file"`
}

// JobID returns the IoT job id for a user supplied id.
func JobID(id string) string {
	return IDPrefix + id
}

// ValidateJobID checks that JobID(id) is accepted by IoT.
func ValidateJobID(id string) error {
	full := JobID(id)

	if id == "" || !jobIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must match [a-zA-Z0-9_-]+", ErrInvalidJobID, id)
	}

	if len(full) > maxJobIDLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidJobID, full, maxJobIDLength)
	}

	return nil
}

// RetryPolicy retries failed executions of a given failure type.
type RetryPolicy struct {
	FailureType     string
	NumberOfRetries int32
}

// MaintenanceWindow is a recurring window of a CONTINUOUS job.
type MaintenanceWindow struct {
	StartTime       string
	DurationMinutes int32
}

// PresignedURLConfig lets IoT sign the placeholder download URL of an HTTP
// job document with RoleARN at execution time.
type PresignedURLConfig struct {
	RoleARN   string
	ExpiresIn time.Duration
}

// JobSpec is everything CreateJob needs.
type JobSpec struct {
	// ID is the user supplied id; the IDPrefix is added on submission.
	ID                 string
	Target             string
	Document           []byte
	Description        string
	TargetSelection    string
	TimeoutMinutes     int64
	Retry              RetryPolicy
	Schedule           Schedule
	MaintenanceWindows []MaintenanceWindow
	PackageVersions    []string
	// PresignedURL is set when the document carries an HTTP download URL.
	PresignedURL *PresignedURLConfig
}

// Job is the job created by CreateJob.
type Job struct {
	ID          string `yaml:"id"`
	ARN         string `yaml:"arn"`
	Description string `yaml:"description"`
}

// RunReport records what a run created, including partial progress on failure.
type RunReport struct {
	Version       string          `yaml:"tool_version"`
	StartedAt     time.Time       `yaml:"started_at"`
	FinishedAt    time.Time       `yaml:"finished_at"`
	Stage         Stage           `yaml:"stage"`
	Error         string          `yaml:"error,omitempty"`
	Account       string          `yaml:"account,omitempty"`
	Region        string          `yaml:"region,omitempty"`
	Binary        ObjectLocation  `yaml:"binary"`
	SigningJobID  string          `yaml:"signing_job_id,omitempty"`
	SignedObject  *ObjectLocation `yaml:"signed_object,omitempty"`
	Stream        *Stream         `yaml:"stream,omitempty"`
	Document      string          `yaml:"document,omitempty"`
	Job           *Job            `yaml:"job,omitempty"`
}
