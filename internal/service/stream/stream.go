package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/iot/types"
	"github.com/google/uuid"

	"github.com/oshokin/create-ota-job/internal/cloud"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/logger"
	"github.com/oshokin/create-ota-job/internal/repository/objects"
)

// fileID is the id of the single file in every stream and job document.
const fileID = 0

// errRoleRequired is returned when no role ARN is given.
var errRoleRequired = errors.New("stream role ARN must be provided")

// Request describes the stream to create.
type Request struct {
	// Binary is the raw firmware, pinned to the signed version.
	Binary ota.ObjectLocation
	// SignedObject is the signer output the binary is copied over.
	SignedObject ota.ObjectLocation
	// RoleARN grants IoT read access to the bucket.
	RoleARN string
	// JobID is the user supplied job id, used in the description.
	JobID string
}

// Provisioner creates streams.
type Provisioner struct {
	// client talks to AWS IoT.
	client cloud.IoTAPI
	// store copies the raw binary over the signed object.
	store *objects.Store
	// newID generates the random part of stream ids.
	newID func() string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithIDGenerator replaces the random UUID source of stream ids.
func WithIDGenerator(newID func() string) Option {
	return func(p *Provisioner) {
		if newID != nil {
			p.newID = newID
		}
	}
}

// New creates a Provisioner.
func New(client cloud.IoTAPI, store *objects.Store, opts ...Option) *Provisioner {
	p := &Provisioner{
		client: client,
		store:  store,
		newID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Create copies the binary over the signed object and registers a stream for it.
func (p *Provisioner) Create(ctx context.Context, req Request) (*ota.Stream, error) {
	if req.RoleARN == "" {
		return nil, errRoleRequired
	}

	file, err := p.store.Copy(ctx, req.Binary, req.SignedObject)
	if err != nil {
		return nil, fmt.Errorf("copy raw binary over signed object: %w", err)
	}

	logger.InfoKV(ctx, "Copied raw binary over signed object", "location", file.String())

	streamID := ota.IDPrefix + p.newID()

	out, err := p.client.CreateStream(ctx, &iot.CreateStreamInput{
		StreamId:    aws.String(streamID),
		Description: aws.String("Stream for deconstructed OTAUpdate " + req.JobID),
		Files: []types.StreamFile{
			{
				FileId: aws.Int32(fileID),
				S3Location: &types.S3Location{
					Bucket:  aws.String(file.Bucket),
					Key:     aws.String(file.Key),
					Version: aws.String(file.Version),
				},
			},
		},
		RoleArn: aws.String(req.RoleARN),
	})
	if err != nil {
		logger.ErrorKV(ctx, "Stream was rejected", "stream_id", streamID, "error_code", cloud.ErrorCode(err))

		return nil, fmt.Errorf("create stream %s: %w", streamID, err)
	}

	stream := &ota.Stream{
		ID:      aws.ToString(out.StreamId),
		ARN:     aws.ToString(out.StreamArn),
		Version: aws.ToInt32(out.StreamVersion),
		File:    file,
	}

	logger.InfoKV(ctx, "Created stream", "stream_id", stream.ID, "stream_arn", stream.ARN)

	return stream, nil
}
