package stream

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/create-ota-job/internal/cloud/cloudtest"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
	"github.com/oshokin/create-ota-job/internal/repository/objects"
)

const roleARN = "arn:aws:iam::123456789012:role/r"

var errTestDenied = errors.New("not authorized to pass role")

var streamIDPattern = regexp.MustCompile(`^AFR_OTA-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// seed stores a raw binary and a signed object and returns their pinned locations.
func seed(fake *cloudtest.Fake) (ota.ObjectLocation, ota.ObjectLocation) {
	raw := ota.ObjectLocation{Bucket: "b", Key: "fw.bin"}
	raw.Version = fake.PutObject(raw.Bucket, raw.Key, []byte("raw firmware"))

	signed := ota.ObjectLocation{Bucket: "b", Key: "SignedImage/signing-job-1"}
	signed.Version = fake.PutObject(signed.Bucket, signed.Key, []byte(`{"signature":"x"}`))

	return raw, signed
}

// TestCreate_StreamsSecondVersion checks the copy, the stream id format and the streamed version.
func TestCreate_StreamsSecondVersion(t *testing.T) {
	t.Parallel()

	fake := cloudtest.New()
	raw, signed := seed(fake)

	provisioner := New(fake, objects.NewStore(fake))

	stream, err := provisioner.Create(context.Background(), Request{
		Binary:       raw,
		SignedObject: signed,
		RoleARN:      roleARN,
		JobID:        "j1",
	})
	require.NoError(t, err)
	require.Regexp(t, streamIDPattern, stream.ID)

	versions := fake.Versions("b", signed.Key)
	require.Len(t, versions, 2)
	require.Equal(t, signed.Version, versions[0])
	require.Equal(t, versions[1], stream.File.Version)

	input, ok := fake.Stream(stream.ID)
	require.True(t, ok)
	require.Equal(t, roleARN, aws.ToString(input.RoleArn))
	require.Equal(t, "Stream for deconstructed OTAUpdate j1", aws.ToString(input.Description))
	require.Len(t, input.Files, 1)
	require.EqualValues(t, 0, aws.ToInt32(input.Files[0].FileId))
	require.Equal(t, versions[1], aws.ToString(input.Files[0].S3Location.Version))

	data, ok := fake.Object("b", signed.Key, versions[1])
	require.True(t, ok)
	require.Equal(t, "raw firmware", string(data))
}

// TestCreate_NotIdempotent creates a second stream for the same request.
func TestCreate_NotIdempotent(t *testing.T) {
	t.Parallel()

	fake := cloudtest.New()
	raw, signed := seed(fake)

	provisioner := New(fake, objects.NewStore(fake))
	req := Request{Binary: raw, SignedObject: signed, RoleARN: roleARN, JobID: "j1"}

	first, err := provisioner.Create(context.Background(), req)
	require.NoError(t, err)

	second, err := provisioner.Create(context.Background(), req)
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, 2, fake.StreamCount())
}

// TestCreate_Errors covers a missing role and a rejected CreateStream call.
func TestCreate_Errors(t *testing.T) {
	t.Parallel()

	fake := cloudtest.New()
	raw, signed := seed(fake)

	provisioner := New(fake, objects.NewStore(fake), WithIDGenerator(func() string { return "fixed" }))

	_, err := provisioner.Create(context.Background(), Request{Binary: raw, SignedObject: signed})
	require.ErrorIs(t, err, errRoleRequired)
	require.Zero(t, fake.CallCount("CopyObject"))

	fake.Fail("CreateStream", errTestDenied)

	_, err = provisioner.Create(context.Background(), Request{Binary: raw, SignedObject: signed, RoleARN: roleARN})
	require.ErrorIs(t, err, errTestDenied)
	require.ErrorContains(t, err, "AFR_OTA-fixed")
}
