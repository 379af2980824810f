package ota

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestParseSignedObject decodes the signer JSON and rejects unusable payloads.
func TestParseSignedObject(t *testing.T) {
	t.Parallel()

	signed, err := ParseSignedObject([]byte(`{
		"rawPayloadSize": 4096,
		"signature": "MEYCIQ==",
		"signatureAlgorithm": "SHA256withECDSA",
		"payload": "AAEC"
	}`))
	require.NoError(t, err)
	require.Equal(t, &SignedObject{
		Signature:          "MEYCIQ==",
		SignatureAlgorithm: "SHA256withECDSA",
		RawPayloadSize:     4096,
		Payload:            "AAEC",
	}, signed)

	for _, body := range []string{
		`not json`,
		`{"signatureAlgorithm": "SHA256withECDSA", "rawPayloadSize": 1}`,
		`{"signature": "x", "rawPayloadSize": 1}`,
		`{"signature": "x", "signatureAlgorithm": "SHA256withRSA", "rawPayloadSize": -5}`,
	} {
		_, err = ParseSignedObject([]byte(body))
		require.ErrorIs(t, err, ErrInvalidSignedObject, body)
	}
}

// TestValidateJobID checks the IoT job id character set and length limit.
func TestValidateJobID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateJobID("j1"))
	require.NoError(t, ValidateJobID("fw_2024-06"))
	require.Equal(t, "AFR_OTA-j1", JobID("j1"))

	require.ErrorIs(t, ValidateJobID(""), ErrInvalidJobID)
	require.ErrorIs(t, ValidateJobID("has space"), ErrInvalidJobID)
	require.ErrorIs(t, ValidateJobID("a/b"), ErrInvalidJobID)
	require.NoError(t, ValidateJobID(strings.Repeat("x", maxJobIDLength-len(IDPrefix))))
	require.ErrorIs(t, ValidateJobID(strings.Repeat("x", maxJobIDLength-len(IDPrefix)+1)), ErrInvalidJobID)
}

// TestObjectLocationString renders with and without a version.
func TestObjectLocationString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "s3://b/fw.bin", ObjectLocation{Bucket: "b", Key: "fw.bin"}.String())
	require.Equal(t, "s3://b/fw.bin?versionId=v1", ObjectLocation{Bucket: "b", Key: "fw.bin", Version: "v1"}.String())
}

// TestNewSchedule verifies the window arithmetic and the minute-precision format.
func TestNewSchedule(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 10, 15, 42, 0, time.FixedZone("CEST", 2*60*60))

	s := NewSchedule(now, time.Hour, 90*time.Minute, "CANCEL")
	require.Equal(t, "2024-06-01T09:15", s.StartString())
	require.Equal(t, "2024-06-01T10:45", s.EndString())
	require.Equal(t, 90*time.Minute, s.End.Sub(s.Start))
	require.Equal(t, "CANCEL", s.EndBehavior)
}

// TestParseProtocols covers case folding, ordering and rejection of bad lists.
func TestParseProtocols(t *testing.T) {
	t.Parallel()

	got, err := ParseProtocols([]string{"mqtt", " HTTP "})
	require.NoError(t, err)
	require.Equal(t, []Protocol{ProtocolMQTT, ProtocolHTTP}, got)

	_, err = ParseProtocols(nil)
	require.ErrorIs(t, err, ErrNoProtocols)

	_, err = ParseProtocols([]string{"MQTT", "mqtt"})
	require.ErrorIs(t, err, ErrDuplicateProtocol)

	_, err = ParseProtocols([]string{"coap"})
	require.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestPresignedURLPlaceholder(t *testing.T) {
	t.Parallel()

	loc := ObjectLocation{Bucket: "b", Key: "SignedImage/x", Version: "v2"}
	require.Equal(t,
		"${aws:iot:s3-presigned-url:https://s3.eu-west-1.amazonaws.com/b/SignedImage/x?versionId=v2}",
		PresignedURLPlaceholder(loc, "https://s3.eu-west-1.amazonaws.com"))

	loc.Version = ""
	require.Equal(t,
		"${aws:iot:s3-presigned-url:https://s3.eu-west-1.amazonaws.com/b/SignedImage/x}",
		PresignedURLPlaceholder(loc, "https://s3.eu-west-1.amazonaws.com/"))

	require.Equal(t,
		"${aws:iot:s3-presigned-url:https://s3.cn-north-1.amazonaws.com.cn/b/SignedImage/x}",
		PresignedURLPlaceholder(loc, "https://s3.cn-north-1.amazonaws.com.cn"))
}
