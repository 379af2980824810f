package objects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oshokin/create-ota-job/internal/cloud"
	"github.com/oshokin/create-ota-job/internal/domain/ota"
)

// maxObjectSize caps reads of signer output, which embeds the whole binary in base64.
const maxObjectSize = 64 << 20

// nullVersion is what S3 reports for objects written before versioning was enabled.
const nullVersion = "null"

var (
	// ErrNotVersioned is returned when the bucket does not version objects.
	ErrNotVersioned = errors.New("bucket versioning is not enabled")
	// ErrTooLarge is returned when an object exceeds maxObjectSize.
	ErrTooLarge = errors.New("object too large")
)

// Store operates on versioned S3 objects.
type Store struct {
	// client performs object calls.
	client cloud.S3API
}

// NewStore creates a Store backed by the provided client.
func NewStore(client cloud.S3API) *Store {
	return &Store{client: client}
}

// CurrentVersion returns loc pinned to the latest version of its key.
func (s *Store) CurrentVersion(ctx context.Context, bucket, key string) (ota.ObjectLocation, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ota.ObjectLocation{}, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	location := ota.ObjectLocation{
		Bucket:  bucket,
		Key:     key,
		Version: aws.ToString(out.VersionId),
	}

	if err = requireVersion(location); err != nil {
		return ota.ObjectLocation{}, err
	}

	return location, nil
}

// Read returns the contents of loc. An empty version reads the latest one;
// the returned location is pinned to the version actually read.
func (s *Store) Read(ctx context.Context, loc ota.ObjectLocation) ([]byte, ota.ObjectLocation, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	}

	if loc.Version != "" {
		input.VersionId = aws.String(loc.Version)
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, ota.ObjectLocation{}, fmt.Errorf("get %s: %w", loc, err)
	}

	defer func() {
		_ = out.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return nil, ota.ObjectLocation{}, fmt.Errorf("read %s: %w", loc, err)
	}

	if len(data) > maxObjectSize {
		return nil, ota.ObjectLocation{}, fmt.Errorf("%s: %w", loc, ErrTooLarge)
	}

	read := loc
	if version := aws.ToString(out.VersionId); version != "" {
		read.Version = version
	}

	return data, read, nil
}

// Copy copies src over dst.Bucket/dst.Key and returns dst pinned to the new version.
func (s *Store) Copy(ctx context.Context, src, dst ota.ObjectLocation) (ota.ObjectLocation, error) {
	out, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Bucket),
		Key:        aws.String(dst.Key),
		CopySource: aws.String(CopySource(src)),
	})
	if err != nil {
		return ota.ObjectLocation{}, fmt.Errorf("copy %s to s3://%s/%s: %w", src, dst.Bucket, dst.Key, err)
	}

	copied := ota.ObjectLocation{
		Bucket:  dst.Bucket,
		Key:     dst.Key,
		Version: aws.ToString(out.VersionId),
	}

	if err = requireVersion(copied); err != nil {
		return ota.ObjectLocation{}, err
	}

	return copied, nil
}

// CopySource renders loc in the URL-encoded bucket/key[?versionId=] form CopyObject expects.
func CopySource(loc ota.ObjectLocation) string {
	segments := strings.Split(loc.Key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}

	source := loc.Bucket + "/" + strings.Join(segments, "/")
	if loc.Version != "" {
		source += "?versionId=" + url.QueryEscape(loc.Version)
	}

	return source
}

func requireVersion(loc ota.ObjectLocation) error {
	if loc.Version == "" || loc.Version == nullVersion {
		return fmt.Errorf("s3://%s/%s: %w", loc.Bucket, loc.Key, ErrNotVersioned)
	}

	return nil
}
