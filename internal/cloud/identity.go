package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

var (
	// errNoAccount is returned when STS answers without an account id.
	errNoAccount = errors.New("caller identity has no account")
	// ErrUnknownPartition is returned for partitions without a known DNS suffix.
	ErrUnknownPartition = errors.New("unknown AWS partition")
)

// partitionDNSSuffixes maps partitions to the domain of their service endpoints.
//
//nolint:gochecknoglobals // Read-only lookup table.
var partitionDNSSuffixes = map[string]string{
	"aws":        "amazonaws.com",
	"aws-cn":     "amazonaws.com.cn",
	"aws-us-gov": "amazonaws.com",
	"aws-iso":    "c2s.ic.gov",
	"aws-iso-b":  "sc2s.sgov.gov",
	"aws-iso-e":  "cloud.adc-e.uk",
	"aws-iso-f":  "csp.hci.ic.gov",
}

// DNSSuffix returns the endpoint domain of partition, e.g. amazonaws.com.cn for aws-cn.
func DNSSuffix(partition string) (string, error) {
	suffix, ok := partitionDNSSuffixes[partition]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPartition, partition)
	}

	return suffix, nil
}

// Identity locates the caller: partition, account and region.
type Identity struct {
	Partition string
	Account   string
	Region    string
	// DNSSuffix is the endpoint domain of Partition.
	DNSSuffix string
}

// ResolveIdentity asks STS for the caller account.
func ResolveIdentity(ctx context.Context, client STSAPI, partition, region string) (*Identity, error) {
	suffix, err := DNSSuffix(partition)
	if err != nil {
		return nil, err
	}

	out, err := client.GetCallerIdentity(ctx, new(sts.GetCallerIdentityInput))
	if err != nil {
		return nil, fmt.Errorf("get caller identity: %w", err)
	}

	account := aws.ToString(out.Account)
	if account == "" {
		return nil, errNoAccount
	}

	return &Identity{
		Partition: partition,
		Account:   account,
		Region:    region,
		DNSSuffix: suffix,
	}, nil
}

// RoleARN returns the ARN of an IAM role name. Full ARNs are returned untouched.
func (id *Identity) RoleARN(role string) string {
	if arn.IsARN(role) {
		return role
	}

	return arn.ARN{
		Partition: id.Partition,
		Service:   "iam",
		AccountID: id.Account,
		Resource:  "role/" + strings.TrimPrefix(role, "/"),
	}.String()
}

// S3Endpoint returns the regional S3 endpoint URL of the caller's partition.
func (id *Identity) S3Endpoint() string {
	return "https://s3." + id.Region + "." + id.DNSSuffix
}

// ThingGroupARN returns the ARN of a thing group name. Full ARNs are returned untouched.
func (id *Identity) ThingGroupARN(group string) string {
	if arn.IsARN(group) {
		return group
	}

	return arn.ARN{
		Partition: id.Partition,
		Service:   "iot",
		Region:    id.Region,
		AccountID: id.Account,
		Resource:  "thinggroup/" + group,
	}.String()
}

// ErrorCode extracts the AWS API error code from err, or "" if there is none.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}

	return ""
}
