package cloud

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/require"
)

var errTestSTS = errors.New("sts unavailable")

type fakeSTS struct {
	account *string
	err     error
}

func (f *fakeSTS) GetCallerIdentity(
	context.Context,
	*sts.GetCallerIdentityInput,
	...func(*sts.Options),
) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	return &sts.GetCallerIdentityOutput{Account: f.account}, nil
}

// TestResolveIdentity_BuildsARNs checks ARN construction for roles and thing groups.
func TestResolveIdentity_BuildsARNs(t *testing.T) {
	t.Parallel()

	id, err := ResolveIdentity(context.Background(), &fakeSTS{account: aws.String("123456789012")}, "aws", "eu-west-1")
	require.NoError(t, err)

	require.Equal(t, "arn:aws:iam::123456789012:role/r", id.RoleARN("r"))
	require.Equal(t, "arn:aws:iot:eu-west-1:123456789012:thinggroup/g", id.ThingGroupARN("g"))

	full := "arn:aws:iam::999999999999:role/service-role/ota"
	require.Equal(t, full, id.RoleARN(full))
}

// TestResolveIdentity_Partitions derives ARNs and the S3 endpoint from the partition.
func TestResolveIdentity_Partitions(t *testing.T) {
	t.Parallel()

	client := &fakeSTS{account: aws.String("123456789012")}

	id, err := ResolveIdentity(context.Background(), client, "aws", "eu-west-1")
	require.NoError(t, err)
	require.Equal(t, "https://s3.eu-west-1.amazonaws.com", id.S3Endpoint())

	id, err = ResolveIdentity(context.Background(), client, "aws-cn", "cn-north-1")
	require.NoError(t, err)
	require.Equal(t, "https://s3.cn-north-1.amazonaws.com.cn", id.S3Endpoint())
	require.Equal(t, "arn:aws-cn:iam::123456789012:role/r", id.RoleARN("r"))
	require.Equal(t, "arn:aws-cn:iot:cn-north-1:123456789012:thinggroup/g", id.ThingGroupARN("g"))

	_, err = ResolveIdentity(context.Background(), client, "azure", "eu-west-1")
	require.ErrorIs(t, err, ErrUnknownPartition)
}

// TestResolveIdentity_Errors covers STS failures and empty answers.
func TestResolveIdentity_Errors(t *testing.T) {
	t.Parallel()

	_, err := ResolveIdentity(context.Background(), &fakeSTS{err: errTestSTS}, "aws", "us-east-1")
	require.ErrorIs(t, err, errTestSTS)

	_, err = ResolveIdentity(context.Background(), &fakeSTS{}, "aws", "us-east-1")
	require.ErrorIs(t, err, errNoAccount)
}

// TestErrorCode extracts codes from wrapped SDK errors.
func TestErrorCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("create job: %w", &types.ResourceAlreadyExistsException{Message: aws.String("exists")})
	require.Equal(t, "ResourceAlreadyExistsException", ErrorCode(err))
	require.Empty(t, ErrorCode(errTestSTS))
}

// TestFromConfig_RequiresRegion verifies that a region is mandatory.
func TestFromConfig_RequiresRegion(t *testing.T) {
	t.Parallel()

	_, err := FromConfig(aws.Config{})
	require.ErrorIs(t, err, ErrNoRegion)

	clients, err := FromConfig(aws.Config{Region: "eu-central-1"})
	require.NoError(t, err)
	require.Equal(t, "eu-central-1", clients.Region)
	require.NotNil(t, clients.IoT)
}
