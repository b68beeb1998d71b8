package fleet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

// VersionTagKey is also created by the infrastructure that provisions the
// managed instances; both sides must agree on it.
const VersionTagKey = "installed-cloud-courier-agent-version"

var ErrInstanceNotFound = errors.New("managed instance not found")

// TagInstance records the running agent version on the SSM managed instance
// registered with roleName. Exactly one instance must match.
func (l *Loader) TagInstance(ctx context.Context, roleName, version string) error {
	out, err := l.ssm.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
		Filters: []ssmtypes.InstanceInformationStringFilter{
			{Key: aws.String("IamRole"), Values: []string{roleName}},
		},
	})
	if err != nil {
		return fmt.Errorf("describe instance information: %w", err)
	}
	if n := len(out.InstanceInformationList); n != 1 {
		ids := make([]string, 0, n)
		for _, info := range out.InstanceInformationList {
			ids = append(ids, aws.ToString(info.InstanceId))
		}
		return fmt.Errorf("%w: expected exactly one instance with role %q, found %d [%s]",
			ErrInstanceNotFound, roleName, n, strings.Join(ids, ", "))
	}

	instanceID := aws.ToString(out.InstanceInformationList[0].InstanceId)
	if instanceID == "" {
		return fmt.Errorf("%w: instance with role %q has no ID", ErrInstanceNotFound, roleName)
	}

	_, err = l.ssm.AddTagsToResource(ctx, &ssm.AddTagsToResourceInput{
		ResourceType: ssmtypes.ResourceTypeForTaggingManagedInstance,
		ResourceId:   aws.String(instanceID),
		Tags:         []ssmtypes.Tag{{Key: aws.String(VersionTagKey), Value: aws.String(version)}},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("tag instance %s (%s): %w", instanceID, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("tag instance %s: %w", instanceID, err)
	}
	l.logger.Infof("tagged instance %s with %s=%s", instanceID, VersionTagKey, version)
	return nil
}
