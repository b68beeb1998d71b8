package heartbeat

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	Namespace     = "CloudCourier"
	MetricName    = "heartbeat"
	Application   = "CloudCourier"
	RoleDimension = "instance-role-name"
)

// MetricsAPI is the part of the CloudWatch client the sink needs.
type MetricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput,
		optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ MetricsAPI = (*cloudwatch.Client)(nil)

// CloudWatchSink publishes a count of 1 per beat.
type CloudWatchSink struct {
	client MetricsAPI
}

func NewCloudWatchSink(client MetricsAPI) *CloudWatchSink {
	return &CloudWatchSink{client: client}
}

func (s *CloudWatchSink) Name() string { return "CloudWatch" }

func (s *CloudWatchSink) Send(ctx context.Context, b Beat) error {
	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(Namespace),
		MetricData: []types.MetricDatum{{
			MetricName: aws.String(MetricName),
			Dimensions: []types.Dimension{
				{Name: aws.String("Application"), Value: aws.String(Application)},
				{Name: aws.String(RoleDimension), Value: aws.String(b.Identity)},
			},
			Timestamp: aws.Time(b.At.UTC()),
			Value:     aws.Float64(1),
			Unit:      types.StandardUnitCount,
		}},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
