package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"ticketing/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// DeliveryResult is the Result dimension of the delivery metric.
type DeliveryResult string

const (
	ResultSuccess DeliveryResult = "success"
	ResultFailed  DeliveryResult = "failed"
	ResultBlocked DeliveryResult = "blocked"
)

// DeliveryMetrics records email worker telemetry.
type DeliveryMetrics interface {
	RecordDelivery(ctx context.Context, provider string, result DeliveryResult)
	RecordLatency(ctx context.Context, provider string, d time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// CloudWatchMetrics emits delivery metrics to CloudWatch. Emission failures
// are logged and never fail the caller.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ DeliveryMetrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordDelivery emits TicketEmailDelivery{Provider, Result} = 1.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, provider string, result DeliveryResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricTicketEmailDelivery),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(provider)},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

// RecordLatency emits the provider call duration in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, provider string, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricTicketEmailLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(provider)},
		},
	})
}

// RecordQueueLag emits the time between enqueue and processing start.
func (m *CloudWatchMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to put metric",
			"metric", aws.ToString(datum.MetricName),
			"error", err,
		)
	}
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordDelivery(context.Context, string, DeliveryResult) {}
func (NopMetrics) RecordLatency(context.Context, string, time.Duration)   {}
func (NopMetrics) RecordQueueLag(context.Context, time.Duration)          {}
