package external

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"vitalog/internal/types"
)

const metricNamespace = "VitaLog"

// CloudWatchClient is the slice of the CloudWatch client the collector needs.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Collector is the metrics surface the service emits to. Failures are
// swallowed after logging; metrics never break a request.
type Collector interface {
	CountWebhook(ctx context.Context, eventType string, outcome types.IngestOutcome)
	CountQuotaDenied(ctx context.Context, feature types.FeatureType, tier types.PlanTier)
	CountCouponRedeemed(ctx context.Context, couponType string)
	CountTrialStarted(ctx context.Context)
}

// CloudWatchCollector emits counters to CloudWatch.
type CloudWatchCollector struct {
	client CloudWatchClient
	logger *slog.Logger
}

// NewCloudWatchCollector creates a CloudWatchCollector.
func NewCloudWatchCollector(client CloudWatchClient, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{client: client, logger: logger}
}

func (c *CloudWatchCollector) put(ctx context.Context, name string, dims map[string]string) {
	dimensions := make([]cwtypes.Dimension, 0, len(dims))
	for k, v := range dims {
		dimensions = append(dimensions, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricNamespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(time.Now()),
			Dimensions: dimensions,
		}},
	})
	if err != nil {
		c.logger.Warn("failed to emit metric",
			slog.String("metric", name),
			slog.String("error", err.Error()))
	}
}

func (c *CloudWatchCollector) CountWebhook(ctx context.Context, eventType string, outcome types.IngestOutcome) {
	c.put(ctx, "WebhookEvents", map[string]string{
		"EventType": eventType,
		"Outcome":   string(outcome),
	})
}

func (c *CloudWatchCollector) CountQuotaDenied(ctx context.Context, feature types.FeatureType, tier types.PlanTier) {
	c.put(ctx, "QuotaDenied", map[string]string{
		"Feature":  string(feature),
		"PlanTier": string(tier),
	})
}

func (c *CloudWatchCollector) CountCouponRedeemed(ctx context.Context, couponType string) {
	c.put(ctx, "CouponRedeemed", map[string]string{
		"CouponType": couponType,
	})
}

func (c *CloudWatchCollector) CountTrialStarted(ctx context.Context) {
	c.put(ctx, "TrialStarted", nil)
}

// NoopCollector discards every metric; used in local development.
type NoopCollector struct{}

func (NoopCollector) CountWebhook(context.Context, string, types.IngestOutcome)           {}
func (NoopCollector) CountQuotaDenied(context.Context, types.FeatureType, types.PlanTier) {}
func (NoopCollector) CountCouponRedeemed(context.Context, string)                         {}
func (NoopCollector) CountTrialStarted(context.Context)                                   {}
