package external

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"vitalog/internal/types"
)

// SQSSender is the slice of the SQS client the notifier needs.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier publishes entitlement-change events to the queue the bot
// consumer reads for rich-menu refreshes. Implements
// entitlement.ChangePublisher.
type SQSNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSNotifier creates an SQSNotifier.
func NewSQSNotifier(client SQSSender, queueURL string, logger *slog.Logger) *SQSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSNotifier{client: client, queueURL: queueURL, logger: logger}
}

// PublishChange sends one entitlement.changed message. Callers treat
// failures as best-effort; the entitlement mutation has already
// committed by the time this runs.
func (n *SQSNotifier) PublishChange(ctx context.Context, msg types.EntitlementChanged) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternal, "failed to encode change event", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String("entitlement.changed"),
			},
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Reason),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to send change event", err)
	}

	n.logger.Debug("entitlement change published",
		slog.String("user_id", msg.UserID),
		slog.String("reason", msg.Reason))
	return nil
}
