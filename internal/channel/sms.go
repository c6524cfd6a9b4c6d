package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSPublisher is the subset of the SNS client the SMS adapter uses.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSConfig configures the SNS SMS adapter.
type SMSConfig struct {
	Region   string
	SenderID string
	Enabled  bool
}

// SMSAdapter sends transactional SMS through AWS SNS.
type SMSAdapter struct {
	client   SNSPublisher
	senderID string
	logger   *zap.Logger
}

// NewSMSAdapter loads AWS configuration for cfg.Region. When SMS is disabled
// the adapter is built without a client and reports not_configured.
func NewSMSAdapter(ctx context.Context, cfg SMSConfig, logger *zap.Logger) (*SMSAdapter, error) {
	if !cfg.Enabled {
		return &SMSAdapter{logger: logger}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return NewSMSAdapterWithClient(sns.NewFromConfig(awsCfg), cfg.SenderID, logger), nil
}

// NewSMSAdapterWithClient builds the adapter around an existing publisher.
func NewSMSAdapterWithClient(client SNSPublisher, senderID string, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{
		client:   client,
		senderID: senderID,
		logger:   logger,
	}
}

func (a *SMSAdapter) Channel() Channel { return SMS }

// Deliver publishes body directly to the phone number.
func (a *SMSAdapter) Deliver(ctx context.Context, to, _, body string) (Outcome, error) {
	if a.client == nil {
		a.logger.Warn("sms not configured")
		return NotConfigured(), nil
	}

	phone := NormalizePhone(to)
	if phone == "" {
		return Outcome{Reason: ReasonInvalidPhone}, nil
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if a.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(a.senderID),
		}
	}

	result, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return Outcome{}, transportErr(SMS, "sns publish failed", err)
	}

	ref := aws.ToString(result.MessageId)
	a.logger.Info("SMS sent via SNS",
		zap.String("phone_number", phone),
		zap.String("message_id", ref),
	)

	return Delivered(ref), nil
}
