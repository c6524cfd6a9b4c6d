// Package sns publishes finished job reports to an SNS topic so operators
// can subscribe by email, chat webhook or queue.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/jobs"
)

// API is the subset of the SNS client the publisher uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds the report topic settings. Endpoint is for LocalStack.
type Config struct {
	Region   string
	TopicARN string
	Endpoint string
}

// ReportPublisher publishes job reports to one topic.
type ReportPublisher struct {
	client   API
	topicARN string
	logger   *zap.Logger
}

// NewReportPublisher loads AWS configuration for cfg.Region.
func NewReportPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*ReportPublisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewReportPublisherWithClient(client, cfg.TopicARN, logger), nil
}

// NewReportPublisherWithClient builds a publisher around an existing client.
func NewReportPublisherWithClient(client API, topicARN string, logger *zap.Logger) *ReportPublisher {
	return &ReportPublisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

// PublishReport sends r as JSON. The job and outcome message attributes let
// subscribers filter, e.g. only failed runs.
func (p *ReportPublisher) PublishReport(ctx context.Context, r *jobs.Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(fmt.Sprintf("herald %s: %s", r.Job, r.Outcome())),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"job": {
				DataType:    aws.String("String"),
				StringValue: aws.String(r.Job),
			},
			"outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(r.Outcome()),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	p.logger.Debug("job report published",
		zap.String("job", r.Job),
		zap.String("run_id", r.RunID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
