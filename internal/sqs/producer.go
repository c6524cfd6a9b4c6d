// Package sqs carries job triggers. The external clock (EventBridge
// Scheduler, a cron host or heraldctl) enqueues job names; the consumer
// runs them through the scheduler.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/jobs"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// Endpoint overrides the SQS endpoint, for LocalStack.
	Endpoint string
}

// API is the subset of the SQS client herald uses.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Trigger is the queue payload.
type Trigger struct {
	Job string `json:"job"`
	// Offset restricts daily-fee-reminders to one ladder offset.
	Offset      *int   `json:"offset,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
	EnqueuedAt  int64  `json:"enqueued_at"`
}

func newClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Producer enqueues job triggers.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewProducerWithClient(client, cfg.QueueURL, logger), nil
}

func NewProducerWithClient(client API, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enqueue sends a trigger for t.Job. Returns the message ID for tracking.
func (p *Producer) Enqueue(ctx context.Context, t Trigger) (string, error) {
	if !jobs.IsJob(t.Job) {
		return "", fmt.Errorf("%w: %s", jobs.ErrUnknownJob, t.Job)
	}
	if t.EnqueuedAt == 0 {
		t.EnqueuedAt = time.Now().Unix()
	}

	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send trigger to sqs",
			zap.Error(err),
			zap.String("job", t.Job),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
