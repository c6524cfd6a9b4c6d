package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/jobs"
	"github.com/lalithlochan/herald/internal/metrics"
)

// JobRunner runs triggered jobs. *jobs.Scheduler satisfies it.
type JobRunner interface {
	Run(ctx context.Context, name string) (*jobs.Report, error)
	RunFeeOffset(ctx context.Context, offset int) *jobs.Report
}

// Consumer long-polls the trigger queue and runs one job per message.
type Consumer struct {
	client   API
	queueURL string
	runner   JobRunner
	logger   *zap.Logger

	// Visibility must outlast the longest job or the trigger is redelivered
	// while still running; the job lock then skips the duplicate.
	visibility int32
	backoff    time.Duration
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, runner JobRunner, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewConsumerWithClient(client, cfg.QueueURL, runner, logger), nil
}

func NewConsumerWithClient(client API, queueURL string, runner JobRunner, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:     client,
		queueURL:   queueURL,
		runner:     runner,
		logger:     logger,
		visibility: 900,
		backoff:    5 * time.Second,
	}
}

// Start polls until ctx is cancelled. Receive errors are logged and retried
// after a pause.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("trigger consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info("trigger consumer stopping")
			return
		}

		if err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("failed to poll trigger queue", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
	}
}

// Poll receives at most one trigger and handles it.
func (c *Consumer) Poll(ctx context.Context) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   c.visibility,
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}

	for _, msg := range result.Messages {
		c.handle(ctx, aws.ToString(msg.Body))
		// Triggers are never retried by redelivery. A failed job waits for
		// its next scheduled trigger.
		if err := c.delete(context.WithoutCancel(ctx), aws.ToString(msg.ReceiptHandle)); err != nil {
			c.logger.Error("failed to delete trigger", zap.Error(err))
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, body string) {
	var t Trigger
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		c.logger.Error("invalid trigger message", zap.Error(err))
		metrics.RecordTriggerMessage("invalid")
		return
	}

	logger := c.logger.With(zap.String("job", t.Job), zap.String("requested_by", t.RequestedBy))

	var report *jobs.Report
	if t.Job == jobs.DailyFeeReminders && t.Offset != nil {
		report = c.runner.RunFeeOffset(ctx, *t.Offset)
	} else {
		var err error
		report, err = c.runner.Run(ctx, t.Job)
		if errors.Is(err, jobs.ErrUnknownJob) {
			logger.Warn("trigger for unknown job")
			metrics.RecordTriggerMessage("invalid")
			return
		}
	}

	outcome := report.Outcome()
	metrics.RecordTriggerMessage(outcome)
	logger.Info("trigger handled", zap.String("outcome", outcome), zap.String("run_id", report.RunID))
}

func (c *Consumer) delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
