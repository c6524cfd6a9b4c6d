package sns

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/campaign"
	"github.com/lalithlochan/herald/internal/jobs"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestPublishReport(t *testing.T) {
	client := &fakeSNS{}
	p := NewReportPublisherWithClient(client, "arn:aws:sns:ap-south-1:123:herald-jobs", zap.NewNop())

	report := &jobs.Report{
		Job:        jobs.OverdueSweep,
		RunID:      "run-1",
		StartedAt:  time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 1, 13, 9, 0, 5, 0, time.UTC),
		Results:    []*campaign.Result{{Campaign: campaign.CampaignFeeOverdue, Total: 3, Sent: 2, Failed: 1}},
		Error:      "query overdue fees: store unavailable",
	}

	if err := p.PublishReport(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := client.input
	if aws.ToString(in.TopicArn) != "arn:aws:sns:ap-south-1:123:herald-jobs" {
		t.Errorf("unexpected topic %s", aws.ToString(in.TopicArn))
	}
	if aws.ToString(in.Subject) != "herald overdue-sweep: error" {
		t.Errorf("unexpected subject %q", aws.ToString(in.Subject))
	}
	if got := aws.ToString(in.MessageAttributes["outcome"].StringValue); got != "error" {
		t.Errorf("expected outcome attribute error, got %s", got)
	}

	var decoded jobs.Report
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &decoded); err != nil {
		t.Fatalf("message is not a report: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Results) != 1 || decoded.Results[0].Failed != 1 {
		t.Errorf("unexpected decoded report %+v", decoded)
	}
}

func TestPublishReport_Error(t *testing.T) {
	client := &fakeSNS{err: errors.New("throttled")}
	p := NewReportPublisherWithClient(client, "arn", zap.NewNop())

	err := p.PublishReport(context.Background(), &jobs.Report{Job: jobs.DailySummary})
	if err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}
