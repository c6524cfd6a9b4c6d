package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/herald/internal/app"
	"github.com/lalithlochan/herald/internal/jobs"
	"github.com/lalithlochan/herald/internal/sqs"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, run and enqueue scheduled jobs",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsRunCmd())
	cmd.AddCommand(jobsEnqueueCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List job names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return outputResult(cmd.OutOrStdout(), jobs.Names(), outputFmt)
		},
	}
}

func jobsRunCmd() *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run a job in this process",
		Long: `Run a job in this process and print its report.

The job lock is honoured, so a run already in progress elsewhere is skipped.

Examples:
  # Every daily job, in order
  heraldctl jobs run all-daily

  # Only the reminders due in three days
  heraldctl jobs run daily-fee-reminders --offset 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateJob(name, cmd.Flags().Changed("offset")); err != nil {
				return err
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				var report *jobs.Report
				if cmd.Flags().Changed("offset") {
					report = a.Scheduler.RunFeeOffset(cmd.Context(), offset)
				} else {
					var err error
					report, err = a.Scheduler.Run(cmd.Context(), name)
					if err != nil {
						return err
					}
				}
				if err := outputResult(cmd.OutOrStdout(), report, outputFmt); err != nil {
					return err
				}
				if report.Failed() {
					return fmt.Errorf("job %s failed: %s", report.Job, report.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Ladder offset in days (daily-fee-reminders only)")
	return cmd
}

func jobsEnqueueCmd() *cobra.Command {
	var offset int

	cmd := &cobra.Command{
		Use:   "enqueue <job>",
		Short: "Put a job trigger on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			hasOffset := cmd.Flags().Changed("offset")
			if err := validateJob(name, hasOffset); err != nil {
				return err
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.SQSTriggerQueueURL == "" {
				return fmt.Errorf("SQS_TRIGGER_QUEUE_URL is not set")
			}
			producer, err := sqs.NewProducer(cmd.Context(), sqs.Config{
				Region:   cfg.SQSRegion,
				QueueURL: cfg.SQSTriggerQueueURL,
				Endpoint: cfg.AWSEndpoint,
			}, logger)
			if err != nil {
				return err
			}

			trigger := sqs.Trigger{Job: name, RequestedBy: "heraldctl"}
			if hasOffset {
				trigger.Offset = &offset
			}
			id, err := producer.Enqueue(cmd.Context(), trigger)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), enqueued{Job: name, MessageID: id}, outputFmt)
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Ladder offset in days (daily-fee-reminders only)")
	return cmd
}

type enqueued struct {
	Job       string `json:"job"`
	MessageID string `json:"message_id"`
}

func validateJob(name string, hasOffset bool) error {
	if !jobs.IsJob(name) {
		return fmt.Errorf("unknown job %q (see heraldctl jobs list)", name)
	}
	if hasOffset && name != jobs.DailyFeeReminders {
		return fmt.Errorf("--offset only applies to %s", jobs.DailyFeeReminders)
	}
	return nil
}
