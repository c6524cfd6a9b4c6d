package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/jobs"
	"github.com/lalithlochan/herald/internal/render"
)

// outputResult writes result to w in the requested format.
func outputResult(w io.Writer, result any, format string) error {
	switch format {
	case "json":
		return outputJSON(w, result)
	case "table", "":
		return outputTable(w, result)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func outputJSON(w io.Writer, result any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputTable(out io.Writer, result any) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case []string:
		for _, s := range r {
			fmt.Fprintln(w, s)
		}
	case *jobs.Report:
		outputReportTable(w, r)
	case []*db.Template:
		fmt.Fprintln(w, "CODE\tNAME\tCHANNEL\tUPDATED")
		for _, t := range r {
			hint := "-"
			if t.ChannelHint != nil {
				hint = *t.ChannelHint
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Code, t.Name, hint, render.Date(t.UpdatedAt))
		}
	case sendResult:
		fmt.Fprintf(w, "CHANNEL\t%s\n", r.Channel)
		fmt.Fprintf(w, "STATUS\t%s\n", r.Status)
		if r.Reason != "" {
			fmt.Fprintf(w, "REASON\t%s\n", r.Reason)
		}
		if r.ProviderRef != "" {
			fmt.Fprintf(w, "PROVIDER REF\t%s\n", r.ProviderRef)
		}
	case enqueued:
		fmt.Fprintf(w, "JOB\t%s\n", r.Job)
		fmt.Fprintf(w, "MESSAGE ID\t%s\n", r.MessageID)
	default:
		return outputJSON(out, result)
	}
	return nil
}

func outputReportTable(w *tabwriter.Writer, r *jobs.Report) {
	fmt.Fprintf(w, "JOB\t%s\n", r.Job)
	fmt.Fprintf(w, "RUN\t%s\n", r.RunID)
	fmt.Fprintf(w, "OUTCOME\t%s\n", r.Outcome())
	fmt.Fprintf(w, "DURATION\t%s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "ERROR\t%s\n", r.Error)
	}
	if len(r.Results) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "CAMPAIGN\tTOTAL\tSENT\tFAILED\tATTEMPTS")
	for _, c := range r.Results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", c.Campaign, c.Total, c.Sent, c.Failed, c.Attempts)
	}
}
