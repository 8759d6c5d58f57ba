package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/store"
)

var (
	statusLimit  int
	statusFilter string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync jobs, queue depth, and meeting rollup",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "status")
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(statusFilter),
			Limit:  statusLimit,
		})
		if err != nil {
			return err
		}
		formatJobs(os.Stdout, jobs)

		counts, err := st.CountMeetingsByStatus(ctx)
		if err != nil {
			return err
		}
		backlog, err := st.SummarizationBacklog(ctx)
		if err != nil {
			return err
		}
		cost, err := st.SumLLMCost(ctx, time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		formatSummary(os.Stdout, counts, backlog, cost)
		return nil
	},
}

// formatJobs renders the sync job table.
func formatJobs(out io.Writer, jobs []*model.SyncJob) {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tACCOUNT\tTYPE\tSTATUS\tPAGES\tTHREADS\tAGE\tERROR")
	fmt.Fprintln(w, "---\t-------\t----\t------\t-----\t-------\t---\t-----")
	for _, j := range jobs {
		errMsg := ""
		if j.LastError != nil {
			errMsg = truncate(j.LastError.Message, 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			truncate(j.ID, 8),
			truncate(j.AccountID, 8),
			j.SyncType,
			j.Status,
			j.PagesDone, j.PagesTotal,
			p.Sprintf("%d/%d", j.ThreadsDone, j.ThreadsTotal),
			age(j.CreatedAt),
			errMsg,
		)
	}
	w.Flush()
}

// formatSummary renders the queue and meeting rollup under the job table.
func formatSummary(out io.Writer, counts map[model.MeetingStatus]int, backlog int, cost float64) {
	p := message.NewPrinter(language.English)
	fmt.Fprintln(out)
	p.Fprintf(out, "summaries pending: %d\n", backlog)
	fmt.Fprintf(out, "llm cost (24h): $%.2f\n", cost)

	if len(counts) == 0 {
		return
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	fmt.Fprintln(out, "\nmeetings:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %s\t%s\n", s, p.Sprintf("%d", counts[model.MeetingStatus(s)]))
	}
	w.Flush()
}

// age renders a coarse elapsed-time column.
func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max jobs to show")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "filter jobs by status")
	rootCmd.AddCommand(statusCmd)
}
