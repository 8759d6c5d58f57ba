package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-sync/internal/meetings"
	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/store"
)

var (
	meetingsStatus string
	meetingsLimit  int
)

var meetingsCmd = &cobra.Command{
	Use:   "meetings",
	Short: "Inspect and repair the meeting bot state machine",
}

var meetingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked meetings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "meetings")
		if err != nil {
			return err
		}
		defer st.Close()

		ms, err := st.ListMeetings(ctx, store.MeetingFilter{
			Status: model.MeetingStatus(meetingsStatus),
			Limit:  meetingsLimit,
		})
		if err != nil {
			return err
		}
		formatMeetings(os.Stdout, ms)
		return nil
	},
}

var meetingsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Unstick meetings abandoned mid-transition",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "meetings")
		if err != nil {
			return err
		}
		defer st.Close()

		rec := meetings.NewRecoverer(st, newRecallClient(), meetingsConfig())
		n, err := rec.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("recovered %d meetings\n", n)
		return nil
	},
}

func formatMeetings(out io.Writer, ms []*model.Meeting) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MEETING\tTITLE\tSTARTS\tSTATUS\tRETRIES\tBOT")
	fmt.Fprintln(w, "-------\t-----\t------\t------\t-------\t---")
	for _, m := range ms {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(m.ID, 8),
			truncate(m.Title, 32),
			m.StartsAt.UTC().Format("2006-01-02 15:04"),
			m.Status,
			m.RetryCount,
			truncate(m.BotID, 14),
		)
	}
	w.Flush()
}

func init() {
	meetingsListCmd.Flags().StringVar(&meetingsStatus, "status", "", "filter by status")
	meetingsListCmd.Flags().IntVar(&meetingsLimit, "limit", 50, "max rows")
	meetingsCmd.AddCommand(meetingsListCmd)
	meetingsCmd.AddCommand(meetingsRecoverCmd)
	rootCmd.AddCommand(meetingsCmd)
}
