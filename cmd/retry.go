package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/model"
)

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Requeue a job's failed work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "retry")
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := retryJob(ctx, st, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d pages and %d conversations", res.Pages, res.Records)
		if res.Restarted {
			fmt.Print("; job restarted")
		}
		fmt.Println()
		return nil
	},
}

// jobRetrier is the slice of the store retry needs.
type jobRetrier interface {
	GetJob(ctx context.Context, id string) (*model.SyncJob, error)
	RequeueFailedPageTasks(ctx context.Context, jobID string) (int64, error)
	RequeueFailedStageRecords(ctx context.Context, jobID string) (int64, error)
	RestartJob(ctx context.Context, id string) (bool, error)
}

// retrySummary reports what a retry pass touched.
type retrySummary struct {
	Pages     int64
	Records   int64
	Restarted bool
}

// retryJob requeues the job's failed pages and conversations, then moves
// a failed job back to running so the checker closes it out once the
// requeued children finish.
func retryJob(ctx context.Context, st jobRetrier, id string) (retrySummary, error) {
	var res retrySummary

	job, err := st.GetJob(ctx, id)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, eris.Errorf("job %s not found", id)
	}

	if res.Pages, err = st.RequeueFailedPageTasks(ctx, id); err != nil {
		return res, err
	}
	if res.Records, err = st.RequeueFailedStageRecords(ctx, id); err != nil {
		return res, err
	}
	if job.Status == model.JobStatusFailed {
		if res.Restarted, err = st.RestartJob(ctx, id); err != nil {
			return res, err
		}
	}

	zap.L().Info("job retry queued",
		zap.String("job_id", id),
		zap.Int64("pages", res.Pages),
		zap.Int64("records", res.Records),
		zap.Bool("restarted", res.Restarted),
	)
	return res, nil
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
