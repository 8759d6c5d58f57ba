package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-sync/internal/model"
)

var (
	syncAccount string
	syncFull    bool
	syncFrom    string
	syncDrain   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Queue a sync job for an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Inline draining runs the whole pipeline, so it needs the full
		// worker configuration.
		mode := "sync"
		if syncDrain {
			mode = "worker"
		}
		env, err := initApp(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := queueSyncJob(ctx, env.Store, syncAccount, syncFull, syncFrom)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s sync %s for %s\n", job.SyncType, job.ID, syncAccount)

		if !syncDrain {
			return nil
		}
		ws, err := buildWorkers(env)
		if err != nil {
			return err
		}
		return drainAll(ctx, ws)
	},
}

// jobQueuer is the slice of the store sync needs.
type jobQueuer interface {
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	CreateJob(ctx context.Context, accountID string, syncType model.SyncType, syncFrom *time.Time) (*model.SyncJob, error)
}

// queueSyncJob resolves the account by email and inserts a pending job.
// Initial is forced for accounts that have never synced.
func queueSyncJob(ctx context.Context, st jobQueuer, email string, full bool, fromRFC3339 string) (*model.SyncJob, error) {
	account, err := st.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, eris.Errorf("no account registered for %s", email)
	}

	syncType := model.SyncTypeIncremental
	if full || account.LastSyncedAt == nil {
		syncType = model.SyncTypeInitial
	}

	var from *time.Time
	if fromRFC3339 != "" {
		t, err := time.Parse(time.RFC3339, fromRFC3339)
		if err != nil {
			return nil, eris.Wrap(err, "parse --from")
		}
		from = &t
	}

	return st.CreateJob(ctx, account.ID, syncType, from)
}

func init() {
	syncCmd.Flags().StringVar(&syncAccount, "account", "", "account email (required)")
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "force a full initial backfill")
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "override the sync window start (RFC3339)")
	syncCmd.Flags().BoolVar(&syncDrain, "drain", false, "process the job inline until the pipeline is idle")
	_ = syncCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(syncCmd)
}
