package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-sync/internal/model"
)

var (
	accountEmail    string
	accountGrant    string
	accountToken    string
	accountCalendar string
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage registered mailboxes",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a mailbox for syncing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if accountEmail == "" || accountGrant == "" {
			return eris.New("--email and --grant are required")
		}

		ctx := cmd.Context()
		st, err := openStore(ctx, "accounts")
		if err != nil {
			return err
		}
		defer st.Close()

		a := &model.Account{
			Email:       accountEmail,
			GrantID:     accountGrant,
			AccessToken: accountToken,
			CalendarID:  accountCalendar,
		}
		if err := st.CreateAccount(ctx, a); err != nil {
			return err
		}
		fmt.Printf("registered %s (%s)\n", a.Email, a.ID)
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered mailboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "accounts")
		if err != nil {
			return err
		}
		defer st.Close()

		accounts, err := st.ListAccounts(ctx)
		if err != nil {
			return err
		}
		formatAccounts(os.Stdout, accounts)
		return nil
	},
}

func formatAccounts(out io.Writer, accounts []*model.Account) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tGRANT\tCALENDAR\tLAST SYNCED")
	fmt.Fprintln(w, "-----\t-----\t--------\t-----------")
	for _, a := range accounts {
		last := "never"
		if a.LastSyncedAt != nil {
			last = a.LastSyncedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.Email, truncate(a.GrantID, 14), truncate(a.CalendarID, 14), last)
	}
	w.Flush()
}

func init() {
	accountsAddCmd.Flags().StringVar(&accountEmail, "email", "", "mailbox address")
	accountsAddCmd.Flags().StringVar(&accountGrant, "grant", "", "provider grant id")
	accountsAddCmd.Flags().StringVar(&accountToken, "token", "", "provider access token")
	accountsAddCmd.Flags().StringVar(&accountCalendar, "calendar", "", "calendar id for meeting tracking")
	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsListCmd)
	rootCmd.AddCommand(accountsCmd)
}
