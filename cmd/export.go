package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inbox-sync/internal/crm"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push resolved entities to external systems",
}

var exportCRMCmd = &cobra.Command{
	Use:   "crm",
	Short: "Upsert companies and customers into Salesforce",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Salesforce.Enabled {
			return eris.New("salesforce export is disabled (set INBOX_SALESFORCE_ENABLED=true)")
		}

		ctx := cmd.Context()
		st, err := openStore(ctx, "export")
		if err != nil {
			return err
		}
		defer st.Close()

		sf, err := initSalesforce()
		if err != nil {
			return err
		}

		report, err := crm.NewExporter(st, sf).Export(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("accounts: %d pushed, %d failed\n", report.AccountsPushed, report.AccountsFailed)
		fmt.Printf("contacts: %d pushed, %d failed\n", report.ContactsPushed, report.ContactsFailed)
		fmt.Printf("elapsed: %s\n", report.Elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	exportCmd.AddCommand(exportCRMCmd)
	rootCmd.AddCommand(exportCmd)
}
