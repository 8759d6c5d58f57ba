package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), "migrate")
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Println("schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
