package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the history store and its root node",
	Long:  "Opens (creating if needed) the configured store and makes sure it holds exactly one root. Safe to run repeatedly.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "root %s (%s store)\n", a.svc.Root(), a.cfg.Store)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
