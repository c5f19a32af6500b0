package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"jamsession/looper/internal/service"
)

var commandNode string

var commandCmd = &cobra.Command{
	Use:   "command <text...>",
	Short: "Run one command against the history and print the directive",
	Long: "Resolves the text to an operation, dispatches it from --node (the root when omitted) " +
		"and prints the response as JSON. An empty text reloads the current state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		node := commandNode
		if node != "" {
			if node, err = a.tree.Resolve(cmd.Context(), node); err != nil {
				return err
			}
		}
		resp, err := a.svc.Command(cmd.Context(), service.Request{
			Text:   strings.Join(args, " "),
			NodeID: node,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	commandCmd.Flags().StringVar(&commandNode, "node", "", "History node id or prefix to run from (default: root)")
	rootCmd.AddCommand(commandCmd)
}
