package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jamsession/looper/internal/session"
)

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history [node]",
	Long:  "Accepts a full node id or a unique prefix of at least 6 characters. Defaults to the root.",
	Short: "Show the session state at a node and its path back to the root",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		id := a.svc.Root()
		if len(args) == 1 {
			if id, err = a.tree.Resolve(cmd.Context(), args[0]); err != nil {
				return err
			}
		}
		snap, err := a.svc.Snapshot(cmd.Context(), id)
		if err != nil {
			return err
		}
		lineage, err := a.svc.Lineage(cmd.Context(), id)
		if err != nil {
			return err
		}
		subtree, err := a.svc.Subtree(cmd.Context(), id)
		if err != nil {
			return err
		}
		below := subtree[1:]

		if historyJSON {
			output := struct {
				NodeID      string            `json:"history_node_id"`
				Lineage     []string          `json:"lineage"`
				Descendants []string          `json:"descendants"`
				State       *session.Snapshot `json:"state"`
			}{id, lineage, below, snap}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(output)
		}

		printHistory(cmd.OutOrStdout(), id, lineage, below, snap)
		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(w io.Writer, id string, lineage, below []string, snap *session.Snapshot) {
	fmt.Fprintf(w, "Node %s  depth=%d  descendants=%d\n\n", id, len(lineage)-1, len(below))

	fmt.Fprintln(w, "  LINEAGE")
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	for i, n := range lineage {
		marker := "  "
		switch {
		case i == 0:
			marker = "> "
		case i == len(lineage)-1:
			marker = "* "
		}
		fmt.Fprintf(w, "  %s%s\n", marker, n)
	}

	fmt.Fprintf(w, "\n  TRACKS (%d, next id %s)\n", len(snap.Tracks), session.TrackID(snap.NextTrackID))
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	if len(snap.Tracks) == 0 {
		fmt.Fprintln(w, "  (empty session)")
		return
	}
	for _, t := range snap.Tracks {
		state := "playing"
		if t.Muted() {
			state = "muted"
		}
		fmt.Fprintf(w, "  %-9s %-12s vol=%.2f reverb=%.0f delay=%.0f %s\n",
			t.ID, t.Name, t.Volume, t.Reverb, t.Delay, state)
		if t.Path != nil {
			fmt.Fprintf(w, "            %s\n", *t.Path)
		}
	}
}
