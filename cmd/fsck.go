package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"jamsession/looper/internal/graph"
)

var (
	fsckJSON bool
	fsckTopN int
)

var errTreeDamaged = errors.New("history tree failed verification")

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Verify the history tree and summarize its shape",
	Long:  "Checks for a single root, missing parents, cycles, unreachable nodes and undecodable snapshots. Exits non-zero when any problem is found.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(cmd.ErrOrStderr())
		store, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		// Loaded straight from the store: fsck must not create a root.
		snap, err := graph.Load(cmd.Context(), store)
		if err != nil {
			return fmt.Errorf("loading tree: %w", err)
		}
		report := graph.Check(snap, fsckTopN)

		if fsckJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printFsck(cmd.OutOrStdout(), report)
		}
		if !report.OK {
			return errTreeDamaged
		}
		return nil
	},
}

func init() {
	fsckCmd.Flags().BoolVar(&fsckJSON, "json", false, "Output as JSON")
	fsckCmd.Flags().IntVar(&fsckTopN, "top-n", 10, "Number of leaves and forks to list")
	rootCmd.AddCommand(fsckCmd)
}

func printFsck(w io.Writer, report *graph.FsckReport) {
	t := report.Tree
	fmt.Fprintln(w, "  TREE")
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	fmt.Fprintf(w, "  Nodes: %d  Root: %s\n", t.TotalNodes, orDash(t.Root))
	fmt.Fprintf(w, "  Leaves: %d  Forks: %d  Max depth: %d (%s)\n",
		t.LeafCount, t.ForkCount, t.MaxDepth, orDash(t.DeepestNode))
	fmt.Fprintf(w, "  Largest session: %d track(s)\n", t.MaxTracks)
	fmt.Fprintf(w, "  Components: %d  Reachable from root: %d\n", report.Components, report.Reachable)
	for _, f := range t.Forks {
		fmt.Fprintf(w, "    fork %s -> %d branches\n", f.NodeID, f.Children)
	}

	fmt.Fprintln(w, "\n  INTEGRITY")
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	if report.OK {
		fmt.Fprintln(w, "  ok")
		return
	}
	for _, p := range report.Problems {
		if p.NodeID != "" {
			fmt.Fprintf(w, "  [%s] %s: %s\n", p.Kind, p.NodeID, p.Detail)
		} else {
			fmt.Fprintf(w, "  [%s] %s\n", p.Kind, p.Detail)
		}
	}
	fmt.Fprintf(w, "\n  %d problem(s)\n", len(report.Problems))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
