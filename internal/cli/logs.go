package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roninproxy/ronin/internal/store"
)

func logsCmd() *cobra.Command {
	var dbPath string
	var result string
	var last int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the decision store",
		Long: `Show recent tool call verdicts from the SQLite decision store.
Requires store.enabled in the running proxy's config.

Examples:
  ronin logs --db ronin.db
  ronin logs --db ronin.db --result blocked --last 50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := store.Open(context.Background(), dbPath)
			if err != nil {
				return fmt.Errorf("opening decision store: %w", err)
			}
			defer db.Close()

			decisions, err := db.RecentDecisions(context.Background(), result, last)
			if err != nil {
				return fmt.Errorf("querying decisions: %w", err)
			}
			if len(decisions) == 0 {
				cmd.Println("No decisions recorded.")
				return nil
			}

			for _, d := range decisions {
				line := fmt.Sprintf("%s  %-7s  %s", d.CreatedAt.Format("2006-01-02 15:04:05"), d.Result, d.Tool)
				if d.Layer != "" {
					line += "  [" + d.Layer + "]"
				}
				if d.Reason != "" {
					line += "  " + d.Reason
				}
				cmd.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "ronin.db", "decision store path")
	cmd.Flags().StringVar(&result, "result", "", "filter by result (allowed, blocked, error)")
	cmd.Flags().IntVarP(&last, "last", "n", 20, "show at most N entries")

	return cmd
}
