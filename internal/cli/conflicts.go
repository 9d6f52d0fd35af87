package cli

import (
	"context"

	"github.com/spf13/cobra"

	"hnsync/internal/orchestrator"
)

// ConflictsCmd 列出与人工编辑行程的冲突
func ConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts [user-id]",
		Short: "List trips edited by hand that sync would change",
		Long: `Run a recent-only pass without discovery stages and print the trips that were
left untouched because they were edited by hand in the last 7 days.

Examples:
  hnctl conflicts u1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine(nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.Service.Sync(context.Background(), orchestrator.Request{
				UserID:     args[0],
				SkipScan:   true,
				RecentOnly: true,
			})
			if err != nil {
				return err
			}

			displayConflicts(cmd.OutOrStdout(), args[0], res.Conflicts)
			return nil
		},
	}

	return cmd
}
