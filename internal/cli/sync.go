package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hnsync/internal/credentials"
	"hnsync/internal/model"
	"hnsync/internal/orchestrator"
)

// SyncCmd 单次同步
func SyncCmd() *cobra.Command {
	var (
		username   string
		password   string
		recentOnly bool
		skipScan   bool
		forceDates []string
		home       string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "sync [user-id]",
		Short: "Run one sync pass for a user",
		Long: `Run one sync pass: lock, session, scan, gap-fill, backward, download, trips.

A pass that runs out of request budget reports INCOMPLETE; run it again to continue
from the stage it stopped at.

Examples:
  hnctl sync u1
  hnctl sync u1 --recent-only --skip-scan
  hnctl sync u1 --force 2024-03-18 --force 2024-03-19`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source credentials.Source
			if username != "" {
				source = credentials.Static{Username: username, Password: password}
			}
			engine, _, err := openEngine(source)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := engine.Service.Sync(ctx, orchestrator.Request{
				UserID:      args[0],
				HomeAddress: home,
				SkipScan:    skipScan,
				RecentOnly:  recentOnly,
				ForceDates:  forceDates,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			displaySyncResult(cmd.OutOrStdout(), args[0], res)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "portal username (overrides stored credentials)")
	cmd.Flags().StringVar(&password, "password", "", "portal password")
	cmd.Flags().BoolVar(&recentOnly, "recent-only", false, "only download and rebuild the last 7 days")
	cmd.Flags().BoolVar(&skipScan, "skip-scan", false, "skip scan, gap-fill and backward stages")
	cmd.Flags().StringSliceVar(&forceDates, "force", nil, "rebuild these dates even if edited by hand (YYYY-MM-DD)")
	cmd.Flags().StringVar(&home, "home", "", "home address (defaults to sync.home_address)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")

	return cmd
}

func displaySyncResult(w io.Writer, userID string, res *orchestrator.Result) {
	status := color.New(color.FgGreen).Sprint("COMPLETE")
	if res.Incomplete {
		status = color.New(color.FgYellow).Sprintf("INCOMPLETE (stopped at %s)", res.StoppedAt)
	}

	fmt.Fprintf(w, "Sync %s: %s\n\n", userID, status)
	fmt.Fprintf(w, "  Orders:        %d\n", len(res.Orders))
	fmt.Fprintf(w, "  Trips written: %d\n", res.TripsWritten)
	fmt.Fprintf(w, "  Requests:      %d\n", res.Requests)

	if pending := countPending(res.Orders); pending > 0 {
		fmt.Fprintf(w, "  Pending:       %s\n", color.New(color.FgYellow).Sprint(pending))
	}

	if len(res.Conflicts) > 0 {
		fmt.Fprintln(w)
		displayConflicts(w, userID, res.Conflicts)
	}
}

func displayConflicts(w io.Writer, userID string, conflicts []model.ConflictInfo) {
	if len(conflicts) == 0 {
		fmt.Fprintln(w, color.New(color.FgGreen).Sprint("No conflicts."))
		return
	}

	fmt.Fprintf(w, "%s %d trip(s) edited by hand were left untouched:\n\n",
		color.New(color.FgRed).Sprint("CONFLICT"), len(conflicts))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCURRENT\tWOULD SYNC\tEDITED AT")
	for _, c := range conflicts {
		fmt.Fprintf(tw, "%s\t$%.2f / %d stops\t$%.2f / %d stops\t%s\n",
			c.Date, c.CurrentEarnings, c.CurrentStops, c.WouldSyncEarnings, c.WouldSyncStops,
			c.LastModified.Format("2006-01-02 15:04"))
	}
	tw.Flush()

	dates := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		dates = append(dates, "--force "+c.Date)
	}
	fmt.Fprintf(w, "\nTo overwrite: hnctl sync %s %s\n", userID, strings.Join(dates, " "))
}

func countPending(orders []model.OrderRecord) int {
	n := 0
	for _, o := range orders {
		if o.Status == model.OrderStatusPending {
			n++
		}
	}
	return n
}
