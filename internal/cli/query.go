package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hnsync/internal/model"
)

// OrdersCmd 打印工单快照
func OrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders [user-id]",
		Short: "Print the stored work orders for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine(nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			orders, err := engine.Service.Orders(context.Background(), args[0])
			if err != nil {
				return err
			}
			displayOrders(cmd.OutOrStdout(), orders)
			return nil
		},
	}
}

// TripCmd 打印某日行程
func TripCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trip [user-id] [date]",
		Short: "Print the trip for a user and date (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine(nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			trip, err := engine.Service.Trip(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			if trip == nil {
				return fmt.Errorf("no trip for %s on %s", args[0], args[1])
			}
			displayTrip(cmd.OutOrStdout(), trip)
			return nil
		},
	}
}

func displayOrders(w io.Writer, orders []model.OrderRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTYPE\tSTATE\tADDRESS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.ScheduledDate, o.JobType, orderState(o), o.FullAddress())
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d order(s)\n", len(orders))
}

func orderState(o model.OrderRecord) string {
	switch {
	case o.Status == model.OrderStatusPending:
		return color.New(color.FgYellow).Sprint("pending")
	case o.Status == model.OrderStatusFailed:
		return color.New(color.FgRed).Sprint("failed")
	case o.NeedsResync:
		return color.New(color.FgCyan).Sprint("resync")
	default:
		return string(o.SyncStatus)
	}
}

func displayTrip(w io.Writer, t *model.TripRecord) {
	fmt.Fprintf(w, "Trip %s  %s -> %s\n", t.Date, t.StartTime, t.EndTime)
	fmt.Fprintf(w, "  Start: %s\n", t.StartAddress)
	if t.EditedByHuman() {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgHiMagenta).Sprint("[edited by hand]"))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tARRIVE\tLEAVE\tMILES\tPAY\tADDRESS")
	for _, s := range t.Stops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t$%.2f\t%s\n",
			s.OrderID, s.ArrivalTime, s.DepartureTime, s.MilesFromPrev, s.Earnings, s.Address)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n  Miles %.1f  Drive %dm  Earnings $%.2f  Fuel $%.2f  Net %s\n",
		t.TotalMiles, t.DriveMinutes, t.TotalEarnings, t.FuelCost, netColor(t.NetProfit))
}

func netColor(v float64) string {
	if v < 0 {
		return color.New(color.FgRed).Sprintf("$%.2f", v)
	}
	return color.New(color.FgGreen).Sprintf("$%.2f", v)
}
