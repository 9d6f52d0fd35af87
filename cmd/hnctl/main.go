package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hnsync/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hnctl",
		Short: "hnctl - one-shot HNS work order sync",
		Long: `hnctl runs the HNS work order sync engine directly, without the worker queue.
It shares configuration and storage with the worker and API server.`,
		SilenceUsage: true,
	}
	cli.AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(cli.SyncCmd())
	rootCmd.AddCommand(cli.ConflictsCmd())
	rootCmd.AddCommand(cli.OrdersCmd())
	rootCmd.AddCommand(cli.TripCmd())
	rootCmd.AddCommand(cli.CredentialsCmd())
	rootCmd.AddCommand(cli.KeygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
