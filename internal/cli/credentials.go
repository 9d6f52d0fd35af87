package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hnsync/internal/credentials"
)

// CredentialsCmd 管理加密保存的门户账号
func CredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage stored portal credentials",
	}
	cmd.AddCommand(credsSetCmd())
	cmd.AddCommand(credsDeleteCmd())
	return cmd
}

func credsSetCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "set [user-id]",
		Short: "Encrypt and store portal credentials for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine(nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Credentials.Save(context.Background(), args[0], username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s credentials stored for %s\n", color.New(color.FgGreen).Sprint("✓"), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "portal username")
	cmd.Flags().StringVar(&password, "password", "", "portal password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func credsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [user-id]",
		Short: "Remove stored portal credentials for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine(nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Credentials.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s credentials removed for %s\n", color.New(color.FgGreen).Sprint("✓"), args[0])
			return nil
		},
	}
}

// KeygenCmd 生成 credentials.key
func KeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new credentials.key value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credentials.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
