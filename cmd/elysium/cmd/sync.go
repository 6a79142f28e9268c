package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Aliases: []string{"update"},
	Short:   "Remove all generated entries and write the current set",
	Args:    cobra.NoArgs,
	RunE:    runSync,
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write entries for eligible snapshots without removing stale ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		return a.mutate(cmd.Context(), func(ctx context.Context) error {
			n, err := a.manager.WriteAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries\n", n)
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove all generated entries, writable clones and frozen images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		return a.mutate(cmd.Context(), a.manager.Remove)
	},
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	return a.mutate(cmd.Context(), a.manager.Sync)
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(removeCmd)
}
