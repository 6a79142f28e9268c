package cmd

import (
	"github.com/spf13/cobra"
)

var viewConfigCmd = &cobra.Command{
	Use:   "view-config",
	Short: "Print the validated configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(viewConfigCmd)
}
