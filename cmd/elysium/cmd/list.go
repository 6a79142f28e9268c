package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tartarus-sandbox/elysium/pkg/elysium"
	"gopkg.in/yaml.v3"
)

var outputFormat string

var listGeneratedCmd = &cobra.Command{
	Use:   "list-generated",
	Short: "List entry files already written",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		paths, err := a.manager.ExistingEntries()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat == "yaml" {
			return writeYAML(out, paths)
		}
		for _, p := range paths {
			fmt.Fprintln(out, p)
		}
		return nil
	},
}

var listDesiredCmd = &cobra.Command{
	Use:     "list-desired",
	Aliases: []string{"list-snapshots"},
	Short:   "List snapshots that will get boot entries",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		var views []elysium.SnapshotView
		for s, err := range a.manager.Snapshots(cmd.Context()) {
			if err != nil {
				return err
			}
			views = append(views, elysium.FormatSnapshot(s))
		}

		out := cmd.OutOrStdout()
		if outputFormat == "yaml" {
			return writeYAML(out, views)
		}
		fmt.Fprintln(out, "Snapshots to make entries:")
		for _, v := range views {
			fmt.Fprint(out, indent(v.String(), "  "))
		}
		return nil
	},
}

var listEntriesCmd = &cobra.Command{
	Use:   "list-entries",
	Short: "Show the entries that would be written, without writing them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		type entry struct {
			Path    string `yaml:"path"`
			Content string `yaml:"content"`
		}
		var entries []entry
		for p, err := range a.manager.Preview(cmd.Context()) {
			if err != nil {
				return err
			}
			entries = append(entries, entry{Path: p.Path, Content: p.Content})
		}

		out := cmd.OutOrStdout()
		if outputFormat == "yaml" {
			return writeYAML(out, entries)
		}
		for _, e := range entries {
			fmt.Fprintln(out, "Will write to path:")
			fmt.Fprint(out, indent(e.Path+"\n", "  "))
			fmt.Fprintln(out, "\nWill write:")
			fmt.Fprint(out, indent(e.Content, "  "))
			fmt.Fprintln(out, strings.Repeat("=", 80))
			fmt.Fprintln(out)
		}
		return nil
	},
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// indent prefixes every non-empty line of s.
func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			b.WriteString(prefix)
		}
		b.WriteString(l)
	}
	return b.String()
}

func validateOutput(cmd *cobra.Command, args []string) error {
	switch outputFormat {
	case "text", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text or yaml)", outputFormat)
}

func init() {
	for _, c := range []*cobra.Command{listGeneratedCmd, listDesiredCmd, listEntriesCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, yaml)")
		c.PreRunE = validateOutput
		rootCmd.AddCommand(c)
	}
}
