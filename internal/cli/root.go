// Package cli implements the buildify operator commands.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string
	ConfigPath string
	DBPath     string // overrides database.path when set
}

// ValidFormats lists the supported output formats.
var ValidFormats = []string{"json", "text"}

// NewRootCommand creates the root buildify command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "buildify",
		Short: "Workflow and automation engine tooling",
		Long: `buildify loads CUE workflow and automation specs into a SQLite store
and drives instances, rules and schedules from the command line.

Scenarios run the real engines against an in-memory store and compare
their traces with golden files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "Output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file (default ./buildify.yaml)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides database.path)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewInstanceCommand(opts))
	cmd.AddCommand(NewRuleCommand(opts))
	cmd.AddCommand(NewSLACommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
