package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbmahfudi/app-buildify-sub002/internal/app"
	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Publish bool
	Tenant  string
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <specs-dir>",
		Short: "Store compiled workflows and rules in the database",
		Long: `Compile the specs in a directory and store them. Workflows are stored
as drafts with id <key>-v<version>, or published with --publish. Rules
are created, or replaced when their id already exists.

Nothing is stored when any spec fails to compile.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "Publish loaded workflows")
	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "Tenant for specs that name none")
	return cmd
}

func runLoad(cmd *cobra.Command, opts *LoadOptions, dir string) error {
	out := opts.formatter(cmd)

	res, errs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		if err := out.Error("E_LOAD", "failed to load specs", msgs); err != nil {
			return err
		}
		if opts.Format != "json" {
			for _, m := range msgs {
				fmt.Fprintf(out.Writer, "  %s\n", m)
			}
		}
		return &ExitError{Code: ExitFailure, Message: "failed to load specs", Reported: true}
	}

	a, err := opts.openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.Import(cmd.Context(), res, app.ImportOptions{Tenant: opts.Tenant, Publish: opts.Publish})
	if err != nil {
		return out.Fail(err)
	}
	return out.Emit(sum, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Loaded %d workflows, %d rules\n", len(sum.Workflows), len(sum.Rules))
		if len(sum.Workflows) > 0 {
			fmt.Fprintf(w, "  workflows: %s\n", strings.Join(sum.Workflows, ", "))
		}
		if len(sum.Published) > 0 {
			fmt.Fprintf(w, "  published: %s\n", strings.Join(sum.Published, ", "))
		}
		if len(sum.Rules) > 0 {
			fmt.Fprintf(w, "  rules: %s\n", strings.Join(sum.Rules, ", "))
		}
		printWarnings(w, sum.Warnings)
	})
}
