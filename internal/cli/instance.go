package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
	"github.com/tbmahfudi/app-buildify-sub002/internal/workflow"
)

// NewInstanceCommand creates the instance command group.
func NewInstanceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Start and move workflow instances",
	}
	cmd.AddCommand(newInstanceStartCommand(rootOpts))
	cmd.AddCommand(newInstanceTransitionCommand(rootOpts))
	cmd.AddCommand(newInstanceCancelCommand(rootOpts))
	cmd.AddCommand(newInstanceAvailableCommand(rootOpts))
	cmd.AddCommand(newInstanceHistoryCommand(rootOpts))
	cmd.AddCommand(newInstanceListCommand(rootOpts))
	return cmd
}

func printInstance(w io.Writer, inst *ir.WorkflowInstance) {
	fmt.Fprintf(w, "✓ %s: %s (%s, version %d)\n", inst.ID, inst.CurrentStateID, inst.Status, inst.Version)
}

func newInstanceStartCommand(rootOpts *RootOptions) *cobra.Command {
	var actor actorFlags
	cmd := &cobra.Command{
		Use:   "start <workflow> <record-id>",
		Short: "Start an instance of a published workflow for a record",
		Long: `Start an instance bound to a record. <workflow> is a definition id or a
workflow key; a key starts its latest published version.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			inst, err := a.Workflows.StartInstance(cmd.Context(), args[0], args[1], actor.actor())
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(inst, func(w io.Writer) { printInstance(w, inst) })
		},
	}
	actor.register(cmd)
	return cmd
}

func newInstanceTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		actor    actorFlags
		record   string
		expected int64
	)
	cmd := &cobra.Command{
		Use:   "transition <instance-id> <transition-id>",
		Short: "Execute a transition",
		Long: `Execute a transition on an instance. --expected-version guards against
concurrent changes; without it the instance's current version is used.
--record supplies the record snapshot guards and actions see instead of
the stored record.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			rec, err := parseRecord(record)
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if !cmd.Flags().Changed("expected-version") {
				inst, err := a.Workflows.GetInstance(ctx, args[0])
				if err != nil {
					return out.Fail(err)
				}
				expected = inst.Version
			}
			inst, err := a.Workflows.ExecuteTransition(ctx, workflow.TransitionRequest{
				InstanceID:      args[0],
				TransitionID:    args[1],
				Actor:           actor.actor(),
				Record:          rec,
				ExpectedVersion: expected,
			})
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(inst, func(w io.Writer) { printInstance(w, inst) })
		},
	}
	actor.register(cmd)
	cmd.Flags().StringVar(&record, "record", "", "Record snapshot as a JSON object")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "Version the instance must be at")
	return cmd
}

func newInstanceCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var actor actorFlags
	cmd := &cobra.Command{
		Use:   "cancel <instance-id>",
		Short: "Cancel an active instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			inst, err := a.Workflows.CancelInstance(cmd.Context(), args[0], actor.actor())
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(inst, func(w io.Writer) { printInstance(w, inst) })
		},
	}
	actor.register(cmd)
	return cmd
}

func newInstanceAvailableCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		actor  actorFlags
		record string
	)
	cmd := &cobra.Command{
		Use:   "available <instance-id>",
		Short: "List transitions the actor may execute now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			rec, err := parseRecord(record)
			if err != nil {
				return err
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ts, err := a.Workflows.ListAvailableTransitions(cmd.Context(), args[0], actor.actor(), rec)
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(ts, func(w io.Writer) {
				if len(ts) == 0 {
					fmt.Fprintln(w, "No transitions available")
					return
				}
				for _, t := range ts {
					fmt.Fprintf(w, "  %s: %s -> %s\n", t.ID, t.FromStateID, t.ToStateID)
				}
			})
		},
	}
	actor.register(cmd)
	cmd.Flags().StringVar(&record, "record", "", "Record snapshot as a JSON object")
	return cmd
}

func newInstanceHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <instance-id>",
		Short: "Show an instance's history in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Workflows.History(cmd.Context(), args[0])
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(entries, func(w io.Writer) {
				for _, h := range entries {
					from := h.FromStateID
					if from == "" {
						from = "-"
					}
					fmt.Fprintf(w, "%4d  %-10s %s -> %s  by %s", h.Seq, h.Event, from, h.ToStateID, h.Actor)
					if h.TransitionID != "" {
						fmt.Fprintf(w, "  via %s", h.TransitionID)
					}
					fmt.Fprintln(w)
					for _, f := range h.Failures {
						fmt.Fprintf(w, "        ! %s %s: %s\n", f.Phase, f.Type, f.Detail)
					}
				}
			})
		},
	}
}

func newInstanceListCommand(rootOpts *RootOptions) *cobra.Command {
	var f store.InstanceFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			f.Status = ir.InstanceStatus(strings.ToLower(status))
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			insts, err := a.Workflows.ListInstances(cmd.Context(), f)
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(insts, func(w io.Writer) {
				for _, inst := range insts {
					fmt.Fprintf(w, "%s  %s  %s/%s  %s (%s)\n",
						inst.ID, inst.WorkflowID, inst.EntityType, inst.RecordID, inst.CurrentStateID, inst.Status)
				}
			})
		},
	}
	cmd.Flags().StringVar(&f.TenantID, "tenant", "", "Filter by tenant")
	cmd.Flags().StringVar(&f.WorkflowID, "workflow", "", "Filter by workflow id")
	cmd.Flags().StringVar(&f.RecordID, "record-id", "", "Filter by record id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active|completed|cancelled)")
	return cmd
}
