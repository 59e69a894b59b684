package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// NewRuleCommand creates the rule command group.
func NewRuleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Fire automation rules and inspect executions",
	}
	cmd.AddCommand(newRuleFireCommand(rootOpts))
	cmd.AddCommand(newRuleRunDueCommand(rootOpts))
	cmd.AddCommand(newRuleExecutionsCommand(rootOpts))
	cmd.AddCommand(newRuleTemplatesCommand(rootOpts))
	cmd.AddCommand(newRuleToggleCommand(rootOpts))
	cmd.AddCommand(newRuleListCommand(rootOpts))
	return cmd
}

func printExecution(w io.Writer, x ir.AutomationExecution) {
	mark := "✓"
	switch x.Status {
	case ir.ExecutionFailure, ir.ExecutionPartial:
		mark = "✗"
	case ir.ExecutionSkipped:
		mark = "-"
	}
	test := ""
	if x.IsTest {
		test = " [test]"
	}
	fmt.Fprintf(w, "%s %s  %s  %s  %s%s\n", mark, x.TriggeredAt.Format(time.RFC3339), x.RuleID, x.TriggerKind, x.Status, test)
	for _, r := range x.ActionsExecuted {
		fmt.Fprintf(w, "    %s: %s", r.Type, r.Status)
		if r.Detail != "" {
			fmt.Fprintf(w, " (%s)", r.Detail)
		}
		fmt.Fprintln(w)
	}
	if x.ErrorDetail != "" {
		fmt.Fprintf(w, "    error: %s\n", x.ErrorDetail)
	}
}

func newRuleFireCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		actor  actorFlags
		record string
		test   bool
	)
	cmd := &cobra.Command{
		Use:   "fire <rule-id>",
		Short: "Fire a rule manually",
		Long: `Fire a rule against a record. With --test the condition is evaluated
and the actions are previewed without running them.`,
		Args: cobra.ExactArgs(1),
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

			fire := a.Automation.FireManual
			if test {
				fire = a.Automation.TestRule
			}
			x, err := fire(cmd.Context(), args[0], rec, actor.actor())
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(x, func(w io.Writer) { printExecution(w, x) })
		},
	}
	actor.register(cmd)
	cmd.Flags().StringVar(&record, "record", "", "Record as a JSON object")
	cmd.Flags().BoolVar(&test, "test", false, "Preview actions without running them")
	return cmd
}

func newRuleRunDueCommand(rootOpts *RootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "run-due",
		Short: "Fire scheduled rules that are due",
		Long: `Fire every enabled scheduled rule with a run due at --at (default now).
Missed runs of a rule are fired once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			now := time.Now().UTC()
			if at != "" {
				t, err := parseTime(at)
				if err != nil {
					return err
				}
				now = t
			}
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			execs, err := a.Automation.RunDue(cmd.Context(), now)
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(execs, func(w io.Writer) {
				fmt.Fprintf(w, "Fired %d scheduled rules\n", len(execs))
				for _, x := range execs {
					printExecution(w, x)
				}
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Evaluation time (RFC3339)")
	return cmd
}

func newRuleExecutionsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		f      store.ExecutionFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List rule executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			f.Status = ir.ExecutionStatus(status)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			execs, err := a.Automation.ListExecutions(cmd.Context(), f)
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(execs, func(w io.Writer) {
				if len(execs) == 0 {
					fmt.Fprintln(w, "No executions")
				}
				for _, x := range execs {
					printExecution(w, x)
				}
			})
		},
	}
	cmd.Flags().StringVar(&f.TenantID, "tenant", "", "Filter by tenant")
	cmd.Flags().StringVar(&f.RuleID, "rule", "", "Filter by rule id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (success|partial|failure|skipped)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "Maximum executions to show (0 for all)")
	return cmd
}

func newRuleTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List action types with their parameter schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			templates := a.Automation.Templates()
			return out.Emit(templates, func(w io.Writer) {
				for _, t := range templates {
					fmt.Fprintf(w, "%-30s %s\n", t.Type, t.Description)
				}
			})
		},
	}
}

func newRuleToggleCommand(rootOpts *RootOptions) *cobra.Command {
	var enable, disable bool
	cmd := &cobra.Command{
		Use:   "toggle <rule-id>",
		Short: "Enable or disable a rule",
		Long:  `Enable or disable a rule. Without --enable or --disable the current setting is flipped.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var want bool
			switch {
			case enable:
				want = true
			case disable:
				want = false
			default:
				rule, err := a.Automation.GetRule(ctx, args[0])
				if err != nil {
					return out.Fail(err)
				}
				want = !rule.IsEnabled
			}
			rule, err := a.Automation.SetEnabled(ctx, args[0], want)
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(rule, func(w io.Writer) {
				state := "disabled"
				if rule.IsEnabled {
					state = "enabled"
				}
				fmt.Fprintf(w, "✓ %s %s\n", rule.ID, state)
			})
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "Enable the rule")
	cmd.Flags().BoolVar(&disable, "disable", false, "Disable the rule")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	return cmd
}

func newRuleListCommand(rootOpts *RootOptions) *cobra.Command {
	var f store.RuleFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.Automation.ListRules(cmd.Context(), f)
			if err != nil {
				return out.Fail(err)
			}
			return out.Emit(rules, func(w io.Writer) {
				for _, r := range rules {
					state := "enabled"
					if !r.IsEnabled {
						state = "disabled"
					}
					fmt.Fprintf(w, "%3d  %-30s %-16s %s\n", r.Priority, r.ID, r.Trigger.Kind, state)
				}
			})
		},
	}
	cmd.Flags().StringVar(&f.TenantID, "tenant", "", "Filter by tenant")
	cmd.Flags().BoolVar(&f.EnabledOnly, "enabled", false, "Only enabled rules")
	return cmd
}
