package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// OverdueReport is one row of the sla command output.
type OverdueReport struct {
	InstanceID string    `json:"instance_id"`
	WorkflowID string    `json:"workflow_id"`
	RecordID   string    `json:"record_id"`
	State      string    `json:"state"`
	Deadline   time.Time `json:"deadline"`
	OverdueSec int64     `json:"overdue_seconds"`
}

// NewSLACommand creates the sla command.
func NewSLACommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sla [now]",
		Short: "List active instances past their state's SLA",
		Long: `List active instances whose time in their current state exceeds the
state's SLA at now (RFC3339, default the current time), earliest
deadline first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			now := time.Now().UTC()
			if len(args) == 1 {
				t, err := parseTime(args[0])
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

			overdue, err := a.Workflows.GetOverdueInstances(cmd.Context(), now)
			if err != nil {
				return out.Fail(err)
			}
			reports := make([]OverdueReport, len(overdue))
			for i, o := range overdue {
				reports[i] = OverdueReport{
					InstanceID: o.Instance.ID,
					WorkflowID: o.Instance.WorkflowID,
					RecordID:   o.Instance.RecordID,
					State:      o.StateID,
					Deadline:   o.Deadline,
					OverdueSec: int64(o.Overdue / time.Second),
				}
			}
			return out.Emit(reports, func(w io.Writer) {
				if len(reports) == 0 {
					fmt.Fprintln(w, "✓ No overdue instances")
					return
				}
				for _, r := range reports {
					fmt.Fprintf(w, "%s  %s  %s  due %s  overdue %s\n",
						r.InstanceID, r.RecordID, r.State, r.Deadline.Format(time.RFC3339),
						time.Duration(r.OverdueSec)*time.Second)
				}
			})
		},
	}
}
