package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // Instance alias or rule id
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Subject)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluate checks every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertInstance:
			err = h.assertInstance(ctx, a)
		case AssertExecutions:
			err = h.assertExecutions(ctx, a)
		case AssertNotifications:
			err = h.assertNotifications(a)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func (h *Harness) assertInstance(ctx context.Context, a Assertion) error {
	inst, err := h.app.Store.GetInstance(ctx, h.instanceID(a.Instance))
	if err != nil {
		return &AssertionError{
			Type:     AssertInstance,
			Subject:  a.Instance,
			Expected: "instance to exist",
			Actual:   err.Error(),
		}
	}
	if a.State != "" && inst.CurrentStateID != a.State {
		return &AssertionError{
			Type:     AssertInstance,
			Subject:  a.Instance,
			Expected: fmt.Sprintf("state %q", a.State),
			Actual:   fmt.Sprintf("state %q", inst.CurrentStateID),
		}
	}
	if a.Status != "" && string(inst.Status) != a.Status {
		return &AssertionError{
			Type:     AssertInstance,
			Subject:  a.Instance,
			Expected: fmt.Sprintf("status %q", a.Status),
			Actual:   fmt.Sprintf("status %q", inst.Status),
		}
	}
	if a.History != nil {
		history, err := h.app.Store.History(ctx, inst.ID)
		if err != nil {
			return err
		}
		if len(history) != *a.History {
			return &AssertionError{
				Type:     AssertInstance,
				Subject:  a.Instance,
				Expected: fmt.Sprintf("%d history entries", *a.History),
				Actual:   fmt.Sprintf("%d history entries", len(history)),
			}
		}
	}
	return nil
}

func (h *Harness) assertExecutions(ctx context.Context, a Assertion) error {
	execs, err := h.app.Store.ListExecutions(ctx, store.ExecutionFilter{
		TenantID: h.scenario.Tenant,
		RuleID:   a.Rule,
	})
	if err != nil {
		return err
	}
	got := make([]string, len(execs))
	for i, x := range execs {
		got[i] = string(x.Status)
	}
	want := a.Statuses
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertExecutions,
			Subject:  a.Rule,
			Expected: fmt.Sprintf("statuses %v", want),
			Actual:   fmt.Sprintf("statuses %v", got),
		}
	}
	return nil
}

func (h *Harness) assertNotifications(a Assertion) error {
	if n := h.outbox.Len(); n != *a.Count {
		return &AssertionError{
			Type:     AssertNotifications,
			Expected: fmt.Sprintf("%d notifications", *a.Count),
			Actual:   fmt.Sprintf("%d notifications", n),
		}
	}
	return nil
}
