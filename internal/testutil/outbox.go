package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tbmahfudi/app-buildify-sub002/internal/action"
)

// Outbox is an action.Notifier that keeps every notification in memory.
// Recipients listed in Reject fail delivery, which lets a scenario exercise
// partial and failed executions.
type Outbox struct {
	mu     sync.Mutex
	sent   []action.Notification
	Reject []string
}

// Notify implements action.Notifier.
func (o *Outbox) Notify(_ context.Context, n action.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slices.Contains(o.Reject, n.To) {
		return fmt.Errorf("recipient %q rejected", n.To)
	}
	o.sent = append(o.sent, n)
	return nil
}

// Sent returns a copy of the delivered notifications in delivery order.
func (o *Outbox) Sent() []action.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.sent)
}

// Len reports how many notifications were delivered.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}
