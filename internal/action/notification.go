package action

import (
	"context"
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// TypeSendNotification is the send-notification action type.
const TypeSendNotification = "send-notification"

// Notification is a message handed to a Notifier.
type Notification struct {
	TenantID  string `json:"tenant_id"`
	Channel   string `json:"channel"`
	To        string `json:"to"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
	RuleID    string `json:"rule_id,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	FlowToken string `json:"flow_token,omitempty"`
}

// Notifier delivers notifications (email, in-app, chat...).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// NotificationHandler sends a message through a Notifier.
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler creates the send-notification handler.
func NewNotificationHandler(n Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: n}
}

func (h *NotificationHandler) Type() string { return TypeSendNotification }

func (h *NotificationHandler) Template() Template {
	return Template{
		Type:        TypeSendNotification,
		Name:        "Send notification",
		Description: "Send a message to a user, role or channel.",
		Schema: `{
			"type": "object",
			"required": ["to", "message"],
			"properties": {
				"channel": {"type": "string"},
				"to":      {"type": "string", "minLength": 1},
				"subject": {"type": "string"},
				"message": {"type": "string", "minLength": 1}
			},
			"additionalProperties": false
		}`,
		Example: map[string]any{
			"channel": "email",
			"to":      "finance@example.com",
			"subject": "Large invoice",
			"message": "Invoice ${record_id} is ${record.amount}",
		},
	}
}

func (h *NotificationHandler) Validate(map[string]any) error { return nil }

func (h *NotificationHandler) Execute(ctx context.Context, ec *ExecContext, params map[string]any) ir.ActionResult {
	channel := stringParam(params, "channel")
	if channel == "" {
		channel = "default"
	}
	n := Notification{
		TenantID:  ec.TenantID,
		Channel:   channel,
		To:        stringParam(params, "to"),
		Subject:   stringParam(params, "subject"),
		Message:   stringParam(params, "message"),
		RuleID:    ec.RuleID,
		RecordID:  ec.RecordID,
		FlowToken: ec.FlowToken,
	}
	if h.notifier == nil {
		return Failed(TypeSendNotification, 1, fmt.Errorf("no notifier configured"))
	}
	if err := h.notifier.Notify(ctx, n); err != nil {
		return Failed(TypeSendNotification, 1, err)
	}
	return ir.ActionResult{
		Type:     TypeSendNotification,
		Status:   ir.ActionSuccess,
		Attempts: 1,
		Output:   map[string]any{"channel": channel, "to": n.To},
	}
}
