package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

func TestSignature(t *testing.T) {
	body := []byte(`{"id":"ord-1"}`)
	sig := Sign("s3cret", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		want   bool
	}{
		{"valid", "s3cret", body, sig, true},
		{"without prefix", "s3cret", body, sig[len(SignaturePrefix):], true},
		{"wrong secret", "other", body, sig, false},
		{"tampered body", "s3cret", []byte(`{"id":"ord-2"}`), sig, false},
		{"not hex", "s3cret", body, "sha256=zz", false},
		{"empty secret", "", body, Sign("", body), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.sig); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func webhookRule() *ir.AutomationRule {
	return &ir.AutomationRule{
		ID:        "orders-in",
		TenantID:  "acme",
		Name:      "Inbound order",
		Trigger:   ir.Trigger{Kind: ir.TriggerWebhook},
		Condition: ir.Condition(`{"field":"total","op":"gte","value":10}`),
		Actions:   []ir.ActionSpec{notify("order ${record.id} received")},
		IsEnabled: true,
	}
}

func TestReceiveWebhook(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, webhookRule())
	hook, err := f.engine.CreateWebhook(t.Context(), &ir.WebhookConfig{
		TenantID: "acme", RuleID: "orders-in", Name: "shop", IsActive: true,
	})
	require.NoError(t, err)
	assert.Len(t, hook.Secret, 64, "generated secret is 32 random bytes")

	body := []byte(`{"id":"ord-1","total":50}`)
	exec, err := f.engine.ReceiveWebhook(t.Context(), hook.ID, body, Sign(hook.Secret, body))
	require.NoError(t, err)
	assert.Equal(t, ir.TriggerWebhook, exec.TriggerKind)
	assert.Equal(t, ir.ExecutionSuccess, exec.Status)
	assert.Equal(t, "ord-1", exec.TriggerContext["record_id"])
	assert.Equal(t, []string{"order ord-1 received"}, f.outbox.messages())

	_, err = f.engine.ReceiveWebhook(t.Context(), hook.ID, body, Sign("guess", body))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = f.engine.ReceiveWebhook(t.Context(), hook.ID, []byte(`[1]`), Sign(hook.Secret, []byte(`[1]`)))
	assert.ErrorContains(t, err, "not a JSON object")

	hook.IsActive = false
	require.NoError(t, f.engine.UpdateWebhook(t.Context(), hook))
	_, err = f.engine.ReceiveWebhook(t.Context(), hook.ID, body, Sign(hook.Secret, body))
	assert.ErrorIs(t, err, ErrWebhookInactive)

	_, err = f.engine.ReceiveWebhook(t.Context(), "missing", body, "")
	assert.True(t, IsNotFound(err))

	assert.Len(t, f.executions(t, "orders-in"), 1, "rejected deliveries are not executions")
}

func TestCreateWebhookRequiresWebhookRule(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, largeInvoiceRule("large", 1))

	_, err := f.engine.CreateWebhook(t.Context(), &ir.WebhookConfig{TenantID: "acme", RuleID: "large", IsActive: true})
	errs, ok := ir.AsValidationErrors(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, []string{compiler.ErrWebhookTrigger}, errs.Codes())

	_, err = f.engine.CreateWebhook(t.Context(), &ir.WebhookConfig{TenantID: "globex", RuleID: "large"})
	assert.True(t, IsNotFound(err))
}

func TestWebhookCRUD(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, webhookRule())
	ctx := t.Context()

	hook, err := f.engine.CreateWebhook(ctx, &ir.WebhookConfig{
		ID: "wh-1", TenantID: "acme", RuleID: "orders-in", Name: "shop", Secret: "fixed", IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed", hook.Secret)

	list, err := f.engine.ListWebhooks(ctx, "acme", "orders-in")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "wh-1", list[0].ID)

	require.NoError(t, f.engine.DeleteWebhook(ctx, "wh-1"))
	_, err = f.engine.GetWebhook(ctx, "wh-1")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(f.engine.DeleteWebhook(ctx, "wh-1")))
}
