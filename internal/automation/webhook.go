package automation

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// SignaturePrefix marks the algorithm in a webhook signature header value.
const SignaturePrefix = "sha256="

// Sign returns the signature of body under secret: "sha256=" followed by
// the hex HMAC-SHA256.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is body's signature under
// secret. The prefix is optional. Comparison is constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(signature, SignaturePrefix))
	if err != nil || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// CreateWebhook binds a new webhook to a rule of the same tenant. A
// missing secret is generated; the caller gets it back once.
func (e *Engine) CreateWebhook(ctx context.Context, w *ir.WebhookConfig) (*ir.WebhookConfig, error) {
	rule, err := e.tenantRule(ctx, w.RuleID, w.TenantID)
	if err != nil {
		return nil, err
	}
	if rule.Trigger.Kind != ir.TriggerWebhook {
		return nil, ir.ValidationError{
			Field:   "rule_id",
			Message: fmt.Sprintf("rule %s has trigger %s, not webhook", rule.ID, rule.Trigger.Kind),
			Code:    compiler.ErrWebhookTrigger,
		}
	}
	c := *w
	if c.ID == "" {
		c.ID = e.ids.Generate()
	}
	if c.Secret == "" {
		secret, err := newSecret()
		if err != nil {
			return nil, err
		}
		c.Secret = secret
	}
	c.CreatedAt = e.timestamp()
	if err := e.store.CreateWebhook(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateWebhook changes a webhook's name, secret or active flag.
func (e *Engine) UpdateWebhook(ctx context.Context, w *ir.WebhookConfig) error {
	return e.mapWebhookErr(w.ID, e.store.UpdateWebhook(ctx, w))
}

// DeleteWebhook removes a webhook config.
func (e *Engine) DeleteWebhook(ctx context.Context, id string) error {
	return e.mapWebhookErr(id, e.store.DeleteWebhook(ctx, id))
}

// GetWebhook loads a webhook config.
func (e *Engine) GetWebhook(ctx context.Context, id string) (*ir.WebhookConfig, error) {
	w, err := e.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, e.mapWebhookErr(id, err)
	}
	return w, nil
}

// ListWebhooks lists a tenant's webhook configs, optionally for one rule.
func (e *Engine) ListWebhooks(ctx context.Context, tenantID, ruleID string) ([]ir.WebhookConfig, error) {
	return e.store.ListWebhooks(ctx, tenantID, ruleID)
}

// ReceiveWebhook accepts one signed delivery: the signature is checked
// against the webhook's secret, the body is decoded as a JSON object and
// the bound rule fires with it as its record.
func (e *Engine) ReceiveWebhook(ctx context.Context, webhookID string, body []byte, signature string) (ir.AutomationExecution, error) {
	w, err := e.GetWebhook(ctx, webhookID)
	if err != nil {
		return ir.AutomationExecution{}, err
	}
	if !w.IsActive {
		return ir.AutomationExecution{}, fmt.Errorf("webhook %s: %w", webhookID, ErrWebhookInactive)
	}
	if !VerifySignature(w.Secret, body, signature) {
		return ir.AutomationExecution{}, fmt.Errorf("webhook %s: %w", webhookID, ErrInvalidSignature)
	}

	payload := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return ir.AutomationExecution{}, fmt.Errorf("webhook %s: body is not a JSON object: %w", webhookID, err)
		}
	}
	return e.FireWebhook(ctx, w.RuleID, payload)
}

func (e *Engine) mapWebhookErr(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &WebhookNotFoundError{ID: id}
	}
	return err
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
