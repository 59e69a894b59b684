package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// CreateWebhook inserts a webhook config. The referenced rule must exist.
func (s *Store) CreateWebhook(ctx context.Context, w *ir.WebhookConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_configs (id, tenant_id, rule_id, name, secret, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.TenantID, w.RuleID, w.Name, w.Secret, boolInt(w.IsActive), formatTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("create webhook %s: %w", w.ID, err)
	}
	return nil
}

// UpdateWebhook overwrites the mutable fields of a webhook config.
func (s *Store) UpdateWebhook(ctx context.Context, w *ir.WebhookConfig) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_configs SET name = ?, secret = ?, is_active = ? WHERE id = ?
	`, w.Name, w.Secret, boolInt(w.IsActive), w.ID)
	if err != nil {
		return fmt.Errorf("update webhook %s: %w", w.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update webhook %s: %w", w.ID, ErrNotFound)
	}
	return nil
}

// DeleteWebhook removes a webhook config.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete webhook %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete webhook %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetWebhook retrieves a webhook config including its secret.
func (s *Store) GetWebhook(ctx context.Context, id string) (*ir.WebhookConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, rule_id, name, secret, is_active, created_at
		FROM webhook_configs WHERE id = ?
	`, id)
	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}
	return w, err
}

// ListWebhooks returns the webhook configs of a tenant, optionally narrowed
// to one rule, ordered by id.
func (s *Store) ListWebhooks(ctx context.Context, tenantID, ruleID string) ([]ir.WebhookConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, rule_id, name, secret, is_active, created_at
		FROM webhook_configs
		WHERE (? = '' OR tenant_id = ?) AND (? = '' OR rule_id = ?)
		ORDER BY id COLLATE BINARY ASC
	`, tenantID, tenantID, ruleID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	hooks := []ir.WebhookConfig{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return hooks, nil
}

func scanWebhook(row rowScanner) (*ir.WebhookConfig, error) {
	var w ir.WebhookConfig
	var createdAt string
	if err := row.Scan(&w.ID, &w.TenantID, &w.RuleID, &w.Name, &w.Secret, &w.IsActive, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	var err error
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &w, nil
}
