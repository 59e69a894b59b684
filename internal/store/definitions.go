package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

const definitionColumns = `id, key, tenant_id, entity_type, name, description, version, status,
	initial_state_id, cancel_permission, created_at, updated_at, published_at`

// CreateDefinition inserts a definition with its states and transitions in
// one transaction. State and transition order is preserved via position.
func (s *Store) CreateDefinition(ctx context.Context, def *ir.WorkflowDefinition) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_definitions
			(id, key, tenant_id, entity_type, name, description, version, status,
			 initial_state_id, cancel_permission, created_at, updated_at, published_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			def.ID, def.Key, def.TenantID, def.EntityType, def.Name, def.Description,
			def.Version, string(def.Status), def.InitialStateID, def.CancelPermission,
			formatTime(def.CreatedAt), formatTime(def.UpdatedAt), formatNullTime(def.PublishedAt),
		)
		if err != nil {
			return fmt.Errorf("insert definition: %w", err)
		}
		return writeGraph(ctx, tx, def)
	})
	if err != nil {
		return fmt.Errorf("create definition %s: %w", def.ID, err)
	}
	return nil
}

// UpdateDraft rewrites the header, states and transitions of a draft.
// Returns ErrNotDraft if the stored definition is not a draft.
func (s *Store) UpdateDraft(ctx context.Context, def *ir.WorkflowDefinition) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE workflow_definitions
			SET entity_type = ?, name = ?, description = ?, initial_state_id = ?,
			    cancel_permission = ?, updated_at = ?
			WHERE id = ? AND status = 'draft'
		`,
			def.EntityType, def.Name, def.Description, def.InitialStateID,
			def.CancelPermission, formatTime(def.UpdatedAt), def.ID,
		)
		if err != nil {
			return fmt.Errorf("update definition: %w", err)
		}
		if err := expectOneRow(ctx, tx, res, def.ID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_states WHERE workflow_id = ?`, def.ID); err != nil {
			return fmt.Errorf("clear states: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_transitions WHERE workflow_id = ?`, def.ID); err != nil {
			return fmt.Errorf("clear transitions: %w", err)
		}
		return writeGraph(ctx, tx, def)
	})
	if err != nil {
		return fmt.Errorf("update draft %s: %w", def.ID, err)
	}
	return nil
}

// expectOneRow distinguishes a missing definition from a non-draft one
// after a draft-guarded UPDATE affected no rows.
func expectOneRow(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM workflow_definitions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return ErrNotDraft
}

func writeGraph(ctx context.Context, tx *sql.Tx, def *ir.WorkflowDefinition) error {
	for i, st := range def.States {
		onEntry, err := marshalList(st.OnEntry)
		if err != nil {
			return fmt.Errorf("marshal on_entry of %s: %w", st.ID, err)
		}
		onExit, err := marshalList(st.OnExit)
		if err != nil {
			return fmt.Errorf("marshal on_exit of %s: %w", st.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_states
			(workflow_id, id, position, name, is_initial, is_terminal, on_entry, on_exit, sla_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, def.ID, st.ID, i, st.Name, boolInt(st.IsInitial), boolInt(st.IsTerminal), onEntry, onExit, st.SLASeconds)
		if err != nil {
			return fmt.Errorf("insert state %s: %w", st.ID, err)
		}
	}

	for i, t := range def.Transitions {
		guard, err := marshalCondition(t.Guard)
		if err != nil {
			return fmt.Errorf("marshal guard of %s: %w", t.ID, err)
		}
		roles, err := marshalList(t.RequiredRoles)
		if err != nil {
			return fmt.Errorf("marshal roles of %s: %w", t.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_transitions
			(workflow_id, id, position, from_state_id, to_state_id, name, guard, required_permission, required_roles)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, def.ID, t.ID, i, t.FromStateID, t.ToStateID, t.Name, guard, t.RequiredPermission, roles)
		if err != nil {
			return fmt.Errorf("insert transition %s: %w", t.ID, err)
		}
	}
	return nil
}

// PublishDefinition moves a draft to published and records its content hash.
func (s *Store) PublishDefinition(ctx context.Context, id, contentHash string, at time.Time) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE workflow_definitions
			SET status = 'published', content_hash = ?, updated_at = ?, published_at = ?
			WHERE id = ? AND status = 'draft'
		`, contentHash, formatTime(at), formatTime(at), id)
		if err != nil {
			return err
		}
		return expectOneRow(ctx, tx, res, id)
	})
	if err != nil {
		return fmt.Errorf("publish definition %s: %w", id, err)
	}
	return nil
}

// ArchiveDefinition marks a definition archived. Archiving is idempotent.
func (s *Store) ArchiveDefinition(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_definitions SET status = 'archived', updated_at = ?
		WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("archive definition %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("archive definition %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDraft removes a draft definition and its graph.
func (s *Store) DeleteDraft(ctx context.Context, id string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = ? AND status = 'draft'`, id)
		if err != nil {
			return err
		}
		return expectOneRow(ctx, tx, res, id)
	})
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	return nil
}

// GetDefinition loads a definition with its ordered states and transitions.
// Returns ErrNotFound if no definition has the id.
func (s *Store) GetDefinition(ctx context.Context, id string) (*ir.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadGraph(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// LatestDefinition returns the highest version of a definition key.
func (s *Store) LatestDefinition(ctx context.Context, tenantID, key string) (*ir.WorkflowDefinition, error) {
	return s.latestDefinition(ctx, tenantID, key, false)
}

// LatestPublished returns the highest published version of a definition
// key. Drafts and archived versions are skipped.
func (s *Store) LatestPublished(ctx context.Context, tenantID, key string) (*ir.WorkflowDefinition, error) {
	return s.latestDefinition(ctx, tenantID, key, true)
}

func (s *Store) latestDefinition(ctx context.Context, tenantID, key string, publishedOnly bool) (*ir.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+definitionColumns+` FROM workflow_definitions
		WHERE tenant_id = ? AND key = ? AND (? = 0 OR status = 'published')
		ORDER BY version DESC LIMIT 1
	`, tenantID, key, boolInt(publishedOnly))
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("definition %s/%s: %w", tenantID, key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadGraph(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// ListDefinitions returns every definition of a tenant ordered by key and
// version. An empty tenantID lists all tenants.
func (s *Store) ListDefinitions(ctx context.Context, tenantID string) ([]ir.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+definitionColumns+` FROM workflow_definitions
		WHERE (? = '' OR tenant_id = ?)
		ORDER BY tenant_id COLLATE BINARY ASC, key COLLATE BINARY ASC, version ASC
	`, tenantID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query definitions: %w", err)
	}

	var defs []ir.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	// Single connection: release it before loading graphs.
	rows.Close()

	for i := range defs {
		if err := s.loadGraph(ctx, &defs[i]); err != nil {
			return nil, err
		}
	}
	if defs == nil {
		defs = []ir.WorkflowDefinition{}
	}
	return defs, nil
}

func (s *Store) loadGraph(ctx context.Context, def *ir.WorkflowDefinition) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, is_initial, is_terminal, on_entry, on_exit, sla_seconds
		FROM workflow_states WHERE workflow_id = ? ORDER BY position ASC
	`, def.ID)
	if err != nil {
		return fmt.Errorf("query states: %w", err)
	}
	def.States = nil
	for rows.Next() {
		st := ir.WorkflowState{WorkflowID: def.ID}
		var onEntry, onExit string
		if err := rows.Scan(&st.ID, &st.Name, &st.IsInitial, &st.IsTerminal, &onEntry, &onExit, &st.SLASeconds); err != nil {
			rows.Close()
			return fmt.Errorf("scan state: %w", err)
		}
		if err := unmarshalJSON(onEntry, &st.OnEntry); err != nil {
			rows.Close()
			return err
		}
		if err := unmarshalJSON(onExit, &st.OnExit); err != nil {
			rows.Close()
			return err
		}
		st.OnEntry, st.OnExit = nilIfEmpty(st.OnEntry), nilIfEmpty(st.OnExit)
		def.States = append(def.States, st)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("iterate states: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, from_state_id, to_state_id, name, guard, required_permission, required_roles
		FROM workflow_transitions WHERE workflow_id = ? ORDER BY position ASC
	`, def.ID)
	if err != nil {
		return fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()
	def.Transitions = nil
	for rows.Next() {
		t := ir.WorkflowTransition{WorkflowID: def.ID}
		var guard sql.NullString
		var roles string
		if err := rows.Scan(&t.ID, &t.FromStateID, &t.ToStateID, &t.Name, &guard, &t.RequiredPermission, &roles); err != nil {
			return fmt.Errorf("scan transition: %w", err)
		}
		t.Guard = unmarshalCondition(guard)
		if err := unmarshalJSON(roles, &t.RequiredRoles); err != nil {
			return err
		}
		t.RequiredRoles = nilIfEmpty(t.RequiredRoles)
		def.Transitions = append(def.Transitions, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate transitions: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*ir.WorkflowDefinition, error) {
	var def ir.WorkflowDefinition
	var status, createdAt, updatedAt string
	var publishedAt sql.NullString
	err := row.Scan(
		&def.ID, &def.Key, &def.TenantID, &def.EntityType, &def.Name, &def.Description,
		&def.Version, &status, &def.InitialStateID, &def.CancelPermission,
		&createdAt, &updatedAt, &publishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan definition: %w", err)
	}
	def.Status = ir.DefinitionStatus(status)
	if def.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if def.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if def.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	return &def, nil
}
