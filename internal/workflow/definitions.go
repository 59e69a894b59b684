package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
	"github.com/tbmahfudi/app-buildify-sub002/internal/store"
)

// CreateDefinition stores a new draft at version 1. Missing ids are
// generated; the key defaults to the id. Field-level validation runs before
// anything is written. Graph rules are only enforced at publish.
func (e *Engine) CreateDefinition(ctx context.Context, def *ir.WorkflowDefinition) (*ir.WorkflowDefinition, error) {
	d := cloneDefinition(def)
	if d.ID == "" {
		d.ID = e.ids.Generate()
	}
	if d.Key == "" {
		d.Key = d.ID
	}
	if d.Version == 0 {
		d.Version = 1
	}
	now := e.timestamp()
	d.Status = ir.DefinitionDraft
	d.CreatedAt, d.UpdatedAt, d.PublishedAt = now, now, nil
	normalize(d)

	if errs := compiler.ValidateDefinition(d); len(errs) > 0 {
		return nil, errs
	}
	if err := e.store.CreateDefinition(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDefinition loads a definition of any status.
func (e *Engine) GetDefinition(ctx context.Context, id string) (*ir.WorkflowDefinition, error) {
	def, err := e.store.GetDefinition(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &WorkflowNotFoundError{ID: id}
	}
	return def, err
}

// ListDefinitions lists a tenant's definitions by key and version.
func (e *Engine) ListDefinitions(ctx context.Context, tenantID string) ([]ir.WorkflowDefinition, error) {
	return e.store.ListDefinitions(ctx, tenantID)
}

// UpdateDraft replaces a draft's header and graph.
func (e *Engine) UpdateDraft(ctx context.Context, def *ir.WorkflowDefinition) (*ir.WorkflowDefinition, error) {
	return e.editDraft(ctx, def.ID, func(d *ir.WorkflowDefinition) error {
		d.EntityType = def.EntityType
		d.Name = def.Name
		d.Description = def.Description
		d.InitialStateID = def.InitialStateID
		d.CancelPermission = def.CancelPermission
		d.States = slices.Clone(def.States)
		d.Transitions = slices.Clone(def.Transitions)
		return nil
	})
}

// DeleteDraft removes a draft.
func (e *Engine) DeleteDraft(ctx context.Context, id string) error {
	return e.mapDefinitionErr(id, e.store.DeleteDraft(ctx, id))
}

// AddState appends a state to a draft.
func (e *Engine) AddState(ctx context.Context, workflowID string, st ir.WorkflowState) (*ir.WorkflowDefinition, error) {
	return e.editDraft(ctx, workflowID, func(d *ir.WorkflowDefinition) error {
		d.States = append(d.States, st)
		return nil
	})
}

// UpdateState replaces a draft state with the same id.
func (e *Engine) UpdateState(ctx context.Context, workflowID string, st ir.WorkflowState) (*ir.WorkflowDefinition, error) {
	return e.editDraft(ctx, workflowID, func(d *ir.WorkflowDefinition) error {
		i := slices.IndexFunc(d.States, func(s ir.WorkflowState) bool { return s.ID == st.ID })
		if i < 0 {
			return fmt.Errorf("workflow %s has no state %q", workflowID, st.ID)
		}
		d.States[i] = st
		return nil
	})
}

// RemoveState removes a draft state and every transition touching it.
func (e *Engine) RemoveState(ctx context.Context, workflowID, stateID string) (*ir.WorkflowDefinition, error) {
	return e.editDraft(ctx, workflowID, func(d *ir.WorkflowDefinition) error {
		n := len(d.States)
		d.States = slices.DeleteFunc(d.States, func(s ir.WorkflowState) bool { return s.ID == stateID })
		if len(d.States) == n {
			return fmt.Errorf("workflow %s has no state %q", workflowID, stateID)
		}
		d.Transitions = slices.DeleteFunc(d.Transitions, func(t ir.WorkflowTransition) bool {
			return t.FromStateID == stateID || t.ToStateID == stateID
		})
		if d.InitialStateID == stateID {
			d.InitialStateID = ""
		}
		return nil
	})
}

// AddTransition appends a transition to a draft. A missing id is generated.
func (e *Engine) AddTransition(ctx context.Context, workflowID string, t ir.WorkflowTransition) (*ir.WorkflowDefinition, error) {
	if t.ID == "" {
		t.ID = e.ids.Generate()
	}
	return e.editDraft(ctx, workflowID, func(d *ir.WorkflowDefinition) error {
		d.Transitions = append(d.Transitions, t)
		return nil
	})
}

// UpdateTransition replaces a draft transition with the same id.
func (e *Engine) UpdateTransition(ctx context.Context, workflowID string, t ir.WorkflowTransition) (*ir.WorkflowDefinition, error) {
	return e.editDraft(ctx, workflowID, func(d *ir.WorkflowDefinition) error {
		i := slices.IndexFunc(d.Transitions, func(x ir.WorkflowTransition) bool { return x.ID == t.ID })
		if i < 0 {
			return fmt.Errorf("workflow %s has no transition %q", workflowID, t.ID)
		}
		d.Transitions[i] = t
		return nil
	})
}

// RemoveTransition removes a draft transition.
func (e *Engine) RemoveTransition(ctx context.Context, workflowID, transitionID string) (*ir.WorkflowDefinition, error) {
	return e.editDraft(ctx, workflowID, func(d *ir.WorkflowDefinition) error {
		n := len(d.Transitions)
		d.Transitions = slices.DeleteFunc(d.Transitions, func(t ir.WorkflowTransition) bool { return t.ID == transitionID })
		if len(d.Transitions) == n {
			return fmt.Errorf("workflow %s has no transition %q", workflowID, transitionID)
		}
		return nil
	})
}

// editDraft loads a draft, applies fn, validates and stores the result.
func (e *Engine) editDraft(ctx context.Context, id string, fn func(*ir.WorkflowDefinition) error) (*ir.WorkflowDefinition, error) {
	d, err := e.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != ir.DefinitionDraft {
		return nil, fmt.Errorf("edit %s: %w", id, ErrDefinitionImmutable)
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.UpdatedAt = e.timestamp()
	normalize(d)

	if errs := compiler.ValidateDefinition(d); len(errs) > 0 {
		return nil, errs
	}
	if err := e.store.UpdateDraft(ctx, d); err != nil {
		return nil, e.mapDefinitionErr(id, err)
	}
	return d, nil
}

// Publish validates a draft's fields, graph and actions and makes it
// immutable. Any violation blocks publish and nothing changes.
func (e *Engine) Publish(ctx context.Context, id string) (*ir.WorkflowDefinition, error) {
	d, err := e.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != ir.DefinitionDraft {
		return nil, fmt.Errorf("publish %s: %w", id, ErrDefinitionImmutable)
	}

	errs := compiler.ValidateDefinition(d)
	if err := compiler.ValidateGraph(d); err != nil {
		graphErrs, _ := ir.AsValidationErrors(err)
		errs = append(errs, graphErrs...)
	}
	if e.actions != nil {
		errs = append(errs, compiler.ValidateDefinitionActions(d, e.actions)...)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	hash, err := ir.DefinitionHash(d)
	if err != nil {
		return nil, err
	}
	now := e.timestamp()
	if err := e.store.PublishDefinition(ctx, id, hash, now); err != nil {
		return nil, e.mapDefinitionErr(id, err)
	}
	d.Status = ir.DefinitionPublished
	d.UpdatedAt = now
	d.PublishedAt = &now

	for _, t := range d.Transitions {
		_, _ = e.guards.Get(t.Guard)
	}
	e.cache(d)
	return d, nil
}

// Archive stops new instances of a definition. Running instances continue
// under it.
func (e *Engine) Archive(ctx context.Context, id string) error {
	d, err := e.GetDefinition(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == ir.DefinitionDraft {
		return fmt.Errorf("archive %s: %w", id, ErrWorkflowNotPublished)
	}
	if err := e.store.ArchiveDefinition(ctx, id, e.timestamp()); err != nil {
		return e.mapDefinitionErr(id, err)
	}
	e.evict(id)
	return nil
}

// NewVersion clones a published or archived definition into a new draft
// with the next version under the same key.
func (e *Engine) NewVersion(ctx context.Context, id string) (*ir.WorkflowDefinition, error) {
	src, err := e.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if src.Status == ir.DefinitionDraft {
		return nil, fmt.Errorf("new version of %s: %w", id, ErrWorkflowNotPublished)
	}
	latest, err := e.store.LatestDefinition(ctx, src.TenantID, src.Key)
	if err != nil {
		return nil, err
	}

	d := cloneDefinition(src)
	d.ID = e.ids.Generate()
	d.Version = latest.Version + 1
	d.Status = ir.DefinitionDraft
	now := e.timestamp()
	d.CreatedAt, d.UpdatedAt, d.PublishedAt = now, now, nil
	normalize(d)

	if err := e.store.CreateDefinition(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (e *Engine) mapDefinitionErr(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &WorkflowNotFoundError{ID: id}
	case errors.Is(err, store.ErrNotDraft):
		return fmt.Errorf("%s: %w", id, ErrDefinitionImmutable)
	}
	return err
}

// normalize stamps the workflow id on states and transitions and derives
// the initial state id when it is unset.
func normalize(d *ir.WorkflowDefinition) {
	for i := range d.States {
		d.States[i].WorkflowID = d.ID
		if d.InitialStateID == "" && d.States[i].IsInitial {
			d.InitialStateID = d.States[i].ID
		}
	}
	for i := range d.Transitions {
		d.Transitions[i].WorkflowID = d.ID
	}
}

func cloneDefinition(src *ir.WorkflowDefinition) *ir.WorkflowDefinition {
	d := *src
	d.States = make([]ir.WorkflowState, len(src.States))
	for i, s := range src.States {
		s.OnEntry = slices.Clone(s.OnEntry)
		s.OnExit = slices.Clone(s.OnExit)
		d.States[i] = s
	}
	d.Transitions = make([]ir.WorkflowTransition, len(src.Transitions))
	for i, t := range src.Transitions {
		t.RequiredRoles = slices.Clone(t.RequiredRoles)
		t.Guard = slices.Clone(t.Guard)
		d.Transitions[i] = t
	}
	return &d
}
