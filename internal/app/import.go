package app

import (
	"context"
	"fmt"

	"github.com/tbmahfudi/app-buildify-sub002/internal/automation"
	"github.com/tbmahfudi/app-buildify-sub002/internal/compiler"
)

// ImportOptions controls Import.
type ImportOptions struct {
	Tenant  string // used where a document names no tenant
	Publish bool
}

// ImportSummary lists what Import stored.
type ImportSummary struct {
	Workflows []string                `json:"workflows"`
	Published []string                `json:"published,omitempty"`
	Rules     []string                `json:"rules"`
	Warnings  []compiler.CycleWarning `json:"warnings,omitempty"`
}

// Import stores compiled workflows as drafts (publishing them when asked)
// and creates or replaces rules. Workflow ids are <key>-v<version>; loading
// the same workflow twice fails.
func (a *App) Import(ctx context.Context, res *compiler.LoadResult, opts ImportOptions) (*ImportSummary, error) {
	sum := &ImportSummary{Workflows: []string{}, Rules: []string{}}

	for i := range res.Workflows {
		def := res.Workflows[i]
		if def.TenantID == "" {
			def.TenantID = opts.Tenant
		}
		if def.ID == "" {
			def.ID = fmt.Sprintf("%s-v%d", def.Key, def.Version)
		}
		created, err := a.Workflows.CreateDefinition(ctx, &def)
		if err != nil {
			return sum, fmt.Errorf("workflow %s: %w", def.Key, err)
		}
		sum.Workflows = append(sum.Workflows, created.ID)
		if opts.Publish {
			if _, err := a.Workflows.Publish(ctx, created.ID); err != nil {
				return sum, fmt.Errorf("publish %s: %w", created.ID, err)
			}
			sum.Published = append(sum.Published, created.ID)
		}
	}

	for i := range res.Rules {
		rule := res.Rules[i]
		if rule.TenantID == "" {
			rule.TenantID = opts.Tenant
		}
		_, err := a.Automation.GetRule(ctx, rule.ID)
		switch {
		case err == nil:
			_, err = a.Automation.UpdateRule(ctx, &rule)
		case automation.IsNotFound(err):
			_, err = a.Automation.CreateRule(ctx, &rule)
		}
		if err != nil {
			return sum, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		sum.Rules = append(sum.Rules, rule.ID)
	}

	sum.Warnings = compiler.AnalyzeRuleCycles(res.Rules)
	return sum, nil
}
