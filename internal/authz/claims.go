// Package authz provides a permission resolver that decides from the claims
// an actor carries.
package authz

import (
	"context"
	"slices"
	"strings"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// Claims resolves requirements against the actor's own role and permission
// claims. A permission claim "invoice:*" grants every permission with the
// "invoice:" prefix and "*" grants everything.
type Claims struct {
	// TrustSystem grants every requirement to the automation system actor.
	TrustSystem bool
}

// NewClaims returns a resolver that trusts the automation actor.
func NewClaims() *Claims {
	return &Claims{TrustSystem: true}
}

// HasPermission implements ir.PermissionResolver. The actor needs the
// permission, when one is required, and any one of the roles, when roles
// are required.
func (c *Claims) HasPermission(_ context.Context, actor ir.Actor, req ir.Requirement) bool {
	if c.TrustSystem && actor.UserID == ir.SystemActor(actor.TenantID).UserID {
		return true
	}
	if req.Permission != "" && !slices.ContainsFunc(actor.Permissions, func(p string) bool {
		return grants(p, req.Permission)
	}) {
		return false
	}
	if len(req.Roles) > 0 && !slices.ContainsFunc(req.Roles, actor.HasRole) {
		return false
	}
	return true
}

func grants(claim, perm string) bool {
	if claim == perm || claim == "*" {
		return true
	}
	prefix, ok := strings.CutSuffix(claim, "*")
	return ok && strings.HasPrefix(perm, prefix)
}

// Static grants or denies everything. Tests use it.
type Static bool

// HasPermission implements ir.PermissionResolver.
func (s Static) HasPermission(context.Context, ir.Actor, ir.Requirement) bool {
	return bool(s)
}
