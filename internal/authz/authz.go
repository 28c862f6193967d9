// Package authz defines capability-based access control for platform
// resources.
//
// Every privileged engine operation names the capability it requires and the
// resource it targets, and asks an injected Authorizer whether the acting
// account holds a matching grant.
package authz

import "sync"

// Role is a capability an account may hold on a resource.
type Role int

const (
	// RoleUnspecified represents an invalid role value.
	RoleUnspecified Role = iota
	// RoleMinter may mint and burn a token.
	RoleMinter
	// RolePriceOracle may push price updates for an asset.
	RolePriceOracle
	// RoleFundManager may update NAV, allocation weights, and fund status.
	RoleFundManager
	// RoleGovernance may apply governance-approved allocation changes.
	RoleGovernance
	// RoleEmergency may cancel proposals and pause the governance engine.
	RoleEmergency
	// RoleAdmin may register assets and toggle their active flag.
	RoleAdmin
)

// String returns the role name for logs and diagnostics.
func (r Role) String() string {
	switch r {
	case RoleMinter:
		return "minter"
	case RolePriceOracle:
		return "price_oracle"
	case RoleFundManager:
		return "fund_manager"
	case RoleGovernance:
		return "governance"
	case RoleEmergency:
		return "emergency"
	case RoleAdmin:
		return "admin"
	default:
		return "unspecified"
	}
}

// Wildcard matches any resource id when used in a grant.
const Wildcard uint64 = 0

// Authorizer reports whether an actor holds a role on a resource.
type Authorizer interface {
	Allowed(actor string, role Role, resource uint64) bool
}

type grantKey struct {
	actor    string
	role     Role
	resource uint64
}

// Grants is the in-memory Authorizer implementation.
type Grants struct {
	mu     sync.RWMutex
	grants map[grantKey]struct{}
}

// NewGrants creates an empty grant table.
func NewGrants() *Grants {
	return &Grants{grants: make(map[grantKey]struct{})}
}

// Grant records that actor holds role on resource. Granting with the
// Wildcard resource covers every resource id for that role.
func (g *Grants) Grant(actor string, role Role, resource uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[grantKey{actor: actor, role: role, resource: resource}] = struct{}{}
}

// Revoke removes a previously recorded grant.
func (g *Grants) Revoke(actor string, role Role, resource uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants, grantKey{actor: actor, role: role, resource: resource})
}

// Allowed reports whether actor holds role on resource, either exactly or
// through a wildcard grant.
func (g *Grants) Allowed(actor string, role Role, resource uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.grants[grantKey{actor: actor, role: role, resource: resource}]; ok {
		return true
	}
	if resource == Wildcard {
		return false
	}
	_, ok := g.grants[grantKey{actor: actor, role: role, resource: Wildcard}]
	return ok
}
