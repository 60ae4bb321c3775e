package ticketing

import (
	"fmt"
	"slices"
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleDoor     Role = "door"
	RolePromoter Role = "promoter"
	RoleBuyer    Role = "buyer"
	RoleService  Role = "service"
)

// Principal is the caller as described by the identity provider.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           Role
}

var Anonymous = Principal{Role: RoleBuyer}

type Capability string

const (
	CapabilityPurchase       Capability = "purchase"
	CapabilityConfirmPayment Capability = "confirm_payment"
	CapabilityCheckIn        Capability = "check_in"
	CapabilityViewUsage      Capability = "view_usage"
	CapabilityManageEvents   Capability = "manage_events"
)

type Authorizer interface {
	Authorize(p Principal, c Capability, organizationID string) error
}

var organizationRoles = map[Capability][]Role{
	CapabilityCheckIn:      {RoleOwner, RoleAdmin, RoleDoor},
	CapabilityViewUsage:    {RoleOwner, RoleAdmin, RolePromoter},
	CapabilityManageEvents: {RoleOwner, RoleAdmin},
}

// RolePolicy grants capabilities by role. Organization-scoped capabilities
// require the principal to belong to the organization that owns the resource.
type RolePolicy struct{}

func (RolePolicy) Authorize(p Principal, c Capability, organizationID string) error {
	switch c {
	case CapabilityPurchase:
		return nil
	case CapabilityConfirmPayment:
		if p.Role == RoleService {
			return nil
		}
		return fmt.Errorf("role %q cannot confirm payments: %w", p.Role, ErrForbidden)
	}

	roles, ok := organizationRoles[c]
	if !ok {
		return fmt.Errorf("unknown capability %q: %w", c, ErrForbidden)
	}
	if p.OrganizationID == "" || p.OrganizationID != organizationID {
		return fmt.Errorf("principal is not a member of organization %s: %w", organizationID, ErrForbidden)
	}
	if !slices.Contains(roles, p.Role) {
		return fmt.Errorf("role %q cannot %s: %w", p.Role, c, ErrForbidden)
	}

	return nil
}
