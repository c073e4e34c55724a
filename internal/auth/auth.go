// Package auth maps authenticated roles to the capabilities they hold.
// The check runs once at the transport boundary, not scattered through
// handlers.
package auth

type Role string

const (
	RoleSeller   Role = "seller"
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleSeller, RoleCustomer, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type Action string

const (
	ActionCreateSellerOrder   Action = "order:create:seller"
	ActionCreateCustomerOrder Action = "order:create:customer"
	ActionReadOrder           Action = "order:read"
)

var capabilities = map[Role]map[Action]bool{
	RoleSeller: {
		ActionCreateSellerOrder: true,
		ActionReadOrder:         true,
	},
	RoleCustomer: {
		ActionCreateCustomerOrder: true,
		ActionReadOrder:           true,
	},
	RoleAdmin: {
		ActionCreateSellerOrder:   true,
		ActionCreateCustomerOrder: true,
		ActionReadOrder:           true,
	},
}

// Can reports whether the role holds the capability for the action.
func Can(role Role, action Action) bool {
	return capabilities[role][action]
}
