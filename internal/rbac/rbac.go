package rbac

// Permission constants
const (
	PermListService     = "list_service"
	PermCancelService   = "cancel_service"
	PermCompleteService = "complete_service"
	PermBookService     = "book_service"
	PermRecordSession   = "record_session"
	PermCompleteBooking = "complete_booking"
	PermOpenDispute     = "open_dispute"
	PermResolveDispute  = "resolve_dispute"
	PermReleaseEscrow   = "release_escrow"
	PermRefundEscrow    = "refund_escrow"
	PermCancelEscrow    = "cancel_escrow"
)

// RolePermissions defines what each role can do. Roles come from the JWT
// claims issued at /auth/token (client / provider / operator).
var RolePermissions = map[string][]string{
	"provider": {
		PermListService, PermCancelService, PermCompleteService,
		PermRecordSession, PermOpenDispute,
	},
	"client": {
		PermBookService, PermCompleteBooking, PermOpenDispute,
	},
	"operator": {
		PermListService, PermCancelService, PermCompleteService,
		PermBookService, PermRecordSession, PermCompleteBooking,
		PermOpenDispute, PermResolveDispute,
		PermReleaseEscrow, PermRefundEscrow, PermCancelEscrow,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsSettlementOperation reports whether a permission moves escrowed funds
// (operator-only).
func IsSettlementOperation(permission string) bool {
	switch permission {
	case PermResolveDispute, PermReleaseEscrow, PermRefundEscrow, PermCancelEscrow:
		return true
	}
	return false
}
