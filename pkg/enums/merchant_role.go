package enums

// MerchantRole is the role of a dashboard user within their store.
type MerchantRole string

const (
	MerchantRoleOwner MerchantRole = "owner"
	MerchantRoleStaff MerchantRole = "staff"
)

func (r MerchantRole) IsValid() bool {
	return r == MerchantRoleOwner || r == MerchantRoleStaff
}

// CanManageProviders reports whether the role may change carrier credentials.
func (r MerchantRole) CanManageProviders() bool {
	return r == MerchantRoleOwner
}
