package parties

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	RoleSellerAuthority = "seller_authority"
	RoleBuyer           = "buyer"
	RoleInspector       = "inspector"
	RoleLoanProvider    = "loan_provider"
)

// Party is the directory entry for an address taking part in escrow.
type Party struct {
	Address   common.Address `json:"address"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Role      string         `json:"role"`
	CreatedAt time.Time      `json:"created_at"`
}

type PartyList struct {
	Items []Party `json:"items"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}
