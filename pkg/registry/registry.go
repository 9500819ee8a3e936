package registry

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTokenNotFound = errors.New("property not found")
	ErrNotOwner      = errors.New("caller is not the property owner")
	ErrNotApproved   = errors.New("caller is not approved to move the property")
	ErrZeroAddress   = errors.New("zero address")
)

// Property is one minted asset.
type Property struct {
	ID          uint64         `json:"id"`
	Owner       common.Address `json:"owner"`
	Approved    common.Address `json:"approved"`
	MetadataURI string         `json:"metadata_uri"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Registry is the capability surface the escrow engine consumes. Callers are
// already authenticated; transfers follow ERC-721 rules: the from address must
// own the asset and the caller must be the owner or its approved spender.
type Registry interface {
	Address() common.Address
	Mint(ctx context.Context, caller common.Address, metadataURI string) (uint64, error)
	Approve(ctx context.Context, caller, spender common.Address, id uint64) error
	OwnerOf(ctx context.Context, id uint64) (common.Address, error)
	TransferFrom(ctx context.Context, caller, from, to common.Address, id uint64) error
	TokenURI(ctx context.Context, id uint64) (string, error)
	TotalSupply(ctx context.Context) (uint64, error)
}

// checkTransfer applies the transfer guard to a property snapshot.
func checkTransfer(p Property, caller, from, to common.Address) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if p.Owner != from {
		return ErrNotOwner
	}
	if caller != p.Owner && caller != p.Approved {
		return ErrNotApproved
	}
	return nil
}
