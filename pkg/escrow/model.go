package escrow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status is the lifecycle state of a listing. A listing starts Listed and
// leaves that state exactly once, when the sale is finalized.
type Status uint8

const (
	StatusListed Status = iota + 1
	StatusFinalized
)

func (s Status) String() string {
	switch s {
	case StatusListed:
		return "listed"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Roles are the fixed parties an Engine is bound to at construction.
type Roles struct {
	SellerAuthority common.Address `json:"seller_authority"`
	Inspector       common.Address `json:"inspector"`
	LoanProvider    common.Address `json:"loan_provider"`
	Registry        common.Address `json:"registry"`
}

// Listing is the engine's record of sale terms and progress for one asset.
type Listing struct {
	AssetID          uint64
	Buyer            common.Address
	PurchasePrice    uint256.Int
	DownPayment      uint256.Int
	Status           Status
	InspectionPassed bool
	Approvals        map[common.Address]bool
	ListedAt         time.Time
	FinalizedAt      time.Time
}

// IsListed reports whether the listing is still open for settlement.
func (l *Listing) IsListed() bool {
	return l != nil && l.Status == StatusListed
}

// Approved reports whether addr has approved the sale.
func (l *Listing) Approved(addr common.Address) bool {
	if l == nil {
		return false
	}
	return l.Approvals[addr]
}

// Clone returns a deep copy so callers can mutate it without touching the
// stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Approvals = make(map[common.Address]bool, len(l.Approvals))
	for addr, ok := range l.Approvals {
		clone.Approvals[addr] = ok
	}
	return &clone
}

// State is everything an Engine persists: listings, the pooled balance and the
// proceeds released to each payee.
type State struct {
	Listings map[uint64]*Listing
	Balance  uint256.Int
	Proceeds map[common.Address]uint256.Int
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Listings: make(map[uint64]*Listing),
		Proceeds: make(map[common.Address]uint256.Int),
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	out := &State{
		Listings: make(map[uint64]*Listing, len(s.Listings)),
		Balance:  s.Balance,
		Proceeds: make(map[common.Address]uint256.Int, len(s.Proceeds)),
	}
	for id, l := range s.Listings {
		out.Listings[id] = l.Clone()
	}
	for addr, amt := range s.Proceeds {
		out.Proceeds[addr] = amt
	}
	return out
}

// Payout credits Amount to Payee's proceeds.
type Payout struct {
	Payee  common.Address
	Amount uint256.Int
}

// Change is the set of writes produced by a single mutating operation.
// Nil fields are left untouched.
type Change struct {
	Listing *Listing
	Balance *uint256.Int
	Payout  *Payout
}
