package escrow

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrUnauthorized       = errors.New("caller lacks the required role")
	ErrNotListed          = errors.New("asset has no active listing")
	ErrAlreadyListed      = errors.New("asset has already been listed")
	ErrInvalidTerms       = errors.New("down payment exceeds purchase price")
	ErrPreconditionNotMet = errors.New("settlement precondition not met")
	ErrInsufficientFunds  = errors.New("pooled balance below purchase price")
	ErrTransferRejected   = errors.New("registry rejected the transfer")
)

// Condition names one finalize gate.
type Condition string

const (
	ConditionListed         Condition = "listed"
	ConditionInspection     Condition = "inspection_passed"
	ConditionBuyerApproval  Condition = "buyer_approval"
	ConditionSellerApproval Condition = "seller_approval"
	ConditionLenderApproval Condition = "lender_approval"
)

// PreconditionError reports which finalize gate was not satisfied.
type PreconditionError struct {
	AssetID   uint64
	Condition Condition
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: asset %d: %s", ErrPreconditionNotMet, e.AssetID, e.Condition)
}

func (e *PreconditionError) Is(target error) bool {
	if target == ErrPreconditionNotMet {
		return true
	}
	return target == ErrNotListed && e.Condition == ConditionListed
}

// InsufficientFundsError carries the pooled balance and the amount required.
type InsufficientFundsError struct {
	AssetID uint64
	Have    uint256.Int
	Need    uint256.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: asset %d: have %s, need %s", ErrInsufficientFunds, e.AssetID, e.Have.Dec(), e.Need.Dec())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
