package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"propertyescrow/pkg/registry"
)

var (
	errNilRegistry      = errors.New("escrow engine: registry not configured")
	errNilCustody       = errors.New("escrow engine: custody address not configured")
	errRegistryMismatch = errors.New("escrow engine: registry address does not match bound registry")
	errBalanceOverflow  = errors.New("escrow engine: pooled balance overflow")
)

// Recorder observes engine activity. The metrics package provides the
// Prometheus implementation.
type Recorder interface {
	ObserveOperation(op, outcome string)
	SetBalance(balance *uint256.Int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveOperation(string, string) {}
func (noopRecorder) SetBalance(*uint256.Int)         {}

// Options configures an Engine. Registry and Self are required; everything
// else has a usable default.
type Options struct {
	Roles    Roles
	Self     common.Address
	Registry registry.Registry
	Store    Store
	Emitter  Emitter
	Logger   *zap.Logger
	Recorder Recorder
	Now      func() time.Time
}

// Engine is the escrow state machine for one fixed set of roles bound to one
// registry. Every mutating operation holds the write lock from precondition
// check through commit, so each decision sees a single consistent snapshot of
// listings and the pooled balance.
type Engine struct {
	mu       sync.RWMutex
	roles    Roles
	self     common.Address
	registry registry.Registry
	store    Store
	emitter  Emitter
	logger   *zap.Logger
	recorder Recorder
	nowFn    func() time.Time
	state    *State
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errNilRegistry
	}
	if opts.Self == (common.Address{}) {
		return nil, errNilCustody
	}
	roles := opts.Roles
	if roles.Registry == (common.Address{}) {
		roles.Registry = opts.Registry.Address()
	} else if roles.Registry != opts.Registry.Address() {
		return nil, errRegistryMismatch
	}

	e := &Engine{
		roles:    roles,
		self:     opts.Self,
		registry: opts.Registry,
		store:    opts.Store,
		emitter:  opts.Emitter,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		nowFn:    opts.Now,
		state:    NewState(),
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.emitter == nil {
		e.emitter = NoopEmitter{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}
	if e.nowFn == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// Restore replaces in-memory state with what the store holds.
func (e *Engine) Restore(ctx context.Context) error {
	state, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore escrow state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.recorder.SetBalance(&e.state.Balance)
	e.logger.Info("escrow state restored",
		zap.Int("listings", len(state.Listings)),
		zap.String("balance", state.Balance.Dec()))
	return nil
}

// List takes custody of assetID from the seller authority and opens a listing
// for buyer. The registry pull and the listing write succeed or fail together.
func (e *Engine) List(ctx context.Context, caller common.Address, assetID uint64, buyer common.Address, price, downPayment *uint256.Int) (*Listing, error) {
	const op = "list"

	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.roles.SellerAuthority {
		return nil, e.reject(op, assetID, caller, ErrUnauthorized)
	}
	if _, exists := e.state.Listings[assetID]; exists {
		return nil, e.reject(op, assetID, caller, ErrAlreadyListed)
	}
	if buyer == (common.Address{}) {
		return nil, e.reject(op, assetID, caller, fmt.Errorf("%w: buyer is the zero address", ErrInvalidTerms))
	}
	if downPayment.Gt(price) {
		return nil, e.reject(op, assetID, caller, fmt.Errorf("%w: down payment %s exceeds price %s", ErrInvalidTerms, downPayment.Dec(), price.Dec()))
	}

	listing := &Listing{
		AssetID:       assetID,
		Buyer:         buyer,
		PurchasePrice: *price,
		DownPayment:   *downPayment,
		Status:        StatusListed,
		Approvals:     make(map[common.Address]bool),
		ListedAt:      e.now(),
	}

	pull := func(ctx context.Context) error {
		if err := e.registry.TransferFrom(ctx, e.self, caller, e.self, assetID); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}
		return nil
	}
	if err := e.store.Commit(ctx, Change{Listing: listing}, pull); err != nil {
		if !errors.Is(err, ErrTransferRejected) {
			e.returnCustody(ctx, assetID)
		}
		return nil, e.reject(op, assetID, caller, err)
	}
	applyChange(e.state, Change{Listing: listing})

	e.succeed(op, assetID, caller,
		zap.String("buyer", buyer.Hex()),
		zap.String("purchase_price", price.Dec()),
		zap.String("down_payment", downPayment.Dec()))
	e.emitter.Emit(newListedEvent(listing, caller))
	return listing.Clone(), nil
}

// returnCustody hands an asset back to the seller authority after a failed
// listing commit left it with the engine.
func (e *Engine) returnCustody(ctx context.Context, assetID uint64) {
	ctx = context.WithoutCancel(ctx)
	owner, err := e.registry.OwnerOf(ctx, assetID)
	if err != nil || owner != e.self {
		return
	}
	if err := e.registry.TransferFrom(ctx, e.self, e.self, e.roles.SellerAuthority, assetID); err != nil {
		e.logger.Error("return custody after failed listing",
			zap.Uint64("asset_id", assetID),
			zap.Error(err))
	}
}

// Deposit adds amount to the pooled balance on behalf of a listed asset. No
// minimum is enforced against the listing's down payment; a short deposit is
// accepted and reported.
func (e *Engine) Deposit(ctx context.Context, caller common.Address, assetID uint64, amount *uint256.Int) (uint256.Int, error) {
	const op = "deposit"

	e.mu.Lock()
	defer e.mu.Unlock()

	listing, ok := e.state.Listings[assetID]
	if !ok || !listing.IsListed() {
		return e.state.Balance, e.reject(op, assetID, caller, ErrNotListed)
	}

	var balance uint256.Int
	if _, overflow := balance.AddOverflow(&e.state.Balance, amount); overflow {
		return e.state.Balance, e.reject(op, assetID, caller, errBalanceOverflow)
	}
	if err := e.store.Commit(ctx, Change{Balance: &balance}, nil); err != nil {
		return e.state.Balance, e.reject(op, assetID, caller, err)
	}
	applyChange(e.state, Change{Balance: &balance})
	e.recorder.SetBalance(&balance)

	if amount.Lt(&listing.DownPayment) {
		e.logger.Warn("deposit below down payment",
			zap.Uint64("asset_id", assetID),
			zap.String("caller", caller.Hex()),
			zap.String("amount", amount.Dec()),
			zap.String("down_payment", listing.DownPayment.Dec()))
	}
	e.succeed(op, assetID, caller,
		zap.String("amount", amount.Dec()),
		zap.String("balance", balance.Dec()))
	e.emitter.Emit(newDepositedEvent(listing, caller, amount, &balance, e.now()))
	return balance, nil
}

// Fund adds amount to the pooled balance without naming a listing.
func (e *Engine) Fund(ctx context.Context, caller common.Address, amount *uint256.Int) (uint256.Int, error) {
	const op = "fund"

	e.mu.Lock()
	defer e.mu.Unlock()

	var balance uint256.Int
	if _, overflow := balance.AddOverflow(&e.state.Balance, amount); overflow {
		return e.state.Balance, e.reject(op, 0, caller, errBalanceOverflow)
	}
	if err := e.store.Commit(ctx, Change{Balance: &balance}, nil); err != nil {
		return e.state.Balance, e.reject(op, 0, caller, err)
	}
	applyChange(e.state, Change{Balance: &balance})
	e.recorder.SetBalance(&balance)

	e.succeed(op, 0, caller,
		zap.String("amount", amount.Dec()),
		zap.String("balance", balance.Dec()))
	e.emitter.Emit(newFundedEvent(caller, amount, &balance, e.now()))
	return balance, nil
}

// UpdateInspectionStatus records the inspector's verdict. The last write wins.
func (e *Engine) UpdateInspectionStatus(ctx context.Context, caller common.Address, assetID uint64, passed bool) error {
	const op = "inspect"

	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.roles.Inspector {
		return e.reject(op, assetID, caller, ErrUnauthorized)
	}
	listing, ok := e.state.Listings[assetID]
	if !ok || !listing.IsListed() {
		return e.reject(op, assetID, caller, ErrNotListed)
	}

	next := listing.Clone()
	next.InspectionPassed = passed
	if err := e.store.Commit(ctx, Change{Listing: next}, nil); err != nil {
		return e.reject(op, assetID, caller, err)
	}
	applyChange(e.state, Change{Listing: next})

	e.succeed(op, assetID, caller, zap.Bool("passed", passed))
	e.emitter.Emit(newInspectedEvent(next, caller, e.now()))
	return nil
}

// ApproveSale records the caller's own approval. Any address may approve;
// finalize only consults the buyer, seller authority and loan provider.
func (e *Engine) ApproveSale(ctx context.Context, caller common.Address, assetID uint64) error {
	const op = "approve"

	e.mu.Lock()
	defer e.mu.Unlock()

	listing, ok := e.state.Listings[assetID]
	if !ok || !listing.IsListed() {
		return e.reject(op, assetID, caller, ErrNotListed)
	}

	next := listing.Clone()
	next.Approvals[caller] = true
	if err := e.store.Commit(ctx, Change{Listing: next}, nil); err != nil {
		return e.reject(op, assetID, caller, err)
	}
	applyChange(e.state, Change{Listing: next})

	e.succeed(op, assetID, caller)
	e.emitter.Emit(newApprovedEvent(next, caller, e.now()))
	return nil
}

// FinalizeSale settles a listing: the asset moves to the buyer, the purchase
// price moves from the pool to the seller authority's proceeds, and the
// listing closes. Any failure leaves all three untouched.
func (e *Engine) FinalizeSale(ctx context.Context, caller common.Address, assetID uint64) (*Listing, error) {
	const op = "finalize"

	e.mu.Lock()
	defer e.mu.Unlock()

	listing, err := e.settlementReady(assetID)
	if err != nil {
		return nil, e.reject(op, assetID, caller, err)
	}

	next := listing.Clone()
	next.Status = StatusFinalized
	next.FinalizedAt = e.now()

	var balance uint256.Int
	balance.Sub(&e.state.Balance, &listing.PurchasePrice)
	change := Change{
		Listing: next,
		Balance: &balance,
		Payout:  &Payout{Payee: e.roles.SellerAuthority, Amount: listing.PurchasePrice},
	}

	deliver := func(ctx context.Context) error {
		if err := e.registry.TransferFrom(ctx, e.self, e.self, listing.Buyer, assetID); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}
		return nil
	}
	if err := e.store.Commit(ctx, change, deliver); err != nil {
		return nil, e.reject(op, assetID, caller, err)
	}
	applyChange(e.state, change)
	e.recorder.SetBalance(&balance)

	e.succeed(op, assetID, caller,
		zap.String("buyer", next.Buyer.Hex()),
		zap.String("amount", next.PurchasePrice.Dec()),
		zap.String("balance", balance.Dec()))
	e.emitter.Emit(newFinalizedEvent(next, caller, e.roles.SellerAuthority, &balance))
	return next.Clone(), nil
}

// settlementReady evaluates the finalize gates in order and returns the live
// listing when all of them hold.
func (e *Engine) settlementReady(assetID uint64) (*Listing, error) {
	listing, ok := e.state.Listings[assetID]
	if !ok || !listing.IsListed() {
		return nil, &PreconditionError{AssetID: assetID, Condition: ConditionListed}
	}
	if !listing.InspectionPassed {
		return nil, &PreconditionError{AssetID: assetID, Condition: ConditionInspection}
	}
	required := []struct {
		addr common.Address
		cond Condition
	}{
		{listing.Buyer, ConditionBuyerApproval},
		{e.roles.SellerAuthority, ConditionSellerApproval},
		{e.roles.LoanProvider, ConditionLenderApproval},
	}
	for _, r := range required {
		if !listing.Approvals[r.addr] {
			return nil, &PreconditionError{AssetID: assetID, Condition: r.cond}
		}
	}
	if e.state.Balance.Lt(&listing.PurchasePrice) {
		return nil, &InsufficientFundsError{AssetID: assetID, Have: e.state.Balance, Need: listing.PurchasePrice}
	}
	return listing, nil
}

// Listing returns a copy of the listing for assetID, including closed ones.
func (e *Engine) Listing(assetID uint64) (*Listing, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	l, ok := e.state.Listings[assetID]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// Listings returns copies of every listing ordered by asset id.
func (e *Engine) Listings() []*Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Listing, 0, len(e.state.Listings))
	for _, l := range e.state.Listings {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

func (e *Engine) IsListed(assetID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Listings[assetID].IsListed()
}

// Buyer returns the zero address when assetID was never listed.
func (e *Engine) Buyer(assetID uint64) common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if l, ok := e.state.Listings[assetID]; ok {
		return l.Buyer
	}
	return common.Address{}
}

func (e *Engine) PurchasePrice(assetID uint64) uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if l, ok := e.state.Listings[assetID]; ok {
		return l.PurchasePrice
	}
	return uint256.Int{}
}

func (e *Engine) DownPayment(assetID uint64) uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if l, ok := e.state.Listings[assetID]; ok {
		return l.DownPayment
	}
	return uint256.Int{}
}

func (e *Engine) InspectionPassed(assetID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if l, ok := e.state.Listings[assetID]; ok {
		return l.InspectionPassed
	}
	return false
}

func (e *Engine) Approval(assetID uint64, addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Listings[assetID].Approved(addr)
}

// Balance returns the pooled balance shared by every listing.
func (e *Engine) Balance() uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Balance
}

// Proceeds returns the total released to addr by settlements.
func (e *Engine) Proceeds(addr common.Address) uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Proceeds[addr]
}

func (e *Engine) Roles() Roles { return e.roles }

// Self returns the engine's custody address.
func (e *Engine) Self() common.Address { return e.self }

func (e *Engine) now() time.Time { return e.nowFn() }

func (e *Engine) succeed(op string, assetID uint64, caller common.Address, fields ...zap.Field) {
	e.recorder.ObserveOperation(op, "ok")
	fields = append([]zap.Field{
		zap.String("op", op),
		zap.Uint64("asset_id", assetID),
		zap.String("caller", caller.Hex()),
	}, fields...)
	e.logger.Info("escrow operation committed", fields...)
}

func (e *Engine) reject(op string, assetID uint64, caller common.Address, err error) error {
	outcome := Outcome(err)
	e.recorder.ObserveOperation(op, outcome)
	log := e.logger.Debug
	if outcome == "error" {
		log = e.logger.Error
	}
	log("escrow operation rejected",
		zap.String("op", op),
		zap.Uint64("asset_id", assetID),
		zap.String("caller", caller.Hex()),
		zap.String("outcome", outcome),
		zap.Error(err))
	return err
}

// Outcome classifies an engine error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotListed):
		return "not_listed"
	case errors.Is(err, ErrAlreadyListed):
		return "already_listed"
	case errors.Is(err, ErrInvalidTerms):
		return "invalid_terms"
	case errors.Is(err, ErrPreconditionNotMet):
		return "precondition_not_met"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrTransferRejected):
		return "transfer_rejected"
	default:
		return "error"
	}
}
