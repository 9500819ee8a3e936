package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"propertyescrow/pkg/registry"
)

var (
	sellerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	inspectorAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	lenderAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	buyerAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	otherAddr     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	engineAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	registryAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

type countingRecorder struct {
	mu      sync.Mutex
	ops     map[string]int
	balance uint256.Int
}

func (c *countingRecorder) ObserveOperation(op, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == nil {
		c.ops = make(map[string]int)
	}
	c.ops[op+"/"+outcome]++
}

func (c *countingRecorder) SetBalance(b *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = *b
}

// rejectingRegistry fails transfers into the given recipient.
type rejectingRegistry struct {
	*registry.MemoryRegistry
	rejectTo common.Address
}

func (r *rejectingRegistry) TransferFrom(ctx context.Context, caller, from, to common.Address, id uint64) error {
	if to == r.rejectTo {
		return errors.New("receiver refused the asset")
	}
	return r.MemoryRegistry.TransferFrom(ctx, caller, from, to, id)
}

// brokenStore runs the effect and then fails the write.
type brokenStore struct {
	*MemoryStore
}

func (s brokenStore) Commit(ctx context.Context, change Change, effect func(context.Context) error) error {
	if effect != nil {
		if err := effect(ctx); err != nil {
			return err
		}
	}
	return errors.New("write failed")
}

type fixture struct {
	engine   *Engine
	registry *registry.MemoryRegistry
	emitter  *recordingEmitter
	recorder *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewMemoryRegistry(registryAddr)
	return newFixtureWith(t, reg, reg, nil)
}

func newFixtureWith(t *testing.T, mem *registry.MemoryRegistry, reg registry.Registry, store Store) *fixture {
	t.Helper()

	emitter := &recordingEmitter{}
	recorder := &countingRecorder{}
	engine, err := NewEngine(Options{
		Roles: Roles{
			SellerAuthority: sellerAddr,
			Inspector:       inspectorAddr,
			LoanProvider:    lenderAddr,
		},
		Self:     engineAddr,
		Registry: reg,
		Store:    store,
		Emitter:  emitter,
		Recorder: recorder,
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &fixture{engine: engine, registry: mem, emitter: emitter, recorder: recorder}
}

// mint creates a property owned by the seller authority with the engine approved.
func (f *fixture) mint(t *testing.T) uint64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.registry.Mint(ctx, sellerAddr, "ipfs://property")
	require.NoError(t, err)
	require.NoError(t, f.registry.Approve(ctx, sellerAddr, engineAddr, id))
	return id
}

func (f *fixture) list(t *testing.T, price, down uint64) uint64 {
	t.Helper()
	id := f.mint(t)
	_, err := f.engine.List(context.Background(), sellerAddr, id, buyerAddr, uint256.NewInt(price), uint256.NewInt(down))
	require.NoError(t, err)
	return id
}

func (f *fixture) readyForSettlement(t *testing.T, id uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.engine.UpdateInspectionStatus(ctx, inspectorAddr, id, true))
	for _, addr := range []common.Address{buyerAddr, sellerAddr, lenderAddr} {
		require.NoError(t, f.engine.ApproveSale(ctx, addr, id))
	}
}

func (f *fixture) owner(t *testing.T, id uint64) common.Address {
	t.Helper()
	owner, err := f.registry.OwnerOf(context.Background(), id)
	require.NoError(t, err)
	return owner
}

func TestNewEngine_Validation(t *testing.T) {
	reg := registry.NewMemoryRegistry(registryAddr)

	_, err := NewEngine(Options{Self: engineAddr})
	require.ErrorIs(t, err, errNilRegistry)

	_, err = NewEngine(Options{Registry: reg})
	require.ErrorIs(t, err, errNilCustody)

	_, err = NewEngine(Options{Registry: reg, Self: engineAddr, Roles: Roles{Registry: otherAddr}})
	require.ErrorIs(t, err, errRegistryMismatch)

	e, err := NewEngine(Options{Registry: reg, Self: engineAddr})
	require.NoError(t, err)
	require.Equal(t, registryAddr, e.Roles().Registry)
	require.Equal(t, engineAddr, e.Self())
}

func TestEngine_FullSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.list(t, 10, 5)
	require.True(t, f.engine.IsListed(id))
	require.Equal(t, engineAddr, f.owner(t, id))
	require.Equal(t, buyerAddr, f.engine.Buyer(id))

	balance, err := f.engine.Deposit(ctx, buyerAddr, id, uint256.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, uint64(5), balance.Uint64())

	f.readyForSettlement(t, id)

	balance, err = f.engine.Fund(ctx, lenderAddr, uint256.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, uint64(10), balance.Uint64())

	closed, err := f.engine.FinalizeSale(ctx, otherAddr, id)
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, closed.Status)

	require.Equal(t, buyerAddr, f.owner(t, id))
	bal := f.engine.Balance()
	require.True(t, bal.IsZero())
	require.False(t, f.engine.IsListed(id))
	proceeds := f.engine.Proceeds(sellerAddr)
	require.Equal(t, uint64(10), proceeds.Uint64())

	require.Equal(t, []string{
		EventTypeListed, EventTypeDeposited, EventTypeInspected,
		EventTypeApproved, EventTypeApproved, EventTypeApproved,
		EventTypeFunded, EventTypeFinalized,
	}, f.emitter.types())
	require.Equal(t, 1, f.recorder.ops["finalize/ok"])
	require.True(t, f.recorder.balance.IsZero())
}

func TestEngine_ListRequiresSellerAuthority(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)

	_, err := f.engine.List(context.Background(), otherAddr, id, buyerAddr, uint256.NewInt(10), uint256.NewInt(5))

	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, f.engine.IsListed(id))
	_, ok := f.engine.Listing(id)
	require.False(t, ok)
	require.Equal(t, sellerAddr, f.owner(t, id))
	require.Equal(t, 1, f.recorder.ops["list/unauthorized"])
}

func TestEngine_ListRejectsBadTerms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mint(t)

	_, err := f.engine.List(ctx, sellerAddr, id, buyerAddr, uint256.NewInt(5), uint256.NewInt(6))
	require.ErrorIs(t, err, ErrInvalidTerms)

	_, err = f.engine.List(ctx, sellerAddr, id, common.Address{}, uint256.NewInt(5), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidTerms)

	require.Equal(t, sellerAddr, f.owner(t, id))
}

func TestEngine_ListAllowsZeroDownPayment(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, 0)

	down := f.engine.DownPayment(id)
	require.True(t, down.IsZero())
}

func TestEngine_ListTwiceRejected(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, 5)

	_, err := f.engine.List(context.Background(), sellerAddr, id, buyerAddr, uint256.NewInt(10), uint256.NewInt(5))

	require.ErrorIs(t, err, ErrAlreadyListed)
}

func TestEngine_ListWithoutRegistryApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.registry.Mint(ctx, sellerAddr, "ipfs://unapproved")
	require.NoError(t, err)

	_, err = f.engine.List(ctx, sellerAddr, id, buyerAddr, uint256.NewInt(10), uint256.NewInt(5))

	require.ErrorIs(t, err, ErrTransferRejected)
	require.ErrorIs(t, err, registry.ErrNotApproved)
	require.False(t, f.engine.IsListed(id))
	require.Equal(t, sellerAddr, f.owner(t, id))
}

func TestEngine_ListReturnsCustodyWhenCommitFails(t *testing.T) {
	reg := registry.NewMemoryRegistry(registryAddr)
	f := newFixtureWith(t, reg, reg, brokenStore{NewMemoryStore()})
	id := f.mint(t)

	_, err := f.engine.List(context.Background(), sellerAddr, id, buyerAddr, uint256.NewInt(10), uint256.NewInt(5))

	require.Error(t, err)
	require.False(t, f.engine.IsListed(id))
	require.Equal(t, sellerAddr, f.owner(t, id))
}

func TestEngine_DepositAcceptsShortAmounts(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, 5)

	balance, err := f.engine.Deposit(context.Background(), buyerAddr, id, uint256.NewInt(1))

	require.NoError(t, err)
	require.Equal(t, uint64(1), balance.Uint64())
	require.Equal(t, "true", f.emitter.events[len(f.emitter.events)-1].Attributes["belowDownPayment"])
}

func TestEngine_DepositFromAnyCaller(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, 5)

	_, err := f.engine.Deposit(context.Background(), otherAddr, id, uint256.NewInt(7))

	require.NoError(t, err)
	bal := f.engine.Balance()
	require.Equal(t, uint64(7), bal.Uint64())
}

func TestEngine_DepositRequiresListing(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Deposit(context.Background(), buyerAddr, 42, uint256.NewInt(5))

	require.ErrorIs(t, err, ErrNotListed)
	bal := f.engine.Balance()
	require.True(t, bal.IsZero())
}

func TestEngine_DepositOverflow(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, 5)
	ceiling := new(uint256.Int).SetAllOne()

	_, err := f.engine.Deposit(context.Background(), buyerAddr, id, ceiling)
	require.NoError(t, err)
	_, err = f.engine.Deposit(context.Background(), buyerAddr, id, uint256.NewInt(1))

	require.ErrorIs(t, err, errBalanceOverflow)
	bal := f.engine.Balance()
	require.Equal(t, ceiling.Dec(), bal.Dec())
}

func TestEngine_InspectionRequiresInspector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.list(t, 10, 5)

	err := f.engine.UpdateInspectionStatus(ctx, buyerAddr, id, true)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, f.engine.InspectionPassed(id))

	err = f.engine.UpdateInspectionStatus(ctx, inspectorAddr, 99, true)
	require.ErrorIs(t, err, ErrNotListed)
}

func TestEngine_InspectionLastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.list(t, 10, 5)

	require.NoError(t, f.engine.UpdateInspectionStatus(ctx, inspectorAddr, id, true))
	require.NoError(t, f.engine.UpdateInspectionStatus(ctx, inspectorAddr, id, true))
	require.True(t, f.engine.InspectionPassed(id))

	require.NoError(t, f.engine.UpdateInspectionStatus(ctx, inspectorAddr, id, false))
	require.False(t, f.engine.InspectionPassed(id))
}

func TestEngine_ApprovalIsSelfOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.list(t, 10, 5)

	require.NoError(t, f.engine.ApproveSale(ctx, otherAddr, id))
	require.NoError(t, f.engine.ApproveSale(ctx, otherAddr, id))

	require.True(t, f.engine.Approval(id, otherAddr))
	require.False(t, f.engine.Approval(id, buyerAddr))
	require.False(t, f.engine.Approval(id, sellerAddr))
	require.False(t, f.engine.Approval(id, lenderAddr))
}

func TestEngine_ApproveRequiresListing(t *testing.T) {
	f := newFixture(t)

	err := f.engine.ApproveSale(context.Background(), buyerAddr, 7)

	require.ErrorIs(t, err, ErrNotListed)
	require.False(t, f.engine.Approval(7, buyerAddr))
}

func TestEngine_FinalizeBeforeInspection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.list(t, 10, 5)
	_, err := f.engine.Fund(ctx, lenderAddr, uint256.NewInt(10))
	require.NoError(t, err)
	for _, addr := range []common.Address{buyerAddr, sellerAddr, lenderAddr} {
		require.NoError(t, f.engine.ApproveSale(ctx, addr, id))
	}

	_, err = f.engine.FinalizeSale(ctx, buyerAddr, id)

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	require.Equal(t, ConditionInspection, pre.Condition)
	require.True(t, f.engine.IsListed(id))
	require.Equal(t, engineAddr, f.owner(t, id))
	bal := f.engine.Balance()
	require.Equal(t, uint64(10), bal.Uint64())
}

func TestEngine_FinalizeMissingLenderApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.list(t, 10, 5)
	_, err := f.engine.Fund(ctx, lenderAddr, uint256.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, f.engine.UpdateInspectionStatus(ctx, inspectorAddr, id, true))
	require.NoError(t, f.engine.ApproveSale(ctx, buyerAddr, id))
	require.NoError(t, f.engine.ApproveSale(ctx, sellerAddr, id))

	_, err = f.engine.FinalizeSale(ctx, buyerAddr, id)

	require.ErrorIs(t, err, ErrPreconditionNotMet)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	require.Equal(t, ConditionLenderApproval, pre.Condition)
	require.True(t, f.engine.IsListed(id))
	require.Equal(t, engineAddr, f.owner(t, id))
}

func TestEngine_FinalizeInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.list(t, 10, 5)
	f.readyForSettlement(t, id)
	_, err := f.engine.Deposit(ctx, buyerAddr, id, uint256.NewInt(9))
	require.NoError(t, err)

	_, err = f.engine.FinalizeSale(ctx, buyerAddr, id)

	require.ErrorIs(t, err, ErrInsufficientFunds)
	var short *InsufficientFundsError
	require.ErrorAs(t, err, &short)
	require.Equal(t, uint64(9), short.Have.Uint64())
	require.Equal(t, uint64(10), short.Need.Uint64())
	require.True(t, f.engine.IsListed(id))
	require.Equal(t, 1, f.recorder.ops["finalize/insufficient_funds"])
}

func TestEngine_FinalizeTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.list(t, 10, 5)
	f.readyForSettlement(t, id)
	_, err := f.engine.Fund(ctx, lenderAddr, uint256.NewInt(20))
	require.NoError(t, err)

	_, err = f.engine.FinalizeSale(ctx, buyerAddr, id)
	require.NoError(t, err)
	_, err = f.engine.FinalizeSale(ctx, buyerAddr, id)

	require.ErrorIs(t, err, ErrNotListed)
	bal := f.engine.Balance()
	require.Equal(t, uint64(10), bal.Uint64())
}

func TestEngine_FinalizeRollsBackWhenTransferRejected(t *testing.T) {
	mem := registry.NewMemoryRegistry(registryAddr)
	reg := &rejectingRegistry{MemoryRegistry: mem, rejectTo: buyerAddr}
	f := newFixtureWith(t, mem, reg, nil)
	ctx := context.Background()
	id := f.list(t, 10, 5)
	f.readyForSettlement(t, id)
	_, err := f.engine.Fund(ctx, lenderAddr, uint256.NewInt(10))
	require.NoError(t, err)

	_, err = f.engine.FinalizeSale(ctx, buyerAddr, id)

	require.ErrorIs(t, err, ErrTransferRejected)
	require.True(t, f.engine.IsListed(id))
	require.Equal(t, engineAddr, f.owner(t, id))
	bal := f.engine.Balance()
	require.Equal(t, uint64(10), bal.Uint64())
	proceeds := f.engine.Proceeds(sellerAddr)
	require.True(t, proceeds.IsZero())
}

func TestEngine_PoolIsSharedAcrossListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.list(t, 10, 5)
	second := f.list(t, 10, 5)
	f.readyForSettlement(t, first)
	f.readyForSettlement(t, second)

	// Deposits made for the second listing settle the first.
	_, err := f.engine.Deposit(ctx, buyerAddr, second, uint256.NewInt(10))
	require.NoError(t, err)
	_, err = f.engine.FinalizeSale(ctx, buyerAddr, first)
	require.NoError(t, err)

	_, err = f.engine.FinalizeSale(ctx, buyerAddr, second)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestEngine_QueriesOnUnknownAsset(t *testing.T) {
	f := newFixture(t)

	require.False(t, f.engine.IsListed(5))
	require.Equal(t, common.Address{}, f.engine.Buyer(5))
	price := f.engine.PurchasePrice(5)
	require.True(t, price.IsZero())
	require.False(t, f.engine.InspectionPassed(5))
	require.False(t, f.engine.Approval(5, buyerAddr))
	require.Empty(t, f.engine.Listings())
}

func TestEngine_ListingsAreCopies(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 10, 5)

	l, ok := f.engine.Listing(id)
	require.True(t, ok)
	l.Approvals[buyerAddr] = true
	l.InspectionPassed = true

	require.False(t, f.engine.Approval(id, buyerAddr))
	require.False(t, f.engine.InspectionPassed(id))
}

func TestEngine_RestoreFromStore(t *testing.T) {
	reg := registry.NewMemoryRegistry(registryAddr)
	store := NewMemoryStore()
	f := newFixtureWith(t, reg, reg, store)
	ctx := context.Background()
	id := f.list(t, 10, 5)
	_, err := f.engine.Deposit(ctx, buyerAddr, id, uint256.NewInt(4))
	require.NoError(t, err)
	require.NoError(t, f.engine.ApproveSale(ctx, buyerAddr, id))

	restarted := newFixtureWith(t, reg, reg, store)
	require.NoError(t, restarted.engine.Restore(ctx))

	require.True(t, restarted.engine.IsListed(id))
	require.True(t, restarted.engine.Approval(id, buyerAddr))
	bal := restarted.engine.Balance()
	require.Equal(t, uint64(4), bal.Uint64())
	require.Equal(t, uint64(4), restarted.recorder.balance.Uint64())
}

func TestEngine_ConcurrentDeposits(t *testing.T) {
	f := newFixture(t)
	id := f.list(t, 1000, 5)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Deposit(context.Background(), buyerAddr, id, uint256.NewInt(2))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bal := f.engine.Balance()
	require.Equal(t, uint64(100), bal.Uint64())
}

func TestOutcome(t *testing.T) {
	require.Equal(t, "ok", Outcome(nil))
	require.Equal(t, "not_listed", Outcome(&PreconditionError{Condition: ConditionListed}))
	require.Equal(t, "precondition_not_met", Outcome(&PreconditionError{Condition: ConditionInspection}))
	require.Equal(t, "insufficient_funds", Outcome(&InsufficientFundsError{}))
	require.Equal(t, "error", Outcome(errors.New("boom")))
}
