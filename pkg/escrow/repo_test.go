package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"propertyescrow/pkg/registry"
	"propertyescrow/pkg/testhelpers"
)

func TestPostgresStore_CommitAndLoad(t *testing.T) {
	pool := testhelpers.OpenTestPool(t)
	store := NewPostgresStore(pool, testhelpers.UniqueAddress())
	ctx := context.Background()

	listing := &Listing{
		AssetID:       7,
		Buyer:         buyerAddr,
		PurchasePrice: *uint256.MustFromDecimal("10000000000000000000"),
		DownPayment:   *uint256.NewInt(5),
		Status:        StatusListed,
		Approvals:     map[common.Address]bool{buyerAddr: true},
		ListedAt:      time.Now().UTC().Truncate(time.Second),
	}
	balance := uint256.NewInt(12)
	require.NoError(t, store.Commit(ctx, Change{Listing: listing, Balance: balance}, nil))

	state, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, state.Listings, 1)
	got := state.Listings[7]
	require.Equal(t, buyerAddr, got.Buyer)
	require.Equal(t, "10000000000000000000", got.PurchasePrice.Dec())
	require.True(t, got.Approved(buyerAddr))
	require.True(t, got.IsListed())
	require.Equal(t, uint64(12), state.Balance.Uint64())
}

func TestPostgresStore_PayoutAccumulates(t *testing.T) {
	pool := testhelpers.OpenTestPool(t)
	store := NewPostgresStore(pool, testhelpers.UniqueAddress())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		payout := &Payout{Payee: sellerAddr, Amount: *uint256.NewInt(10)}
		require.NoError(t, store.Commit(ctx, Change{Payout: payout}, nil))
	}

	state, err := store.Load(ctx)
	require.NoError(t, err)
	got := state.Proceeds[sellerAddr]
	require.Equal(t, uint64(20), got.Uint64())
}

func TestPostgresStore_EffectFailureWritesNothing(t *testing.T) {
	pool := testhelpers.OpenTestPool(t)
	store := NewPostgresStore(pool, testhelpers.UniqueAddress())
	ctx := context.Background()

	listing := &Listing{AssetID: 1, Buyer: buyerAddr, Status: StatusListed, Approvals: map[common.Address]bool{}, ListedAt: time.Now().UTC()}
	boom := errors.New("registry down")
	err := store.Commit(ctx, Change{Listing: listing, Balance: uint256.NewInt(3)}, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	state, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, state.Listings)
	require.True(t, state.Balance.IsZero())
}

// failOnceAfterEffect fails the first settlement write after its effect has
// run inside the store's transaction.
type failOnceAfterEffect struct {
	Store
	failed bool
}

func (s *failOnceAfterEffect) Commit(ctx context.Context, change Change, effect func(context.Context) error) error {
	if change.Payout == nil || s.failed {
		return s.Store.Commit(ctx, change, effect)
	}
	s.failed = true
	return s.Store.Commit(ctx, change, func(ctx context.Context) error {
		if err := effect(ctx); err != nil {
			return err
		}
		return errors.New("write failed")
	})
}

func TestPostgresStore_FinalizeRollsBackTransferWhenWriteFails(t *testing.T) {
	pool := testhelpers.OpenTestPool(t)
	ctx := context.Background()
	self := testhelpers.UniqueAddress()
	reg := registry.NewPostgresRegistry(pool, testhelpers.UniqueAddress())
	store := &failOnceAfterEffect{Store: NewPostgresStore(pool, self)}

	engine, err := NewEngine(Options{
		Roles:    Roles{SellerAuthority: sellerAddr, Inspector: inspectorAddr, LoanProvider: lenderAddr},
		Self:     self,
		Registry: reg,
		Store:    store,
	})
	require.NoError(t, err)

	id, err := reg.Mint(ctx, sellerAddr, "ipfs://house")
	require.NoError(t, err)
	require.NoError(t, reg.Approve(ctx, sellerAddr, self, id))
	_, err = engine.List(ctx, sellerAddr, id, buyerAddr, uint256.NewInt(10), uint256.NewInt(5))
	require.NoError(t, err)
	_, err = engine.Deposit(ctx, buyerAddr, id, uint256.NewInt(5))
	require.NoError(t, err)
	_, err = engine.Fund(ctx, lenderAddr, uint256.NewInt(5))
	require.NoError(t, err)
	require.NoError(t, engine.UpdateInspectionStatus(ctx, inspectorAddr, id, true))
	for _, addr := range []common.Address{buyerAddr, sellerAddr, lenderAddr} {
		require.NoError(t, engine.ApproveSale(ctx, addr, id))
	}

	_, err = engine.FinalizeSale(ctx, buyerAddr, id)
	require.Error(t, err)

	owner, err := reg.OwnerOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, self, owner)
	require.True(t, engine.IsListed(id))
	balance := engine.Balance()
	require.Equal(t, uint64(10), balance.Uint64())

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, persisted.Listings[id].IsListed())
	require.Empty(t, persisted.Proceeds)

	_, err = engine.FinalizeSale(ctx, buyerAddr, id)
	require.NoError(t, err)

	owner, err = reg.OwnerOf(ctx, id)
	require.NoError(t, err)
	require.Equal(t, buyerAddr, owner)
	require.False(t, engine.IsListed(id))
	proceeds := engine.Proceeds(sellerAddr)
	require.Equal(t, uint64(10), proceeds.Uint64())
}
