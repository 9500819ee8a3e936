package escrow

import (
	"context"
	"sync"

	"github.com/holiman/uint256"
)

// Store persists engine state. Commit writes change and runs effect as one
// unit: when effect returns an error nothing is written, and when the write
// fails after effect ran the effect is undone with it. The Postgres store
// passes its transaction to effect through db.WithTx for this.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Commit(ctx context.Context, change Change, effect func(context.Context) error) error
}

// MemoryStore keeps state for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: NewState()}
}

func (s *MemoryStore) Load(context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

func (s *MemoryStore) Commit(ctx context.Context, change Change, effect func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if effect != nil {
		if err := effect(ctx); err != nil {
			return err
		}
	}
	applyChange(s.state, change)
	return nil
}

// applyChange folds change into state. Listings are cloned so the caller keeps
// ownership of the value it passed in.
func applyChange(state *State, change Change) {
	if change.Listing != nil {
		state.Listings[change.Listing.AssetID] = change.Listing.Clone()
	}
	if change.Balance != nil {
		state.Balance = *change.Balance
	}
	if change.Payout != nil {
		current := state.Proceeds[change.Payout.Payee]
		var next uint256.Int
		next.Add(&current, &change.Payout.Amount)
		state.Proceeds[change.Payout.Payee] = next
	}
}
