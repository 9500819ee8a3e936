package registry

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryRegistry keeps properties in process memory.
type MemoryRegistry struct {
	mu         sync.RWMutex
	address    common.Address
	properties map[uint64]*Property
	nextID     uint64
}

func NewMemoryRegistry(address common.Address) *MemoryRegistry {
	return &MemoryRegistry{
		address:    address,
		properties: make(map[uint64]*Property),
		nextID:     1,
	}
}

func (r *MemoryRegistry) Address() common.Address { return r.address }

func (r *MemoryRegistry) Mint(_ context.Context, caller common.Address, metadataURI string) (uint64, error) {
	if caller == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.properties[id] = &Property{
		ID:          id,
		Owner:       caller,
		MetadataURI: metadataURI,
		CreatedAt:   time.Now().UTC(),
	}
	return id, nil
}

func (r *MemoryRegistry) Approve(_ context.Context, caller, spender common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.properties[id]
	if !ok {
		return ErrTokenNotFound
	}
	if p.Owner != caller {
		return ErrNotOwner
	}
	p.Approved = spender
	return nil
}

func (r *MemoryRegistry) OwnerOf(_ context.Context, id uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.properties[id]
	if !ok {
		return common.Address{}, ErrTokenNotFound
	}
	return p.Owner, nil
}

func (r *MemoryRegistry) TransferFrom(_ context.Context, caller, from, to common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.properties[id]
	if !ok {
		return ErrTokenNotFound
	}
	if err := checkTransfer(*p, caller, from, to); err != nil {
		return err
	}
	p.Owner = to
	p.Approved = common.Address{}
	return nil
}

func (r *MemoryRegistry) TokenURI(_ context.Context, id uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.properties[id]
	if !ok {
		return "", ErrTokenNotFound
	}
	return p.MetadataURI, nil
}

func (r *MemoryRegistry) TotalSupply(context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.properties)), nil
}

// Property returns a copy of the stored property.
func (r *MemoryRegistry) Property(id uint64) (Property, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.properties[id]
	if !ok {
		return Property{}, false
	}
	return *p, true
}
