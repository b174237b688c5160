// Package registry stores accounts and the wallet addresses bound to them.
package registry

import (
	"context"
	"sync"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/ports"
)

// MemoryRepository is an in-memory AccountRepository
type MemoryRepository struct {
	mu        sync.RWMutex
	accounts  map[string]*core.Account // by id
	usernames map[string]string        // username -> account id
	addresses map[string]*core.Address // by literal address
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:  make(map[string]*core.Account),
		usernames: make(map[string]string),
		addresses: make(map[string]*core.Address),
	}
}

var _ ports.AccountRepository = (*MemoryRepository)(nil)

// GetOwner returns the account owning address on network, or nil
func (r *MemoryRepository) GetOwner(ctx context.Context, address string, network core.Network) (*core.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.addresses[address]
	if !ok || addr.Network != network {
		return nil, nil
	}
	return copyAccount(r.accounts[addr.AccountID]), nil
}

// GetAccount returns the account with id, or nil
func (r *MemoryRepository) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return copyAccount(r.accounts[id]), nil
}

// AddressExists reports whether address is registered under any network
func (r *MemoryRepository) AddressExists(ctx context.Context, address string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.addresses[address]
	return ok, nil
}

// UsernameExists reports whether username is taken
func (r *MemoryRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.usernames[username]
	return ok, nil
}

// CreateWithAddress stores account and address together
func (r *MemoryRepository) CreateWithAddress(ctx context.Context, account *core.Account, address *core.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.addresses[address.Address]; ok {
		return core.ErrDuplicateAddress
	}
	if _, ok := r.usernames[account.Username]; ok {
		return core.ErrDuplicateUsername
	}

	a := *account
	addr := *address
	r.accounts[a.ID] = &a
	r.usernames[a.Username] = a.ID
	r.addresses[addr.Address] = &addr
	return nil
}

func copyAccount(a *core.Account) *core.Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
