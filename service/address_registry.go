package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/ports"
)

const maxUsernameLen = 150

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// Validators resolves address validators by network
type Validators interface {
	Validator(network core.Network) (ports.AddressValidator, error)
	Networks() []core.Network
}

// AddressRegistry owns the mapping between addresses and accounts
type AddressRegistry struct {
	repo       ports.AccountRepository
	validators Validators
	clock      clock.Clock
}

// NewAddressRegistry creates a registry on top of repo
func NewAddressRegistry(repo ports.AccountRepository, validators Validators, clk clock.Clock) *AddressRegistry {
	if clk == nil {
		clk = clock.New()
	}
	return &AddressRegistry{repo: repo, validators: validators, clock: clk}
}

// ValidateFormat checks address against the rules of network
func (r *AddressRegistry) ValidateFormat(address string, network core.Network) error {
	v, err := r.validators.Validator(network)
	if err != nil {
		return err
	}
	return v.ValidateAddress(address)
}

// DetectNetwork returns the first enabled network whose format accepts address
func (r *AddressRegistry) DetectNetwork(address string) (core.Network, error) {
	for _, network := range r.validators.Networks() {
		if r.ValidateFormat(address, network) == nil {
			return network, nil
		}
	}
	return "", fmt.Errorf("%w: no enabled network accepts this address", core.ErrInvalidAddress)
}

// LookupOwner returns the account that owns address on network
func (r *AddressRegistry) LookupOwner(ctx context.Context, address string, network core.Network) (*core.Account, error) {
	account, err := r.repo.GetOwner(ctx, address, network)
	if err != nil {
		return nil, fmt.Errorf("lookup owner: %w", err)
	}
	if account == nil {
		return nil, core.ErrAccountNotFound
	}
	return account, nil
}

// Account returns the account with id
func (r *AddressRegistry) Account(ctx context.Context, id string) (*core.Account, error) {
	account, err := r.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return nil, core.ErrAccountNotFound
	}
	return account, nil
}

// IsRegistered reports whether address belongs to any account on any network
func (r *AddressRegistry) IsRegistered(ctx context.Context, address string) (bool, error) {
	return r.repo.AddressExists(ctx, address)
}

// UsernameTaken reports whether username is already in use
func (r *AddressRegistry) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return r.repo.UsernameExists(ctx, username)
}

// Register creates an account owning address. Format is validated again so
// callers cannot skip it. Duplicates are reported as field validation errors.
func (r *AddressRegistry) Register(ctx context.Context, username, address string, network core.Network) (*core.Account, *core.Address, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, nil, err
	}
	if err := r.ValidateFormat(address, network); err != nil {
		return nil, nil, core.NewValidationError("address", err)
	}

	now := r.clock.Now().UTC()
	account := &core.Account{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: now,
	}
	addr := &core.Address{
		Address:   address,
		Network:   network,
		AccountID: account.ID,
		CreatedAt: now,
	}

	if err := r.repo.CreateWithAddress(ctx, account, addr); err != nil {
		switch {
		case errors.Is(err, core.ErrDuplicateAddress):
			return nil, nil, core.NewValidationError("address", core.ErrDuplicateAddress)
		case errors.Is(err, core.ErrDuplicateUsername):
			return nil, nil, core.NewValidationError("username", core.ErrDuplicateUsername)
		}
		return nil, nil, fmt.Errorf("register account: %w", err)
	}
	return account, addr, nil
}

// ValidateUsername applies the username rules used at signup
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return core.NewValidationError("username", core.ErrFieldRequired)
	case len(username) > maxUsernameLen:
		return core.NewValidationError("username", fmt.Errorf("%w: at most %d characters", core.ErrInvalidUsername, maxUsernameLen))
	case !usernamePattern.MatchString(username):
		return core.NewValidationError("username", fmt.Errorf("%w: letters, digits and @/./+/-/_ only", core.ErrInvalidUsername))
	}
	return nil
}
