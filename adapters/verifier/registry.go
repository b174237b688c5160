// Package verifier holds the per-network signature verification strategies
// and the registry that dispatches to them.
package verifier

import (
	"fmt"
	"sync"

	"github.com/layer-3/cryptolock/adapters/bitid"
	"github.com/layer-3/cryptolock/core"
	"github.com/layer-3/cryptolock/ports"
)

// Registry maps networks to their verifier and address validator
type Registry struct {
	mu         sync.RWMutex
	verifiers  map[core.Network]ports.Verifier
	validators map[core.Network]ports.AddressValidator
	order      []core.Network
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		verifiers:  make(map[core.Network]ports.Verifier),
		validators: make(map[core.Network]ports.AddressValidator),
	}
}

// Register adds v for network. If v also validates addresses it is
// registered as the network's address validator. Registering a network
// twice replaces the previous strategy and keeps its position.
func (r *Registry) Register(network core.Network, v ports.Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.verifiers[network]; !ok {
		r.order = append(r.order, network)
	}
	r.verifiers[network] = v
	if validator, ok := v.(ports.AddressValidator); ok {
		r.validators[network] = validator
	} else {
		delete(r.validators, network)
	}
}

// Resolve returns the verifier registered for network
func (r *Registry) Resolve(network core.Network) (ports.Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.verifiers[network]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedNetwork, network)
	}
	return v, nil
}

// Validator returns the address validator registered for network
func (r *Registry) Validator(network core.Network) (ports.AddressValidator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[network]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedNetwork, network)
	}
	return v, nil
}

// Networks returns the registered networks in registration order
func (r *Registry) Networks() []core.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]core.Network(nil), r.order...)
}

// boundToIssuer reports whether the signed challenge points back at the
// service that is verifying it.
func boundToIssuer(req core.VerifyRequest) bool {
	if req.Caller.IssuerURI == "" {
		return true
	}
	return bitid.CallbackMatches(req.Challenge, req.Caller.IssuerURI)
}
