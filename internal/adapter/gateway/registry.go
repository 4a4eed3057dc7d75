package gateway

import (
	"sync"

	"payment-settlement-core/internal/core/domain"
	"payment-settlement-core/internal/core/ports"
	"payment-settlement-core/pkg/apperror"
)

// Registry implements ports.GatewayRegistry over a method-keyed adapter map.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ports.GatewayAdapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]ports.GatewayAdapter)}
}

// Register adds an adapter for its payment method, replacing any existing one.
func (r *Registry) Register(adapter ports.GatewayAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Method().Code()] = adapter
}

// Adapter resolves the adapter for method.
func (r *Registry) Adapter(method domain.PaymentMethod) (ports.GatewayAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[method.Code()]
	if !ok {
		return nil, apperror.ErrUnknownMethod(method.Code())
	}
	return adapter, nil
}

// Methods lists the codes with a registered adapter.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	return codes
}
