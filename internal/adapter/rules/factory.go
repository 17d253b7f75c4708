package rules

import (
	"sync"

	"parity-league/internal/domain"
)

// Factory maps game type keys to rules constructors. Resolution happens once
// at startup; no per-call dispatch on game type strings.
type Factory struct {
	mu      sync.RWMutex
	modules map[string]func() domain.Rules
}

// NewFactory creates a factory with the built-in game types registered.
func NewFactory() *Factory {
	f := &Factory{modules: make(map[string]func() domain.Rules)}
	f.Register(GameTypeEvenOdd, func() domain.Rules { return NewEvenOdd() })
	return f
}

// Register adds a rules constructor for gameType, replacing any previous one.
func (f *Factory) Register(gameType string, ctor func() domain.Rules) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[gameType] = ctor
}

// Resolve returns a rules module for gameType.
func (f *Factory) Resolve(gameType string) (domain.Rules, error) {
	f.mu.RLock()
	ctor, ok := f.modules[gameType]
	f.mu.RUnlock()
	if !ok {
		return nil, domain.WrapOp("Factory.Resolve", domain.ErrGameType)
	}
	return ctor(), nil
}
