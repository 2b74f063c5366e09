package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rewardLedger/internal/reward"
)

// Entry binds a pool id to the vault that owns it.
type Entry struct {
	Pool    common.Address
	Vault   common.Address
	Backend reward.Vault
}

// Registry is an in-memory pool catalogue.
type Registry struct {
	mu      sync.RWMutex
	entries map[common.Address]Entry
}

func New() *Registry {
	return &Registry{entries: make(map[common.Address]Entry)}
}

// Add catalogues a pool. A pool can only be added once.
func (r *Registry) Add(pool, vault common.Address, backend reward.Vault) error {
	if backend == nil {
		return fmt.Errorf("vault backend is nil for pool %s", pool.Hex())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[pool]; ok {
		return fmt.Errorf("pool %s already catalogued", pool.Hex())
	}
	r.entries[pool] = Entry{Pool: pool, Vault: vault, Backend: backend}
	return nil
}

func (r *Registry) IsKnownPool(pool common.Address) bool {
	r.mu.RLock()
	_, ok := r.entries[pool]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) VaultOf(pool common.Address) (common.Address, reward.Vault, bool) {
	r.mu.RLock()
	entry, ok := r.entries[pool]
	r.mu.RUnlock()
	if !ok {
		return common.Address{}, nil, false
	}
	return entry.Vault, entry.Backend, true
}

// Entries returns every catalogued pool in address order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pool.Cmp(out[j].Pool) < 0
	})
	return out
}
