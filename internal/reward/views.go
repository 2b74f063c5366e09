package reward

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rewardLedger/internal/model"
)

// Earned projects a user's entitlement in a pool at the current time. It does not mutate the ledger.
func (e *Engine) Earned(user, pool common.Address) (*big.Int, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.earned(user, pool, e.clock.Now())
}

func (e *Engine) earned(user, pool common.Address, now uint64) (*big.Int, error) {
	p, err := e.pool(pool)
	if err != nil {
		return nil, err
	}
	entry := e.ledger.account(user, pool)
	if entry == nil {
		return new(big.Int), nil
	}
	return entry.pendingAt(p.accPerShareAt(now)), nil
}

// PendingAcrossPools sums Earned over an explicit list of pools.
func (e *Engine) PendingAcrossPools(user common.Address, pools []common.Address) (*big.Int, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	now := e.clock.Now()
	total := new(big.Int)
	for _, pool := range pools {
		amount, err := e.earned(user, pool, now)
		if err != nil {
			return nil, err
		}
		total.Add(total, amount)
	}
	return total, nil
}

// PoolInfo returns a copy of a pool's state as of its last refresh.
func (e *Engine) PoolInfo(pool common.Address) (PoolState, error) {
	if err := e.lock(); err != nil {
		return PoolState{}, err
	}
	defer e.mu.Unlock()

	p, err := e.pool(pool)
	if err != nil {
		return PoolState{}, err
	}
	return p.clone(), nil
}

// Account returns a copy of a user's entry in a pool, if one exists.
func (e *Engine) Account(user, pool common.Address) (AccountEntry, bool, error) {
	if err := e.lock(); err != nil {
		return AccountEntry{}, false, err
	}
	defer e.mu.Unlock()

	if _, err := e.pool(pool); err != nil {
		return AccountEntry{}, false, err
	}
	entry := e.ledger.account(user, pool)
	if entry == nil {
		return AccountEntry{}, false, nil
	}
	return entry.clone(), true, nil
}

// UserPools lists the pools a user has joined, in first-seen order.
func (e *Engine) UserPools(user common.Address) ([]common.Address, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.ledger.userPools(user), nil
}

// Pools lists registered pools in address order.
func (e *Engine) Pools() ([]common.Address, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.ledger.poolIDs(), nil
}

// TotalDistributed returns the reward amount paid out across all pools.
func (e *Engine) TotalDistributed() (*big.Int, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return new(big.Int).Set(e.ledger.totalDistributed), nil
}

// Snapshot exports the whole ledger.
func (e *Engine) Snapshot() (model.LedgerSnapshot, error) {
	if err := e.lock(); err != nil {
		return model.LedgerSnapshot{}, err
	}
	defer e.mu.Unlock()
	return e.ledger.Snapshot(e.clock.Now()), nil
}

// CheckRegistry verifies every ledger pool is still catalogued by the registry.
// Run it after restoring a snapshot.
func (e *Engine) CheckRegistry() error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	for _, id := range e.ledger.poolIDs() {
		if !e.registry.IsKnownPool(id) {
			return fmt.Errorf("%w: restored pool %s not in registry", ErrUnknownPool, id.Hex())
		}
	}
	return nil
}
