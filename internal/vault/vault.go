package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Notifier receives stake-change notifications. reward.Engine implements it.
type Notifier interface {
	OnStakeChanged(ctx context.Context, caller, user, pool common.Address) error
}

// ShareVault is an in-memory share ledger for one pool. Every balance mutation
// is applied first and then reported to the notifier; if the notification
// fails the mutation is rolled back.
type ShareVault struct {
	mu       sync.RWMutex
	address  common.Address
	pool     common.Address
	decimals uint8
	supply   *big.Int
	balances map[common.Address]*big.Int
	notifier Notifier
}

func NewShareVault(address, pool common.Address, decimals uint8) *ShareVault {
	return &ShareVault{
		address:  address,
		pool:     pool,
		decimals: decimals,
		supply:   new(big.Int),
		balances: make(map[common.Address]*big.Int),
	}
}

// Address is the identity the vault notifies the engine as.
func (v *ShareVault) Address() common.Address {
	return v.address
}

// SetNotifier wires the vault to the reward engine.
func (v *ShareVault) SetNotifier(n Notifier) {
	v.mu.Lock()
	v.notifier = n
	v.mu.Unlock()
}

func (v *ShareVault) BalanceOf(_ context.Context, user common.Address) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balanceLocked(user), nil
}

func (v *ShareVault) TotalSupply(_ context.Context) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.supply), nil
}

func (v *ShareVault) Decimals(_ context.Context) (uint8, error) {
	return v.decimals, nil
}

func (v *ShareVault) balanceLocked(user common.Address) *big.Int {
	if bal, ok := v.balances[user]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Deposit mints shares to user.
func (v *ShareVault) Deposit(ctx context.Context, user common.Address, shares *big.Int) error {
	if err := checkAmount(shares); err != nil {
		return err
	}
	return v.apply(ctx, []common.Address{user}, func() error {
		v.balances[user] = new(big.Int).Add(v.balanceLocked(user), shares)
		v.supply = new(big.Int).Add(v.supply, shares)
		return nil
	})
}

// Withdraw burns shares from user.
func (v *ShareVault) Withdraw(ctx context.Context, user common.Address, shares *big.Int) error {
	if err := checkAmount(shares); err != nil {
		return err
	}
	return v.apply(ctx, []common.Address{user}, func() error {
		bal := v.balanceLocked(user)
		if bal.Cmp(shares) < 0 {
			return fmt.Errorf("insufficient shares: have %s, want %s", bal, shares)
		}
		v.balances[user] = bal.Sub(bal, shares)
		v.supply = new(big.Int).Sub(v.supply, shares)
		return nil
	})
}

// Transfer moves shares between users; both sides are notified.
func (v *ShareVault) Transfer(ctx context.Context, from, to common.Address, shares *big.Int) error {
	if err := checkAmount(shares); err != nil {
		return err
	}
	return v.apply(ctx, []common.Address{from, to}, func() error {
		bal := v.balanceLocked(from)
		if bal.Cmp(shares) < 0 {
			return fmt.Errorf("insufficient shares: have %s, want %s", bal, shares)
		}
		v.balances[from] = bal.Sub(bal, shares)
		v.balances[to] = new(big.Int).Add(v.balanceLocked(to), shares)
		return nil
	})
}

// apply runs mutate, then notifies for each affected user. The vault lock is
// released before notifying because the engine reads balances back.
func (v *ShareVault) apply(ctx context.Context, users []common.Address, mutate func() error) error {
	v.mu.Lock()
	savedSupply := new(big.Int).Set(v.supply)
	saved := make(map[common.Address]*big.Int, len(users))
	for _, user := range users {
		saved[user] = v.balanceLocked(user)
	}
	if err := mutate(); err != nil {
		v.mu.Unlock()
		return err
	}
	notifier := v.notifier
	v.mu.Unlock()

	if notifier == nil {
		return nil
	}
	for i, user := range users {
		if err := notifier.OnStakeChanged(ctx, v.address, user, v.pool); err != nil {
			v.mu.Lock()
			v.supply = savedSupply
			for u, bal := range saved {
				v.balances[u] = bal
			}
			v.mu.Unlock()
			// users already reported must see the restored balance
			for _, done := range users[:i] {
				_ = notifier.OnStakeChanged(ctx, v.address, done, v.pool)
			}
			return fmt.Errorf("notify stake change for %s: %w", user.Hex(), err)
		}
	}
	return nil
}

func checkAmount(shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return fmt.Errorf("share amount must be positive")
	}
	return nil
}
