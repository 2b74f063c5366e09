package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrCapExceeded = errors.New("mint exceeds supply cap")
	ErrNotMinter   = errors.New("caller is not a minter")
)

// CappedToken is the reward asset: a balance ledger whose supply can only grow
// through authorised minters and never beyond its cap.
type CappedToken struct {
	mu       sync.RWMutex
	symbol   string
	cap      *big.Int
	supply   *big.Int
	balances map[common.Address]*big.Int
	minters  map[common.Address]struct{}
}

func NewCappedToken(symbol string, cap *big.Int) (*CappedToken, error) {
	if cap == nil || cap.Sign() <= 0 {
		return nil, fmt.Errorf("cap must be positive")
	}
	return &CappedToken{
		symbol:   symbol,
		cap:      new(big.Int).Set(cap),
		supply:   new(big.Int),
		balances: make(map[common.Address]*big.Int),
		minters:  make(map[common.Address]struct{}),
	}, nil
}

func (t *CappedToken) Symbol() string {
	return t.symbol
}

func (t *CappedToken) Cap() *big.Int {
	return new(big.Int).Set(t.cap)
}

func (t *CappedToken) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.supply)
}

func (t *CappedToken) BalanceOf(owner common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[owner]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (t *CappedToken) AddMinter(minter common.Address) {
	t.mu.Lock()
	t.minters[minter] = struct{}{}
	t.mu.Unlock()
}

func (t *CappedToken) RemoveMinter(minter common.Address) {
	t.mu.Lock()
	delete(t.minters, minter)
	t.mu.Unlock()
}

// MintAs mints amount to recipient on behalf of minter.
func (t *CappedToken) MintAs(minter, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.minters[minter]; !ok {
		return fmt.Errorf("%w: %s", ErrNotMinter, minter.Hex())
	}
	next := new(big.Int).Add(t.supply, amount)
	if next.Cmp(t.cap) > 0 {
		return fmt.Errorf("%w: supply %s + %s > cap %s", ErrCapExceeded, t.supply, amount, t.cap)
	}
	t.supply = next
	bal, ok := t.balances[to]
	if !ok {
		bal = new(big.Int)
	}
	t.balances[to] = new(big.Int).Add(bal, amount)
	return nil
}

// Minter binds the token to one minter identity, giving the reward engine a
// narrow mint-only handle.
func (t *CappedToken) Minter(minter common.Address) *MintHandle {
	return &MintHandle{token: t, minter: minter}
}

// MintHandle mints as a fixed minter.
type MintHandle struct {
	token  *CappedToken
	minter common.Address
}

func (h *MintHandle) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.token.MintAs(h.minter, to, amount)
}
