package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenVault reads a vault's share ledger from its ERC-20 share token. Reads
// are made against the pinned block when one is set, else against latest.
type TokenVault struct {
	caller ContractCaller
	token  common.Address

	mu       sync.RWMutex
	block    *big.Int
	decimals *uint8
}

func NewTokenVault(caller ContractCaller, token common.Address) *TokenVault {
	return &TokenVault{caller: caller, token: token}
}

// Token returns the share token address.
func (v *TokenVault) Token() common.Address {
	return v.token
}

// PinBlock makes subsequent reads observe state as of the end of block n.
func (v *TokenVault) PinBlock(n uint64) {
	v.mu.Lock()
	v.block = new(big.Int).SetUint64(n)
	v.mu.Unlock()
}

// Unpin returns reads to the latest block.
func (v *TokenVault) Unpin() {
	v.mu.Lock()
	v.block = nil
	v.mu.Unlock()
}

func (v *TokenVault) pinned() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.block == nil {
		return nil
	}
	return new(big.Int).Set(v.block)
}

func (v *TokenVault) BalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	value, err := callToken(ctx, v.caller, v.token, v.pinned(), "balanceOf", user)
	if err != nil {
		return nil, err
	}
	return asBigInt("balanceOf", value)
}

func (v *TokenVault) TotalSupply(ctx context.Context) (*big.Int, error) {
	value, err := callToken(ctx, v.caller, v.token, v.pinned(), "totalSupply")
	if err != nil {
		return nil, err
	}
	return asBigInt("totalSupply", value)
}

// Decimals is read once and cached; share token precision is immutable.
func (v *TokenVault) Decimals(ctx context.Context) (uint8, error) {
	v.mu.RLock()
	cached := v.decimals
	v.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	value, err := callToken(ctx, v.caller, v.token, nil, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := value.(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals unexpected type %T", value)
	}
	v.mu.Lock()
	v.decimals = &decimals
	v.mu.Unlock()
	return decimals, nil
}

// ShareToken describes a vault's share token as read at sync start.
type ShareToken struct {
	Address     common.Address
	Symbol      string
	Name        string
	Decimals    uint8
	TotalSupply *big.Int
}

// Describe reads the share token's metadata and current supply. Symbol and
// name are optional in ERC-20 and left empty when the call reverts.
func (v *TokenVault) Describe(ctx context.Context) (ShareToken, error) {
	decimals, err := v.Decimals(ctx)
	if err != nil {
		return ShareToken{}, err
	}
	supply, err := v.TotalSupply(ctx)
	if err != nil {
		return ShareToken{}, err
	}
	desc := ShareToken{Address: v.token, Decimals: decimals, TotalSupply: supply}
	if value, err := callToken(ctx, v.caller, v.token, nil, "symbol"); err == nil {
		desc.Symbol, _ = value.(string)
	}
	if value, err := callToken(ctx, v.caller, v.token, nil, "name"); err == nil {
		desc.Name, _ = value.(string)
	}
	return desc, nil
}
