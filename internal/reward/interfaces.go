package reward

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rewardLedger/internal/model"
)

// Vault exposes the share ledger backing a pool. Amounts are in the share token's native precision.
type Vault interface {
	BalanceOf(ctx context.Context, user common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
}

// Registry is the authoritative catalogue of pools and the vault that owns each one.
type Registry interface {
	IsKnownPool(pool common.Address) bool
	VaultOf(pool common.Address) (common.Address, Vault, bool)
}

// Minter mints the reward asset. Implementations enforce their own cap and minter set.
type Minter interface {
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
}

// EventSink receives ledger events after the mutation producing them has committed.
type EventSink interface {
	PutEventBatch(events []model.LedgerEvent) error
}
