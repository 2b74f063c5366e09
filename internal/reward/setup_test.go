package reward_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/registry"
	"rewardLedger/internal/reward"
	"rewardLedger/internal/token"
	"rewardLedger/internal/vault"
)

const t0 = uint64(1_700_000_000)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol      = common.HexToAddress("0x000000000000000000000000000000000000ca20")
	poolA      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	poolB      = common.HexToAddress("0x1000000000000000000000000000000000000002")
	vaultA     = common.HexToAddress("0x2000000000000000000000000000000000000001")
	vaultB     = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

// tokens returns n whole units at 18 decimals.
func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Scale)
}

// units returns n whole units at the given precision.
func units(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Pow10(decimals))
}

type countingMinter struct {
	inner reward.Minter
	calls int
	onMint func()
}

func (m *countingMinter) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	m.calls++
	if m.onMint != nil {
		m.onMint()
	}
	return m.inner.Mint(ctx, to, amount)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *reward.ManualClock
	registry *registry.Registry
	token    *token.CappedToken
	minter   *countingMinter
	engine   *reward.Engine
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithCap(t, tokens(1_000_000_000))
}

func newHarnessWithCap(t *testing.T, cap *big.Int) *harness {
	t.Helper()
	tok, err := token.NewCappedToken("RWD", cap)
	require.NoError(t, err)
	tok.AddMinter(engineAddr)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    reward.NewManualClock(t0),
		registry: registry.New(),
		token:    tok,
		minter:   &countingMinter{inner: tok.Minter(engineAddr)},
	}
	h.engine, err = reward.NewEngine(reward.Config{Admins: []common.Address{admin}}, nil, h.registry, h.minter, h.clock, zap.NewNop())
	require.NoError(t, err)
	return h
}

// addPool catalogues and registers a pool backed by a fresh in-memory vault.
func (h *harness) addPool(pool, vaultAddr common.Address, decimals uint8, rate *big.Int) *vault.ShareVault {
	h.t.Helper()
	v := h.catalogue(pool, vaultAddr, decimals)
	require.NoError(h.t, h.engine.RegisterPool(h.ctx, admin, pool, rate))
	return v
}

func (h *harness) catalogue(pool, vaultAddr common.Address, decimals uint8) *vault.ShareVault {
	h.t.Helper()
	v := vault.NewShareVault(vaultAddr, pool, decimals)
	v.SetNotifier(h.engine)
	require.NoError(h.t, h.registry.Add(pool, vaultAddr, v))
	return v
}

func (h *harness) earned(user, pool common.Address) *big.Int {
	h.t.Helper()
	amount, err := h.engine.Earned(user, pool)
	require.NoError(h.t, err)
	return amount
}

// requireNear asserts got is within tolerance base units below or equal to want.
// Truncation only ever rounds in the protocol's favour.
func requireNear(t *testing.T, want, got *big.Int, tolerance int64) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	require.True(t, diff.Sign() >= 0, "got %s exceeds %s", got, want)
	require.True(t, diff.Cmp(big.NewInt(tolerance)) <= 0, "got %s, want %s within %d", got, want, tolerance)
}
