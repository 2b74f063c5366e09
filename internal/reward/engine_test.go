package reward_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/reward"
	"rewardLedger/internal/token"
)

func TestScenarioSingleDepositor(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))

	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)

	requireNear(t, tokens(100), h.earned(alice, poolA), 2)
}

func TestScenarioProportionalSplit(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))

	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	require.NoError(t, v.Deposit(h.ctx, bob, tokens(3000)))
	h.clock.Advance(100)

	requireNear(t, tokens(25), h.earned(alice, poolA), 2)
	requireNear(t, tokens(75), h.earned(bob, poolA), 2)
}

func TestScenarioRateSetToZero(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))

	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(50)
	require.NoError(t, h.engine.SetRate(h.ctx, admin, poolA, big.NewInt(0)))

	for i := 0; i < 5; i++ {
		h.clock.Advance(10_000)
		requireNear(t, tokens(50), h.earned(alice, poolA), 2)
	}
}

func TestScenarioClaimWithNothingAccrued(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, big.NewInt(0))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)

	before, err := h.engine.Snapshot()
	require.NoError(t, err)

	_, err = h.engine.Claim(h.ctx, alice, poolA)
	require.ErrorIs(t, err, reward.ErrNoAccruedRewards)
	assert.True(t, reward.IsFailure(err))

	after, err := h.engine.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, h.minter.calls)
}

func TestConservationUnderConstantStake(t *testing.T) {
	h := newHarness(t)
	rate := big.NewInt(7_777_777_777)
	v := h.addPool(poolA, vaultA, 18, rate)

	require.NoError(t, v.Deposit(h.ctx, alice, big.NewInt(333_333_333_333)))
	require.NoError(t, v.Deposit(h.ctx, bob, big.NewInt(1_000_000_000_007)))
	require.NoError(t, v.Deposit(h.ctx, carol, big.NewInt(7)))
	h.clock.Advance(12_345)

	emitted := new(big.Int).Mul(rate, big.NewInt(12_345))
	sum := new(big.Int)
	for _, user := range []common.Address{alice, bob, carol} {
		sum.Add(sum, h.earned(user, poolA))
	}
	requireNear(t, emitted, sum, 3)
}

func TestMonotonicEarned(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, big.NewInt(123_456_789))

	require.NoError(t, v.Deposit(h.ctx, alice, tokens(10)))
	require.NoError(t, v.Deposit(h.ctx, bob, tokens(31)))

	prev := h.earned(alice, poolA)
	for i := 0; i < 20; i++ {
		h.clock.Advance(uint64(i*7 + 1))
		if i%3 == 0 {
			require.NoError(t, v.Deposit(h.ctx, bob, tokens(int64(i+1))))
		}
		if i%5 == 0 {
			require.NoError(t, v.Deposit(h.ctx, alice, big.NewInt(1)))
		}
		cur := h.earned(alice, poolA)
		require.True(t, cur.Cmp(prev) >= 0, "earned decreased from %s to %s", prev, cur)
		prev = cur
	}
}

func TestSettlementIdempotentAtSameInstant(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)

	require.NoError(t, h.engine.OnStakeChanged(h.ctx, vaultA, alice, poolA))
	first, ok, err := h.engine.Account(alice, poolA)
	require.NoError(t, err)
	require.True(t, ok)
	pool1, err := h.engine.PoolInfo(poolA)
	require.NoError(t, err)

	require.NoError(t, h.engine.OnStakeChanged(h.ctx, vaultA, alice, poolA))
	second, _, err := h.engine.Account(alice, poolA)
	require.NoError(t, err)
	pool2, err := h.engine.PoolInfo(poolA)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, pool1, pool2)
	assert.Equal(t, tokens(100), second.Accrued)
}

func TestClaimDrainsExactlyOnce(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)

	amount, err := h.engine.Claim(h.ctx, alice, poolA)
	require.NoError(t, err)
	assert.Equal(t, tokens(100), amount)
	assert.Equal(t, tokens(100), h.token.BalanceOf(alice))
	assert.Equal(t, 0, h.earned(alice, poolA).Sign())

	_, err = h.engine.Claim(h.ctx, alice, poolA)
	require.ErrorIs(t, err, reward.ErrNoAccruedRewards)

	total, err := h.engine.TotalDistributed()
	require.NoError(t, err)
	assert.Equal(t, tokens(100), total)
	info, err := h.engine.PoolInfo(poolA)
	require.NoError(t, err)
	assert.Equal(t, tokens(100), info.Distributed)
	assert.Equal(t, 1, h.minter.calls)
}

func TestSixDecimalPoolScaling(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 6, tokens(1))

	require.NoError(t, v.Deposit(h.ctx, alice, units(1, 6)))
	entry, ok, err := h.engine.Account(alice, poolA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fixedpoint.Scale, entry.Stake)

	info, err := h.engine.PoolInfo(poolA)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), info.Decimals)
	assert.Equal(t, fixedpoint.Scale, info.TotalStakedScaled)
}

func TestPoolsWithDifferentDecimalsAccrueAlike(t *testing.T) {
	h := newHarness(t)
	v6 := h.addPool(poolA, vaultA, 6, tokens(1))
	v18 := h.addPool(poolB, vaultB, 18, tokens(1))

	require.NoError(t, v6.Deposit(h.ctx, alice, units(1, 6)))
	require.NoError(t, v6.Deposit(h.ctx, bob, units(3, 6)))
	require.NoError(t, v18.Deposit(h.ctx, alice, units(1, 18)))
	require.NoError(t, v18.Deposit(h.ctx, bob, units(3, 18)))
	h.clock.Advance(100)

	assert.Equal(t, h.earned(alice, poolB), h.earned(alice, poolA))
	assert.Equal(t, h.earned(bob, poolB), h.earned(bob, poolA))
	requireNear(t, tokens(25), h.earned(alice, poolA), 2)
}

func TestDepositCreditsOldBalanceForEndedInterval(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	require.NoError(t, v.Deposit(h.ctx, bob, tokens(1000)))
	h.clock.Advance(100)

	// alice triples her stake; the 100s just ended must be split 1:1
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(2000)))
	requireNear(t, tokens(50), h.earned(alice, poolA), 2)
	requireNear(t, tokens(50), h.earned(bob, poolA), 2)

	h.clock.Advance(100)
	requireNear(t, tokens(125), h.earned(alice, poolA), 2)
	requireNear(t, tokens(75), h.earned(bob, poolA), 2)
}

func TestWithdrawToZeroKeepsResidualClaimable(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)
	require.NoError(t, v.Withdraw(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)

	requireNear(t, tokens(100), h.earned(alice, poolA), 2)
	amount, err := h.engine.Claim(h.ctx, alice, poolA)
	require.NoError(t, err)
	requireNear(t, tokens(100), amount, 2)
}

func TestTransferSplitsAtTransferTime(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)
	require.NoError(t, v.Transfer(h.ctx, alice, bob, tokens(1000)))
	h.clock.Advance(100)

	requireNear(t, tokens(100), h.earned(alice, poolA), 2)
	requireNear(t, tokens(100), h.earned(bob, poolA), 2)
}

func TestEmptyPoolEmissionIsNotDistributed(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	h.clock.Advance(100)
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(5)))
	h.clock.Advance(100)

	requireNear(t, tokens(100), h.earned(alice, poolA), 2)
}

func TestStakeChangeAuthorization(t *testing.T) {
	h := newHarness(t)
	h.addPool(poolA, vaultA, 18, tokens(1))

	err := h.engine.OnStakeChanged(h.ctx, vaultB, alice, poolA)
	require.ErrorIs(t, err, reward.ErrUnauthorized)

	err = h.engine.OnStakeChanged(h.ctx, vaultA, alice, poolB)
	require.ErrorIs(t, err, reward.ErrUnknownPool)

	pools, err := h.engine.UserPools(alice)
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestAdministrativeFailures(t *testing.T) {
	h := newHarness(t)

	err := h.engine.RegisterPool(h.ctx, admin, poolA, tokens(1))
	require.ErrorIs(t, err, reward.ErrUnknownPool)

	h.catalogue(poolA, vaultA, 18)
	err = h.engine.RegisterPool(h.ctx, alice, poolA, tokens(1))
	require.ErrorIs(t, err, reward.ErrUnauthorized)

	tooHigh := new(big.Int).Add(reward.MaxRate, big.NewInt(1))
	err = h.engine.RegisterPool(h.ctx, admin, poolA, tooHigh)
	require.ErrorIs(t, err, reward.ErrRateExceedsCap)

	require.NoError(t, h.engine.RegisterPool(h.ctx, admin, poolA, reward.MaxRate))
	err = h.engine.RegisterPool(h.ctx, admin, poolA, tokens(1))
	require.ErrorIs(t, err, reward.ErrAlreadyRegistered)

	err = h.engine.SetRate(h.ctx, admin, poolA, tooHigh)
	require.ErrorIs(t, err, reward.ErrRateExceedsCap)
	err = h.engine.SetRate(h.ctx, admin, poolA, big.NewInt(-1))
	require.ErrorIs(t, err, reward.ErrInvalidRate)
	err = h.engine.SetRate(h.ctx, bob, poolA, tokens(1))
	require.ErrorIs(t, err, reward.ErrUnauthorized)
	err = h.engine.SetRate(h.ctx, admin, poolB, tokens(1))
	require.ErrorIs(t, err, reward.ErrUnknownPool)

	info, err := h.engine.PoolInfo(poolA)
	require.NoError(t, err)
	assert.Equal(t, reward.MaxRate, info.Rate)
}

func TestSetRateIsNotRetroactive(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(10)))
	h.clock.Advance(100)
	require.NoError(t, h.engine.SetRate(h.ctx, admin, poolA, tokens(3)))
	h.clock.Advance(100)

	requireNear(t, tokens(400), h.earned(alice, poolA), 2)
}

func TestClaimAllMintsOnce(t *testing.T) {
	h := newHarness(t)
	va := h.addPool(poolA, vaultA, 18, tokens(1))
	vb := h.addPool(poolB, vaultB, 6, tokens(2))
	require.NoError(t, va.Deposit(h.ctx, alice, tokens(10)))
	require.NoError(t, vb.Deposit(h.ctx, alice, units(10, 6)))
	h.clock.Advance(100)

	pending, err := h.engine.PendingAcrossPools(alice, []common.Address{poolA, poolB})
	require.NoError(t, err)
	requireNear(t, tokens(300), pending, 4)

	total, err := h.engine.ClaimAll(h.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, pending, total)
	assert.Equal(t, 1, h.minter.calls)
	assert.Equal(t, total, h.token.BalanceOf(alice))
	assert.Equal(t, 0, h.earned(alice, poolA).Sign())
	assert.Equal(t, 0, h.earned(alice, poolB).Sign())

	_, err = h.engine.ClaimAll(h.ctx, alice)
	require.ErrorIs(t, err, reward.ErrNoAccruedRewards)
}

func TestClaimAllIncludesWithdrawnPools(t *testing.T) {
	h := newHarness(t)
	va := h.addPool(poolA, vaultA, 18, tokens(1))
	vb := h.addPool(poolB, vaultB, 18, tokens(1))
	require.NoError(t, va.Deposit(h.ctx, alice, tokens(10)))
	require.NoError(t, vb.Deposit(h.ctx, alice, tokens(10)))
	h.clock.Advance(100)
	require.NoError(t, vb.Withdraw(h.ctx, alice, tokens(10)))

	total, err := h.engine.ClaimAll(h.ctx, alice)
	require.NoError(t, err)
	requireNear(t, tokens(200), total, 4)
}

func TestFailedMintRevertsLedger(t *testing.T) {
	h := newHarnessWithCap(t, tokens(10))
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)

	before, err := h.engine.Snapshot()
	require.NoError(t, err)

	_, err = h.engine.Claim(h.ctx, alice, poolA)
	require.ErrorIs(t, err, token.ErrCapExceeded)
	_, err = h.engine.ClaimAll(h.ctx, alice)
	require.ErrorIs(t, err, token.ErrCapExceeded)

	after, err := h.engine.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, h.token.TotalSupply().Sign())
	requireNear(t, tokens(100), h.earned(alice, poolA), 2)
}

func TestMinterReentryIsRejected(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(1000)))
	h.clock.Advance(100)

	var inner error
	h.minter.onMint = func() {
		_, inner = h.engine.Claim(context.Background(), alice, poolA)
	}
	amount, err := h.engine.Claim(h.ctx, alice, poolA)
	require.NoError(t, err)
	assert.Equal(t, tokens(100), amount)
	require.ErrorIs(t, inner, reward.ErrReentrant)
	assert.Equal(t, tokens(100), h.token.TotalSupply())
}

func TestSnapshotRestore(t *testing.T) {
	h := newHarness(t)
	va := h.addPool(poolA, vaultA, 18, tokens(1))
	vb := h.addPool(poolB, vaultB, 6, tokens(2))
	require.NoError(t, va.Deposit(h.ctx, alice, tokens(10)))
	require.NoError(t, vb.Deposit(h.ctx, bob, units(4, 6)))
	h.clock.Advance(50)
	_, err := h.engine.Claim(h.ctx, alice, poolA)
	require.NoError(t, err)
	h.clock.Advance(50)

	snap, err := h.engine.Snapshot()
	require.NoError(t, err)
	ledger, err := reward.LedgerFromSnapshot(snap)
	require.NoError(t, err)

	restored, err := reward.NewEngine(reward.Config{Admins: []common.Address{admin}}, ledger, h.registry, h.minter, h.clock, nil)
	require.NoError(t, err)
	require.NoError(t, restored.CheckRegistry())

	for _, pool := range []common.Address{poolA, poolB} {
		for _, user := range []common.Address{alice, bob} {
			want := h.earned(user, pool)
			got, err := restored.Earned(user, pool)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}
	again, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestPokeRefreshesDenominator(t *testing.T) {
	h := newHarness(t)
	v := h.addPool(poolA, vaultA, 18, tokens(1))
	require.NoError(t, v.Deposit(h.ctx, alice, tokens(10)))
	h.clock.Advance(10)

	require.NoError(t, h.engine.Poke(h.ctx, poolA))
	info, err := h.engine.PoolInfo(poolA)
	require.NoError(t, err)
	assert.Equal(t, t0+10, info.LastUpdate)
	assert.Equal(t, tokens(10), info.TotalStakedScaled)
	requireNear(t, tokens(10), h.earned(alice, poolA), 2)
}
