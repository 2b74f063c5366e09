package reward

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/model"
)

// MaxRate caps a pool's emission rate at one million reward tokens per second.
var MaxRate = new(big.Int).Mul(big.NewInt(1_000_000), fixedpoint.Scale)

// Config holds the engine's administrative settings.
type Config struct {
	Admins []common.Address
}

// Engine is the reward-accrual ledger. Every operation runs to completion under
// the engine lock and either commits all of its ledger changes or none of them.
type Engine struct {
	mu       sync.Mutex
	minting  atomic.Bool
	admins   map[common.Address]struct{}
	ledger   *Ledger
	registry Registry
	minter   Minter
	clock    Clock
	sink     EventSink
	logger   *zap.Logger
}

// NewEngine builds an Engine over ledger. A nil ledger starts empty.
func NewEngine(cfg Config, ledger *Ledger, registry Registry, minter Minter, clock Clock, logger *zap.Logger) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if minter == nil {
		return nil, fmt.Errorf("minter is nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if ledger == nil {
		ledger = NewLedger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	admins := make(map[common.Address]struct{}, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		admins[admin] = struct{}{}
	}

	return &Engine{
		admins:   admins,
		ledger:   ledger,
		registry: registry,
		minter:   minter,
		clock:    clock,
		logger:   logger,
	}, nil
}

// SetEventSink installs the sink that receives committed ledger events.
func (e *Engine) SetEventSink(sink EventSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// lock rejects calls made while a mint is in flight; the minter is the only
// external code that runs with the lock held.
func (e *Engine) lock() error {
	if e.minting.Load() {
		return ErrReentrant
	}
	e.mu.Lock()
	return nil
}

func (e *Engine) isAdmin(caller common.Address) bool {
	_, ok := e.admins[caller]
	return ok
}

func (e *Engine) pool(id common.Address) (*PoolState, error) {
	p, ok := e.ledger.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id.Hex())
	}
	return p, nil
}

func (e *Engine) vault(pool common.Address) (common.Address, Vault, error) {
	if !e.registry.IsKnownPool(pool) {
		return common.Address{}, nil, fmt.Errorf("%w: %s not in registry", ErrUnknownPool, pool.Hex())
	}
	owner, vault, ok := e.registry.VaultOf(pool)
	if !ok || vault == nil {
		return common.Address{}, nil, fmt.Errorf("%w: %s has no vault", ErrUnknownPool, pool.Hex())
	}
	return owner, vault, nil
}

func (e *Engine) emit(events ...model.LedgerEvent) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	if err := e.sink.PutEventBatch(events); err != nil {
		e.logger.Warn("emit ledger events", zap.Error(err), zap.Int("events", len(events)))
	}
}

// RegisterPool creates the accumulator for a pool known to the registry.
func (e *Engine) RegisterPool(ctx context.Context, caller, pool common.Address, rate *big.Int) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if !e.isAdmin(caller) {
		return fmt.Errorf("%w: %s is not an admin", ErrUnauthorized, caller.Hex())
	}
	if err := checkRate(rate); err != nil {
		return err
	}
	if _, ok := e.ledger.pools[pool]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, pool.Hex())
	}
	_, vault, err := e.vault(pool)
	if err != nil {
		return err
	}
	decimals, err := vault.Decimals(ctx)
	if err != nil {
		return fmt.Errorf("read pool decimals: %w", err)
	}

	now := e.clock.Now()
	e.ledger.pools[pool] = newPoolState(pool, rate, decimals, now)

	e.logger.Info("pool registered",
		zap.String("pool", pool.Hex()),
		zap.String("rate", rate.String()),
		zap.Uint8("decimals", decimals),
	)
	e.emit(model.LedgerEvent{
		Kind:      model.EventPoolRegistered,
		Pool:      pool.Hex(),
		Rate:      rate.String(),
		Timestamp: now,
	})
	return nil
}

// SetRate changes a pool's emission rate. Accrual up to now is settled under the old rate.
func (e *Engine) SetRate(ctx context.Context, caller, pool common.Address, rate *big.Int) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	if !e.isAdmin(caller) {
		return fmt.Errorf("%w: %s is not an admin", ErrUnauthorized, caller.Hex())
	}
	p, err := e.pool(pool)
	if err != nil {
		return err
	}
	if err := checkRate(rate); err != nil {
		return err
	}

	now := e.clock.Now()
	old := p.Rate
	p.refresh(now, nil)
	p.Rate = new(big.Int).Set(rate)

	e.logger.Info("rate updated",
		zap.String("pool", pool.Hex()),
		zap.String("old_rate", old.String()),
		zap.String("new_rate", rate.String()),
	)
	e.emit(model.LedgerEvent{
		Kind:        model.EventRateUpdated,
		Pool:        pool.Hex(),
		Rate:        rate.String(),
		AccPerShare: p.AccPerShare.String(),
		Timestamp:   now,
	})
	return nil
}

func checkRate(rate *big.Int) error {
	if rate == nil || rate.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	if rate.Cmp(MaxRate) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrRateExceedsCap, rate, MaxRate)
	}
	return nil
}

// OnStakeChanged is called by a pool's vault after a user's balance in it changed.
// The interval just ended is settled against the stake recorded at the previous
// notification; the vault's post-change balance and supply then become the stake
// and denominator for the next interval.
func (e *Engine) OnStakeChanged(ctx context.Context, caller, user, pool common.Address) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	p, err := e.pool(pool)
	if err != nil {
		return err
	}
	owner, vault, err := e.vault(pool)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s is not the vault of pool %s", ErrUnauthorized, caller.Hex(), pool.Hex())
	}

	balance, err := vault.BalanceOf(ctx, user)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	supply, err := vault.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("read total supply: %w", err)
	}
	stake := fixedpoint.ToCanonical(balance, p.Decimals)
	total := fixedpoint.ToCanonical(supply, p.Decimals)

	now := e.clock.Now()
	p.refresh(now, nil)
	entry := e.ledger.ensureAccount(user, p)
	entry.settle(p.AccPerShare)
	entry.Stake = stake
	p.TotalStakedScaled = total

	e.logger.Debug("stake synced",
		zap.String("pool", pool.Hex()),
		zap.String("user", user.Hex()),
		zap.String("stake", stake.String()),
		zap.String("total_staked", total.String()),
		zap.String("accrued", entry.Accrued.String()),
	)
	e.emit(model.LedgerEvent{
		Kind:        model.EventStakeSynced,
		Pool:        pool.Hex(),
		User:        user.Hex(),
		Stake:       stake.String(),
		TotalStaked: total.String(),
		AccPerShare: p.AccPerShare.String(),
		Timestamp:   now,
	})
	return nil
}

// Poke refreshes a pool's accumulator and re-reads its vault's total supply.
func (e *Engine) Poke(ctx context.Context, pool common.Address) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	p, err := e.pool(pool)
	if err != nil {
		return err
	}
	_, vault, err := e.vault(pool)
	if err != nil {
		return err
	}
	supply, err := vault.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("read total supply: %w", err)
	}
	p.refresh(e.clock.Now(), fixedpoint.ToCanonical(supply, p.Decimals))
	return nil
}

// Claim pays out a user's entitlement in one pool.
func (e *Engine) Claim(ctx context.Context, user, pool common.Address) (*big.Int, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	p, err := e.pool(pool)
	if err != nil {
		return nil, err
	}
	entry := e.ledger.account(user, pool)
	now := e.clock.Now()
	if entry == nil || entry.pendingAt(p.accPerShareAt(now)).Sign() == 0 {
		return nil, fmt.Errorf("%w: user %s pool %s", ErrNoAccruedRewards, user.Hex(), pool.Hex())
	}

	j := newJournal(e.ledger)
	amount := e.drain(j, p, user, entry, now)
	if err := e.mint(ctx, j, user, amount); err != nil {
		return nil, err
	}

	e.logger.Info("reward claimed",
		zap.String("pool", pool.Hex()),
		zap.String("user", user.Hex()),
		zap.String("amount", amount.String()),
	)
	e.emit(paidEvent(pool, user, amount, now))
	return amount, nil
}

// ClaimAll drains every pool the user has joined and mints the sum in one call.
func (e *Engine) ClaimAll(ctx context.Context, user common.Address) (*big.Int, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	now := e.clock.Now()
	pools := e.ledger.userPools(user)
	total := new(big.Int)
	for _, id := range pools {
		p := e.ledger.pools[id]
		entry := e.ledger.account(user, id)
		if p == nil || entry == nil {
			continue
		}
		total.Add(total, entry.pendingAt(p.accPerShareAt(now)))
	}
	if total.Sign() == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoAccruedRewards, user.Hex())
	}

	j := newJournal(e.ledger)
	events := make([]model.LedgerEvent, 0, len(pools))
	for _, id := range pools {
		p := e.ledger.pools[id]
		entry := e.ledger.account(user, id)
		if p == nil || entry == nil {
			continue
		}
		amount := e.drain(j, p, user, entry, now)
		if amount.Sign() > 0 {
			events = append(events, paidEvent(id, user, amount, now))
		}
	}
	if err := e.mint(ctx, j, user, total); err != nil {
		return nil, err
	}

	e.logger.Info("rewards claimed across pools",
		zap.String("user", user.Hex()),
		zap.Int("pools", len(events)),
		zap.String("amount", total.String()),
	)
	e.emit(events...)
	return total, nil
}

// drain settles the entry (skipped for a zero stake, which cannot have earned
// anything new) and moves its accrued balance into the distributed counters.
func (e *Engine) drain(j *journal, p *PoolState, user common.Address, entry *AccountEntry, now uint64) *big.Int {
	j.pool(p)
	j.account(user, p.ID, entry)
	j.totalDistributed()

	if entry.Stake.Sign() > 0 {
		p.refresh(now, nil)
		entry.settle(p.AccPerShare)
	}
	amount := entry.Accrued
	entry.Accrued = new(big.Int)
	p.Distributed = new(big.Int).Add(p.Distributed, amount)
	e.ledger.totalDistributed = new(big.Int).Add(e.ledger.totalDistributed, amount)
	return amount
}

// mint issues the single external effect of a claim. The ledger is already
// committed; a failed mint reverts it so nothing is paid and nothing is lost.
func (e *Engine) mint(ctx context.Context, j *journal, user common.Address, amount *big.Int) error {
	e.minting.Store(true)
	err := e.minter.Mint(ctx, user, new(big.Int).Set(amount))
	e.minting.Store(false)
	if err != nil {
		j.revert()
		e.logger.Warn("mint failed", zap.String("user", user.Hex()), zap.String("amount", amount.String()), zap.Error(err))
		return fmt.Errorf("mint reward: %w", err)
	}
	return nil
}

func paidEvent(pool, user common.Address, amount *big.Int, now uint64) model.LedgerEvent {
	return model.LedgerEvent{
		Kind:      model.EventRewardPaid,
		Pool:      pool.Hex(),
		User:      user.Hex(),
		Amount:    amount.String(),
		Timestamp: now,
	}
}
