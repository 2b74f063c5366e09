package scenario

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/model"
	"rewardLedger/internal/registry"
	"rewardLedger/internal/reward"
	"rewardLedger/internal/token"
	"rewardLedger/internal/vault"
)

var (
	defaultMinter = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	defaultCap    = new(big.Int).Mul(big.NewInt(1_000_000_000), fixedpoint.Scale)
)

// Options wires optional collaborators into a run.
type Options struct {
	Logger *zap.Logger
	Sink   reward.EventSink
}

// StepResult records what one step did.
type StepResult struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	Time   uint64 `json:"time"`
	Amount string `json:"amount,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report is the outcome of a successful run.
type Report struct {
	Name     string               `json:"name"`
	Steps    []StepResult         `json:"steps"`
	Minted   string               `json:"minted"`
	Snapshot model.LedgerSnapshot `json:"snapshot"`
}

type runner struct {
	sc     Scenario
	logger *zap.Logger
	admin  common.Address
	clock  *reward.ManualClock
	token  *token.CappedToken
	engine *reward.Engine
	pools  map[common.Address]*vault.ShareVault
	rates  map[common.Address]*big.Int
}

// Run replays sc from an empty ledger. It stops at the first step whose
// outcome differs from what the step expects.
func Run(ctx context.Context, sc Scenario, opts Options) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r, err := setup(sc, logger)
	if err != nil {
		return nil, err
	}
	if opts.Sink != nil {
		r.engine.SetEventSink(opts.Sink)
	}
	if err := r.registerPools(ctx); err != nil {
		return nil, err
	}

	report := &Report{Name: sc.Name, Steps: make([]StepResult, 0, len(sc.Steps))}
	for i, step := range sc.Steps {
		r.clock.Advance(step.Advance)
		result := StepResult{Index: i, Action: step.Action, Time: r.clock.Now()}

		amount, err := r.exec(ctx, step)
		if err := checkOutcome(step, amount, err); err != nil {
			return nil, fmt.Errorf("step %d (%s) at %d: %w", i, step.Action, result.Time, err)
		}
		if amount != nil {
			result.Amount = amount.String()
		}
		if err != nil {
			result.Error = err.Error()
		}
		logger.Debug("scenario step", zap.Int("index", i), zap.String("action", step.Action), zap.String("amount", result.Amount), zap.String("error", result.Error))
		report.Steps = append(report.Steps, result)
	}

	snap, err := r.engine.Snapshot()
	if err != nil {
		return nil, err
	}
	report.Snapshot = snap
	report.Minted = r.token.TotalSupply().String()
	logger.Info("scenario complete", zap.String("name", sc.Name), zap.Int("steps", len(report.Steps)), zap.String("minted", report.Minted))
	return report, nil
}

func setup(sc Scenario, logger *zap.Logger) (*runner, error) {
	admins := make([]common.Address, 0, len(sc.Admins))
	for _, raw := range sc.Admins {
		addr, err := address("admin", raw)
		if err != nil {
			return nil, err
		}
		admins = append(admins, addr)
	}

	minter := defaultMinter
	if sc.Minter != "" {
		var err error
		if minter, err = address("minter", sc.Minter); err != nil {
			return nil, err
		}
	}
	rewardCap := defaultCap
	if sc.RewardCap != "" {
		var err error
		if rewardCap, err = fixedpoint.ParseUnits(sc.RewardCap, fixedpoint.CanonicalDecimals); err != nil {
			return nil, fmt.Errorf("reward cap: %w", err)
		}
	}
	tok, err := token.NewCappedToken("RWD", rewardCap)
	if err != nil {
		return nil, err
	}
	tok.AddMinter(minter)

	reg := registry.New()
	clock := reward.NewManualClock(sc.Start)
	engine, err := reward.NewEngine(reward.Config{Admins: admins}, nil, reg, tok.Minter(minter), clock, logger)
	if err != nil {
		return nil, err
	}

	r := &runner{
		sc:     sc,
		logger: logger,
		admin:  admins[0],
		clock:  clock,
		token:  tok,
		engine: engine,
		pools:  make(map[common.Address]*vault.ShareVault, len(sc.Pools)),
		rates:  make(map[common.Address]*big.Int, len(sc.Pools)),
	}
	for i, p := range sc.Pools {
		id, err := address(fmt.Sprintf("pool %d id", i), p.ID)
		if err != nil {
			return nil, err
		}
		vaultAddr, err := address(fmt.Sprintf("pool %d vault", i), p.Vault)
		if err != nil {
			return nil, err
		}
		rate := new(big.Int)
		if p.Rate != "" {
			if rate, err = fixedpoint.ParseUnits(p.Rate, fixedpoint.CanonicalDecimals); err != nil {
				return nil, fmt.Errorf("pool %d rate: %w", i, err)
			}
		}
		decimals := p.Decimals
		if decimals == 0 {
			decimals = fixedpoint.CanonicalDecimals
		}
		v := vault.NewShareVault(vaultAddr, id, decimals)
		v.SetNotifier(engine)
		if err := reg.Add(id, vaultAddr, v); err != nil {
			return nil, err
		}
		r.pools[id] = v
		r.rates[id] = rate
	}
	return r, nil
}

func (r *runner) registerPools(ctx context.Context) error {
	for _, p := range r.sc.Pools {
		if p.Unregistered {
			continue
		}
		id := common.HexToAddress(p.ID)
		if err := r.engine.RegisterPool(ctx, r.admin, id, r.rates[id]); err != nil {
			return fmt.Errorf("register pool %s: %w", id.Hex(), err)
		}
	}
	return nil
}

// exec performs one step. The returned amount is nil for actions that do not produce one.
func (r *runner) exec(ctx context.Context, step Step) (*big.Int, error) {
	caller := r.admin
	if step.Caller != "" {
		var err error
		if caller, err = address("caller", step.Caller); err != nil {
			return nil, err
		}
	}

	var user, pool common.Address
	var err error
	if step.User != "" {
		if user, err = address("user", step.User); err != nil {
			return nil, err
		}
	}
	if step.Pool != "" {
		if pool, err = address("pool", step.Pool); err != nil {
			return nil, err
		}
	}

	switch step.Action {
	case ActionAdvance:
		return nil, nil
	case ActionRegister:
		rate := r.rates[pool]
		if step.Rate != "" {
			if rate, err = fixedpoint.ParseUnits(step.Rate, fixedpoint.CanonicalDecimals); err != nil {
				return nil, err
			}
		}
		if rate == nil {
			rate = new(big.Int)
		}
		return nil, r.engine.RegisterPool(ctx, caller, pool, rate)
	case ActionSetRate:
		rate, err := fixedpoint.ParseUnits(step.Rate, fixedpoint.CanonicalDecimals)
		if err != nil {
			return nil, err
		}
		return nil, r.engine.SetRate(ctx, caller, pool, rate)
	case ActionPoke:
		return nil, r.engine.Poke(ctx, pool)
	case ActionDeposit, ActionWithdraw, ActionTransfer:
		return nil, r.moveShares(ctx, step, user, pool)
	case ActionClaim:
		return r.engine.Claim(ctx, user, pool)
	case ActionClaimAll:
		return r.engine.ClaimAll(ctx, user)
	case ActionEarned:
		return r.engine.Earned(user, pool)
	case ActionPending:
		pools, err := r.pendingPools(user, step.Pools)
		if err != nil {
			return nil, err
		}
		return r.engine.PendingAcrossPools(user, pools)
	case ActionBalance:
		return r.token.BalanceOf(user), nil
	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}
}

func (r *runner) moveShares(ctx context.Context, step Step, user, pool common.Address) error {
	v, ok := r.pools[pool]
	if !ok {
		return fmt.Errorf("pool %s has no scenario vault", pool.Hex())
	}
	decimals, _ := v.Decimals(ctx)
	shares, err := fixedpoint.ParseUnits(step.Amount, decimals)
	if err != nil {
		return err
	}
	switch step.Action {
	case ActionDeposit:
		return v.Deposit(ctx, user, shares)
	case ActionWithdraw:
		return v.Withdraw(ctx, user, shares)
	default:
		to, err := address("to", step.To)
		if err != nil {
			return err
		}
		return v.Transfer(ctx, user, to, shares)
	}
}

func (r *runner) pendingPools(user common.Address, raw []string) ([]common.Address, error) {
	if len(raw) == 0 {
		return r.engine.UserPools(user)
	}
	pools := make([]common.Address, 0, len(raw))
	for _, p := range raw {
		addr, err := address("pools", p)
		if err != nil {
			return nil, err
		}
		pools = append(pools, addr)
	}
	return pools, nil
}

// checkOutcome compares a step's result with its expectations.
func checkOutcome(step Step, amount *big.Int, err error) error {
	if step.Error != "" {
		if err == nil {
			return fmt.Errorf("expected error containing %q, got none", step.Error)
		}
		if !strings.Contains(err.Error(), step.Error) {
			return fmt.Errorf("expected error containing %q, got %w", step.Error, err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if step.Want == "" {
		return nil
	}
	if amount == nil {
		return fmt.Errorf("action produces no amount to compare with %s", step.Want)
	}
	want, err := fixedpoint.ParseUnits(step.Want, fixedpoint.CanonicalDecimals)
	if err != nil {
		return fmt.Errorf("want: %w", err)
	}
	diff := new(big.Int).Sub(want, amount)
	if diff.Abs(diff).Cmp(big.NewInt(step.Tolerance)) > 0 {
		return fmt.Errorf("amount %s, want %s (tolerance %d)",
			fixedpoint.Format(amount, fixedpoint.CanonicalDecimals), step.Want, step.Tolerance)
	}
	return nil
}

func address(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}
