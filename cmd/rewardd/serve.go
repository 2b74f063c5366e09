package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rewardLedger/internal/api"
	"rewardLedger/internal/chain"
	"rewardLedger/internal/config"
	"rewardLedger/internal/metrics"
	"rewardLedger/internal/reward"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	admins, err := parseAdmins(cfg.Admins)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var caller chain.ContractCaller
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		caller = chainClient
	}
	reg, _, err := buildRegistry(caller, cfg.Pools)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.close()

	recorder := metrics.NewRecorder()
	holder := &engineHolder{
		build: func(ctx context.Context) (*reward.Engine, error) {
			ledger, _, err := store.load(ctx)
			if err != nil {
				return nil, err
			}
			engine, err := reward.NewEngine(reward.Config{Admins: admins}, ledger, reg, readOnlyMinter{}, reward.SystemClock{}, logger)
			if err != nil {
				return nil, err
			}
			if err := engine.CheckRegistry(); err != nil {
				return nil, err
			}
			snap, err := engine.Snapshot()
			if err != nil {
				return nil, err
			}
			recorder.ObserveSnapshot(snap)
			return engine, nil
		},
	}
	if err := holder.reload(ctx); err != nil {
		return err
	}
	if cfg.Reload > 0 {
		sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if _, err := sched.AddFunc(fmt.Sprintf("@every %s", cfg.Reload), func() {
			if err := holder.reload(ctx); err != nil {
				logger.Warn("ledger reload failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule reload: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	logger.Info("serve start",
		zap.String("listen", cfg.Listen),
		zap.String("store", cfg.Store.Kind),
		zap.Int("pools", len(cfg.Pools)),
		zap.Duration("reload", cfg.Reload),
	)
	handler := api.Handler(api.NewRouter(holder, recorder.Handler()), cfg.CORSOrigins)
	return serveHTTP(ctx, cfg.Listen, handler, logger)
}

var _ api.Ledger = (*engineHolder)(nil)

// engineHolder serves reads from the most recently loaded ledger. Views project
// accrual to wall-clock time, so earned keeps growing between reloads.
type engineHolder struct {
	mu     sync.RWMutex
	engine *reward.Engine
	build  func(ctx context.Context) (*reward.Engine, error)
}

func (h *engineHolder) reload(ctx context.Context) error {
	engine, err := h.build(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()
	return nil
}

func (h *engineHolder) current() *reward.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

func (h *engineHolder) Earned(user, pool common.Address) (*big.Int, error) {
	return h.current().Earned(user, pool)
}

func (h *engineHolder) PendingAcrossPools(user common.Address, pools []common.Address) (*big.Int, error) {
	return h.current().PendingAcrossPools(user, pools)
}

func (h *engineHolder) PoolInfo(pool common.Address) (reward.PoolState, error) {
	return h.current().PoolInfo(pool)
}

func (h *engineHolder) Account(user, pool common.Address) (reward.AccountEntry, bool, error) {
	return h.current().Account(user, pool)
}

func (h *engineHolder) UserPools(user common.Address) ([]common.Address, error) {
	return h.current().UserPools(user)
}

func (h *engineHolder) Pools() ([]common.Address, error) {
	return h.current().Pools()
}

func (h *engineHolder) TotalDistributed() (*big.Int, error) {
	return h.current().TotalDistributed()
}
