package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rewardLedger/internal/api"
	"rewardLedger/internal/chain"
	"rewardLedger/internal/config"
	"rewardLedger/internal/metrics"
	"rewardLedger/internal/reward"
	"rewardLedger/internal/syncer"
)

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if len(cfg.Pools) == 0 {
		return fmt.Errorf("at least one pool is required")
	}
	admins, err := parseAdmins(cfg.Admins)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.close()

	ledger, snapshotTime, err := store.load(ctx)
	if err != nil {
		return err
	}

	reg, pools, err := buildRegistry(chainClient, cfg.Pools)
	if err != nil {
		return err
	}
	for _, p := range pools {
		desc, err := p.backend.Describe(ctx)
		if err != nil {
			return fmt.Errorf("share token of pool %s: %w", p.id.Hex(), err)
		}
		logger.Info("pool share token",
			zap.String("pool", p.id.Hex()),
			zap.String("token", desc.Address.Hex()),
			zap.String("symbol", desc.Symbol),
			zap.Uint8("decimals", desc.Decimals),
			zap.String("total_supply", desc.TotalSupply.String()),
		)
	}

	clock := reward.NewManualClock(snapshotTime)
	engine, err := reward.NewEngine(reward.Config{Admins: admins}, ledger, reg, readOnlyMinter{}, clock, logger)
	if err != nil {
		return err
	}
	if err := engine.CheckRegistry(); err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	engine.SetEventSink(store.eventSink(cfg.Store.Events, recorder))

	if clock.Now() == 0 {
		start, err := chainClient.BlockTimestamp(ctx, cfg.FromBlock)
		if err != nil {
			return fmt.Errorf("start block timestamp: %w", err)
		}
		clock.Set(start)
	}
	if err := reconcilePools(ctx, engine, admins[0], pools, logger); err != nil {
		return err
	}

	watches := make([]syncer.Watch, 0, len(pools))
	for _, p := range pools {
		watches = append(watches, syncer.Watch{Pool: p.id, Token: p.vault, Vault: p.backend})
	}

	runner, err := syncer.NewRunner(syncer.RunConfig{
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, chainClient, engine, clock, watches, logger)
	if err != nil {
		return err
	}
	// the ledger is persisted before the checkpoint so a restart never skips a batch
	runner.OnBatch(func(ctx context.Context, blockRange syncer.BlockRange, _ uint64) error {
		snap, err := engine.Snapshot()
		if err != nil {
			return err
		}
		if err := store.save(ctx, snap); err != nil {
			return fmt.Errorf("save snapshot at block %d: %w", blockRange.To, err)
		}
		recorder.ObserveSnapshot(snap)
		return nil
	})

	logger.Info("sync start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainClient.ChainID().String()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("pools", len(pools)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("store", cfg.Store.Kind),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	if cfg.Listen == "" {
		return runner.Run(ctx)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(groupCtx)
	group.Go(func() error {
		defer stopServe()
		return runner.Run(groupCtx)
	})
	group.Go(func() error {
		handler := api.Handler(api.NewRouter(engine, recorder.Handler()), cfg.CORSOrigins)
		return serveHTTP(serveCtx, cfg.Listen, handler, logger)
	})
	return group.Wait()
}

// reconcilePools registers configured pools the ledger does not know yet and
// applies configured rate changes to the ones it does.
func reconcilePools(ctx context.Context, engine *reward.Engine, admin common.Address, pools []pool, logger *zap.Logger) error {
	for _, p := range pools {
		info, err := engine.PoolInfo(p.id)
		if errors.Is(err, reward.ErrUnknownPool) {
			if err := engine.RegisterPool(ctx, admin, p.id, p.rate); err != nil {
				return fmt.Errorf("register pool %s: %w", p.id.Hex(), err)
			}
			if info, err = engine.PoolInfo(p.id); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else if info.Rate.Cmp(p.rate) != 0 {
			if err := engine.SetRate(ctx, admin, p.id, p.rate); err != nil {
				return fmt.Errorf("set rate of pool %s: %w", p.id.Hex(), err)
			}
		}
		if p.decimals != 0 && p.decimals != info.Decimals {
			logger.Warn("configured decimals differ from share token",
				zap.String("pool", p.id.Hex()),
				zap.Uint8("configured", p.decimals),
				zap.Uint8("token", info.Decimals),
			)
		}
	}
	return nil
}
