package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rewardLedger/internal/chain"
	"rewardLedger/internal/config"
	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/model"
	"rewardLedger/internal/registry"
	"rewardLedger/internal/reward"
	"rewardLedger/internal/storage"
	"rewardLedger/internal/storage/postgres"
	"rewardLedger/internal/storage/sqlite"
	"rewardLedger/internal/syncer"
)

var errReadOnly = errors.New("ledger is read-only: rewards are paid on chain")

// readOnlyMinter backs engines that mirror chain state and never pay out.
type readOnlyMinter struct{}

func (readOnlyMinter) Mint(context.Context, common.Address, *big.Int) error {
	return errReadOnly
}

// ledgerStore bundles the configured snapshot store with its event sink, if any.
type ledgerStore struct {
	snapshots storage.SnapshotStore
	events    storage.EventStorage
	close     func()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*ledgerStore, error) {
	switch cfg.Kind {
	case config.StoreNone, "":
		return &ledgerStore{close: func() {}}, nil
	case config.StoreFile:
		return &ledgerStore{snapshots: &storage.FileStore{Path: cfg.Path}, close: func() {}}, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &ledgerStore{snapshots: store, events: store, close: func() { _ = store.Close() }}, nil
	case config.StorePostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.LedgerName)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return &ledgerStore{snapshots: store, events: store, close: store.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Kind)
	}
}

// load restores the stored ledger, or an empty one when nothing was saved.
func (s *ledgerStore) load(ctx context.Context) (*reward.Ledger, uint64, error) {
	if s.snapshots == nil {
		return reward.NewLedger(), 0, nil
	}
	snap, ok, err := s.snapshots.LoadSnapshot(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return reward.NewLedger(), 0, nil
	}
	ledger, err := reward.LedgerFromSnapshot(snap)
	if err != nil {
		return nil, 0, fmt.Errorf("restore snapshot: %w", err)
	}
	return ledger, snap.Timestamp, nil
}

func (s *ledgerStore) save(ctx context.Context, snap model.LedgerSnapshot) error {
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.SaveSnapshot(ctx, snap)
}

// eventSink combines the store's event table, the optional JSONL file and extra sinks.
func (s *ledgerStore) eventSink(path string, extra ...storage.EventStorage) storage.MultiSink {
	sinks := storage.MultiSink{}
	if s.events != nil {
		sinks = append(sinks, s.events)
	}
	if path != "" {
		sinks = append(sinks, storage.NewJsonlSink(path))
	}
	return append(sinks, extra...)
}

type pool struct {
	id       common.Address
	vault    common.Address
	decimals uint8
	rate     *big.Int
	backend  *chain.TokenVault
}

func parseAdmins(raw []string) ([]common.Address, error) {
	admins, err := syncer.ParseAddresses(raw)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	if len(admins) == 0 {
		return nil, fmt.Errorf("at least one admin is required")
	}
	return admins, nil
}

// buildRegistry catalogues every configured pool against a chain-backed vault.
func buildRegistry(caller chain.ContractCaller, cfgPools []config.PoolConfig) (*registry.Registry, []pool, error) {
	reg := registry.New()
	pools := make([]pool, 0, len(cfgPools))
	for i, p := range cfgPools {
		id, err := syncer.ParseAddress(p.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("pool %d id: %w", i, err)
		}
		vaultAddr, err := syncer.ParseAddress(p.Vault)
		if err != nil {
			return nil, nil, fmt.Errorf("pool %d vault: %w", i, err)
		}
		rate := new(big.Int)
		if p.Rate != "" {
			if rate, err = fixedpoint.ParseUnits(p.Rate, fixedpoint.CanonicalDecimals); err != nil {
				return nil, nil, fmt.Errorf("pool %d rate: %w", i, err)
			}
		}
		backend := chain.NewTokenVault(caller, vaultAddr)
		if err := reg.Add(id, vaultAddr, backend); err != nil {
			return nil, nil, err
		}
		pools = append(pools, pool{id: id, vault: vaultAddr, decimals: p.Decimals, rate: rate, backend: backend})
	}
	return reg, pools, nil
}

// serveHTTP runs handler on addr until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
