package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rewardLedger/internal/reward"
)

// RunConfig holds runtime settings for the syncer.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// LogSource is the subset of chain.Client the syncer reads from.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterTransfers(ctx context.Context, fromBlock, toBlock uint64, tokens []common.Address) ([]types.Log, error)
}

// Notifier receives the stake changes the syncer derives from share transfers.
type Notifier interface {
	OnStakeChanged(ctx context.Context, caller, user, pool common.Address) error
}

// BlockPinner is implemented by vault readers that can observe historical state.
type BlockPinner interface {
	PinBlock(n uint64)
	Unpin()
}

// Watch binds a pool to the share token whose transfers move its stake. The
// token address is also the vault identity the registry holds for the pool.
type Watch struct {
	Pool  common.Address
	Token common.Address
	Vault BlockPinner
}

// BatchHook runs after a batch has been applied and before its checkpoint is saved.
type BatchHook func(ctx context.Context, blockRange BlockRange, blockTime uint64) error

// Runner replays share-token transfers into the reward engine in block order.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	notifier   Notifier
	clock      *reward.ManualClock
	watches    map[common.Address]Watch
	tokens     []common.Address
	logger     *zap.Logger
	seen       map[string]struct{}
	checkpoint *CheckpointStore
	afterBatch BatchHook
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, source LogSource, notifier Notifier, clock *reward.ManualClock, watches []Watch, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	byToken := make(map[common.Address]Watch, len(watches))
	tokens := make([]common.Address, 0, len(watches))
	for _, w := range watches {
		if _, ok := byToken[w.Token]; ok {
			return nil, fmt.Errorf("share token %s watched twice", w.Token.Hex())
		}
		byToken[w.Token] = w
		tokens = append(tokens, w.Token)
	}

	return &Runner{
		cfg:        cfg,
		source:     source,
		notifier:   notifier,
		clock:      clock,
		watches:    byToken,
		tokens:     tokens,
		logger:     logger,
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}, nil
}

// OnBatch installs a hook run after each applied batch.
func (r *Runner) OnBatch(hook BatchHook) {
	r.afterBatch = hook
}

// Run executes the sync loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if r.notifier == nil {
		return fmt.Errorf("notifier is nil")
	}
	if r.clock == nil {
		return fmt.Errorf("clock is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.tokens) == 0 {
		return fmt.Errorf("at least one share token is required")
	}
	defer r.unpinAll()

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.source.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok {
		r.clock.Set(cp.BlockTime)
		if cp.LastProcessedBlock >= from {
			from = cp.LastProcessedBlock + 1
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
		}
		for _, token := range cp.unseenTokens(r.tokens) {
			r.logger.Warn("share token added after checkpoint; earlier transfers are not replayed",
				zap.String("token", token.Hex()),
				zap.String("pool", r.watches[token].Pool.Hex()),
				zap.Uint64("checkpoint_block", cp.LastProcessedBlock),
			)
		}
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := BlockRange{From: from, To: to}.Batches(r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Info("fetch transfers", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return fmt.Errorf("filter transfers: %w", err)
		}

		applied := 0
		for _, log := range logs {
			if log.Removed || r.isDuplicate(log) {
				continue
			}
			if err := r.apply(ctx, log); err != nil {
				return err
			}
			applied++
		}

		// the batch end block moves the clock even when it carried no transfers
		endTime, err := r.blockTimestampWithRetry(ctx, blockRange.To)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", blockRange.To, err)
		}
		r.clock.Set(endTime)

		if r.afterBatch != nil {
			if err := r.afterBatch(ctx, blockRange, endTime); err != nil {
				return fmt.Errorf("after batch: %w", err)
			}
		}
		if err := r.checkpoint.Save(blockRange.To, endTime, r.tokens); err != nil {
			return err
		}

		r.logger.Info("batch complete", zap.Int("transfers", applied), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return nil
}

// apply reports every non-zero party of one share transfer to the engine, with
// the clock at the transfer's block time and vault reads pinned to its block.
func (r *Runner) apply(ctx context.Context, log types.Log) error {
	transfer, err := decodeTransfer(log)
	if err != nil {
		return err
	}
	watch, ok := r.watches[transfer.Token]
	if !ok {
		r.logger.Debug("transfer from unwatched token", zap.String("token", transfer.Token.Hex()))
		return nil
	}

	ts, err := r.blockTimestampWithRetry(ctx, transfer.Block)
	if err != nil {
		return fmt.Errorf("block timestamp %d: %w", transfer.Block, err)
	}
	r.clock.Set(ts)
	if watch.Vault != nil {
		watch.Vault.PinBlock(transfer.Block)
	}

	for _, user := range transfer.parties() {
		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			err := r.notifier.OnStakeChanged(ctx, watch.Token, user, watch.Pool)
			if reward.IsFailure(err) {
				return permanent(err)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("sync stake of %s in pool %s at block %d: %w", user.Hex(), watch.Pool.Hex(), transfer.Block, err)
		}
	}
	return nil
}

func (r *Runner) unpinAll() {
	for _, w := range r.watches {
		if w.Vault != nil {
			w.Vault.Unpin()
		}
	}
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterTransfers(ctx, fromBlock, toBlock, r.tokens)
		if err != nil {
			r.logger.Warn("filter transfers failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
