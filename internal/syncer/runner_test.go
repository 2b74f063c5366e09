package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rewardLedger/internal/chain"
	"rewardLedger/internal/reward"
)

var (
	poolA  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenA = common.HexToAddress("0x2000000000000000000000000000000000000001")
	alice  = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fakeSource struct {
	latest uint64
	times  map[uint64]uint64
	logs   []types.Log
	fails  int
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	ts, ok := f.times[number]
	if !ok {
		return 0, fmt.Errorf("unknown block %d", number)
	}
	return ts, nil
}

func (f *fakeSource) FilterTransfers(_ context.Context, from, to uint64, _ []common.Address) ([]types.Log, error) {
	if f.fails > 0 {
		f.fails--
		return nil, fmt.Errorf("rpc unavailable")
	}
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

type notification struct {
	caller common.Address
	user   common.Address
	pool   common.Address
	at     uint64
}

type recordingNotifier struct {
	clock *reward.ManualClock
	calls []notification
	err   error
}

func (n *recordingNotifier) OnStakeChanged(_ context.Context, caller, user, pool common.Address) error {
	n.calls = append(n.calls, notification{caller: caller, user: user, pool: pool, at: n.clock.Now()})
	return n.err
}

type recordingPinner struct {
	pins     []uint64
	unpinned bool
}

func (p *recordingPinner) PinBlock(n uint64) { p.pins = append(p.pins, n) }
func (p *recordingPinner) Unpin()           { p.unpinned = true }

func transferLog(t *testing.T, token, from, to common.Address, block uint64, index uint) types.Log {
	t.Helper()
	topic, err := chain.TransferTopic()
	if err != nil {
		t.Fatalf("transfer topic: %v", err)
	}
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{topic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		BlockNumber: block,
		TxHash:      common.BigToHash(common.Big1),
		Index:       index,
	}
}

func newTestSource(t *testing.T) *fakeSource {
	zero := common.Address{}
	src := &fakeSource{
		latest: 16,
		times:  map[uint64]uint64{10: 1000, 12: 1024, 13: 1030, 15: 1050, 16: 1060},
	}
	dup := transferLog(t, tokenA, alice, bob, 12, 1)
	removed := transferLog(t, tokenA, bob, alice, 13, 2)
	removed.Removed = true
	src.logs = []types.Log{
		transferLog(t, tokenA, zero, alice, 10, 0),
		dup,
		dup,
		removed,
		transferLog(t, tokenA, bob, zero, 15, 3),
	}
	return src
}

func TestRunnerAppliesTransfers(t *testing.T) {
	src := newTestSource(t)
	clock := reward.NewManualClock(0)
	notifier := &recordingNotifier{clock: clock}
	pinner := &recordingPinner{}
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	runner, err := NewRunner(RunConfig{
		FromBlock:         10,
		BatchSize:         4,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}, src, notifier, clock, []Watch{{Pool: poolA, Token: tokenA, Vault: pinner}}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	var hooked []BlockRange
	runner.OnBatch(func(_ context.Context, r BlockRange, _ uint64) error {
		hooked = append(hooked, r)
		return nil
	})

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []notification{
		{caller: tokenA, user: alice, pool: poolA, at: 1000},
		{caller: tokenA, user: alice, pool: poolA, at: 1024},
		{caller: tokenA, user: bob, pool: poolA, at: 1024},
		{caller: tokenA, user: bob, pool: poolA, at: 1050},
	}
	if !reflect.DeepEqual(notifier.calls, want) {
		t.Fatalf("notifications mismatch:\n%+v\n%+v", notifier.calls, want)
	}
	if !reflect.DeepEqual(pinner.pins, []uint64{10, 12, 15}) {
		t.Fatalf("pinned blocks mismatch: %v", pinner.pins)
	}
	if !pinner.unpinned {
		t.Fatalf("vault left pinned")
	}
	if clock.Now() != 1060 {
		t.Fatalf("clock = %d, want 1060", clock.Now())
	}
	if !reflect.DeepEqual(hooked, []BlockRange{{From: 10, To: 13}, {From: 14, To: 16}}) {
		t.Fatalf("hooked ranges mismatch: %+v", hooked)
	}

	cp, ok, err := NewCheckpointStore(cpPath, true).Load()
	if err != nil || !ok {
		t.Fatalf("load checkpoint: ok=%v err=%v", ok, err)
	}
	if cp.LastProcessedBlock != 16 || cp.BlockTime != 1060 {
		t.Fatalf("checkpoint mismatch: %+v", cp)
	}
	if !reflect.DeepEqual(cp.Tokens, []string{tokenA.Hex()}) {
		t.Fatalf("checkpoint tokens mismatch: %v", cp.Tokens)
	}
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	src := newTestSource(t)
	clock := reward.NewManualClock(0)
	notifier := &recordingNotifier{clock: clock}
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := NewCheckpointStore(cpPath, true).Save(13, 1030, []common.Address{tokenA}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	runner, err := NewRunner(RunConfig{
		FromBlock:         10,
		BatchSize:         10,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}, src, notifier, clock, []Watch{{Pool: poolA, Token: tokenA}}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []notification{{caller: tokenA, user: bob, pool: poolA, at: 1050}}
	if !reflect.DeepEqual(notifier.calls, want) {
		t.Fatalf("notifications mismatch: %+v", notifier.calls)
	}
}

func TestRunnerRetriesFilterTransfers(t *testing.T) {
	src := newTestSource(t)
	src.fails = 2
	clock := reward.NewManualClock(0)
	notifier := &recordingNotifier{clock: clock}

	runner, err := NewRunner(RunConfig{FromBlock: 10, ToBlock: 10, BatchSize: 1, MaxRetries: 2, RetryBackoff: 1},
		src, notifier, clock, []Watch{{Pool: poolA, Token: tokenA}}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
}

func TestRunnerDoesNotRetryLedgerFailures(t *testing.T) {
	src := newTestSource(t)
	clock := reward.NewManualClock(0)
	notifier := &recordingNotifier{clock: clock, err: fmt.Errorf("%w: not the vault", reward.ErrUnauthorized)}

	runner, err := NewRunner(RunConfig{FromBlock: 10, ToBlock: 10, BatchSize: 1, MaxRetries: 3, RetryBackoff: 1},
		src, notifier, clock, []Watch{{Pool: poolA, Token: tokenA}}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	err = runner.Run(context.Background())
	if !reward.IsFailure(err) {
		t.Fatalf("expected ledger failure, got %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("ledger failure retried: %d calls", len(notifier.calls))
	}
}

func TestNewRunnerRejectsDuplicateToken(t *testing.T) {
	watches := []Watch{{Pool: poolA, Token: tokenA}, {Pool: common.Address{9}, Token: tokenA}}
	if _, err := NewRunner(RunConfig{BatchSize: 1}, &fakeSource{}, &recordingNotifier{}, reward.NewManualClock(0), watches, nil); err == nil {
		t.Fatalf("expected duplicate token error")
	}
}

func TestTransferParties(t *testing.T) {
	zero := common.Address{}
	cases := []struct {
		from, to common.Address
		want     []common.Address
	}{
		{zero, alice, []common.Address{alice}},
		{alice, zero, []common.Address{alice}},
		{alice, bob, []common.Address{alice, bob}},
		{alice, alice, []common.Address{alice}},
	}
	for _, c := range cases {
		got := shareTransfer{From: c.from, To: c.to}.parties()
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("parties(%s, %s) = %v, want %v", c.from.Hex(), c.to.Hex(), got, c.want)
		}
	}
}

func TestDecodeTransferRejectsShortTopics(t *testing.T) {
	if _, err := decodeTransfer(types.Log{Topics: []common.Hash{{}}}); err == nil {
		t.Fatalf("expected error for truncated topics")
	}
}

func TestCheckpointUnseenTokens(t *testing.T) {
	cp := Checkpoint{Tokens: []string{tokenA.Hex()}}
	tokenB := common.HexToAddress("0x2000000000000000000000000000000000000002")
	got := cp.unseenTokens([]common.Address{tokenA, tokenB})
	if !reflect.DeepEqual(got, []common.Address{tokenB}) {
		t.Fatalf("unseen tokens mismatch: %v", got)
	}
}

func TestCheckpointStoreDisabled(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "cp.json"), false)
	if err := store.Save(5, 50, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("disabled store loaded a checkpoint: ok=%v err=%v", ok, err)
	}
}
