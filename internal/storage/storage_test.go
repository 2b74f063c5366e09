package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"rewardLedger/internal/model"
)

func sampleSnapshot() model.LedgerSnapshot {
	return model.LedgerSnapshot{
		Pools: []model.PoolRecord{{
			Pool:              "0x1000000000000000000000000000000000000001",
			Rate:              "1000000000000000000",
			LastUpdate:        1700000100,
			AccPerShare:       "333333333333333333",
			TotalStakedScaled: "3000000000000000000",
			Decimals:          6,
			Distributed:       "5",
		}},
		Accounts: []model.AccountRecord{{
			User:            "0x000000000000000000000000000000000000a11c",
			Pool:            "0x1000000000000000000000000000000000000001",
			AccPerSharePaid: "333333333333333333",
			Accrued:         "0",
			Stake:           "3000000000000000000",
		}},
		Memberships: []model.MembershipRecord{{
			User:  "0x000000000000000000000000000000000000a11c",
			Pools: []string{"0x1000000000000000000000000000000000000001"},
		}},
		TotalDistributed: "5",
		Timestamp:        1700000100,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &FileStore{Path: filepath.Join(t.TempDir(), "nested", "ledger.json")}

	if _, ok, err := store.LoadSnapshot(ctx); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}

	want := sampleSnapshot()
	if err := store.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := store.LoadSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot mismatch:\n%+v\n%+v", got, want)
	}
}

func TestFileStoreDisabled(t *testing.T) {
	var store *FileStore
	if err := store.SaveSnapshot(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("nil store save: %v", err)
	}
	if _, ok, err := (&FileStore{}).LoadSnapshot(context.Background()); ok || err != nil {
		t.Fatalf("empty path should load nothing, ok=%v err=%v", ok, err)
	}
}

func TestJsonlSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := NewJsonlSink(path)

	first := []model.LedgerEvent{{Kind: model.EventPoolRegistered, Pool: "0x01", Rate: "10", Timestamp: 1}}
	second := []model.LedgerEvent{
		{Kind: model.EventStakeSynced, Pool: "0x01", User: "0x02", Stake: "7", TotalStaked: "7", AccPerShare: "0", Timestamp: 2},
		{Kind: model.EventRewardPaid, Pool: "0x01", User: "0x02", Amount: "30", Timestamp: 5},
	}
	if err := sink.PutEventBatch(first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := sink.PutEventBatch(nil); err != nil {
		t.Fatalf("put empty: %v", err)
	}
	if err := sink.PutEventBatch(second); err != nil {
		t.Fatalf("put second: %v", err)
	}

	got, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := append(first, second...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events mismatch:\n%+v\n%+v", got, want)
	}
}

type failingSink struct {
	calls int
}

func (f *failingSink) PutEventBatch([]model.LedgerEvent) error {
	f.calls++
	return errors.New("sink down")
}

type countingSink struct {
	events int
}

func (c *countingSink) PutEventBatch(events []model.LedgerEvent) error {
	c.events += len(events)
	return nil
}

func TestMultiSinkDeliversDespiteFailure(t *testing.T) {
	bad := &failingSink{}
	good := &countingSink{}
	sink := MultiSink{bad, nil, good}

	err := sink.PutEventBatch([]model.LedgerEvent{{Kind: model.EventRewardPaid}})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if bad.calls != 1 || good.events != 1 {
		t.Fatalf("fan-out mismatch: bad=%d good=%d", bad.calls, good.events)
	}
}
