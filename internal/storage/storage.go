package storage

import (
	"context"
	"errors"

	"rewardLedger/internal/model"
)

// SnapshotStore persists whole-ledger snapshots. Load reports false when
// nothing has been saved yet.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (model.LedgerSnapshot, bool, error)
	SaveSnapshot(ctx context.Context, snapshot model.LedgerSnapshot) error
}

// EventStorage defines a sink for ledger events.
type EventStorage interface {
	PutEventBatch(events []model.LedgerEvent) error
}

// MultiSink fans a batch out to every sink and joins their errors.
type MultiSink []EventStorage

func (m MultiSink) PutEventBatch(events []model.LedgerEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutEventBatch(events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
