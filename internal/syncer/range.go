package syncer

import "fmt"

// BlockRange is an inclusive span of blocks.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// Batches cuts r into consecutive sub-ranges of at most size blocks. The last
// batch carries the remainder.
func (r BlockRange) Batches(size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if r.To < r.From {
		return nil, fmt.Errorf("to block %d must be >= from block %d", r.To, r.From)
	}

	n := (r.Len() + size - 1) / size
	batches := make([]BlockRange, 0, n)
	for i := uint64(0); i < n; i++ {
		start := r.From + i*size
		batches = append(batches, BlockRange{From: start, To: min(start+size-1, r.To)})
	}
	return batches, nil
}
