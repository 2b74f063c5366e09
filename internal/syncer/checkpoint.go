package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpoint marks the last block whose transfers were applied to the ledger.
// BlockTime restores the ledger clock on resume; Tokens lists the share tokens
// watched when it was written.
type Checkpoint struct {
	LastProcessedBlock uint64   `json:"last_processed_block"`
	BlockTime          uint64   `json:"block_time"`
	Tokens             []string `json:"tokens"`
	UpdatedAt          string   `json:"updated_at"`
}

// unseenTokens returns the tokens that were not watched when cp was written.
// Their transfers before the checkpoint were never applied.
func (cp Checkpoint) unseenTokens(tokens []common.Address) []common.Address {
	known := make(map[common.Address]struct{}, len(cp.Tokens))
	for _, raw := range cp.Tokens {
		known[common.HexToAddress(raw)] = struct{}{}
	}
	var out []common.Address
	for _, token := range tokens {
		if _, ok := known[token]; !ok {
			out = append(out, token)
		}
	}
	return out
}

// CheckpointStore keeps the checkpoint in a JSON file. A disabled store loads
// nothing and saves nothing.
type CheckpointStore struct {
	path    string
	enabled bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != ""}
}

func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	if !c.enabled {
		return Checkpoint{}, false, nil
	}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	return cp, true, nil
}

// Save replaces the checkpoint atomically.
func (c *CheckpointStore) Save(block, blockTime uint64, tokens []common.Address) error {
	if !c.enabled {
		return nil
	}

	hexes := make([]string, 0, len(tokens))
	for _, token := range tokens {
		hexes = append(hexes, token.Hex())
	}
	sort.Strings(hexes)
	data, err := json.Marshal(Checkpoint{
		LastProcessedBlock: block,
		BlockTime:          blockTime,
		Tokens:             hexes,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
