package model

// PoolRecord is the persisted form of a reward pool's accumulator state.
// Amounts are base-10 strings so 256-bit values survive JSON and SQL text columns.
type PoolRecord struct {
	Pool              string `json:"pool"`
	Rate              string `json:"rate"`
	LastUpdate        uint64 `json:"last_update"`
	AccPerShare       string `json:"acc_per_share"`
	TotalStakedScaled string `json:"total_staked_scaled"`
	Decimals          uint8  `json:"decimals"`
	Distributed       string `json:"distributed"`
}
