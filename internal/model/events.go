package model

// Ledger event kinds.
const (
	EventPoolRegistered = "pool_registered"
	EventRateUpdated    = "rate_updated"
	EventStakeSynced    = "stake_synced"
	EventRewardPaid     = "reward_paid"
)

// LedgerEvent records a committed ledger mutation.
type LedgerEvent struct {
	Kind        string `json:"kind"`
	Pool        string `json:"pool,omitempty"`
	User        string `json:"user,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Rate        string `json:"rate,omitempty"`
	Stake       string `json:"stake,omitempty"`
	TotalStaked string `json:"total_staked,omitempty"`
	AccPerShare string `json:"acc_per_share,omitempty"`
	Timestamp   uint64 `json:"timestamp"`
}
