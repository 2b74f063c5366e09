package model

// LedgerSnapshot is a complete, self-contained copy of the reward ledger.
type LedgerSnapshot struct {
	Pools            []PoolRecord       `json:"pools"`
	Accounts         []AccountRecord    `json:"accounts"`
	Memberships      []MembershipRecord `json:"memberships"`
	TotalDistributed string             `json:"total_distributed"`
	Timestamp        uint64             `json:"timestamp"`
}

// Empty reports whether the snapshot carries no ledger state.
func (s LedgerSnapshot) Empty() bool {
	return len(s.Pools) == 0 && len(s.Accounts) == 0 && len(s.Memberships) == 0
}
