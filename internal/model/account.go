package model

// AccountRecord is the persisted form of one (user, pool) ledger entry.
type AccountRecord struct {
	User            string `json:"user"`
	Pool            string `json:"pool"`
	AccPerSharePaid string `json:"acc_per_share_paid"`
	Accrued         string `json:"accrued"`
	Stake           string `json:"stake"`
}

// MembershipRecord lists the pools a user has interacted with, in first-seen order.
type MembershipRecord struct {
	User  string   `json:"user"`
	Pools []string `json:"pools"`
}
