package reward

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/model"
)

// PoolState is the accumulator record of one reward pool.
type PoolState struct {
	ID                common.Address
	Rate              *big.Int
	LastUpdate        uint64
	AccPerShare       *big.Int
	TotalStakedScaled *big.Int
	Decimals          uint8
	Distributed       *big.Int
}

func newPoolState(id common.Address, rate *big.Int, decimals uint8, now uint64) *PoolState {
	return &PoolState{
		ID:                id,
		Rate:              new(big.Int).Set(rate),
		LastUpdate:        now,
		AccPerShare:       new(big.Int),
		TotalStakedScaled: new(big.Int),
		Decimals:          decimals,
		Distributed:       new(big.Int),
	}
}

func (p *PoolState) clone() PoolState {
	return PoolState{
		ID:                p.ID,
		Rate:              new(big.Int).Set(p.Rate),
		LastUpdate:        p.LastUpdate,
		AccPerShare:       new(big.Int).Set(p.AccPerShare),
		TotalStakedScaled: new(big.Int).Set(p.TotalStakedScaled),
		Decimals:          p.Decimals,
		Distributed:       new(big.Int).Set(p.Distributed),
	}
}

// accPerShareAt projects the accumulator to now without mutating the pool.
// Intervals with no stake outstanding add nothing.
func (p *PoolState) accPerShareAt(now uint64) *big.Int {
	acc := new(big.Int).Set(p.AccPerShare)
	if now <= p.LastUpdate || p.TotalStakedScaled.Sign() == 0 || p.Rate.Sign() == 0 {
		return acc
	}
	emitted := new(big.Int).Mul(p.Rate, new(big.Int).SetUint64(now-p.LastUpdate))
	return acc.Add(acc, fixedpoint.MulDiv(emitted, fixedpoint.Scale, p.TotalStakedScaled))
}

// refresh brings the accumulator up to now over the previous denominator, then
// installs nextTotal (if any) as the denominator for the following interval.
func (p *PoolState) refresh(now uint64, nextTotal *big.Int) {
	if now > p.LastUpdate {
		p.AccPerShare = p.accPerShareAt(now)
		p.LastUpdate = now
	}
	if nextTotal != nil {
		p.TotalStakedScaled = new(big.Int).Set(nextTotal)
	}
}

// AccountEntry is the ledger record of one user in one pool. Stake is the scaled
// balance recorded at the user's last stake-change notification.
type AccountEntry struct {
	AccPerSharePaid *big.Int
	Accrued         *big.Int
	Stake           *big.Int
}

func newAccountEntry(acc *big.Int) *AccountEntry {
	return &AccountEntry{
		AccPerSharePaid: new(big.Int).Set(acc),
		Accrued:         new(big.Int),
		Stake:           new(big.Int),
	}
}

func (a *AccountEntry) clone() AccountEntry {
	return AccountEntry{
		AccPerSharePaid: new(big.Int).Set(a.AccPerSharePaid),
		Accrued:         new(big.Int).Set(a.Accrued),
		Stake:           new(big.Int).Set(a.Stake),
	}
}

// pendingAt is accrued plus what the recorded stake earned since the last settlement.
func (a *AccountEntry) pendingAt(acc *big.Int) *big.Int {
	out := new(big.Int).Set(a.Accrued)
	if a.Stake.Sign() == 0 {
		return out
	}
	diff := new(big.Int).Sub(acc, a.AccPerSharePaid)
	return out.Add(out, fixedpoint.MulDiv(a.Stake, diff, fixedpoint.Scale))
}

// settle folds the delta since the last snapshot into Accrued.
func (a *AccountEntry) settle(acc *big.Int) {
	a.Accrued = a.pendingAt(acc)
	a.AccPerSharePaid = new(big.Int).Set(acc)
}

type accountKey struct {
	user common.Address
	pool common.Address
}

type membership struct {
	pools []common.Address
	seen  map[common.Address]struct{}
}

func (m *membership) add(pool common.Address) bool {
	if _, ok := m.seen[pool]; ok {
		return false
	}
	m.seen[pool] = struct{}{}
	m.pools = append(m.pools, pool)
	return true
}

// Ledger is the store of pool, account, and membership records. It is owned by
// exactly one Engine, which is its only writer.
type Ledger struct {
	pools            map[common.Address]*PoolState
	accounts         map[accountKey]*AccountEntry
	members          map[common.Address]*membership
	totalDistributed *big.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		pools:            make(map[common.Address]*PoolState),
		accounts:         make(map[accountKey]*AccountEntry),
		members:          make(map[common.Address]*membership),
		totalDistributed: new(big.Int),
	}
}

func (l *Ledger) account(user, pool common.Address) *AccountEntry {
	return l.accounts[accountKey{user: user, pool: pool}]
}

func (l *Ledger) ensureAccount(user common.Address, pool *PoolState) *AccountEntry {
	key := accountKey{user: user, pool: pool.ID}
	entry := l.accounts[key]
	if entry == nil {
		entry = newAccountEntry(pool.AccPerShare)
		l.accounts[key] = entry
	}
	m := l.members[user]
	if m == nil {
		m = &membership{seen: make(map[common.Address]struct{})}
		l.members[user] = m
	}
	m.add(pool.ID)
	return entry
}

func (l *Ledger) userPools(user common.Address) []common.Address {
	m := l.members[user]
	if m == nil {
		return nil
	}
	out := make([]common.Address, len(m.pools))
	copy(out, m.pools)
	return out
}

func (l *Ledger) poolIDs() []common.Address {
	ids := make([]common.Address, 0, len(l.pools))
	for id := range l.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Cmp(ids[j]) < 0
	})
	return ids
}

// Snapshot exports the ledger in a stable order.
func (l *Ledger) Snapshot(ts uint64) model.LedgerSnapshot {
	snap := model.LedgerSnapshot{
		TotalDistributed: l.totalDistributed.String(),
		Timestamp:        ts,
	}
	for _, id := range l.poolIDs() {
		p := l.pools[id]
		snap.Pools = append(snap.Pools, model.PoolRecord{
			Pool:              id.Hex(),
			Rate:              p.Rate.String(),
			LastUpdate:        p.LastUpdate,
			AccPerShare:       p.AccPerShare.String(),
			TotalStakedScaled: p.TotalStakedScaled.String(),
			Decimals:          p.Decimals,
			Distributed:       p.Distributed.String(),
		})
	}

	keys := make([]accountKey, 0, len(l.accounts))
	for key := range l.accounts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := keys[i].user.Cmp(keys[j].user); c != 0 {
			return c < 0
		}
		return keys[i].pool.Cmp(keys[j].pool) < 0
	})
	for _, key := range keys {
		a := l.accounts[key]
		snap.Accounts = append(snap.Accounts, model.AccountRecord{
			User:            key.user.Hex(),
			Pool:            key.pool.Hex(),
			AccPerSharePaid: a.AccPerSharePaid.String(),
			Accrued:         a.Accrued.String(),
			Stake:           a.Stake.String(),
		})
	}

	users := make([]common.Address, 0, len(l.members))
	for user := range l.members {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Cmp(users[j]) < 0
	})
	for _, user := range users {
		rec := model.MembershipRecord{User: user.Hex()}
		for _, pool := range l.members[user].pools {
			rec.Pools = append(rec.Pools, pool.Hex())
		}
		snap.Memberships = append(snap.Memberships, rec)
	}
	return snap
}

// LedgerFromSnapshot rebuilds a ledger exported by Snapshot.
func LedgerFromSnapshot(snap model.LedgerSnapshot) (*Ledger, error) {
	l := NewLedger()
	total, err := fixedpoint.ParseInt(snap.TotalDistributed)
	if err != nil {
		return nil, fmt.Errorf("total distributed: %w", err)
	}
	l.totalDistributed = total

	for _, rec := range snap.Pools {
		id, err := parseAddress(rec.Pool)
		if err != nil {
			return nil, err
		}
		p := &PoolState{ID: id, LastUpdate: rec.LastUpdate, Decimals: rec.Decimals}
		if p.Rate, err = fixedpoint.ParseInt(rec.Rate); err != nil {
			return nil, fmt.Errorf("pool %s rate: %w", rec.Pool, err)
		}
		if p.AccPerShare, err = fixedpoint.ParseInt(rec.AccPerShare); err != nil {
			return nil, fmt.Errorf("pool %s acc per share: %w", rec.Pool, err)
		}
		if p.TotalStakedScaled, err = fixedpoint.ParseInt(rec.TotalStakedScaled); err != nil {
			return nil, fmt.Errorf("pool %s total staked: %w", rec.Pool, err)
		}
		if p.Distributed, err = fixedpoint.ParseInt(rec.Distributed); err != nil {
			return nil, fmt.Errorf("pool %s distributed: %w", rec.Pool, err)
		}
		l.pools[id] = p
	}

	for _, rec := range snap.Accounts {
		user, err := parseAddress(rec.User)
		if err != nil {
			return nil, err
		}
		pool, err := parseAddress(rec.Pool)
		if err != nil {
			return nil, err
		}
		if _, ok := l.pools[pool]; !ok {
			return nil, fmt.Errorf("account %s references unregistered pool %s", rec.User, rec.Pool)
		}
		a := &AccountEntry{}
		if a.AccPerSharePaid, err = fixedpoint.ParseInt(rec.AccPerSharePaid); err != nil {
			return nil, fmt.Errorf("account %s paid: %w", rec.User, err)
		}
		if a.Accrued, err = fixedpoint.ParseInt(rec.Accrued); err != nil {
			return nil, fmt.Errorf("account %s accrued: %w", rec.User, err)
		}
		if a.Stake, err = fixedpoint.ParseInt(rec.Stake); err != nil {
			return nil, fmt.Errorf("account %s stake: %w", rec.User, err)
		}
		l.accounts[accountKey{user: user, pool: pool}] = a
	}

	for _, rec := range snap.Memberships {
		user, err := parseAddress(rec.User)
		if err != nil {
			return nil, err
		}
		m := &membership{seen: make(map[common.Address]struct{})}
		for _, raw := range rec.Pools {
			pool, err := parseAddress(raw)
			if err != nil {
				return nil, err
			}
			m.add(pool)
		}
		l.members[user] = m
	}
	return l, nil
}

func parseAddress(input string) (common.Address, error) {
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// journal restores touched records if an operation fails after mutating.
type journal struct {
	ledger   *Ledger
	undo     []func()
	pools    map[common.Address]struct{}
	accounts map[accountKey]struct{}
	total    bool
}

func newJournal(l *Ledger) *journal {
	return &journal{
		ledger:   l,
		pools:    make(map[common.Address]struct{}),
		accounts: make(map[accountKey]struct{}),
	}
}

func (j *journal) pool(p *PoolState) {
	if _, ok := j.pools[p.ID]; ok {
		return
	}
	j.pools[p.ID] = struct{}{}
	saved := p.clone()
	j.undo = append(j.undo, func() { *p = saved })
}

func (j *journal) account(user, pool common.Address, a *AccountEntry) {
	key := accountKey{user: user, pool: pool}
	if _, ok := j.accounts[key]; ok {
		return
	}
	j.accounts[key] = struct{}{}
	saved := a.clone()
	j.undo = append(j.undo, func() { *a = saved })
}

func (j *journal) totalDistributed() {
	if j.total {
		return
	}
	j.total = true
	saved := new(big.Int).Set(j.ledger.totalDistributed)
	j.undo = append(j.undo, func() { j.ledger.totalDistributed = saved })
}

func (j *journal) revert() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}
