package api

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/reward"
)

// Ledger is the read surface the API serves. *reward.Engine implements it.
type Ledger interface {
	Earned(user, pool common.Address) (*big.Int, error)
	PendingAcrossPools(user common.Address, pools []common.Address) (*big.Int, error)
	PoolInfo(pool common.Address) (reward.PoolState, error)
	Account(user, pool common.Address) (reward.AccountEntry, bool, error)
	UserPools(user common.Address) ([]common.Address, error)
	Pools() ([]common.Address, error)
	TotalDistributed() (*big.Int, error)
}

// Pool is the JSON view of a pool's accumulator.
type Pool struct {
	Pool              string `json:"pool"`
	Rate              string `json:"rate"`
	LastUpdate        uint64 `json:"lastUpdate"`
	AccPerShare       string `json:"accPerShare"`
	TotalStakedScaled string `json:"totalStakedScaled"`
	Decimals          uint8  `json:"decimals"`
	Distributed       string `json:"distributed"`
}

// Account is the JSON view of one (user, pool) entry.
type Account struct {
	User            string `json:"user"`
	Pool            string `json:"pool"`
	Exists          bool   `json:"exists"`
	AccPerSharePaid string `json:"accPerSharePaid"`
	Accrued         string `json:"accrued"`
	Stake           string `json:"stake"`
}

// Amount carries a reward amount in base units and formatted whole tokens.
type Amount struct {
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

func newAmount(v *big.Int) Amount {
	return Amount{Amount: v.String(), Formatted: fixedpoint.Format(v, fixedpoint.CanonicalDecimals)}
}

type API struct {
	ledger Ledger
}

func New(ledger Ledger) *API {
	return &API{ledger: ledger}
}

func (a *API) handleListPools(w http.ResponseWriter, _ *http.Request) error {
	ids, err := a.ledger.Pools()
	if err != nil {
		return err
	}
	out := make([]Pool, 0, len(ids))
	for _, id := range ids {
		p, err := a.ledger.PoolInfo(id)
		if err != nil {
			return err
		}
		out = append(out, poolView(p))
	}
	return writeJSON(w, out)
}

func (a *API) handleGetPool(w http.ResponseWriter, req *http.Request) error {
	pool, err := parseAddress("pool", mux.Vars(req)["pool"])
	if err != nil {
		return err
	}
	p, err := a.ledger.PoolInfo(pool)
	if err != nil {
		return err
	}
	return writeJSON(w, poolView(p))
}

func (a *API) handleUserPools(w http.ResponseWriter, req *http.Request) error {
	user, err := parseAddress("user", mux.Vars(req)["user"])
	if err != nil {
		return err
	}
	pools, err := a.ledger.UserPools(user)
	if err != nil {
		return err
	}
	out := make([]string, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Hex())
	}
	return writeJSON(w, out)
}

func (a *API) handleGetAccount(w http.ResponseWriter, req *http.Request) error {
	user, pool, err := userAndPool(req)
	if err != nil {
		return err
	}
	entry, ok, err := a.ledger.Account(user, pool)
	if err != nil {
		return err
	}
	view := Account{User: user.Hex(), Pool: pool.Hex(), Exists: ok, AccPerSharePaid: "0", Accrued: "0", Stake: "0"}
	if ok {
		view.AccPerSharePaid = entry.AccPerSharePaid.String()
		view.Accrued = entry.Accrued.String()
		view.Stake = entry.Stake.String()
	}
	return writeJSON(w, view)
}

func (a *API) handleEarned(w http.ResponseWriter, req *http.Request) error {
	user, pool, err := userAndPool(req)
	if err != nil {
		return err
	}
	amount, err := a.ledger.Earned(user, pool)
	if err != nil {
		return err
	}
	return writeJSON(w, newAmount(amount))
}

// handlePending sums earned over ?pools=a,b,... or, without it, every pool the user joined.
func (a *API) handlePending(w http.ResponseWriter, req *http.Request) error {
	user, err := parseAddress("user", mux.Vars(req)["user"])
	if err != nil {
		return err
	}
	var pools []common.Address
	if raw := req.URL.Query().Get("pools"); raw != "" {
		if pools, err = parseAddressList("pools", raw); err != nil {
			return err
		}
	} else if pools, err = a.ledger.UserPools(user); err != nil {
		return err
	}
	amount, err := a.ledger.PendingAcrossPools(user, pools)
	if err != nil {
		return err
	}
	return writeJSON(w, newAmount(amount))
}

func (a *API) handleTotalDistributed(w http.ResponseWriter, _ *http.Request) error {
	amount, err := a.ledger.TotalDistributed()
	if err != nil {
		return err
	}
	return writeJSON(w, newAmount(amount))
}

func (a *API) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/pools").Methods(http.MethodGet).HandlerFunc(wrap(a.handleListPools))
	sub.Path("/pools/{pool}").Methods(http.MethodGet).HandlerFunc(wrap(a.handleGetPool))
	sub.Path("/accounts/{user}/pools").Methods(http.MethodGet).HandlerFunc(wrap(a.handleUserPools))
	sub.Path("/accounts/{user}/pools/{pool}").Methods(http.MethodGet).HandlerFunc(wrap(a.handleGetAccount))
	sub.Path("/accounts/{user}/pools/{pool}/earned").Methods(http.MethodGet).HandlerFunc(wrap(a.handleEarned))
	sub.Path("/accounts/{user}/pending").Methods(http.MethodGet).HandlerFunc(wrap(a.handlePending))
	sub.Path("/distributed").Methods(http.MethodGet).HandlerFunc(wrap(a.handleTotalDistributed))
}

// NewRouter mounts the ledger API under /v1 and the metrics handler, when
// given, at /metrics.
func NewRouter(ledger Ledger, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()
	New(ledger).Mount(router, "/v1")
	if metrics != nil {
		router.Path("/metrics").Methods(http.MethodGet).Handler(metrics)
	}
	return router
}

// Handler compresses responses and, when origins are given, answers CORS
// requests from those origins.
func Handler(router http.Handler, origins []string) http.Handler {
	handler := handlers.CompressHandler(router)
	if len(origins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{http.MethodGet}),
		)(handler)
	}
	return handler
}

func userAndPool(req *http.Request) (common.Address, common.Address, error) {
	vars := mux.Vars(req)
	user, err := parseAddress("user", vars["user"])
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	pool, err := parseAddress("pool", vars["pool"])
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return user, pool, nil
}

func poolView(p reward.PoolState) Pool {
	return Pool{
		Pool:              p.ID.Hex(),
		Rate:              p.Rate.String(),
		LastUpdate:        p.LastUpdate,
		AccPerShare:       p.AccPerShare.String(),
		TotalStakedScaled: p.TotalStakedScaled.String(),
		Decimals:          p.Decimals,
		Distributed:       p.Distributed.String(),
	}
}
