package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rewardLedger/internal/fixedpoint"
	"rewardLedger/internal/model"
)

const namespace = "reward_ledger"

// Recorder turns ledger events into Prometheus series. It is an event sink and
// owns its registry so several recorders can coexist in tests.
type Recorder struct {
	registry    *prometheus.Registry
	events      *prometheus.CounterVec
	paid        *prometheus.CounterVec
	rate        *prometheus.GaugeVec
	totalStaked *prometheus.GaugeVec
	lastEvent   prometheus.Gauge
	distributed prometheus.Gauge
	pools       prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed ledger events by kind.",
		}, []string{"kind"}),
		paid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_paid_tokens_total",
			Help:      "Reward tokens minted to claimants, in whole tokens.",
		}, []string{"pool"}),
		rate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_rate_tokens_per_second",
			Help:      "Current emission rate per pool, in whole tokens.",
		}, []string{"pool"}),
		totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_total_staked",
			Help:      "Normalised total stake per pool at its last sync.",
		}, []string{"pool"}),
		lastEvent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Ledger time of the most recent event.",
		}),
		distributed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "distributed_tokens",
			Help:      "Rewards paid across all pools as of the last snapshot, in whole tokens.",
		}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pools",
			Help:      "Registered pools as of the last snapshot.",
		}),
	}
	r.registry.MustRegister(r.events, r.paid, r.rate, r.totalStaked, r.lastEvent, r.distributed, r.pools)
	return r
}

// PutEventBatch updates series from a batch of committed events.
func (r *Recorder) PutEventBatch(events []model.LedgerEvent) error {
	for _, e := range events {
		r.events.WithLabelValues(e.Kind).Inc()
		if e.Timestamp > 0 {
			r.lastEvent.Set(float64(e.Timestamp))
		}
		switch e.Kind {
		case model.EventPoolRegistered, model.EventRateUpdated:
			r.rate.WithLabelValues(e.Pool).Set(tokens(e.Rate))
		case model.EventStakeSynced:
			r.totalStaked.WithLabelValues(e.Pool).Set(tokens(e.TotalStaked))
		case model.EventRewardPaid:
			r.paid.WithLabelValues(e.Pool).Add(tokens(e.Amount))
		}
	}
	return nil
}

// ObserveSnapshot sets the per-pool gauges from a full ledger snapshot.
func (r *Recorder) ObserveSnapshot(snap model.LedgerSnapshot) {
	r.distributed.Set(tokens(snap.TotalDistributed))
	r.pools.Set(float64(len(snap.Pools)))
	for _, p := range snap.Pools {
		r.rate.WithLabelValues(p.Pool).Set(tokens(p.Rate))
		r.totalStaked.WithLabelValues(p.Pool).Set(tokens(p.TotalStakedScaled))
	}
}

// Registry exposes the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's series in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// tokens converts an 18-decimal base-10 amount to a float of whole tokens.
// Malformed or empty values read as zero.
func tokens(value string) float64 {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(fixedpoint.Scale)).Float64()
	return f
}
