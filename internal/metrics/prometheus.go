package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_funding_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		CyclesCompleted:   promCounter{counter("cycles_completed_total", "Decision cycles completed.")},
		OrdersPlaced:      promCounter{counter("orders_placed_total", "Orders placed.")},
		OrdersFailed:      promCounter{counter("orders_failed_total", "Order placement failures.")},
		PairsOpened:       promCounter{counter("pairs_opened_total", "Hedged pairs opened.")},
		PairsClosed:       promCounter{counter("pairs_closed_total", "Hedged pairs closed.")},
		Switches:          promCounter{counter("switches_total", "Position switches to a better symbol.")},
		Rollbacks:         promCounter{counter("rollbacks_total", "One sided entries rolled back.")},
		HedgeRepairs:      promCounter{counter("hedge_repairs_total", "Hedge drift repairs executed.")},
		StateDesyncs:      promCounter{counter("state_desyncs_total", "Persisted state contradicted the venue.")},
		RateLimitRejected: promCounter{counter("rate_limit_rejected_total", "Requests rejected by the local rate limiter.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
