// Package metrics counts the events an operator alarms on. The Counter
// indirection keeps trading code importable without a live registry.
package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesCompleted    Counter
	OrdersPlaced       Counter
	OrdersFailed       Counter
	PairsOpened        Counter
	PairsClosed        Counter
	Switches           Counter
	Rollbacks          Counter
	HedgeRepairs       Counter
	StateDesyncs       Counter
	RateLimitRejected  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesCompleted:   n,
		OrdersPlaced:      n,
		OrdersFailed:      n,
		PairsOpened:       n,
		PairsClosed:       n,
		Switches:          n,
		Rollbacks:         n,
		HedgeRepairs:      n,
		StateDesyncs:      n,
		RateLimitRejected: n,
	}
}
