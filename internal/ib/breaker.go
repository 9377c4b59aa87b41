package ib

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerRequester guards outbound calls with a circuit breaker: once the
// transport keeps failing, further requests short-circuit until the breaker
// half-opens, so a dead session doesn't queue up a backlog of writes.
type BreakerRequester struct {
	next Requester
	cb   *gobreaker.CircuitBreaker
}

var _ Requester = (*BreakerRequester)(nil)

func NewBreakerRequester(next Requester) *BreakerRequester {
	return &BreakerRequester{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ib-session",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (r *BreakerRequester) call(f func() error) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	return err
}

func (r *BreakerRequester) ReqAccountUpdates(subscribe bool, account string) error {
	return r.call(func() error { return r.next.ReqAccountUpdates(subscribe, account) })
}

func (r *BreakerRequester) ReqIDs() error {
	return r.call(func() error { return r.next.ReqIDs() })
}

func (r *BreakerRequester) ReqOpenOrders() error {
	return r.call(func() error { return r.next.ReqOpenOrders() })
}

func (r *BreakerRequester) ReqMarketDataType(t MarketDataType) error {
	return r.call(func() error { return r.next.ReqMarketDataType(t) })
}

func (r *BreakerRequester) ReqContractDetails(reqID int64, c ContractSpec) error {
	return r.call(func() error { return r.next.ReqContractDetails(reqID, c) })
}

func (r *BreakerRequester) ReqSecDefOptParams(reqID int64, symbol string, secType string, conID int64) error {
	return r.call(func() error { return r.next.ReqSecDefOptParams(reqID, symbol, secType, conID) })
}

func (r *BreakerRequester) ReqMktData(reqID int64, c ContractSpec, genericTicks string, snapshot bool) error {
	return r.call(func() error { return r.next.ReqMktData(reqID, c, genericTicks, snapshot) })
}

func (r *BreakerRequester) ReqHistoricalData(reqID int64, c ContractSpec, duration, barSize, whatToShow string) error {
	return r.call(func() error { return r.next.ReqHistoricalData(reqID, c, duration, barSize, whatToShow) })
}

func (r *BreakerRequester) PlaceOrder(orderID int64, c ContractSpec, o Order) error {
	return r.call(func() error { return r.next.PlaceOrder(orderID, c, o) })
}

func (r *BreakerRequester) CancelOrder(orderID int64) error {
	return r.call(func() error { return r.next.CancelOrder(orderID) })
}
