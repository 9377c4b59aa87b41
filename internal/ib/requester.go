package ib

import (
	"sync/atomic"
)

// MarketDataType selects the broker's quote feed flavor.
type MarketDataType int

const (
	MarketDataRealtime MarketDataType = 1
	MarketDataFrozen   MarketDataType = 2
	MarketDataDelayed  MarketDataType = 3
)

// Requester is the outbound half of the broker session. The connectivity
// layer (handshake, framing, request/response correlation on the wire) is
// provided externally; every method is fire-and-forget, answers come back
// as Events.
type Requester interface {
	ReqAccountUpdates(subscribe bool, account string) error
	ReqIDs() error
	ReqOpenOrders() error
	ReqMarketDataType(t MarketDataType) error
	ReqContractDetails(reqID int64, c ContractSpec) error
	ReqSecDefOptParams(reqID int64, symbol string, secType string, conID int64) error
	ReqMktData(reqID int64, c ContractSpec, genericTicks string, snapshot bool) error
	ReqHistoricalData(reqID int64, c ContractSpec, duration, barSize, whatToShow string) error
	PlaceOrder(orderID int64, c ContractSpec, o Order) error
	CancelOrder(orderID int64) error
}

// IDAllocator hands out correlation ids for market-data requests and broker
// order ids. Order ids start from the broker-provided next-valid-id.
type IDAllocator struct {
	nextTickerID int64
	nextOrderID  int64
}

const _firstTickerID = 1024

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{nextTickerID: _firstTickerID}
}

func (a *IDAllocator) NextTickerID() int64 {
	return atomic.AddInt64(&a.nextTickerID, 1)
}

// SetNextOrderID seeds the order-id sequence from a NextValidID event.
func (a *IDAllocator) SetNextOrderID(id int64) {
	atomic.StoreInt64(&a.nextOrderID, id)
}

func (a *IDAllocator) NextOrderID() int64 {
	return atomic.AddInt64(&a.nextOrderID, 1) - 1
}
