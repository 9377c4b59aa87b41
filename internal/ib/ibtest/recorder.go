// Package ibtest provides a recording fake of the broker session for tests.
package ibtest

import (
	"github.com/rylorin/wheel-bot/internal/ib"
)

type PlacedOrder struct {
	OrderID  int64
	Contract ib.ContractSpec
	Order    ib.Order
}

type MktDataReq struct {
	ReqID        int64
	Contract     ib.ContractSpec
	GenericTicks string
	Snapshot     bool
}

type ContractDetailsReq struct {
	ReqID    int64
	Contract ib.ContractSpec
}

// Recorder implements ib.Requester and records every outbound call.
type Recorder struct {
	AccountUpdates  []bool
	IDRequests      int
	OpenOrderReqs   int
	MarketDataTypes []ib.MarketDataType
	ContractDetails []ContractDetailsReq
	OptParamReqs    []int64
	MktData         []MktDataReq
	Historical      []int64
	Placed          []PlacedOrder
	Cancelled       []int64

	// Err, when set, is returned from every call.
	Err error
}

var _ ib.Requester = (*Recorder)(nil)

func (r *Recorder) ReqAccountUpdates(subscribe bool, account string) error {
	r.AccountUpdates = append(r.AccountUpdates, subscribe)
	return r.Err
}

func (r *Recorder) ReqIDs() error {
	r.IDRequests++
	return r.Err
}

func (r *Recorder) ReqOpenOrders() error {
	r.OpenOrderReqs++
	return r.Err
}

func (r *Recorder) ReqMarketDataType(t ib.MarketDataType) error {
	r.MarketDataTypes = append(r.MarketDataTypes, t)
	return r.Err
}

func (r *Recorder) ReqContractDetails(reqID int64, c ib.ContractSpec) error {
	r.ContractDetails = append(r.ContractDetails, ContractDetailsReq{ReqID: reqID, Contract: c})
	return r.Err
}

func (r *Recorder) ReqSecDefOptParams(reqID int64, symbol string, secType string, conID int64) error {
	r.OptParamReqs = append(r.OptParamReqs, reqID)
	return r.Err
}

func (r *Recorder) ReqMktData(reqID int64, c ib.ContractSpec, genericTicks string, snapshot bool) error {
	r.MktData = append(r.MktData, MktDataReq{ReqID: reqID, Contract: c, GenericTicks: genericTicks, Snapshot: snapshot})
	return r.Err
}

func (r *Recorder) ReqHistoricalData(reqID int64, c ib.ContractSpec, duration, barSize, whatToShow string) error {
	r.Historical = append(r.Historical, reqID)
	return r.Err
}

func (r *Recorder) PlaceOrder(orderID int64, c ib.ContractSpec, o ib.Order) error {
	r.Placed = append(r.Placed, PlacedOrder{OrderID: orderID, Contract: c, Order: o})
	return r.Err
}

func (r *Recorder) CancelOrder(orderID int64) error {
	r.Cancelled = append(r.Cancelled, orderID)
	return r.Err
}
