package ib

import "github.com/rylorin/wheel-bot/internal/model"

// TickType identifies the field a TickPrice event updates.
type TickType int

const (
	TickBid TickType = iota
	TickAsk
	TickLast
	TickClose
	TickHigh
	TickLow
	TickModelOption
	TickBidOption
	TickAskOption
	TickLastOption
)

// ContractSpec is the broker's description of an instrument, as carried on
// events and outbound requests. ConID is zero until the broker resolved the
// contract.
type ContractSpec struct {
	ConID           int64
	Symbol          string
	SecType         model.SecType
	Currency        string
	Exchange        string
	PrimaryExchange string
	LocalSymbol     string
	Strike          float64
	Right           model.Right
	LastTradeDate   string // YYYYMMDD
	Multiplier      int64
}

// Order mirrors the broker's order fields used by this agent.
type Order struct {
	Account       string
	Action        model.OrderAction
	OrderType     string
	TotalQuantity float64
	CashQty       float64
	LmtPrice      float64
	AuxPrice      float64
	TIF           string
	Transmit      bool
	Ref           string
	PermID        int64
	ClientID      int64
}

type Bar struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Event is one broker callback. The session layer delivers events one at a
// time; the agent consumes them in a single dispatch loop.
type Event interface{ isEvent() }

type ManagedAccounts struct{ Accounts []string }

type NextValidID struct{ OrderID int64 }

type UpdateAccountValue struct {
	Key      string
	Value    string
	Currency string
	Account  string
}

type UpdatePortfolio struct {
	Contract      ContractSpec
	Position      float64
	MarketPrice   float64
	MarketValue   float64
	AverageCost   float64
	UnrealizedPNL float64
	RealizedPNL   float64
	Account       string
}

type AccountDownloadEnd struct{ Account string }

// UpdateAccountTime is the periodic heartbeat; it is the only scheduler.
type UpdateAccountTime struct{ Timestamp string }

type PositionPush struct {
	Account     string
	Contract    ContractSpec
	Quantity    float64
	AverageCost float64
}

type OpenOrderPush struct {
	OrderID  int64
	Contract ContractSpec
	Order    Order
	Status   string
}

type OpenOrderEnd struct{}

type OrderStatus struct {
	OrderID      int64
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
	PermID       int64
	ClientID     int64
}

type ContractDetails struct {
	ReqID       int64
	Contract    ContractSpec
	Industry    string
	Category    string
	Subcategory string
}

type ContractDetailsEnd struct{ ReqID int64 }

type SecDefOptParams struct {
	ReqID           int64
	Exchange        string
	UnderlyingConID int64
	TradingClass    string
	Multiplier      int64
	Expirations     []string // YYYYMMDD
	Strikes         []float64
}

type SecDefOptParamsEnd struct{ ReqID int64 }

type TickPrice struct {
	ReqID int64
	Type  TickType
	Price float64
}

type TickOptionComputation struct {
	ReqID      int64
	Type       TickType
	ImpliedVol float64
	Delta      float64
	OptPrice   float64
	PvDividend float64
	Gamma      float64
	Vega       float64
	Theta      float64
	UndPrice   float64
}

type TickSnapshotEnd struct{ ReqID int64 }

type HistoricalData struct {
	ReqID int64
	Bar   Bar
}

type HistoricalDataEnd struct{ ReqID int64 }

type APIError struct {
	ReqID   int64
	Code    int
	Message string
}

func (ManagedAccounts) isEvent()       {}
func (NextValidID) isEvent()           {}
func (UpdateAccountValue) isEvent()    {}
func (UpdatePortfolio) isEvent()       {}
func (AccountDownloadEnd) isEvent()    {}
func (UpdateAccountTime) isEvent()     {}
func (PositionPush) isEvent()          {}
func (OpenOrderPush) isEvent()         {}
func (OpenOrderEnd) isEvent()          {}
func (OrderStatus) isEvent()           {}
func (ContractDetails) isEvent()       {}
func (ContractDetailsEnd) isEvent()    {}
func (SecDefOptParams) isEvent()       {}
func (SecDefOptParamsEnd) isEvent()    {}
func (TickPrice) isEvent()             {}
func (TickOptionComputation) isEvent() {}
func (TickSnapshotEnd) isEvent()       {}
func (HistoricalData) isEvent()        {}
func (HistoricalDataEnd) isEvent()     {}
func (APIError) isEvent()              {}
