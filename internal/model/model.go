package model

import (
	"database/sql"
)

type SecType string

const (
	Stock  SecType = "STK"
	Option SecType = "OPT"
)

type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

type OrderAction string

const (
	Buy  OrderAction = "BUY"
	Sell OrderAction = "SELL"
)

// Order statuses we act on. Only Submitted/PreSubmitted orders count as
// resting on the book.
const (
	StatusSubmitted    = "Submitted"
	StatusPreSubmitted = "PreSubmitted"
	StatusFilled       = "Filled"
	StatusCancelled    = "Cancelled"
)

type Portfolio struct {
	ID           int64   `db:"id"`
	Account      string  `db:"account"`
	BaseCurrency string  `db:"base_currency"`
	Benchmark    string  `db:"benchmark_symbol"`
	PutRatio     float64 `db:"put_ratio"`
}

// Currency is one direction of an exchange-rate edge. Converting an amount
// quoted in Currency into Base divides by Rate.
type Currency struct {
	Base     string  `db:"base"`
	Currency string  `db:"currency"`
	Rate     float64 `db:"rate"`
}

type Contract struct {
	ID                 int64           `db:"id"`
	ConID              sql.NullInt64   `db:"con_id"`
	SecType            SecType         `db:"sec_type"`
	Symbol             string          `db:"symbol"`
	Name               sql.NullString  `db:"name"`
	Exchange           sql.NullString  `db:"exchange"`
	Currency           string          `db:"currency"`
	Price              sql.NullFloat64 `db:"price"`
	Bid                sql.NullFloat64 `db:"bid"`
	Ask                sql.NullFloat64 `db:"ask"`
	PreviousClosePrice sql.NullFloat64 `db:"previous_close_price"`
}

type StockDetails struct {
	ID                   int64           `db:"id"`
	Industry             sql.NullString  `db:"industry"`
	Category             sql.NullString  `db:"category"`
	Subcategory          sql.NullString  `db:"subcategory"`
	HistoricalVolatility sql.NullFloat64 `db:"historical_volatility"`
}

type OptionDetails struct {
	ID                int64           `db:"id"`
	StockID           int64           `db:"stock_id"`
	CallOrPut         Right           `db:"call_or_put"`
	Strike            float64         `db:"strike"`
	LastTradeDate     string          `db:"last_trade_date"` // YYYY-MM-DD
	Multiplier        int64           `db:"multiplier"`
	ImpliedVolatility sql.NullFloat64 `db:"implied_volatility"`
	Delta             sql.NullFloat64 `db:"delta"`
	Gamma             sql.NullFloat64 `db:"gamma"`
	Vega              sql.NullFloat64 `db:"vega"`
	Theta             sql.NullFloat64 `db:"theta"`
	PvDividend        sql.NullFloat64 `db:"pv_dividend"`
}

type Balance struct {
	PortfolioID int64   `db:"portfolio_id"`
	Currency    string  `db:"currency"`
	Quantity    float64 `db:"quantity"`
}

type Position struct {
	PortfolioID int64   `db:"portfolio_id"`
	ContractID  int64   `db:"contract_id"`
	Quantity    float64 `db:"quantity"`
	Cost        float64 `db:"cost"`
	OpenDate    string  `db:"open_date"` // YYYY-MM-DD
}

type OpenOrder struct {
	ID           int64           `db:"id"`
	AccountID    int64           `db:"account_id"`
	ContractID   int64           `db:"contract_id"`
	PermID       sql.NullInt64   `db:"perm_id"`
	ClientID     sql.NullInt64   `db:"client_id"`
	OrderID      int64           `db:"order_id"`
	OrderRef     sql.NullString  `db:"order_ref"`
	ActionType   OrderAction     `db:"action_type"`
	TotalQty     float64         `db:"total_qty"`
	CashQty      sql.NullFloat64 `db:"cash_qty"`
	LmtPrice     sql.NullFloat64 `db:"lmt_price"`
	AuxPrice     sql.NullFloat64 `db:"aux_price"`
	Status       string          `db:"status"`
	RemainingQty float64         `db:"remaining_qty"`
}

// TradingParameter is one watch-list entry: the ceiling (as a fraction of
// NAV) committable to naked puts on that underlying. Zero disables the
// put strategy for the name while keeping it in the scan rotation.
type TradingParameter struct {
	PortfolioID int64   `db:"portfolio_id"`
	StockID     int64   `db:"stock_id"`
	Symbol      string  `db:"symbol"`
	NavRatio    float64 `db:"nav_ratio"`
}
