package engine

import (
	"github.com/google/uuid"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/model"
	"github.com/shopspring/decimal"
)

const (
	_orderTypeMidprice = "MIDPRICE"
	_orderTypeLimit    = "LMT"

	// Midprice caps: the order works the NBBO midpoint, the cap only
	// bounds the worst acceptable fill.
	_buyPriceCap  = 1
	_sellPriceCap = 1000000
)

// baseOrder is the day, no-auto-transmit template every strategy order
// builds on.
func baseOrder(account string, action model.OrderAction, quantity float64) ib.Order {
	return ib.Order{
		Account:       account,
		Action:        action,
		TotalQuantity: quantity,
		TIF:           "DAY",
		Transmit:      false,
		Ref:           "wheel-" + uuid.NewString(),
	}
}

func midpriceOrder(account string, action model.OrderAction, quantity, priceCap float64) ib.Order {
	o := baseOrder(account, action, quantity)
	o.OrderType = _orderTypeMidprice
	o.LmtPrice = priceCap
	return o
}

// BuyBenchmark buys benchmark shares at the midpoint and transmits
// immediately.
func BuyBenchmark(account string, quantity float64) ib.Order {
	o := midpriceOrder(account, model.Buy, quantity, _buyPriceCap)
	o.Transmit = true
	return o
}

func SellBenchmark(account string, quantity float64) ib.Order {
	o := midpriceOrder(account, model.Sell, quantity, _sellPriceCap)
	o.Transmit = true
	return o
}

// SellNakedPut is a one-contract day limit sell at the computed mid.
func SellNakedPut(account string, price float64) ib.Order {
	o := baseOrder(account, model.Sell, 1)
	o.OrderType = _orderTypeLimit
	o.LmtPrice = price
	return o
}

func SellCoveredCall(account string, quantity, price float64) ib.Order {
	o := baseOrder(account, model.Sell, quantity)
	o.OrderType = _orderTypeLimit
	o.LmtPrice = price
	return o
}

// MidPrice is the bid/ask midpoint rounded to cents. A missing ask falls
// back to the bid.
func MidPrice(bid, ask float64) float64 {
	if ask <= 0 {
		return bid
	}
	mid := decimal.NewFromFloat(bid).
		Add(decimal.NewFromFloat(ask)).
		Div(decimal.NewFromInt(2)).
		Round(2)
	f, _ := mid.Float64()
	return f
}
