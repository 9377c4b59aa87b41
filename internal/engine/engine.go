// Package engine holds the three throttled trading strategies: cash
// rebalancing against the benchmark, naked-put selling and covered-call
// selling, plus the roll check.
package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rylorin/wheel-bot/internal/config"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/mirror"
	"github.com/rylorin/wheel-bot/internal/model"
)

// Engine evaluates the strategies against the mirrored state. Guards come
// from the agent: Loaded reports the portfolio and order book fully
// streamed, OptionDataReady reports at least one finished scan rotation.
type Engine struct {
	cfg    config.StrategyConfig
	store  *mirror.Store
	req    ib.Requester
	ids    *ib.IDAllocator
	logger logger.Logger

	Loaded          func() bool
	OptionDataReady func() bool

	lastCashAdjust time.Time
	lastNakedPuts  time.Time
}

func New(
	cfg config.StrategyConfig,
	store *mirror.Store,
	req ib.Requester,
	ids *ib.IDAllocator,
	log logger.Logger,
) *Engine {
	always := func() bool { return true }
	return &Engine{
		cfg:             cfg,
		store:           store,
		req:             req,
		ids:             ids,
		logger:          log,
		Loaded:          always,
		OptionDataReady: always,
	}
}

// AdjustCash keeps free cash deployed in the benchmark: negative net cash
// sells shares to cover in-the-money short puts, surplus cash buys shares.
// The resulting share delta is compared against what already rests on the
// book; equality means no churn.
func (e *Engine) AdjustCash(account string, now time.Time) error {
	if !e.Loaded() {
		return nil
	}
	if !e.lastCashAdjust.IsZero() && now.Sub(e.lastCashAdjust) < e.cfg.CashAdjustEvery {
		return nil
	}
	e.lastCashAdjust = now

	p, err := e.store.Portfolio(account)
	if err != nil {
		return err
	}
	benchmark := p.Benchmark

	totalCash, err := e.store.TotalCashInBase(account)
	if err != nil {
		return err
	}
	itmPuts, err := e.store.ItmNakedPutAmount(account)
	if err != nil {
		return err
	}

	stockOnBuy, err := e.store.StockQuantityOnOrderBook(account, benchmark, model.Buy)
	if err != nil {
		return err
	}
	putSellsOnBook, err := e.store.OptionsQuantityOnOrderBook(account, benchmark, model.Put, model.Sell)
	if err != nil {
		return err
	}
	onBuy := stockOnBuy - putSellsOnBook

	stockOnSale, err := e.store.StockQuantityOnOrderBook(account, benchmark, model.Sell)
	if err != nil {
		return err
	}
	callSellsOnBook, err := e.store.OptionsQuantityOnOrderBook(account, benchmark, model.Call, model.Sell)
	if err != nil {
		return err
	}
	onSale := stockOnSale - callSellsOnBook

	price, ok, err := e.store.SymbolPrice(benchmark)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Debugf("no benchmark price yet, skipping cash adjustment")
		return nil
	}
	priceInBase, _, err := e.store.SymbolPriceInBase(account, benchmark)
	if err != nil {
		return err
	}
	currency, err := e.store.SymbolCurrency(benchmark)
	if err != nil {
		return err
	}
	balance, err := e.store.CurrencyBalance(account, currency)
	if err != nil {
		return err
	}
	rate, err := e.store.BaseToCurrencyRate(account, currency)
	if err != nil {
		return err
	}

	netCash := totalCash + itmPuts

	var toAdjust float64
	switch {
	case netCash < 0:
		toAdjust = netCash / priceInBase
	case balance >= netCash*rate:
		// Puts already sold on the benchmark reserve cash for assignment.
		benchmarkPuts, err := e.store.NakedPutAmount(account, benchmark)
		if err != nil {
			return err
		}
		netCash += benchmarkPuts
		if netCash > 0 {
			toAdjust = netCash * rate / price
		}
	}
	toAdjust = math.Floor(toAdjust)

	if toAdjust == onBuy+onSale {
		return nil
	}

	for _, action := range []model.OrderAction{model.Buy, model.Sell} {
		ids, err := e.store.StockOrderIDs(account, benchmark, action)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.req.CancelOrder(id); err != nil {
				return fmt.Errorf("%w: can't cancel benchmark order %d", err, id)
			}
		}
	}

	// Resting put sells deliver shares if assigned; count them against the
	// buy side before sizing the order.
	toAdjust += putSellsOnBook

	spec := ib.ContractSpec{Symbol: benchmark, SecType: model.Stock, Currency: currency, Exchange: "SMART"}
	switch {
	case toAdjust > 0:
		e.logger.Infof("rebalance: buying %.0f %s", toAdjust, benchmark)
		return e.place(spec, BuyBenchmark(account, toAdjust))
	case toAdjust < 0:
		e.logger.Infof("rebalance: selling %.0f %s", -toAdjust, benchmark)
		return e.place(spec, SellBenchmark(account, -toAdjust))
	}
	return nil
}

// SellNakedPuts deploys spare NAV capacity into the highest-yielding
// screened put. At most one order per cycle.
func (e *Engine) SellNakedPuts(account string, now time.Time) error {
	if !e.Loaded() || !e.OptionDataReady() {
		return nil
	}
	if !e.lastNakedPuts.IsZero() && now.Sub(e.lastNakedPuts) < e.cfg.NakedPutsEvery {
		return nil
	}
	e.lastNakedPuts = now

	unpriced, err := e.store.HasUnpricedPositions(account)
	if err != nil {
		return err
	}
	if unpriced {
		e.logger.Debugf("positions without quotes, skipping put selling")
		return nil
	}

	nav, err := e.portfolioNAV(account)
	if err != nil {
		return err
	}
	engaged, err := e.store.TotalNakedPutAmount(account)
	if err != nil {
		return err
	}
	onOrder, err := e.store.PutOrderNotional(account, "")
	if err != nil {
		return err
	}

	puttable := nav*e.cfg.NakedPutRatio + engaged + onOrder
	e.logger.Debugf("nav %.2f, puttable %.2f", nav, puttable)
	if puttable <= 0 {
		return nil
	}

	watch, err := e.store.WatchList(account)
	if err != nil {
		return err
	}
	ratios := make(map[string]float64, len(watch))
	for _, item := range watch {
		ratios[item.Symbol] = item.NavRatio
	}

	// One ranked list across every scanned underlying; the best-yielding
	// candidate that fits its symbol's ceiling wins.
	candidates, err := e.store.PutCandidates(account, "", e.cfg.MinBid, e.cfg.PutMaxDelta, puttable, e.cfg.YieldDayCountBase)
	if err != nil {
		return err
	}
	for _, cand := range candidates {
		ratio := ratios[cand.Underlying]
		if ratio <= 0 {
			continue
		}
		item := model.TradingParameter{Symbol: cand.Underlying, NavRatio: ratio}
		fits, notional, err := e.fitsSymbolCeiling(account, item, cand, nav)
		if err != nil {
			return err
		}
		if !fits {
			continue
		}
		e.logger.Infof("selling put %s %.1f %s, yield %.1f%%, notional %.2f",
			cand.Underlying, cand.Strike, cand.LastTradeDate, cand.Yield*100, notional)
		return e.place(candidateSpec(cand, model.Put), SellNakedPut(account, MidPrice(cand.Bid, cand.Ask)))
	}
	return nil
}

// fitsSymbolCeiling checks a prospective put against the per-symbol NAV
// ceiling, counting stock held, puts engaged and puts already on order.
func (e *Engine) fitsSymbolCeiling(account string, item model.TradingParameter, cand mirror.Candidate, nav float64) (bool, float64, error) {
	stockValue, err := e.store.StockValueInBase(account, item.Symbol)
	if err != nil {
		return false, 0, err
	}
	putsEngaged, err := e.store.NakedPutAmount(account, item.Symbol)
	if err != nil {
		return false, 0, err
	}
	putsOnOrder, err := e.store.PutOrderNotional(account, item.Symbol)
	if err != nil {
		return false, 0, err
	}
	rate, err := e.store.BaseToCurrencyRate(account, cand.Currency)
	if err != nil {
		return false, 0, err
	}

	notional := cand.Strike * float64(cand.Multiplier) / rate
	exposure := stockValue - putsEngaged - putsOnOrder + notional
	return exposure <= nav*item.NavRatio, notional, nil
}

// SellCoveredCalls runs on each stock portfolio push. Position plus
// everything already promised for delivery must cover at least one
// contract.
func (e *Engine) SellCoveredCalls(account, symbol, currency string, position, averageCost float64) error {
	if !e.Loaded() || !e.OptionDataReady() {
		return nil
	}
	if currency != "USD" || position < 100 {
		return nil
	}

	stockOnSale, err := e.store.StockQuantityOnOrderBook(account, symbol, model.Sell)
	if err != nil {
		return err
	}
	shortCalls, err := e.store.ShortCallShareEquivalent(account, symbol)
	if err != nil {
		return err
	}
	callSellsOnBook, err := e.store.OptionsQuantityOnOrderBook(account, symbol, model.Call, model.Sell)
	if err != nil {
		return err
	}

	net := position + stockOnSale + shortCalls + callSellsOnBook
	if net < 100 {
		return nil
	}

	candidates, err := e.store.CallCandidates(symbol, e.cfg.MinBid, e.cfg.CallMaxDelta, averageCost, e.cfg.YieldDayCountBase)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	cand := candidates[0]
	contracts := math.Floor(net / 100)
	e.logger.Infof("selling %.0f covered call(s) %s %.1f %s, yield %.1f%%",
		contracts, cand.Underlying, cand.Strike, cand.LastTradeDate, cand.Yield*100)
	return e.place(candidateSpec(cand, model.Call),
		SellCoveredCall(account, contracts, MidPrice(cand.Bid, cand.Ask)))
}

// CheckRoll logs credit-roll candidates for a short in-the-money option.
// It never places the replacement order.
func (e *Engine) CheckRoll(account string, contractID int64, position float64) error {
	if !e.Loaded() || position >= 0 {
		return nil
	}
	itm, err := e.store.OptionInTheMoney(contractID)
	if err != nil {
		return err
	}
	if !itm {
		return nil
	}

	candidates, err := e.store.RollCandidates(contractID, e.cfg.YieldDayCountBase)
	if err != nil {
		return err
	}
	for i, cand := range candidates {
		e.logger.Infof("roll candidate %d for contract %d: %s %.1f %s bid %.2f yield %.1f%%",
			i+1, contractID, cand.Underlying, cand.Strike, cand.LastTradeDate, cand.Bid, cand.Yield*100)
	}
	return nil
}

func (e *Engine) portfolioNAV(account string) (float64, error) {
	cash, err := e.store.TotalCashInBase(account)
	if err != nil {
		return 0, err
	}
	stocks, err := e.store.StocksValueInBase(account)
	if err != nil {
		return 0, err
	}
	options, err := e.store.OptionsValueInBase(account)
	if err != nil {
		return 0, err
	}
	return cash + stocks + options, nil
}

func (e *Engine) place(spec ib.ContractSpec, order ib.Order) error {
	orderID := e.ids.NextOrderID()
	if err := e.req.PlaceOrder(orderID, spec, order); err != nil {
		return fmt.Errorf("%w: can't place order %d", err, orderID)
	}
	return nil
}

// candidateSpec rebuilds the broker contract description for a screened
// option, by con_id when resolved, by identity otherwise.
func candidateSpec(c mirror.Candidate, right model.Right) ib.ContractSpec {
	return ib.ContractSpec{
		ConID:         c.ConID,
		Symbol:        c.Underlying,
		SecType:       model.Option,
		Currency:      c.Currency,
		Exchange:      "SMART",
		Strike:        c.Strike,
		Right:         right,
		LastTradeDate: strings.ReplaceAll(c.LastTradeDate, "-", ""),
		Multiplier:    c.Multiplier,
	}
}
