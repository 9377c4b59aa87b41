// Package agent is the dispatch loop: it consumes the broker's event
// stream one callback at a time, mirrors state, and drives the scanner and
// the strategies.
package agent

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/rylorin/wheel-bot/internal/config"
	"github.com/rylorin/wheel-bot/internal/engine"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/mirror"
	"github.com/rylorin/wheel-bot/internal/model"
	"github.com/rylorin/wheel-bot/internal/quotes"
	"github.com/rylorin/wheel-bot/internal/registry"
	"github.com/rylorin/wheel-bot/internal/scanner"
)

// Generic ticks requested with stock snapshots: option-implied and
// historical volatility.
const _stockGenericTicks = "104,106"

// Status is the agent's externally visible state, served over HTTP.
type Status struct {
	Account         string    `json:"account"`
	PortfolioLoaded bool      `json:"portfolio_loaded"`
	OrdersLoaded    bool      `json:"orders_loaded"`
	OptionDataReady bool      `json:"option_data_ready"`
	ScannerState    string    `json:"scanner_state"`
	ScanCycles      int       `json:"scan_cycles"`
	PendingRequests int       `json:"pending_requests"`
	NAV             float64   `json:"nav"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Agent struct {
	cfg    config.Config
	logger logger.Logger

	req     ib.Requester
	ids     *ib.IDAllocator
	pending *ib.PendingBook

	registry *registry.Store
	mirror   *mirror.Store
	quotes   *quotes.Store
	scanner  *scanner.Scanner
	engine   *engine.Engine

	account         string
	portfolioLoaded bool
	ordersLoaded    bool
	navBase         float64

	mu     sync.RWMutex
	status Status
}

func New(
	cfg config.Config,
	req ib.Requester,
	ids *ib.IDAllocator,
	pending *ib.PendingBook,
	reg *registry.Store,
	mir *mirror.Store,
	qts *quotes.Store,
	scn *scanner.Scanner,
	eng *engine.Engine,
	log logger.Logger,
) *Agent {
	a := &Agent{
		cfg:      cfg,
		logger:   log,
		req:      req,
		ids:      ids,
		pending:  pending,
		registry: reg,
		mirror:   mir,
		quotes:   qts,
		scanner:  scn,
		engine:   eng,
	}
	eng.Loaded = func() bool { return a.portfolioLoaded && a.ordersLoaded }
	eng.OptionDataReady = scn.DataReady
	return a
}

// Run consumes the event stream until the context ends or the stream
// closes. Events are handled strictly one at a time.
func (a *Agent) Run(ctx context.Context, events <-chan ib.Event) error {
	for {
		select {
		case <-ctx.Done():
			if a.account != "" {
				if err := a.req.ReqAccountUpdates(false, a.account); err != nil {
					a.logger.Warnf("can't unsubscribe account updates: %v", err)
				}
			}
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := a.Dispatch(e, time.Now()); err != nil {
				a.logger.Errorf("event %T failed: %v", e, err)
			}
			a.publishStatus()
		}
	}
}

// Dispatch handles a single broker callback. Handlers are idempotent; a
// failed one is dropped and the next consistent push repairs the mirror.
func (a *Agent) Dispatch(e ib.Event, now time.Time) error {
	switch e := e.(type) {
	case ib.ManagedAccounts:
		return a.handleManagedAccounts(e)
	case ib.NextValidID:
		a.ids.SetNextOrderID(e.OrderID)
		return nil
	case ib.UpdateAccountValue:
		return a.handleAccountValue(e)
	case ib.UpdatePortfolio:
		return a.handlePortfolioUpdate(e)
	case ib.AccountDownloadEnd:
		a.portfolioLoaded = true
		return nil
	case ib.UpdateAccountTime:
		a.heartbeat(now)
		return nil
	case ib.PositionPush:
		return a.handlePosition(e)
	case ib.OpenOrderPush:
		return a.handleOpenOrder(e)
	case ib.OpenOrderEnd:
		a.ordersLoaded = true
		return nil
	case ib.OrderStatus:
		return a.mirror.UpdateOrderStatus(e.OrderID, e.Status, e.Remaining)
	case ib.ContractDetails:
		return a.handleContractDetails(e, now)
	case ib.ContractDetailsEnd:
		a.resolveAndRearm(e.ReqID)
		return nil
	case ib.SecDefOptParams:
		if e.Exchange != "SMART" {
			return nil
		}
		return a.scanner.HandleOptionParams(e, now)
	case ib.SecDefOptParamsEnd:
		a.resolveAndRearm(e.ReqID)
		return nil
	case ib.TickPrice:
		return a.handleTickPrice(e)
	case ib.TickOptionComputation:
		return a.handleTickComputation(e)
	case ib.TickSnapshotEnd:
		a.resolveAndRearm(e.ReqID)
		return nil
	case ib.HistoricalData:
		return a.handleHistoricalData(e)
	case ib.HistoricalDataEnd:
		a.resolveAndRearm(e.ReqID)
		return nil
	case ib.APIError:
		a.handleAPIError(e)
		return nil
	default:
		return nil
	}
}

// handleManagedAccounts runs the session start on the first announcement:
// truncate session tables, seed the watch list, subscribe to the streams.
// Later announcements are ignored.
func (a *Agent) handleManagedAccounts(e ib.ManagedAccounts) error {
	if a.account != "" || len(e.Accounts) == 0 {
		return nil
	}
	a.account = e.Accounts[0]
	a.logger.Infof("session start for account %s", a.account)

	_, err := a.mirror.EnsurePortfolio(a.account, a.cfg.BaseCurrency, a.cfg.Benchmark.Symbol, a.cfg.Strategy.NakedPutRatio)
	if err != nil {
		return err
	}
	if err := a.mirror.ResetSession(a.account); err != nil {
		return err
	}
	for _, item := range a.cfg.WatchList {
		id, err := a.registry.FindOrCreateContract(ib.ContractSpec{
			Symbol:   item.Symbol,
			SecType:  model.Stock,
			Currency: "USD",
		})
		if err != nil {
			return err
		}
		if err := a.mirror.UpsertTradingParameter(a.account, id, item.NavRatio); err != nil {
			return err
		}
	}

	a.pending.Reset()
	a.portfolioLoaded = false
	a.ordersLoaded = false
	if err := a.scanner.Start(a.account); err != nil {
		return err
	}

	// Frozen quotes return the last close outside trading hours, which
	// the strategies prefer over nothing.
	if err := a.req.ReqMarketDataType(ib.MarketDataFrozen); err != nil {
		return err
	}
	if err := a.req.ReqAccountUpdates(true, a.account); err != nil {
		return err
	}
	if err := a.req.ReqIDs(); err != nil {
		return err
	}
	return a.req.ReqOpenOrders()
}

func (a *Agent) handleAccountValue(e ib.UpdateAccountValue) error {
	switch {
	case e.Key == "CashBalance" && e.Currency != "BASE":
		quantity, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			a.logger.Warnf("bad cash balance %q for %s", e.Value, e.Currency)
			return nil
		}
		return a.mirror.UpsertBalance(a.account, e.Currency, quantity)
	case e.Key == "ExchangeRate" && e.Currency != "BASE":
		rate, err := strconv.ParseFloat(e.Value, 64)
		if err != nil {
			a.logger.Warnf("bad exchange rate %q for %s", e.Value, e.Currency)
			return nil
		}
		return a.mirror.UpsertExchangeRate(a.account, e.Currency, rate)
	case e.Key == "NetLiquidationByCurrency" && e.Currency == "BASE":
		nav, err := strconv.ParseFloat(e.Value, 64)
		if err == nil {
			a.navBase = nav
		}
		return nil
	}
	return nil
}

func (a *Agent) handlePortfolioUpdate(e ib.UpdatePortfolio) error {
	if e.Contract.SecType != model.Stock && e.Contract.SecType != model.Option {
		return nil
	}
	// Strikes arrive in pence on this callback for GBP contracts, unlike
	// the position callback.
	if e.Contract.Currency == "GBP" {
		e.Contract.Strike /= 100
	}

	cid, err := a.registry.FindOrCreateContract(e.Contract)
	if err != nil || cid == 0 {
		return err
	}
	if err := a.mirror.CreateOrUpdatePosition(a.account, cid, e.Position, e.AverageCost); err != nil {
		return err
	}
	if err := a.mirror.UpdateContractPrice(cid, e.MarketPrice); err != nil {
		return err
	}

	switch e.Contract.SecType {
	case model.Stock:
		symbol := registry.NormalizeSymbol(e.Contract.Symbol)
		return a.engine.SellCoveredCalls(a.account, symbol, e.Contract.Currency, e.Position, e.AverageCost)
	case model.Option:
		return a.engine.CheckRoll(a.account, cid, e.Position)
	}
	return nil
}

func (a *Agent) handlePosition(e ib.PositionPush) error {
	cid, err := a.registry.FindOrCreateContract(e.Contract)
	if err != nil || cid == 0 {
		return err
	}
	return a.mirror.CreateOrUpdatePosition(a.account, cid, e.Quantity, e.AverageCost)
}

func (a *Agent) handleOpenOrder(e ib.OpenOrderPush) error {
	cid, err := a.registry.FindOrCreateContract(e.Contract)
	if err != nil || cid == 0 {
		return err
	}
	return a.mirror.InsertOpenOrder(a.account, cid, e.OrderID, model.OpenOrder{
		PermID:     nullInt(e.Order.PermID),
		ClientID:   nullInt(e.Order.ClientID),
		OrderRef:   nullString(e.Order.Ref),
		ActionType: e.Order.Action,
		TotalQty:   e.Order.TotalQuantity,
		CashQty:    nullFloat(e.Order.CashQty),
		LmtPrice:   nullFloat(e.Order.LmtPrice),
		AuxPrice:   nullFloat(e.Order.AuxPrice),
		Status:     e.Status,
	})
}

// handleContractDetails resolves the announced contract locally and, when
// the details answer one of the scanner's requests, chains the next
// request: option parameters for a stock, a quote snapshot for an option.
func (a *Agent) handleContractDetails(e ib.ContractDetails, now time.Time) error {
	p, tracked := a.pending.Lookup(e.ReqID)

	cid, err := a.registry.FindOrCreateContract(e.Contract)
	if err != nil || cid == 0 {
		return err
	}

	switch e.Contract.SecType {
	case model.Stock:
		if err := a.registry.UpdateStockDetails(e.Contract.ConID, e.Industry, e.Category, e.Subcategory); err != nil {
			return err
		}
		if !tracked || p.Kind != ib.PendingContractDetails {
			return nil
		}
		if err := a.scanner.HandleStockResolved(p.Symbol, e.Contract.ConID); err != nil {
			return err
		}
		reqID := a.ids.NextTickerID()
		a.pending.Track(reqID, ib.Pending{Kind: ib.PendingSnapshot, ContractID: cid, Symbol: p.Symbol})
		return a.req.ReqMktData(reqID, e.Contract, _stockGenericTicks, true)
	case model.Option:
		if err := a.mirror.ClearOptionQuotes(cid); err != nil {
			return err
		}
		if !tracked || p.Kind != ib.PendingContractDetails {
			return nil
		}
		return a.scanner.RequestSnapshot(cid, e.Contract, now)
	}
	return nil
}

func (a *Agent) handleTickPrice(e ib.TickPrice) error {
	p, ok := a.pending.Lookup(e.ReqID)
	if !ok || p.ContractID == 0 {
		return nil
	}
	return a.quotes.ApplyTickPrice(p.ContractID, e.Type, e.Price)
}

func (a *Agent) handleTickComputation(e ib.TickOptionComputation) error {
	p, ok := a.pending.Lookup(e.ReqID)
	if !ok || p.ContractID == 0 {
		return nil
	}
	return a.quotes.ApplyGreeks(p.ContractID, e)
}

func (a *Agent) handleHistoricalData(e ib.HistoricalData) error {
	p, ok := a.pending.Lookup(e.ReqID)
	if !ok || p.Kind != ib.PendingHistory {
		return nil
	}
	cid, err := a.registry.FindOrCreateContract(ib.ContractSpec{
		Symbol:   p.Symbol,
		SecType:  model.Stock,
		Currency: "USD",
	})
	if err != nil || cid == 0 {
		return err
	}
	return a.quotes.ApplyHistoricalVolatility(cid, e.Bar)
}

// handleAPIError releases the correlation mark so the scan never stalls
// on a failed request. Benign "no data" codes are part of a normal walk.
func (a *Agent) handleAPIError(e ib.APIError) {
	switch {
	case ib.IsBenign(e.Code):
		a.logger.Debugf("broker: no data for req %d (code %d)", e.ReqID, e.Code)
		a.resolveAndRearm(e.ReqID)
	case ib.IsStatus(e.Code):
		a.logger.Infof("broker status %d: %s", e.Code, e.Message)
	default:
		a.logger.Warnf("broker error %d for req %d: %s", e.Code, e.ReqID, e.Message)
		a.resolveAndRearm(e.ReqID)
	}
}

// heartbeat is the only scheduler: the broker's periodic account-time
// push drives the scanner and the cooled-down strategies.
func (a *Agent) heartbeat(now time.Time) {
	if a.account == "" {
		return
	}
	if err := a.scanner.Tick(now); err != nil {
		a.logger.Errorf("scanner tick failed: %v", err)
	}
	if err := a.engine.AdjustCash(a.account, now); err != nil {
		a.logger.Errorf("cash adjustment failed: %v", err)
	}
	if err := a.engine.SellNakedPuts(a.account, now); err != nil {
		a.logger.Errorf("put selling failed: %v", err)
	}
}

func (a *Agent) resolveAndRearm(reqID int64) {
	if _, ok := a.pending.Resolve(reqID); !ok {
		return
	}
	if a.pending.Len() == 0 {
		a.scanner.Rearm()
	}
}

func (a *Agent) publishStatus() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = Status{
		Account:         a.account,
		PortfolioLoaded: a.portfolioLoaded,
		OrdersLoaded:    a.ordersLoaded,
		OptionDataReady: a.scanner.DataReady(),
		ScannerState:    a.scanner.State().String(),
		ScanCycles:      a.scanner.Cycles(),
		PendingRequests: a.pending.Len(),
		NAV:             a.navBase,
		UpdatedAt:       time.Now(),
	}
}

// Status returns the last published snapshot. Safe from other goroutines.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
