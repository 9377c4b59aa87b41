package agent

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rylorin/wheel-bot/internal/config"
	"github.com/rylorin/wheel-bot/internal/engine"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/ib/ibtest"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/mirror"
	"github.com/rylorin/wheel-bot/internal/model"
	"github.com/rylorin/wheel-bot/internal/quotes"
	"github.com/rylorin/wheel-bot/internal/registry"
	"github.com/rylorin/wheel-bot/internal/scanner"
	"github.com/rylorin/wheel-bot/internal/sqlite"
	"github.com/stretchr/testify/require"
)

const _testAccount = "DU12345"

type harness struct {
	agent   *Agent
	rec     *ibtest.Recorder
	pending *ib.PendingBook
	mirror  *mirror.Store
	db      *sqlx.DB
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.NewDB(&sqlite.Config{Path: t.TempDir() + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{
		BaseCurrency: "USD",
		Benchmark:    config.BenchmarkConfig{Symbol: "VT", Currency: "USD"},
		WatchList: []config.WatchItem{
			{Symbol: "CCL", NavRatio: 0.25},
			{Symbol: "MGM", NavRatio: 0.15},
		},
	}
	require.NoError(t, cfg.ValidateAndSetup())

	log := logger.Nop{}
	rec := &ibtest.Recorder{}
	ids := ib.NewIDAllocator()
	pending := ib.NewPendingBook()
	mir := mirror.NewStore(db, log)
	reg := registry.NewStore(db, log)
	qts := quotes.NewStore(db, log)
	scn := scanner.New(cfg.Scanner, rec, ids, pending, mir, log)
	eng := engine.New(cfg.Strategy, mir, rec, ids, log)
	a := New(cfg, rec, ids, pending, reg, mir, qts, scn, eng, log)

	return &harness{agent: a, rec: rec, pending: pending, mirror: mir, db: db, now: time.Now()}
}

func (h *harness) dispatch(t *testing.T, e ib.Event) {
	t.Helper()
	require.NoError(t, h.agent.Dispatch(e, h.now))
}

func (h *harness) startSession(t *testing.T) {
	t.Helper()
	h.dispatch(t, ib.ManagedAccounts{Accounts: []string{_testAccount}})
	h.dispatch(t, ib.NextValidID{OrderID: 500})
	h.dispatch(t, ib.UpdateAccountValue{Key: "ExchangeRate", Value: "1", Currency: "USD", Account: _testAccount})
}

func TestManagedAccountsStartsSession(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)

	require.Equal(t, []bool{true}, h.rec.AccountUpdates)
	require.Equal(t, 1, h.rec.IDRequests)
	require.Equal(t, 1, h.rec.OpenOrderReqs)
	require.Equal(t, []ib.MarketDataType{ib.MarketDataFrozen}, h.rec.MarketDataTypes)

	list, err := h.mirror.WatchList(_testAccount)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "CCL", list[0].Symbol)

	// Re-announcement is a no-op.
	h.dispatch(t, ib.ManagedAccounts{Accounts: []string{_testAccount}})
	require.Len(t, h.rec.AccountUpdates, 1)
}

func TestSessionResetClearsStaleState(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)

	h.dispatch(t, ib.UpdateAccountValue{Key: "CashBalance", Value: "5000", Currency: "USD", Account: _testAccount})

	var balance float64
	require.NoError(t, h.db.Get(&balance, "SELECT quantity FROM balance WHERE currency = 'USD'"))
	require.InDelta(t, 5000, balance, 1e-9)
}

func TestHeartbeatDrivesScannerAndStrategies(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.dispatch(t, ib.AccountDownloadEnd{Account: _testAccount})
	h.dispatch(t, ib.OpenOrderEnd{})

	h.dispatch(t, ib.UpdateAccountTime{Timestamp: "10:00"})

	// First heartbeat starts the scan on the top watch-list symbol.
	require.NotEmpty(t, h.rec.ContractDetails)
	require.Equal(t, "CCL", h.rec.ContractDetails[0].Contract.Symbol)
	require.Len(t, h.rec.Historical, 1)
}

func TestContractDetailsChainsOptionParams(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.dispatch(t, ib.AccountDownloadEnd{Account: _testAccount})
	h.dispatch(t, ib.OpenOrderEnd{})
	h.dispatch(t, ib.UpdateAccountTime{Timestamp: "10:00"})

	detailsReq := h.rec.ContractDetails[0]
	h.dispatch(t, ib.ContractDetails{
		ReqID:    detailsReq.ReqID,
		Contract: ib.ContractSpec{ConID: 9001, Symbol: "CCL", SecType: model.Stock, Currency: "USD"},
		Industry: "Consumer, Cyclical",
	})

	require.Len(t, h.rec.OptParamReqs, 1)
	// The stock snapshot carries the volatility generic ticks.
	require.Len(t, h.rec.MktData, 1)
	require.Equal(t, "104,106", h.rec.MktData[0].GenericTicks)
	require.True(t, h.rec.MktData[0].Snapshot)

	var industry string
	require.NoError(t, h.db.Get(&industry, "SELECT industry FROM stock WHERE id = (SELECT id FROM contract WHERE con_id = 9001)"))
	require.Equal(t, "Consumer, Cyclical", industry)
}

func TestOptionDetailsTriggerSnapshot(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.dispatch(t, ib.AccountDownloadEnd{Account: _testAccount})
	h.dispatch(t, ib.OpenOrderEnd{})
	h.dispatch(t, ib.UpdateAccountTime{Timestamp: "10:00"})

	reqID := int64(7777)
	h.pending.Track(reqID, ib.Pending{Kind: ib.PendingContractDetails, Symbol: "CCL"})
	h.dispatch(t, ib.ContractDetails{
		ReqID: reqID,
		Contract: ib.ContractSpec{
			ConID: 9100, Symbol: "CCL", SecType: model.Option, Currency: "USD",
			Strike: 15, Right: model.Put, LastTradeDate: "20270115", Multiplier: 100,
		},
	})

	require.Len(t, h.rec.MktData, 1)
	require.True(t, h.rec.MktData[0].Snapshot)
	require.Empty(t, h.rec.MktData[0].GenericTicks)

	// The snapshot's ticks land on the option row.
	snapID := h.rec.MktData[0].ReqID
	h.dispatch(t, ib.TickPrice{ReqID: snapID, Type: ib.TickBid, Price: 0.55})
	h.dispatch(t, ib.TickOptionComputation{ReqID: snapID, Type: ib.TickModelOption, ImpliedVol: 0.5, Delta: -0.2})
	var bid float64
	require.NoError(t, h.db.Get(&bid, "SELECT bid FROM contract WHERE con_id = 9100"))
	require.InDelta(t, 0.55, bid, 1e-9)
}

func TestPortfolioUpdateMirrorsPosition(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)

	h.dispatch(t, ib.UpdatePortfolio{
		Contract:    ib.ContractSpec{ConID: 9001, Symbol: "CCL", SecType: model.Stock, Currency: "USD"},
		Position:    200,
		MarketPrice: 16.5,
		AverageCost: 15.0,
		Account:     _testAccount,
	})

	var qty, price float64
	require.NoError(t, h.db.Get(&qty, "SELECT quantity FROM position WHERE contract_id = (SELECT id FROM contract WHERE con_id = 9001)"))
	require.InDelta(t, 200, qty, 1e-9)
	require.NoError(t, h.db.Get(&price, "SELECT price FROM contract WHERE con_id = 9001"))
	require.InDelta(t, 16.5, price, 1e-9)
}

func TestPortfolioUpdateSkipsCashAndUnknown(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)

	h.dispatch(t, ib.UpdatePortfolio{
		Contract: ib.ContractSpec{Symbol: "EUR.USD", SecType: "CASH", Currency: "USD"},
		Position: 1000,
		Account:  _testAccount,
	})

	var count int
	require.NoError(t, h.db.Get(&count, "SELECT COUNT(*) FROM position"))
	require.Zero(t, count)
}

func TestOpenOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)

	h.dispatch(t, ib.OpenOrderPush{
		OrderID:  42,
		Contract: ib.ContractSpec{ConID: 9001, Symbol: "VT", SecType: model.Stock, Currency: "USD"},
		Order: ib.Order{
			Account: _testAccount, Action: model.Buy, OrderType: "MIDPRICE",
			TotalQuantity: 100, LmtPrice: 1, Ref: "wheel-test",
		},
		Status: model.StatusPreSubmitted,
	})
	h.dispatch(t, ib.OrderStatus{OrderID: 42, Status: model.StatusSubmitted, Remaining: 60})

	var o model.OpenOrder
	require.NoError(t, h.db.Get(&o, "SELECT * FROM open_order WHERE order_id = 42"))
	require.Equal(t, model.Buy, o.ActionType)
	require.Equal(t, model.StatusSubmitted, o.Status)
	require.InDelta(t, 60, o.RemainingQty, 1e-9)
	require.Equal(t, "wheel-test", o.OrderRef.String)
}

func TestBenignErrorReleasesPendingMark(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)

	h.pending.Track(600, ib.Pending{Kind: ib.PendingContractDetails, Symbol: "CCL"})
	h.dispatch(t, ib.APIError{ReqID: 600, Code: ib.CodeNoSecurityDefinition, Message: "No security definition has been found for the request"})

	require.Zero(t, h.pending.Len())
}

func TestHistoricalVolatilityIngestion(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)

	h.pending.Track(601, ib.Pending{Kind: ib.PendingHistory, Symbol: "CCL"})
	h.dispatch(t, ib.HistoricalData{ReqID: 601, Bar: ib.Bar{Date: "20260828", Close: 0.42}})
	h.dispatch(t, ib.HistoricalDataEnd{ReqID: 601})

	var hv float64
	require.NoError(t, h.db.Get(&hv, "SELECT historical_volatility FROM stock WHERE id = (SELECT id FROM contract WHERE symbol = 'CCL')"))
	require.InDelta(t, 0.42, hv, 1e-9)
	require.Zero(t, h.pending.Len())
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	h.dispatch(t, ib.AccountDownloadEnd{Account: _testAccount})
	h.agent.publishStatus()

	s := h.agent.Status()
	require.Equal(t, _testAccount, s.Account)
	require.True(t, s.PortfolioLoaded)
	require.False(t, s.OrdersLoaded)
	require.Equal(t, "idle", s.ScannerState)
}
