package scanner

import (
	"testing"
	"time"

	"github.com/rylorin/wheel-bot/internal/config"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/ib/ibtest"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/mirror"
	"github.com/rylorin/wheel-bot/internal/model"
	"github.com/rylorin/wheel-bot/internal/registry"
	"github.com/rylorin/wheel-bot/internal/sqlite"
	"github.com/stretchr/testify/require"
)

const _testAccount = "DU12345"

type harness struct {
	scanner *Scanner
	rec     *ibtest.Recorder
	pending *ib.PendingBook
	store   *mirror.Store
	reg     *registry.Store
}

func newHarness(t *testing.T, symbols ...string) *harness {
	t.Helper()
	db, err := sqlite.NewDB(&sqlite.Config{Path: t.TempDir() + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := mirror.NewStore(db, logger.Nop{})
	reg := registry.NewStore(db, logger.Nop{})
	_, err = store.EnsurePortfolio(_testAccount, "USD", "VT", 0.5)
	require.NoError(t, err)
	for i, symbol := range symbols {
		id, err := reg.FindOrCreateContract(ib.ContractSpec{Symbol: symbol, SecType: model.Stock, Currency: "USD"})
		require.NoError(t, err)
		require.NoError(t, store.UpsertTradingParameter(_testAccount, id, 0.5-float64(i)*0.1))
	}

	cfg := config.ScannerConfig{}
	cfg.Setup()
	rec := &ibtest.Recorder{}
	pending := ib.NewPendingBook()
	s := New(cfg, rec, ib.NewIDAllocator(), pending, store, logger.Nop{})
	require.NoError(t, s.Start(_testAccount))

	return &harness{scanner: s, rec: rec, pending: pending, store: store, reg: reg}
}

func TestTickGateThrottlesSteps(t *testing.T) {
	h := newHarness(t, "CCL", "MGM")
	now := time.Now()

	require.NoError(t, h.scanner.Tick(now))
	require.Len(t, h.rec.ContractDetails, 1)
	require.Equal(t, "CCL", h.rec.ContractDetails[0].Contract.Symbol)
	require.Equal(t, StateChainWait, h.scanner.State())

	// Within the gate nothing advances even once pending drains.
	h.pending.Reset()
	h.scanner.Rearm()
	h.scanner.lastTick = now
	require.NoError(t, h.scanner.Tick(now.Add(time.Second)))
	require.Len(t, h.rec.ContractDetails, 1)

	require.NoError(t, h.scanner.Tick(now.Add(3*time.Second)))
	require.Len(t, h.rec.ContractDetails, 2)
	require.Equal(t, "MGM", h.rec.ContractDetails[1].Contract.Symbol)
}

func TestChainWalkRequestsWindowAroundPrice(t *testing.T) {
	h := newHarness(t, "CCL")
	now := time.Now()

	require.NoError(t, h.scanner.Tick(now))
	require.Len(t, h.rec.Historical, 1)

	id, err := h.reg.FindOrCreateContract(ib.ContractSpec{Symbol: "CCL", SecType: model.Stock, Currency: "USD"})
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateContractPrice(id, 16))

	require.NoError(t, h.scanner.HandleStockResolved("CCL", 9001))
	require.Len(t, h.rec.OptParamReqs, 1)

	near := now.AddDate(0, 0, 20).Format("20060102")
	far := now.AddDate(0, 0, 80).Format("20060102")
	later := now.AddDate(0, 0, 110).Format("20060102")
	params := ib.SecDefOptParams{
		Expirations: []string{later, near, far},
		Strikes:     []float64{10, 12, 14, 15, 16, 17, 18, 20, 25, 30},
		Multiplier:  100,
	}
	require.NoError(t, h.scanner.HandleOptionParams(params, now))

	// 1 stock + 8 strikes x 2 rights.
	require.Len(t, h.rec.ContractDetails, 17)
	for _, req := range h.rec.ContractDetails[1:] {
		require.Equal(t, far, req.Contract.LastTradeDate)
		require.GreaterOrEqual(t, req.Contract.Strike, 10.0)
		require.LessOrEqual(t, req.Contract.Strike, 20.0)
	}
}

func TestWalksEveryQualifyingExpiration(t *testing.T) {
	h := newHarness(t, "CCL")
	now := time.Now()

	require.NoError(t, h.scanner.Tick(now))
	id, err := h.reg.FindOrCreateContract(ib.ContractSpec{Symbol: "CCL", SecType: model.Stock, Currency: "USD"})
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateContractPrice(id, 16))
	require.NoError(t, h.scanner.HandleStockResolved("CCL", 9001))

	near := now.AddDate(0, 0, 20).Format("20060102")
	far := now.AddDate(0, 0, 80).Format("20060102")
	later := now.AddDate(0, 0, 110).Format("20060102")
	params := ib.SecDefOptParams{
		Expirations: []string{later, near, far},
		Strikes:     []float64{10, 12, 14, 15, 16, 17, 18, 20, 25, 30},
		Multiplier:  100,
	}
	require.NoError(t, h.scanner.HandleOptionParams(params, now))

	expiries := func() map[string]int {
		seen := map[string]int{}
		for _, req := range h.rec.ContractDetails {
			if req.Contract.SecType == model.Option {
				seen[req.Contract.LastTradeDate]++
			}
		}
		return seen
	}
	require.Equal(t, map[string]int{far: 16}, expiries())

	// The first burst drains; the next tick walks the later expiration.
	h.pending.Reset()
	h.scanner.Rearm()
	now = now.Add(15 * time.Second)
	require.NoError(t, h.scanner.Tick(now))
	require.Equal(t, map[string]int{far: 16, later: 16}, expiries())

	// Both expirations done: the cycle can now complete.
	h.pending.Reset()
	h.scanner.Rearm()
	now = now.Add(15 * time.Second)
	require.NoError(t, h.scanner.Tick(now))
	require.True(t, h.scanner.DataReady())
	require.Equal(t, 1, h.scanner.Cycles())
}

func TestCycleCompletesAndCoolsDown(t *testing.T) {
	h := newHarness(t, "CCL")
	now := time.Now()

	require.NoError(t, h.scanner.Tick(now))
	require.False(t, h.scanner.DataReady())

	// Chain resolved without snapshots (no price known).
	h.pending.Reset()
	h.scanner.Rearm()

	now = now.Add(5 * time.Second)
	require.NoError(t, h.scanner.Tick(now))
	require.True(t, h.scanner.DataReady())
	require.Equal(t, 1, h.scanner.Cycles())

	// Requeued, but the cooldown holds the next rotation back.
	now = now.Add(5 * time.Second)
	require.NoError(t, h.scanner.Tick(now))
	require.Len(t, h.rec.ContractDetails, 1)

	now = now.Add(2 * time.Hour)
	require.NoError(t, h.scanner.Tick(now))
	require.Len(t, h.rec.ContractDetails, 2)
}

func TestSnapshotRequests(t *testing.T) {
	h := newHarness(t, "CCL")
	now := time.Now()
	require.NoError(t, h.scanner.Tick(now))

	spec := ib.ContractSpec{
		Symbol: "CCL", SecType: model.Option, Currency: "USD",
		Strike: 15, Right: model.Put, LastTradeDate: "20270115",
	}
	require.NoError(t, h.scanner.RequestSnapshot(501, spec, now))

	require.Equal(t, StateSnapshotWait, h.scanner.State())
	require.Len(t, h.rec.MktData, 1)
	require.True(t, h.rec.MktData[0].Snapshot)

	p, ok := h.pending.Lookup(h.rec.MktData[0].ReqID)
	require.True(t, ok)
	require.Equal(t, ib.PendingSnapshot, p.Kind)
	require.EqualValues(t, 501, p.ContractID)
}

func TestStalledScanRecovers(t *testing.T) {
	h := newHarness(t, "CCL", "MGM")
	now := time.Now()

	require.NoError(t, h.scanner.Tick(now))
	require.Equal(t, StateChainWait, h.scanner.State())

	// The broker never answers. Past the window the scan skips ahead.
	now = now.Add(time.Minute)
	require.NoError(t, h.scanner.Tick(now))
	require.Equal(t, StateIdle, h.scanner.State())
	require.Zero(t, h.pending.Len())

	now = now.Add(3 * time.Second)
	require.NoError(t, h.scanner.Tick(now))
	require.Equal(t, "MGM", h.rec.ContractDetails[len(h.rec.ContractDetails)-1].Contract.Symbol)
}

func TestWatchListOrderDrivesRotation(t *testing.T) {
	h := newHarness(t, "AAA", "BBB", "CCC")

	now := time.Now()
	var scanned []string
	for i := 0; i < 3; i++ {
		require.NoError(t, h.scanner.Tick(now))
		scanned = append(scanned, h.rec.ContractDetails[len(h.rec.ContractDetails)-1].Contract.Symbol)
		h.pending.Reset()
		h.scanner.Rearm()
		now = now.Add(3 * time.Second)
	}
	// Highest nav_ratio first; each symbol visited once per rotation.
	require.Equal(t, []string{"AAA", "BBB", "CCC"}, scanned)
}
