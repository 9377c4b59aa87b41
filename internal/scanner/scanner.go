// Package scanner walks the watch list, resolving option chains and
// refreshing quote snapshots one underlying at a time.
package scanner

import (
	"fmt"
	"sort"
	"time"

	"github.com/rylorin/wheel-bot/internal/config"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/mirror"
	"github.com/rylorin/wheel-bot/internal/model"
	"go.uber.org/ratelimit"
)

// State is where the scan loop currently stands. The scanner only ever has
// one underlying in flight.
type State int

const (
	// StateIdle means no request is outstanding; the next heartbeat may
	// start the next symbol or close the cycle.
	StateIdle State = iota
	// StateChainWait means contract details, option parameters or history
	// for the current underlying are still pending.
	StateChainWait
	// StateSnapshotWait means option snapshot requests were issued and
	// their quote streams have not terminated yet.
	StateSnapshotWait
)

func (s State) String() string {
	switch s {
	case StateChainWait:
		return "chain-wait"
	case StateSnapshotWait:
		return "snapshot-wait"
	default:
		return "idle"
	}
}

const _expiryLayout = "20060102"

// Scanner drives the option-chain refresh. It is single-goroutine: the
// agent's dispatch loop calls every method, so no locking here.
type Scanner struct {
	cfg     config.ScannerConfig
	req     ib.Requester
	ids     *ib.IDAllocator
	pending *ib.PendingBook
	store   *mirror.Store
	limiter ratelimit.Limiter
	logger  logger.Logger

	account string
	queue   []string
	done    []string

	state       State
	symbol      string
	expirations []string
	strikes     []float64
	multiplier  int64
	lastTick    time.Time
	nextCycle   time.Time
	deadline    time.Time
	dataReady   bool
	cycles      int
}

func New(
	cfg config.ScannerConfig,
	req ib.Requester,
	ids *ib.IDAllocator,
	pending *ib.PendingBook,
	store *mirror.Store,
	log logger.Logger,
) *Scanner {
	return &Scanner{
		cfg:     cfg,
		req:     req,
		ids:     ids,
		pending: pending,
		store:   store,
		limiter: ratelimit.New(cfg.RequestsPerSecond),
		logger:  log,
	}
}

// Start resets the rotation from the persisted watch list. Run after the
// session reset seeded the trading parameters.
func (s *Scanner) Start(account string) error {
	items, err := s.store.WatchList(account)
	if err != nil {
		return fmt.Errorf("%w: can't load scan rotation", err)
	}

	s.account = account
	s.queue = s.queue[:0]
	for _, item := range items {
		s.queue = append(s.queue, item.Symbol)
	}
	s.done = s.done[:0]
	s.state = StateIdle
	s.symbol = ""
	s.expirations = nil
	s.strikes = nil
	s.dataReady = false
	s.pending.Reset()
	return nil
}

// DataReady reports whether at least one full rotation finished, so the
// candidate screens run on complete data.
func (s *Scanner) DataReady() bool { return s.dataReady }

func (s *Scanner) State() State { return s.state }

func (s *Scanner) Cycles() int { return s.cycles }

// Rearm lets the next heartbeat proceed without waiting out the tick gate.
// The agent calls it when the last outstanding request resolved.
func (s *Scanner) Rearm() {
	if s.pending.Len() == 0 {
		s.state = StateIdle
		s.lastTick = time.Time{}
		s.deadline = time.Time{}
	}
}

// Tick advances the scan by at most one step. Heartbeats arrive every few
// minutes from the broker plus whenever the agent wakes; the gate keeps
// bursts of events from advancing the scan faster than quotes settle.
func (s *Scanner) Tick(now time.Time) error {
	if s.state != StateIdle {
		// Quote streams sometimes end without a terminating event. Past
		// the window the outstanding marks are stale; drop them and move
		// on rather than wedge the rotation.
		if !s.deadline.IsZero() && now.After(s.deadline) {
			s.logger.Warnf("scan of %s stalled with %d pending requests, skipping", s.symbol, s.pending.Len())
			s.pending.Reset()
			s.state = StateIdle
			s.expirations = nil
			s.deadline = time.Time{}
		}
		return nil
	}
	if now.Sub(s.lastTick) < s.cfg.TickGate {
		return nil
	}
	s.lastTick = now

	// The current symbol still has expirations to walk; each one gets its
	// own snapshot window before the next burst.
	if len(s.expirations) > 0 {
		return s.requestExpiration(now)
	}

	if len(s.queue) == 0 {
		return s.finishCycle(now)
	}
	if now.Before(s.nextCycle) {
		return nil
	}

	symbol := s.queue[0]
	s.queue = s.queue[1:]
	s.deadline = now.Add(s.cfg.SnapshotWindow)
	return s.beginSymbol(symbol)
}

// finishCycle closes a rotation: data is declared ready, processed symbols
// requeue and the next rotation waits out the cooldown.
func (s *Scanner) finishCycle(now time.Time) error {
	if len(s.done) == 0 {
		return nil
	}
	s.dataReady = true
	s.cycles++
	s.queue = append(s.queue, s.done...)
	s.done = s.done[:0]
	s.nextCycle = now.Add(s.cfg.CycleCooldown)
	s.logger.Infof("scan cycle %d complete, next at %s", s.cycles, s.nextCycle.Format(time.RFC3339))
	return nil
}

// beginSymbol requests the underlying's contract details and historical
// volatility. The details answer carries the con_id needed to ask for the
// option parameters; HandleStockResolved continues from there.
func (s *Scanner) beginSymbol(symbol string) error {
	s.symbol = symbol
	s.state = StateChainWait
	s.done = append(s.done, symbol)
	s.logger.Infof("scanning %s", symbol)

	spec := ib.ContractSpec{Symbol: symbol, SecType: model.Stock, Currency: "USD", Exchange: "SMART"}

	reqID := s.ids.NextTickerID()
	s.pending.Track(reqID, ib.Pending{Kind: ib.PendingContractDetails, Symbol: symbol})
	s.limiter.Take()
	if err := s.req.ReqContractDetails(reqID, spec); err != nil {
		return fmt.Errorf("%w: can't request details for %s", err, symbol)
	}

	histID := s.ids.NextTickerID()
	s.pending.Track(histID, ib.Pending{Kind: ib.PendingHistory, Symbol: symbol})
	s.limiter.Take()
	if err := s.req.ReqHistoricalData(histID, spec, "2 D", "1 day", "HISTORICAL_VOLATILITY"); err != nil {
		return fmt.Errorf("%w: can't request volatility history for %s", err, symbol)
	}
	return nil
}

// HandleStockResolved continues the chain walk once the underlying's
// con_id is known.
func (s *Scanner) HandleStockResolved(symbol string, conID int64) error {
	if symbol != s.symbol {
		return nil
	}
	reqID := s.ids.NextTickerID()
	s.pending.Track(reqID, ib.Pending{Kind: ib.PendingOptionParams, Symbol: symbol})
	s.limiter.Take()
	if err := s.req.ReqSecDefOptParams(reqID, symbol, string(model.Stock), conID); err != nil {
		return fmt.Errorf("%w: can't request option parameters for %s", err, symbol)
	}
	return nil
}

// HandleOptionParams stores the symbol's qualifying expirations and the
// strike window around the money, then issues the first expiration's burst
// of option contract-details requests. Later expirations follow one per
// snapshot window as the pending set drains.
func (s *Scanner) HandleOptionParams(e ib.SecDefOptParams, now time.Time) error {
	if s.symbol == "" {
		return nil
	}

	price, ok, err := s.store.SymbolPrice(s.symbol)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warnf("no price for %s yet, skipping chain this cycle", s.symbol)
		return nil
	}

	s.expirations = s.selectExpirations(e.Expirations, now)
	if len(s.expirations) == 0 {
		s.logger.Warnf("no expiration beyond %d days for %s", s.cfg.MinExpiryDays, s.symbol)
		return nil
	}
	s.strikes = s.selectStrikes(e.Strikes, price)
	if len(s.strikes) == 0 {
		s.expirations = nil
		return nil
	}
	s.multiplier = e.Multiplier

	if err := s.store.ClearChainQuotes(s.symbol); err != nil {
		return err
	}

	s.logger.Infof("walking %s chain: %d expirations, %d strikes around %.2f",
		s.symbol, len(s.expirations), len(s.strikes), price)
	return s.requestExpiration(now)
}

// requestExpiration pops the nearest remaining expiration and requests
// details for the strike window on both rights.
func (s *Scanner) requestExpiration(now time.Time) error {
	expiration := s.expirations[0]
	s.expirations = s.expirations[1:]
	s.state = StateChainWait
	s.deadline = now.Add(s.cfg.SnapshotWindow)

	for _, strike := range s.strikes {
		for _, right := range []model.Right{model.Put, model.Call} {
			spec := ib.ContractSpec{
				Symbol:        s.symbol,
				SecType:       model.Option,
				Currency:      "USD",
				Exchange:      "SMART",
				Strike:        strike,
				Right:         right,
				LastTradeDate: expiration,
				Multiplier:    s.multiplier,
			}
			reqID := s.ids.NextTickerID()
			s.pending.Track(reqID, ib.Pending{Kind: ib.PendingContractDetails, Symbol: s.symbol})
			s.limiter.Take()
			if err := s.req.ReqContractDetails(reqID, spec); err != nil {
				return fmt.Errorf("%w: can't request option details %s %v %.1f", err, s.symbol, right, strike)
			}
		}
	}
	return nil
}

// RequestSnapshot asks for a one-shot quote for a resolved option row.
func (s *Scanner) RequestSnapshot(contractID int64, spec ib.ContractSpec, now time.Time) error {
	s.state = StateSnapshotWait
	s.deadline = now.Add(s.cfg.SnapshotWindow)
	reqID := s.ids.NextTickerID()
	s.pending.Track(reqID, ib.Pending{Kind: ib.PendingSnapshot, ContractID: contractID, Symbol: spec.Symbol})
	s.limiter.Take()
	if err := s.req.ReqMktData(reqID, spec, "", true); err != nil {
		return fmt.Errorf("%w: can't request snapshot for contract %d", err, contractID)
	}
	return nil
}

// selectExpirations returns every listed expiration at or beyond the
// configured horizon, nearest first. Expirations arrive unordered.
func (s *Scanner) selectExpirations(expirations []string, now time.Time) []string {
	horizon := now.AddDate(0, 0, s.cfg.MinExpiryDays)
	sorted := append([]string(nil), expirations...)
	sort.Strings(sorted)

	var out []string
	for _, exp := range sorted {
		d, err := time.Parse(_expiryLayout, exp)
		if err != nil {
			s.logger.Warnf("bad expiration %q for %s", exp, s.symbol)
			continue
		}
		if !d.Before(horizon) {
			out = append(out, exp)
		}
	}
	return out
}

// selectStrikes returns the window of listed strikes around the market
// price, StrikeWindow on each side.
func (s *Scanner) selectStrikes(strikes []float64, price float64) []float64 {
	sorted := append([]float64(nil), strikes...)
	sort.Float64s(sorted)

	atm := sort.SearchFloat64s(sorted, price)
	lo := atm - s.cfg.StrikeWindow
	if lo < 0 {
		lo = 0
	}
	hi := atm + s.cfg.StrikeWindow
	if hi > len(sorted) {
		hi = len(sorted)
	}
	return sorted[lo:hi]
}
