// Package quotes ingests market-data ticks into the contract, option and
// stock tables.
package quotes

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/logger"
)

type Store struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewStore(db *sqlx.DB, logger logger.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const (
	_updatePrice = "UPDATE contract SET price = ? WHERE id = ?"
	_updateBid   = "UPDATE contract SET bid = ? WHERE id = ?"
	_updateAsk   = "UPDATE contract SET ask = ? WHERE id = ?"
	_updateClose = "UPDATE contract SET previous_close_price = ? WHERE id = ?"

	// The broker replays the previous close into the price slot when no
	// trade printed yet. Keep whichever arrived last.
	_updatePriceFromClose = "UPDATE contract SET price = ?, previous_close_price = ? WHERE id = ? AND price IS NULL"
)

// ApplyTickPrice routes one tickPrice callback into the contract row.
// Negative prices mean "no quote" on the wire and store as NULL.
func (s *Store) ApplyTickPrice(contractID int64, tickType ib.TickType, price float64) error {
	value := nullIfNegative(price)

	var err error
	switch tickType {
	case ib.TickLast:
		_, err = s.db.Exec(_updatePrice, value, contractID)
	case ib.TickBid:
		_, err = s.db.Exec(_updateBid, value, contractID)
	case ib.TickAsk:
		_, err = s.db.Exec(_updateAsk, value, contractID)
	case ib.TickClose:
		if value == nil {
			_, err = s.db.Exec(_updateClose, value, contractID)
		} else {
			if _, err = s.db.Exec(_updatePriceFromClose, value, value, contractID); err == nil {
				_, err = s.db.Exec(_updateClose, value, contractID)
			}
		}
	case ib.TickHigh, ib.TickLow:
		// Not tracked.
	default:
		s.logger.Debugf("ignoring tick type %d for contract %d", tickType, contractID)
	}
	if err != nil {
		return fmt.Errorf("%w: can't apply tick price for contract %d", err, contractID)
	}
	return nil
}

const _updateGreeks = `UPDATE option SET
		implied_volatility = ?, delta = ?, gamma = ?, vega = ?, theta = ?, pv_dividend = ?
	WHERE id = ?`

// ApplyGreeks stores the model-based option computation. Bid/ask/last
// computations carry transient numbers and are skipped.
func (s *Store) ApplyGreeks(contractID int64, e ib.TickOptionComputation) error {
	if e.Type != ib.TickModelOption {
		return nil
	}
	_, err := s.db.Exec(_updateGreeks,
		nullIfNegative(e.ImpliedVol), e.Delta, e.Gamma, e.Vega, e.Theta, e.PvDividend, contractID)
	if err != nil {
		return fmt.Errorf("%w: can't apply greeks for contract %d", err, contractID)
	}
	return nil
}

const _updateHistoricalVolatility = "UPDATE stock SET historical_volatility = ? WHERE id = ?"

// ApplyHistoricalVolatility keeps the latest bar's close as the stock's
// historical volatility. The bar series arrives oldest first, so each bar
// overwrites the previous one.
func (s *Store) ApplyHistoricalVolatility(stockContractID int64, bar ib.Bar) error {
	if bar.Close < 0 {
		return nil
	}
	if _, err := s.db.Exec(_updateHistoricalVolatility, bar.Close, stockContractID); err != nil {
		return fmt.Errorf("%w: can't apply historical volatility for contract %d", err, stockContractID)
	}
	return nil
}

func nullIfNegative(v float64) interface{} {
	if v < 0 {
		return nil
	}
	return v
}
