// Package registry maps broker contract descriptions to local instrument
// rows, creating stock and option rows on first sight.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/model"
)

const (
	_brokerDateLayout = "20060102"
	_localDateLayout  = "2006-01-02"
)

// NormalizeSymbol folds feed/exchange symbol variants into one canonical
// form: market-suffix tokens dropped, spaces mapped to hyphens, trailing
// settlement-class markers stripped. Idempotent.
func NormalizeSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, ".T", "")
	s = strings.ReplaceAll(s, " ", "-")
	return strings.TrimRight(s, "d")
}

type Store struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewStore(db *sqlx.DB, logger logger.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const (
	_queryContractByConID  = "SELECT id FROM contract WHERE con_id = ?"
	_queryStockBySymbol    = "SELECT id FROM contract WHERE sec_type = ? AND symbol = ?"
	_queryOptionByIdentity = "SELECT id FROM option WHERE stock_id = ? AND call_or_put = ? AND strike = ? AND last_trade_date = ?"

	_adoptConID = "UPDATE contract SET con_id = ? WHERE id = ? AND con_id IS NULL"

	_insertContract = `INSERT INTO contract (sec_type, symbol, exchange, currency, con_id, name)
						VALUES (?, ?, ?, ?, ?, ?)`
	_insertStock  = "INSERT INTO stock (id) VALUES (?)"
	_insertOption = `INSERT INTO option (id, stock_id, call_or_put, strike, last_trade_date, multiplier)
						VALUES (?, ?, ?, ?, ?, ?)`
)

// FindOrCreateContract resolves a broker contract to its local row id,
// inserting missing rows. An unrecognized security type yields (0, nil);
// callers skip the update.
func (s *Store) FindOrCreateContract(c ib.ContractSpec) (int64, error) {
	switch c.SecType {
	case model.Stock:
		return s.findOrCreateStock(c)
	case model.Option:
		return s.findOrCreateOption(c)
	default:
		s.logger.Warnf("unknown contract secType %q for symbol %s", c.SecType, c.Symbol)
		return 0, nil
	}
}

func (s *Store) findOrCreateStock(c ib.ContractSpec) (int64, error) {
	if c.ConID != 0 {
		var id int64
		err := s.db.Get(&id, _queryContractByConID, c.ConID)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: can't query contract by con_id", err)
		}
	}

	symbol := NormalizeSymbol(c.Symbol)
	var id int64
	err := s.db.Get(&id, _queryStockBySymbol, model.Stock, symbol)
	if err == nil {
		// A row created from config has no broker id yet. Adopt it on
		// first resolution so later lookups hit the con_id fast path.
		if c.ConID != 0 {
			if _, err := s.db.Exec(_adoptConID, c.ConID, id); err != nil {
				return 0, fmt.Errorf("%w: can't record con_id for %s", err, symbol)
			}
		}
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: can't query stock by symbol", err)
	}

	s.logger.Infof("creating stock contract %s (%s)", symbol, c.Currency)
	return s.insertStock(c, symbol)
}

func (s *Store) insertStock(c ib.ContractSpec, symbol string) (int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("%w: can't begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(_insertContract,
		model.Stock, symbol, nullIfEmpty(c.PrimaryExchange), c.Currency, nullIfZero(c.ConID), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: can't insert stock contract", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: can't read stock contract id", err)
	}
	if _, err := tx.Exec(_insertStock, id); err != nil {
		return 0, fmt.Errorf("%w: can't insert stock row", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: can't commit stock insert", err)
	}
	return id, nil
}

func (s *Store) findOrCreateOption(c ib.ContractSpec) (int64, error) {
	if c.ConID != 0 {
		var id int64
		err := s.db.Get(&id, _queryContractByConID, c.ConID)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: can't query contract by con_id", err)
		}
	}

	stockID, err := s.findOrCreateStock(ib.ContractSpec{
		SecType:  model.Stock,
		Symbol:   c.Symbol,
		Currency: c.Currency,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: can't resolve underlying for %s", err, c.Symbol)
	}

	expiry, err := time.Parse(_brokerDateLayout, c.LastTradeDate)
	if err != nil {
		return 0, fmt.Errorf("%w: bad last trade date %q", err, c.LastTradeDate)
	}
	lastTradeDate := expiry.Format(_localDateLayout)

	var id int64
	err = s.db.Get(&id, _queryOptionByIdentity, stockID, c.Right, c.Strike, lastTradeDate)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: can't query option by identity", err)
	}

	return s.insertOption(c, stockID, expiry, lastTradeDate)
}

func (s *Store) insertOption(c ib.ContractSpec, stockID int64, expiry time.Time, lastTradeDate string) (int64, error) {
	display := DisplaySymbol(NormalizeSymbol(c.Symbol), expiry, c.Strike, c.Right)

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("%w: can't begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(_insertContract,
		model.Option, display, nullIfEmpty(c.Exchange), c.Currency, nullIfZero(c.ConID), nullIfEmpty(c.LocalSymbol))
	if err != nil {
		return 0, fmt.Errorf("%w: can't insert option contract", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: can't read option contract id", err)
	}

	multiplier := c.Multiplier
	if multiplier == 0 {
		multiplier = 100
	}
	if _, err := tx.Exec(_insertOption, id, stockID, c.Right, c.Strike, lastTradeDate, multiplier); err != nil {
		return 0, fmt.Errorf("%w: can't insert option row", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: can't commit option insert", err)
	}

	s.logger.Infof("created option contract %s", display)
	return id, nil
}

// DisplaySymbol synthesizes the human-readable option symbol,
// e.g. "CCL 19JAN24 15.0 P".
func DisplaySymbol(symbol string, expiry time.Time, strike float64, right model.Right) string {
	return fmt.Sprintf("%s %s %.1f %s",
		symbol, strings.ToUpper(expiry.Format("02Jan06")), strike, right)
}

const (
	_queryConIDBySymbol = "SELECT con_id FROM contract WHERE sec_type = ? AND symbol = ? AND con_id IS NOT NULL"

	_updateStockDetails = `UPDATE stock SET industry = ?, category = ?, subcategory = ?
							WHERE id = (SELECT id FROM contract WHERE con_id = ?)`
)

// ConID returns the broker contract id cached for a stock symbol, zero when
// the contract has not been resolved yet.
func (s *Store) ConID(symbol string) (int64, error) {
	var conID int64
	err := s.db.Get(&conID, _queryConIDBySymbol, model.Stock, NormalizeSymbol(symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: can't query con_id for %s", err, symbol)
	}
	return conID, nil
}

// UpdateStockDetails stores the classification fields delivered with
// contract details.
func (s *Store) UpdateStockDetails(conID int64, industry, category, subcategory string) error {
	if _, err := s.db.Exec(_updateStockDetails, industry, category, subcategory, conID); err != nil {
		return fmt.Errorf("%w: can't update stock details", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
