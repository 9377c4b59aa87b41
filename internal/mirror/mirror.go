// Package mirror keeps the local tables in sync with the broker's push
// stream and answers the aggregate queries the decision engine consumes.
package mirror

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/model"
)

type Store struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewStore(db *sqlx.DB, logger logger.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const (
	_upsertPortfolio = `INSERT INTO portfolio (account, base_currency, benchmark_symbol, put_ratio)
						VALUES (?, ?, ?, ?)
						ON CONFLICT (account)
						DO UPDATE SET
							base_currency = excluded.base_currency,
							benchmark_symbol = excluded.benchmark_symbol,
							put_ratio = excluded.put_ratio`
	_queryPortfolio   = "SELECT id, account, base_currency, benchmark_symbol, put_ratio FROM portfolio WHERE account = ?"
	_queryPortfolioID = "SELECT id FROM portfolio WHERE account = ?"
)

// EnsurePortfolio creates or refreshes the portfolio row for an account and
// returns its id. Run on the first managedAccounts event of a session.
func (s *Store) EnsurePortfolio(account, baseCurrency, benchmark string, putRatio float64) (int64, error) {
	if _, err := s.db.Exec(_upsertPortfolio, account, baseCurrency, benchmark, putRatio); err != nil {
		return 0, fmt.Errorf("%w: can't upsert portfolio", err)
	}
	var id int64
	if err := s.db.Get(&id, _queryPortfolioID, account); err != nil {
		return 0, fmt.Errorf("%w: can't query portfolio id", err)
	}
	return id, nil
}

func (s *Store) Portfolio(account string) (model.Portfolio, error) {
	var p model.Portfolio
	if err := s.db.Get(&p, _queryPortfolio, account); err != nil {
		return p, fmt.Errorf("%w: can't query portfolio %s", err, account)
	}
	return p, nil
}

const (
	_resetBalances  = "UPDATE balance SET quantity = 0 WHERE portfolio_id = (SELECT id FROM portfolio WHERE account = ?)"
	_resetPositions = "UPDATE position SET quantity = 0 WHERE portfolio_id = (SELECT id FROM portfolio WHERE account = ?)"
	_resetOrders    = "DELETE FROM open_order WHERE account_id = (SELECT id FROM portfolio WHERE account = ?)"
)

// ResetSession zeroes the session-scoped tables. The broker streams its
// current truth after each connect, so every restart rebuilds them.
func (s *Store) ResetSession(account string) error {
	for _, q := range []string{_resetBalances, _resetPositions, _resetOrders} {
		if _, err := s.db.Exec(q, account); err != nil {
			return fmt.Errorf("%w: can't reset session state", err)
		}
	}
	return nil
}

const _upsertBalance = `INSERT INTO balance (portfolio_id, currency, quantity)
						VALUES ((SELECT id FROM portfolio WHERE account = ?), ?, ?)
						ON CONFLICT (portfolio_id, currency)
						DO UPDATE SET quantity = excluded.quantity`

func (s *Store) UpsertBalance(account, currency string, quantity float64) error {
	if _, err := s.db.Exec(_upsertBalance, account, currency, quantity); err != nil {
		return fmt.Errorf("%w: can't upsert balance %s %s", err, account, currency)
	}
	return nil
}

const _upsertCurrency = `INSERT INTO currency (base, currency, rate)
						VALUES (?, ?, ?)
						ON CONFLICT (base, currency)
						DO UPDATE SET rate = excluded.rate`

// UpsertExchangeRate stores both directions of a reported exchange rate.
// The broker reports the currency→base multiplier; the table keeps the
// division convention of the aggregate queries, so the forward edge gets
// the reciprocal.
func (s *Store) UpsertExchangeRate(account, currency string, rate float64) error {
	p, err := s.Portfolio(account)
	if err != nil {
		return err
	}
	if rate == 0 {
		return fmt.Errorf("zero exchange rate for %s", currency)
	}
	if _, err := s.db.Exec(_upsertCurrency, p.BaseCurrency, currency, 1.0/rate); err != nil {
		return fmt.Errorf("%w: can't upsert currency rate %s->%s", err, p.BaseCurrency, currency)
	}
	if _, err := s.db.Exec(_upsertCurrency, currency, p.BaseCurrency, rate); err != nil {
		return fmt.Errorf("%w: can't upsert currency rate %s->%s", err, currency, p.BaseCurrency)
	}
	return nil
}

const (
	_deletePosition = `DELETE FROM position
						WHERE portfolio_id = (SELECT id FROM portfolio WHERE account = ?) AND contract_id = ?`
	_upsertPosition = `INSERT INTO position (portfolio_id, contract_id, quantity, cost, open_date)
						VALUES ((SELECT id FROM portfolio WHERE account = ?), ?, ?, ?, date('now'))
						ON CONFLICT (portfolio_id, contract_id)
						DO UPDATE SET quantity = excluded.quantity, cost = excluded.cost`
)

// CreateOrUpdatePosition mirrors one position push. Zero quantity removes
// the row.
func (s *Store) CreateOrUpdatePosition(account string, contractID int64, quantity, averageCost float64) error {
	if quantity == 0 {
		if _, err := s.db.Exec(_deletePosition, account, contractID); err != nil {
			return fmt.Errorf("%w: can't delete position", err)
		}
		return nil
	}
	if _, err := s.db.Exec(_upsertPosition, account, contractID, quantity, averageCost*quantity); err != nil {
		return fmt.Errorf("%w: can't upsert position", err)
	}
	return nil
}

const (
	_updateContractPrice = "UPDATE contract SET price = ? WHERE id = ?"
	_clearOptionQuotes   = `UPDATE contract SET price = NULL, bid = NULL, ask = NULL, previous_close_price = NULL
							WHERE id = ?`
	_clearChainQuotes = `UPDATE contract SET bid = NULL, ask = NULL
							WHERE id IN (SELECT o.id FROM option o
								JOIN contract u ON u.id = o.stock_id
								WHERE u.symbol = ?)`
)

func (s *Store) UpdateContractPrice(contractID int64, price float64) error {
	if _, err := s.db.Exec(_updateContractPrice, price, contractID); err != nil {
		return fmt.Errorf("%w: can't update contract price", err)
	}
	return nil
}

// ClearOptionQuotes drops every quote field of a contract before a fresh
// snapshot request.
func (s *Store) ClearOptionQuotes(contractID int64) error {
	if _, err := s.db.Exec(_clearOptionQuotes, contractID); err != nil {
		return fmt.Errorf("%w: can't clear option quotes", err)
	}
	return nil
}

// ClearChainQuotes drops stale bid/ask on all known options of an
// underlying, so a new scan cycle never ranks candidates on old quotes.
func (s *Store) ClearChainQuotes(underlyingSymbol string) error {
	if _, err := s.db.Exec(_clearChainQuotes, underlyingSymbol); err != nil {
		return fmt.Errorf("%w: can't clear chain quotes for %s", err, underlyingSymbol)
	}
	return nil
}

const (
	_insertOpenOrder = `INSERT INTO open_order (
							account_id, contract_id, perm_id, client_id, order_id, order_ref,
							action_type, total_qty, cash_qty, lmt_price, aux_price, status, remaining_qty
						) VALUES ((SELECT id FROM portfolio WHERE account = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
						ON CONFLICT (order_id) DO NOTHING`
	_updateOrderStatus = "UPDATE open_order SET status = ?, remaining_qty = ? WHERE order_id = ?"
)

// InsertOpenOrder records an order the first time the broker announces it.
// Later announcements of the same order id are ignored; orderStatus events
// carry the mutations.
func (s *Store) InsertOpenOrder(account string, contractID int64, orderID int64, o model.OpenOrder) error {
	_, err := s.db.Exec(_insertOpenOrder,
		account, contractID, o.PermID, o.ClientID, orderID, o.OrderRef,
		o.ActionType, o.TotalQty, o.CashQty, o.LmtPrice, o.AuxPrice, o.Status, o.TotalQty)
	if err != nil {
		return fmt.Errorf("%w: can't insert open order %d", err, orderID)
	}
	return nil
}

func (s *Store) UpdateOrderStatus(orderID int64, status string, remaining float64) error {
	if _, err := s.db.Exec(_updateOrderStatus, status, remaining, orderID); err != nil {
		return fmt.Errorf("%w: can't update order status %d", err, orderID)
	}
	return nil
}

const (
	_upsertTradingParameter = `INSERT INTO trading_parameters (portfolio_id, stock_id, nav_ratio)
								VALUES ((SELECT id FROM portfolio WHERE account = ?), ?, ?)
								ON CONFLICT (portfolio_id, stock_id)
								DO UPDATE SET nav_ratio = excluded.nav_ratio`
	_queryWatchList = `SELECT tp.portfolio_id, tp.stock_id, c.symbol, tp.nav_ratio
						FROM trading_parameters tp
						JOIN portfolio p ON p.id = tp.portfolio_id
						JOIN contract c ON c.id = tp.stock_id
						WHERE p.account = ?
						ORDER BY tp.nav_ratio DESC, c.symbol ASC`
	_queryNavRatio = `SELECT tp.nav_ratio
						FROM trading_parameters tp
						JOIN portfolio p ON p.id = tp.portfolio_id
						JOIN contract c ON c.id = tp.stock_id
						WHERE p.account = ? AND c.symbol = ?`
)

func (s *Store) UpsertTradingParameter(account string, stockID int64, navRatio float64) error {
	if _, err := s.db.Exec(_upsertTradingParameter, account, stockID, navRatio); err != nil {
		return fmt.Errorf("%w: can't upsert trading parameter", err)
	}
	return nil
}

// WatchList returns the watch-list entries ordered by descending nav_ratio,
// the scanner's processing order.
func (s *Store) WatchList(account string) ([]model.TradingParameter, error) {
	var params []model.TradingParameter
	if err := s.db.Select(&params, _queryWatchList, account); err != nil {
		return nil, fmt.Errorf("%w: can't query watch list", err)
	}
	return params, nil
}

// NavRatio returns the per-symbol naked-put NAV ceiling; zero when the
// symbol has no watch-list entry.
func (s *Store) NavRatio(account, symbol string) (float64, error) {
	var ratio float64
	err := s.db.Get(&ratio, _queryNavRatio, account, symbol)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: can't query nav ratio for %s", err, symbol)
	}
	return ratio, nil
}
