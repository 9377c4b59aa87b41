package mirror

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rylorin/wheel-bot/internal/model"
)

// ErrMissingRate marks a held currency without an exchange-rate row. The
// aggregates refuse to treat it as zero; callers fail the current callback
// and wait for the broker's next rate push.
var ErrMissingRate = errors.New("no exchange rate for held currency")

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

const (
	_querySymbolPrice = "SELECT price FROM contract WHERE sec_type = 'STK' AND symbol = ?"

	_querySymbolCurrency = "SELECT currency FROM contract WHERE sec_type = 'STK' AND symbol = ?"

	_querySymbolPriceInBase = `SELECT contract.price / currency.rate
		FROM contract, currency, portfolio
		WHERE contract.sec_type = 'STK' AND contract.symbol = ?
		 AND portfolio.account = ?
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency`
)

// SymbolPrice returns a stock's last known price. ok is false while no
// quote has been ingested yet; strategies skip the cycle then.
func (s *Store) SymbolPrice(symbol string) (float64, bool, error) {
	var price sql.NullFloat64
	if err := s.db.Get(&price, _querySymbolPrice, symbol); err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: can't query price for %s", err, symbol)
	}
	return price.Float64, price.Valid, nil
}

func (s *Store) SymbolCurrency(symbol string) (string, error) {
	var currency string
	if err := s.db.Get(&currency, _querySymbolCurrency, symbol); err != nil {
		return "", fmt.Errorf("%w: can't query currency for %s", err, symbol)
	}
	return currency, nil
}

// SymbolPriceInBase converts a stock's price into the portfolio's base
// currency. A missing rate row is a hard failure, not zero.
func (s *Store) SymbolPriceInBase(account, symbol string) (float64, bool, error) {
	var price sql.NullFloat64
	if err := s.db.Get(&price, _querySymbolPriceInBase, symbol, account); err != nil {
		if isNoRows(err) {
			return 0, false, fmt.Errorf("%w: %s", ErrMissingRate, symbol)
		}
		return 0, false, fmt.Errorf("%w: can't query base price for %s", err, symbol)
	}
	return price.Float64, price.Valid, nil
}

const (
	_queryCurrencyBalance = `SELECT COALESCE(SUM(balance.quantity), 0)
		FROM portfolio, balance
		WHERE portfolio.account = ?
		 AND balance.portfolio_id = portfolio.id
		 AND balance.currency = ?`

	_queryBaseToCurrencyRate = `SELECT currency.rate
		FROM portfolio, currency
		WHERE portfolio.account = ?
		 AND currency.base = portfolio.base_currency
		 AND currency.currency = ?`

	_queryTotalCash = `SELECT COALESCE(SUM(balance.quantity / currency.rate), 0)
		FROM portfolio, balance, currency
		WHERE balance.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND balance.currency = currency.currency
		 AND currency.base = portfolio.base_currency`

	_queryUnratedBalances = `SELECT COUNT(*)
		FROM portfolio, balance
		WHERE balance.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND balance.quantity <> 0
		 AND NOT EXISTS (
			SELECT 1 FROM currency
			WHERE currency.base = portfolio.base_currency
			 AND currency.currency = balance.currency)`
)

func (s *Store) CurrencyBalance(account, currency string) (float64, error) {
	var quantity float64
	if err := s.db.Get(&quantity, _queryCurrencyBalance, account, currency); err != nil {
		return 0, fmt.Errorf("%w: can't query balance %s %s", err, account, currency)
	}
	return quantity, nil
}

func (s *Store) BaseToCurrencyRate(account, currency string) (float64, error) {
	var rate float64
	if err := s.db.Get(&rate, _queryBaseToCurrencyRate, account, currency); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("%w: %s", ErrMissingRate, currency)
		}
		return 0, fmt.Errorf("%w: can't query rate for %s", err, currency)
	}
	return rate, nil
}

// TotalCashInBase sums all cash balances converted into base currency.
// Fails when any nonzero balance has no rate row yet.
func (s *Store) TotalCashInBase(account string) (float64, error) {
	var unrated int
	if err := s.db.Get(&unrated, _queryUnratedBalances, account); err != nil {
		return 0, fmt.Errorf("%w: can't check balance rates", err)
	}
	if unrated > 0 {
		return 0, fmt.Errorf("%w: %d balance(s) unrated", ErrMissingRate, unrated)
	}

	var total float64
	if err := s.db.Get(&total, _queryTotalCash, account); err != nil {
		return 0, fmt.Errorf("%w: can't query total cash", err)
	}
	return total, nil
}

const (
	_queryStocksValue = `SELECT COALESCE(SUM(position.quantity * contract.price / currency.rate), 0)
		FROM position, portfolio, contract, currency
		WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND position.contract_id = contract.id
		 AND contract.sec_type = 'STK'
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency`

	_queryStockValueForSymbol = `SELECT COALESCE(SUM(position.quantity * contract.price / currency.rate), 0)
		FROM position, portfolio, contract, currency
		WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND position.contract_id = contract.id
		 AND contract.sec_type = 'STK' AND contract.symbol = ?
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency`

	_queryOptionsValue = `SELECT COALESCE(SUM(position.quantity * contract.price * option.multiplier / currency.rate), 0)
		FROM position, portfolio, contract, option, currency
		WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND position.contract_id = contract.id
		 AND contract.sec_type = 'OPT' AND position.contract_id = option.id
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency`

	_queryUnpricedPositions = `SELECT COUNT(*)
		FROM position, portfolio, contract
		WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND position.contract_id = contract.id
		 AND contract.price IS NULL`
)

// HasUnpricedPositions reports whether any held instrument still lacks a
// quote. Monetary aggregates would silently undercount then, so strategies
// check this before trusting NAV.
func (s *Store) HasUnpricedPositions(account string) (bool, error) {
	var count int
	if err := s.db.Get(&count, _queryUnpricedPositions, account); err != nil {
		return false, fmt.Errorf("%w: can't count unpriced positions", err)
	}
	return count > 0, nil
}

func (s *Store) StocksValueInBase(account string) (float64, error) {
	var total float64
	if err := s.db.Get(&total, _queryStocksValue, account); err != nil {
		return 0, fmt.Errorf("%w: can't query stocks value", err)
	}
	return total, nil
}

func (s *Store) StockValueInBase(account, symbol string) (float64, error) {
	var total float64
	if err := s.db.Get(&total, _queryStockValueForSymbol, account, symbol); err != nil {
		return 0, fmt.Errorf("%w: can't query stock value for %s", err, symbol)
	}
	return total, nil
}

func (s *Store) OptionsValueInBase(account string) (float64, error) {
	var total float64
	if err := s.db.Get(&total, _queryOptionsValue, account); err != nil {
		return 0, fmt.Errorf("%w: can't query options value", err)
	}
	return total, nil
}

const (
	// Naked-put exposure queries return <= 0 in base currency: the cash
	// needed to cover the short puts.
	_queryNakedPutForSymbol = `SELECT COALESCE(SUM(position.quantity * option.strike * option.multiplier / currency.rate), 0)
		FROM position, portfolio, contract, option, currency, contract u
		WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND position.quantity < 0 AND position.contract_id = contract.id
		 AND contract.sec_type = 'OPT' AND position.contract_id = option.id AND option.call_or_put = 'P'
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency
		 AND option.stock_id = u.id AND u.symbol = ?`

	_queryTotalNakedPut = `SELECT COALESCE(SUM(position.quantity * option.strike * option.multiplier / currency.rate), 0)
		FROM position, portfolio, contract, option, currency
		WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND position.quantity < 0 AND position.contract_id = contract.id
		 AND contract.sec_type = 'OPT' AND position.contract_id = option.id AND option.call_or_put = 'P'
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency`

	_queryItmNakedPut = `SELECT COALESCE(SUM(position.quantity * option.strike * option.multiplier / currency.rate), 0)
		FROM position, portfolio, contract, option, currency, contract u
		WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
		 AND position.quantity < 0
		 AND position.contract_id = contract.id
		 AND contract.sec_type = 'OPT'
		 AND position.contract_id = option.id
		 AND option.call_or_put = 'P'
		 AND option.stock_id = u.id
		 AND u.price < option.strike
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency`
)

func (s *Store) NakedPutAmount(account, symbol string) (float64, error) {
	var amount float64
	if err := s.db.Get(&amount, _queryNakedPutForSymbol, account, symbol); err != nil {
		return 0, fmt.Errorf("%w: can't query naked put amount for %s", err, symbol)
	}
	return amount, nil
}

func (s *Store) TotalNakedPutAmount(account string) (float64, error) {
	var amount float64
	if err := s.db.Get(&amount, _queryTotalNakedPut, account); err != nil {
		return 0, fmt.Errorf("%w: can't query total naked put amount", err)
	}
	return amount, nil
}

// ItmNakedPutAmount is the liability on short puts currently in the money,
// the slice of naked-put exposure most likely to convert into stock.
func (s *Store) ItmNakedPutAmount(account string) (float64, error) {
	var amount float64
	if err := s.db.Get(&amount, _queryItmNakedPut, account); err != nil {
		return 0, fmt.Errorf("%w: can't query ITM naked put amount", err)
	}
	return amount, nil
}

const _queryShortCallShares = `SELECT COALESCE(SUM(position.quantity * option.multiplier), 0)
	FROM position, portfolio, option, contract u
	WHERE position.portfolio_id = portfolio.id AND portfolio.account = ?
	 AND position.contract_id = option.id AND option.call_or_put = 'C'
	 AND option.stock_id = u.id AND u.symbol = ?
	 AND position.quantity < 0`

// ShortCallShareEquivalent returns the share-equivalent of short calls on
// an underlying (<= 0).
func (s *Store) ShortCallShareEquivalent(account, symbol string) (float64, error) {
	var shares float64
	if err := s.db.Get(&shares, _queryShortCallShares, account, symbol); err != nil {
		return 0, fmt.Errorf("%w: can't query short call position for %s", err, symbol)
	}
	return shares, nil
}

const (
	_queryStockQtyOnBook = `SELECT COALESCE(SUM(open_order.remaining_qty), 0)
		FROM open_order, portfolio, contract
		WHERE open_order.account_id = portfolio.id AND portfolio.account = ?
		 AND open_order.contract_id = contract.id AND contract.symbol = ? AND contract.sec_type = 'STK'
		 AND open_order.action_type = ?
		 AND open_order.status IN ('Submitted', 'PreSubmitted')`

	_queryOptionQtyOnBook = `SELECT COALESCE(SUM(open_order.remaining_qty * option.multiplier), 0)
		FROM open_order, portfolio, option, contract
		WHERE open_order.account_id = portfolio.id AND portfolio.account = ?
		 AND open_order.contract_id = option.id AND option.call_or_put = ?
		 AND option.stock_id = contract.id AND contract.symbol = ?
		 AND open_order.action_type = ?
		 AND open_order.status IN ('Submitted', 'PreSubmitted')`

	_queryStockOrderIDs = `SELECT open_order.order_id
		FROM open_order, portfolio, contract
		WHERE open_order.account_id = portfolio.id AND portfolio.account = ?
		 AND open_order.contract_id = contract.id AND contract.symbol = ? AND contract.sec_type = 'STK'
		 AND open_order.action_type = ?
		 AND open_order.status IN ('Submitted', 'PreSubmitted')`

	_queryPutOrderNotional = `SELECT COALESCE(SUM(open_order.remaining_qty * option.strike * option.multiplier / currency.rate), 0)
		FROM open_order, portfolio, option, contract, currency, contract u
		WHERE open_order.account_id = portfolio.id AND portfolio.account = ?
		 AND open_order.contract_id = option.id AND option.call_or_put = 'P'
		 AND open_order.contract_id = contract.id
		 AND option.stock_id = u.id
		 AND (? = '' OR u.symbol = ?)
		 AND open_order.action_type = 'SELL'
		 AND open_order.status IN ('Submitted', 'PreSubmitted')
		 AND contract.currency = currency.currency
		 AND currency.base = portfolio.base_currency`
)

// StockQuantityOnOrderBook sums resting stock-order quantity for a symbol
// and side. Buys count positive, sells negative.
func (s *Store) StockQuantityOnOrderBook(account, symbol string, action model.OrderAction) (float64, error) {
	var qty float64
	if err := s.db.Get(&qty, _queryStockQtyOnBook, account, symbol, action); err != nil {
		return 0, fmt.Errorf("%w: can't query stock order book for %s", err, symbol)
	}
	if action == model.Sell {
		qty = -qty
	}
	return qty, nil
}

// OptionsQuantityOnOrderBook sums resting option-order quantity for an
// underlying, right and side, in share equivalent. Buys positive, sells
// negative.
func (s *Store) OptionsQuantityOnOrderBook(account, symbol string, right model.Right, action model.OrderAction) (float64, error) {
	var qty float64
	if err := s.db.Get(&qty, _queryOptionQtyOnBook, account, right, symbol, action); err != nil {
		return 0, fmt.Errorf("%w: can't query option order book for %s", err, symbol)
	}
	if action == model.Sell {
		qty = -qty
	}
	return qty, nil
}

// StockOrderIDs lists resting stock orders for a symbol and side, for
// cancel-and-replace.
func (s *Store) StockOrderIDs(account, symbol string, action model.OrderAction) ([]int64, error) {
	var ids []int64
	if err := s.db.Select(&ids, _queryStockOrderIDs, account, symbol, action); err != nil {
		return nil, fmt.Errorf("%w: can't query stock order ids for %s", err, symbol)
	}
	return ids, nil
}

const _queryOptionITM = `SELECT CASE o.call_or_put
			WHEN 'P' THEN u.price < o.strike
			ELSE u.price > o.strike
		END
	FROM option o
	JOIN contract u ON u.id = o.stock_id
	WHERE o.id = ? AND u.price IS NOT NULL`

// OptionInTheMoney reports whether an option row is in the money against
// the live underlying price. Unknown price reads as not in the money.
func (s *Store) OptionInTheMoney(contractID int64) (bool, error) {
	var itm bool
	if err := s.db.Get(&itm, _queryOptionITM, contractID); err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: can't check moneyness of contract %d", err, contractID)
	}
	return itm, nil
}

// PutOrderNotional is the base-currency notional resting in sell-put
// orders (<= 0), optionally restricted to one underlying.
func (s *Store) PutOrderNotional(account, symbol string) (float64, error) {
	var notional float64
	if err := s.db.Get(&notional, _queryPutOrderNotional, account, symbol, symbol); err != nil {
		return 0, fmt.Errorf("%w: can't query put order notional", err)
	}
	return -notional, nil
}
