package mirror

import (
	"fmt"
)

// Candidate is one ranked option contract surviving a strategy screen.
// Yield is the annualized premium yield the ranking sorted on.
type Candidate struct {
	ContractID    int64   `db:"contract_id"`
	ConID         int64   `db:"con_id"`
	Underlying    string  `db:"underlying"`
	Currency      string  `db:"currency"`
	Strike        float64 `db:"strike"`
	LastTradeDate string  `db:"last_trade_date"`
	Multiplier    int64   `db:"multiplier"`
	Bid           float64 `db:"bid"`
	Ask           float64 `db:"ask"`
	Delta         float64 `db:"delta"`
	Yield         float64 `db:"yield"`
}

const (
	_queryPutCandidates = `SELECT
			c.id AS contract_id,
			COALESCE(c.con_id, 0) AS con_id,
			u.symbol AS underlying,
			c.currency AS currency,
			o.strike AS strike,
			o.last_trade_date AS last_trade_date,
			o.multiplier AS multiplier,
			c.bid AS bid,
			COALESCE(c.ask, 0) AS ask,
			o.delta AS delta,
			c.bid / o.strike / (julianday(o.last_trade_date) - julianday('now')) * ? AS yield
		FROM option o
		JOIN contract c ON c.id = o.id
		JOIN contract u ON u.id = o.stock_id
		JOIN stock s ON s.id = o.stock_id
		JOIN portfolio p ON p.account = ?
		JOIN currency cur ON cur.base = p.base_currency AND cur.currency = c.currency
		WHERE o.call_or_put = 'P'
		 AND (? = '' OR u.symbol = ?)
		 AND o.last_trade_date > date('now')
		 AND c.bid IS NOT NULL AND c.bid >= ?
		 AND o.delta IS NOT NULL AND o.delta >= ?
		 AND o.implied_volatility IS NOT NULL
		 AND s.historical_volatility IS NOT NULL
		 AND o.implied_volatility > s.historical_volatility
		 AND o.strike < u.price
		 AND o.strike * o.multiplier / cur.rate <= ?
		ORDER BY yield DESC`

	_queryCallCandidates = `SELECT
			c.id AS contract_id,
			COALESCE(c.con_id, 0) AS con_id,
			u.symbol AS underlying,
			c.currency AS currency,
			o.strike AS strike,
			o.last_trade_date AS last_trade_date,
			o.multiplier AS multiplier,
			c.bid AS bid,
			COALESCE(c.ask, 0) AS ask,
			o.delta AS delta,
			c.bid / o.strike / (julianday(o.last_trade_date) - julianday('now')) * ? AS yield
		FROM option o
		JOIN contract c ON c.id = o.id
		JOIN contract u ON u.id = o.stock_id
		WHERE o.call_or_put = 'C'
		 AND u.symbol = ?
		 AND o.last_trade_date > date('now')
		 AND c.bid IS NOT NULL AND c.bid >= ?
		 AND o.delta IS NOT NULL AND o.delta <= ?
		 AND o.strike > u.price
		 AND o.strike > ?
		ORDER BY yield DESC`

	_queryRollCandidates = `SELECT
			c.id AS contract_id,
			COALESCE(c.con_id, 0) AS con_id,
			u.symbol AS underlying,
			c.currency AS currency,
			o.strike AS strike,
			o.last_trade_date AS last_trade_date,
			o.multiplier AS multiplier,
			COALESCE(c.bid, 0) AS bid,
			COALESCE(c.ask, 0) AS ask,
			COALESCE(o.delta, 0) AS delta,
			c.bid / o.strike / (julianday(o.last_trade_date) - julianday('now')) * ? AS yield
		FROM option o
		JOIN contract c ON c.id = o.id
		JOIN contract u ON u.id = o.stock_id
		JOIN option held ON held.id = ?
		WHERE o.call_or_put = held.call_or_put
		 AND o.stock_id = held.stock_id
		 AND o.id <> held.id
		 AND o.last_trade_date > held.last_trade_date
		 AND o.strike <= held.strike
		 AND c.bid IS NOT NULL
		 AND c.bid > (SELECT COALESCE(hc.ask, 0) FROM contract hc WHERE hc.id = held.id)
		ORDER BY yield DESC`
)

// PutCandidates screens the scanned chains for naked-put sales:
// out-of-the-money puts whose implied volatility exceeds the stock's
// historical volatility, within the delta and bid floors, whose assignment
// cost fits inside maxNotionalBase. An empty symbol screens every scanned
// underlying at once. Ranked by yield annualized over dayCountBase.
func (s *Store) PutCandidates(account, symbol string, minBid, maxDelta, maxNotionalBase, dayCountBase float64) ([]Candidate, error) {
	var out []Candidate
	err := s.db.Select(&out, _queryPutCandidates, dayCountBase, account, symbol, symbol, minBid, -maxDelta, maxNotionalBase)
	if err != nil {
		return nil, fmt.Errorf("%w: can't query put candidates", err)
	}
	return out, nil
}

// CallCandidates screens for covered-call sales: calls struck above both the
// market price and the position's average cost, within the delta and bid
// floors. Ranked by yield annualized over dayCountBase.
func (s *Store) CallCandidates(symbol string, minBid, maxDelta, minStrike, dayCountBase float64) ([]Candidate, error) {
	var out []Candidate
	err := s.db.Select(&out, _queryCallCandidates, dayCountBase, symbol, minBid, maxDelta, minStrike)
	if err != nil {
		return nil, fmt.Errorf("%w: can't query call candidates for %s", err, symbol)
	}
	return out, nil
}

// RollCandidates lists later-dated same-or-lower-strike options on the same
// underlying whose bid exceeds the held contract's ask, so closing the held
// leg and opening the candidate nets a credit. Ranked by yield annualized
// over dayCountBase.
func (s *Store) RollCandidates(heldContractID int64, dayCountBase float64) ([]Candidate, error) {
	var out []Candidate
	err := s.db.Select(&out, _queryRollCandidates, dayCountBase, heldContractID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't query roll candidates for contract %d", err, heldContractID)
	}
	return out, nil
}
