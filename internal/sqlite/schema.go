package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Contract/stock/option rows persist across sessions as a growing
// instrument cache. Balance, position and open_order rows are session
// scoped and rebuilt from the broker's push stream after every connect.
// Dates are ISO-8601 text: julianday() accepts them directly and the
// driver hands them back as plain strings.
const _schema = `
CREATE TABLE IF NOT EXISTS portfolio (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	account          TEXT NOT NULL UNIQUE,
	base_currency    TEXT NOT NULL,
	benchmark_symbol TEXT NOT NULL DEFAULT '',
	put_ratio        REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS currency (
	base     TEXT NOT NULL,
	currency TEXT NOT NULL,
	rate     REAL NOT NULL,
	PRIMARY KEY (base, currency)
);

CREATE TABLE IF NOT EXISTS contract (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	con_id               INTEGER,
	sec_type             TEXT NOT NULL,
	symbol               TEXT NOT NULL,
	name                 TEXT,
	exchange             TEXT,
	currency             TEXT NOT NULL DEFAULT 'USD',
	price                REAL,
	bid                  REAL,
	ask                  REAL,
	previous_close_price REAL
);
CREATE UNIQUE INDEX IF NOT EXISTS contract_con_id
	ON contract (con_id) WHERE con_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS contract_sec_type_symbol
	ON contract (sec_type, symbol);

CREATE TABLE IF NOT EXISTS stock (
	id                    INTEGER PRIMARY KEY REFERENCES contract (id),
	industry              TEXT,
	category              TEXT,
	subcategory           TEXT,
	historical_volatility REAL
);

CREATE TABLE IF NOT EXISTS option (
	id                 INTEGER PRIMARY KEY REFERENCES contract (id),
	stock_id           INTEGER NOT NULL REFERENCES contract (id),
	call_or_put        TEXT NOT NULL,
	strike             REAL NOT NULL,
	last_trade_date    TEXT NOT NULL,
	multiplier         INTEGER NOT NULL DEFAULT 100,
	implied_volatility REAL,
	delta              REAL,
	gamma              REAL,
	vega               REAL,
	theta              REAL,
	pv_dividend        REAL,
	UNIQUE (stock_id, call_or_put, strike, last_trade_date)
);

CREATE TABLE IF NOT EXISTS balance (
	portfolio_id INTEGER NOT NULL REFERENCES portfolio (id),
	currency     TEXT NOT NULL,
	quantity     REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (portfolio_id, currency)
);

CREATE TABLE IF NOT EXISTS position (
	portfolio_id INTEGER NOT NULL REFERENCES portfolio (id),
	contract_id  INTEGER NOT NULL REFERENCES contract (id),
	quantity     REAL NOT NULL DEFAULT 0,
	cost         REAL NOT NULL DEFAULT 0,
	open_date    TEXT NOT NULL DEFAULT (date('now')),
	PRIMARY KEY (portfolio_id, contract_id)
);

CREATE TABLE IF NOT EXISTS open_order (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id    INTEGER NOT NULL REFERENCES portfolio (id),
	contract_id   INTEGER NOT NULL REFERENCES contract (id),
	perm_id       INTEGER,
	client_id     INTEGER,
	order_id      INTEGER NOT NULL UNIQUE,
	order_ref     TEXT,
	action_type   TEXT NOT NULL,
	total_qty     REAL NOT NULL,
	cash_qty      REAL,
	lmt_price     REAL,
	aux_price     REAL,
	status        TEXT NOT NULL,
	remaining_qty REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS trading_parameters (
	portfolio_id INTEGER NOT NULL REFERENCES portfolio (id),
	stock_id     INTEGER NOT NULL REFERENCES contract (id),
	nav_ratio    REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (portfolio_id, stock_id)
);
`

func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(_schema); err != nil {
		return fmt.Errorf("%w: can't apply schema", err)
	}
	return nil
}
