package sqlite

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type Config struct {
	Path string `yaml:"path"`
}

func NewConfigFromEnv() *Config {
	return &Config{
		Path: os.Getenv("WHEELBOT_DB_PATH"),
	}
}

func (c *Config) Setup() *Config {
	const defaultPath = "./var/db/wheel-bot.db"

	c.Path = cmp.Or(c.Path, defaultPath)

	return c
}

// NewDB opens (creating if needed) the local database file and applies the
// schema. One connection per process, single writer.
func NewDB(cfg *Config) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: can't create db dir", err)
	}

	db, err := sqlx.Connect("sqlite3", cfg.Path+"?_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("%w: can't open sqlite db", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: can't set pragma %s", err, p)
		}
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: can't migrate schema", err)
	}

	return db, nil
}
