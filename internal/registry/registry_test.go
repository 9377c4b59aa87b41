package registry

import (
	"testing"
	"time"

	"github.com/rylorin/wheel-bot/internal/ib"
	"github.com/rylorin/wheel-bot/internal/logger"
	"github.com/rylorin/wheel-bot/internal/model"
	"github.com/rylorin/wheel-bot/internal/sqlite"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.NewDB(&sqlite.Config{Path: t.TempDir() + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, logger.Nop{})
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"BRK.T":   "BRK",
		"FOO D":   "FOO-D",
		"MGM":     "MGM",
		"VTd":     "VT",
		"ABCd.T":  "ABC",
		"BRK B":   "BRK-B",
		"":        "",
		"dddd":    "",
		"CCL.T d": "CCL-",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSymbolIdempotent(t *testing.T) {
	for _, s := range []string{"BRK.T", "FOO D", "VTd", "ABCd.T", "PFSI", "BRK B"} {
		once := NormalizeSymbol(s)
		if twice := NormalizeSymbol(once); twice != once {
			t.Errorf("NormalizeSymbol not idempotent for %q: %q != %q", s, once, twice)
		}
	}
}

func TestFindOrCreateStockIdempotent(t *testing.T) {
	s := newTestStore(t)

	spec := ib.ContractSpec{ConID: 4001, Symbol: "CCL", SecType: model.Stock, Currency: "USD"}
	first, err := s.FindOrCreateContract(spec)
	require.NoError(t, err)
	require.NotZero(t, first)

	second, err := s.FindOrCreateContract(spec)
	require.NoError(t, err)
	require.Equal(t, first, second)

	var count int
	require.NoError(t, s.db.Get(&count, "SELECT COUNT(*) FROM contract WHERE sec_type = 'STK'"))
	require.Equal(t, 1, count)
}

func TestFindOrCreateStockSymbolVariants(t *testing.T) {
	s := newTestStore(t)

	first, err := s.FindOrCreateContract(ib.ContractSpec{Symbol: "BRK B", SecType: model.Stock, Currency: "USD"})
	require.NoError(t, err)

	// Feed variant of the same economic instrument.
	second, err := s.FindOrCreateContract(ib.ContractSpec{Symbol: "BRK B", SecType: model.Stock, Currency: "USD", ConID: 77})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFindOrCreateOptionCreatesUnderlying(t *testing.T) {
	s := newTestStore(t)

	spec := ib.ContractSpec{
		Symbol:        "MGM",
		SecType:       model.Option,
		Currency:      "USD",
		Strike:        40,
		Right:         model.Put,
		LastTradeDate: "20260116",
		Multiplier:    100,
	}
	id, err := s.FindOrCreateContract(spec)
	require.NoError(t, err)
	require.NotZero(t, id)

	var stockID int64
	require.NoError(t, s.db.Get(&stockID, "SELECT stock_id FROM option WHERE id = ?", id))
	var underlying string
	require.NoError(t, s.db.Get(&underlying, "SELECT symbol FROM contract WHERE id = ?", stockID))
	require.Equal(t, "MGM", underlying)

	var display string
	require.NoError(t, s.db.Get(&display, "SELECT symbol FROM contract WHERE id = ?", id))
	require.Equal(t, "MGM 16JAN26 40.0 P", display)

	// Same identity resolves to the same row.
	again, err := s.FindOrCreateContract(spec)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestFindOrCreateContractUnknownSecType(t *testing.T) {
	s := newTestStore(t)
	id, err := s.FindOrCreateContract(ib.ContractSpec{Symbol: "EUR", SecType: "CASH", Currency: "USD"})
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestDisplaySymbol(t *testing.T) {
	expiry := time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)
	got := DisplaySymbol("CCL", expiry, 15, model.Put)
	require.Equal(t, "CCL 19JAN24 15.0 P", got)
}
