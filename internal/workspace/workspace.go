// Package workspace persists the bot's configuration surface between runs:
// the watchlist, the strategy definitions, and a journal of every trade.
package workspace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"candlebot/internal/model"
	"candlebot/internal/strategy"
)

// Workspace is a single-writer SQLite store.
type Workspace struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Workspace) DB() *sql.DB { return w.db }

// Open opens (or creates) the workspace database with WAL mode and schema.
func Open(path string) (*Workspace, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("workspace open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace schema: %w", err)
	}

	slog.Info("workspace opened", "path", path)
	return &Workspace{db: db}, nil
}

// Close releases the database handle.
func (w *Workspace) Close() error {
	return w.db.Close()
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS watchlist (
			symbol TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS strategies (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			type            TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			timeframe       TEXT NOT NULL,
			balance_pct     REAL NOT NULL,
			take_profit_pct REAL NOT NULL,
			stop_loss_pct   REAL NOT NULL,
			extra_params    TEXT NOT NULL DEFAULT '{}',
			UNIQUE (type, symbol, timeframe)
		);

		CREATE TABLE IF NOT EXISTS trade_journal (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			opened_at   INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL,
			strategy    TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			status      TEXT NOT NULL,
			entry_price REAL,
			quantity    TEXT NOT NULL,
			pnl         REAL NOT NULL
		);
	`)
	return err
}

// extraParams is the per-type parameter blob stored alongside the common
// strategy columns.
type extraParams struct {
	RSILength int     `json:"rsi_length,omitempty"`
	EMAFast   int     `json:"ema_fast,omitempty"`
	EMASlow   int     `json:"ema_slow,omitempty"`
	EMASignal int     `json:"ema_signal,omitempty"`
	MinVolume float64 `json:"min_volume,omitempty"`
}

// Watchlist returns the stored symbols in insertion order.
func (w *Workspace) Watchlist() ([]string, error) {
	rows, err := w.db.Query(`SELECT symbol FROM watchlist ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("watchlist query: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// AddSymbol adds a symbol to the watchlist. Adding an existing symbol is a
// no-op.
func (w *Workspace) AddSymbol(symbol string) error {
	_, err := w.db.Exec(`INSERT OR IGNORE INTO watchlist (symbol) VALUES (?)`, symbol)
	return err
}

// RemoveSymbol drops a symbol from the watchlist.
func (w *Workspace) RemoveSymbol(symbol string) error {
	_, err := w.db.Exec(`DELETE FROM watchlist WHERE symbol = ?`, symbol)
	return err
}

// SaveWatchlist replaces the stored watchlist.
func (w *Workspace) SaveWatchlist(symbols []string) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
		return err
	}
	for _, s := range symbols {
		if _, err := tx.Exec(`INSERT INTO watchlist (symbol) VALUES (?)`, s); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Strategies loads every stored strategy definition.
func (w *Workspace) Strategies() ([]strategy.Config, error) {
	rows, err := w.db.Query(`
		SELECT type, symbol, timeframe, balance_pct, take_profit_pct, stop_loss_pct, extra_params
		FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("strategies query: %w", err)
	}
	defer rows.Close()

	var configs []strategy.Config
	for rows.Next() {
		var cfg strategy.Config
		var tf, extra string
		if err := rows.Scan(&cfg.Type, &cfg.Symbol, &tf,
			&cfg.BalancePct, &cfg.TakeProfitPct, &cfg.StopLossPct, &extra); err != nil {
			return nil, err
		}
		cfg.Timeframe = model.Timeframe(tf)

		var ep extraParams
		if err := json.Unmarshal([]byte(extra), &ep); err != nil {
			return nil, fmt.Errorf("strategy extra params for %s %s: %w", cfg.Type, cfg.Symbol, err)
		}
		cfg.RSILength = ep.RSILength
		cfg.EMAFast = ep.EMAFast
		cfg.EMASlow = ep.EMASlow
		cfg.EMASignal = ep.EMASignal
		cfg.MinVolume = ep.MinVolume

		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// AddStrategy stores one strategy definition. The (type, symbol, timeframe)
// triple must be unique.
func (w *Workspace) AddStrategy(cfg strategy.Config) error {
	extra, err := json.Marshal(extraParams{
		RSILength: cfg.RSILength,
		EMAFast:   cfg.EMAFast,
		EMASlow:   cfg.EMASlow,
		EMASignal: cfg.EMASignal,
		MinVolume: cfg.MinVolume,
	})
	if err != nil {
		return err
	}
	_, err = w.db.Exec(`
		INSERT INTO strategies (type, symbol, timeframe, balance_pct, take_profit_pct, stop_loss_pct, extra_params)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cfg.Type, cfg.Symbol, string(cfg.Timeframe),
		cfg.BalancePct, cfg.TakeProfitPct, cfg.StopLossPct, string(extra))
	return err
}

// RemoveStrategy deletes one strategy definition. Returns true when a row
// was removed.
func (w *Workspace) RemoveStrategy(typ, symbol string, tf model.Timeframe) (bool, error) {
	res, err := w.db.Exec(`DELETE FROM strategies WHERE type = ? AND symbol = ? AND timeframe = ?`,
		typ, symbol, string(tf))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordTrade appends a trade snapshot to the journal. Open and close are
// recorded as separate rows so the journal doubles as an event log.
func (w *Workspace) RecordTrade(t model.Trade) error {
	var entry interface{}
	if t.EntryPrice != nil {
		entry = *t.EntryPrice
	}
	_, err := w.db.Exec(`
		INSERT INTO trade_journal (opened_at, recorded_at, strategy, symbol, side, status, entry_price, quantity, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OpenedAt, time.Now().Unix(), t.StrategyName, t.Asset.Symbol,
		string(t.Side), t.Status, entry, t.Quantity.String(), t.PnL)
	return err
}

// JournalEntry is one recorded trade snapshot.
type JournalEntry struct {
	OpenedAt   int64    `json:"opened_at"`
	RecordedAt int64    `json:"recorded_at"`
	Strategy   string   `json:"strategy"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Status     string   `json:"status"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
	Quantity   string   `json:"quantity"`
	PnL        float64  `json:"pnl"`
}

// Journal returns the most recent trade snapshots, newest first.
func (w *Workspace) Journal(limit int) ([]JournalEntry, error) {
	rows, err := w.db.Query(`
		SELECT opened_at, recorded_at, strategy, symbol, side, status, entry_price, quantity, pnl
		FROM trade_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var entry sql.NullFloat64
		if err := rows.Scan(&e.OpenedAt, &e.RecordedAt, &e.Strategy, &e.Symbol,
			&e.Side, &e.Status, &entry, &e.Quantity, &e.PnL); err != nil {
			return nil, err
		}
		if entry.Valid {
			e.EntryPrice = &entry.Float64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
