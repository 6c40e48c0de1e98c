package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poedgar905/Paulie/models"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite persistence for the watchlist and copy positions.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddTrader upserts a watchlist entry. Re-adding an existing address updates
// the username and profile URL but preserves last-seen state.
func (s *Store) AddTrader(ctx context.Context, trader models.WatchedTrader) error {
	addedAt := trader.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO watched_traders (address, username, nickname, profile_url, last_seen_trade_id, last_seen_ts, added_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(address) DO UPDATE SET
            username = excluded.username,
            profile_url = excluded.profile_url
    `, trader.Address, trader.Username, trader.Nickname, trader.ProfileURL,
		trader.LastSeenTradeID, trader.LastSeenTS, timeString(addedAt))
	if err != nil {
		return fmt.Errorf("storage: add trader: %w", err)
	}
	return nil
}

// RemoveTrader deletes a watchlist entry. Positions opened from this trader
// are kept.
func (s *Store) RemoveTrader(ctx context.Context, address string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM watched_traders WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("storage: remove trader: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTrader returns a single watchlist entry.
func (s *Store) GetTrader(ctx context.Context, address string) (*models.WatchedTrader, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT address, username, nickname, profile_url, last_seen_trade_id, last_seen_ts, added_at
        FROM watched_traders WHERE address = ?`, address)

	trader, err := scanTrader(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return trader, nil
}

// ListTraders returns the full watchlist, oldest first.
func (s *Store) ListTraders(ctx context.Context) ([]models.WatchedTrader, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT address, username, nickname, profile_url, last_seen_trade_id, last_seen_ts, added_at
        FROM watched_traders
        ORDER BY datetime(added_at) ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traders []models.WatchedTrader
	for rows.Next() {
		trader, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		traders = append(traders, *trader)
	}
	return traders, rows.Err()
}

// SetNickname assigns an operator alias to a watched trader.
func (s *Store) SetNickname(ctx context.Context, address, nickname string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE watched_traders SET nickname = ? WHERE address = ?`, nickname, address)
	if err != nil {
		return fmt.Errorf("storage: set nickname: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastSeen advances the detection cursor for a trader.
func (s *Store) UpdateLastSeen(ctx context.Context, address, tradeID string, ts int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE watched_traders SET last_seen_trade_id = ?, last_seen_ts = ? WHERE address = ?`,
		tradeID, ts, address)
	if err != nil {
		return fmt.Errorf("storage: update last seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrader(row rowScanner) (*models.WatchedTrader, error) {
	var t models.WatchedTrader
	var addedAt sql.NullString
	if err := row.Scan(&t.Address, &t.Username, &t.Nickname, &t.ProfileURL,
		&t.LastSeenTradeID, &t.LastSeenTS, &addedAt); err != nil {
		return nil, err
	}
	if addedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339, addedAt.String); err == nil {
			t.AddedAt = parsed
		}
	}
	return &t, nil
}

// SavePosition upserts a copy position by id.
func (s *Store) SavePosition(ctx context.Context, pos models.CopyPosition) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO copy_positions (
            id, source_trader, source_trade_id, market_id, token_id, outcome, title,
            entry_price, size, amount_usd, status, order_id, alert_message_id, neg_risk,
            opened_at, close_price, closed_at, realized_pnl_usd, realized_pnl_pct
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            order_id = excluded.order_id,
            alert_message_id = excluded.alert_message_id,
            close_price = excluded.close_price,
            closed_at = excluded.closed_at,
            realized_pnl_usd = excluded.realized_pnl_usd,
            realized_pnl_pct = excluded.realized_pnl_pct
    `, pos.ID, pos.SourceTrader, pos.SourceTradeID, pos.MarketID, pos.TokenID,
		pos.Outcome, pos.Title, pos.EntryPrice, pos.Size, pos.AmountUSD,
		string(pos.Status), pos.OrderID, pos.AlertMessageID, boolInt(pos.NegRisk),
		timeString(pos.OpenedAt), pos.ClosePrice, timeString(pos.ClosedAt),
		pos.RealizedPnlUSD, pos.RealizedPnlPct)
	if err != nil {
		return fmt.Errorf("storage: save position: %w", err)
	}
	return nil
}

// GetPosition returns a position by id.
func (s *Store) GetPosition(ctx context.Context, id string) (*models.CopyPosition, error) {
	row := s.db.QueryRowContext(ctx, positionSelect+` WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return pos, nil
}

// GetOpenPosition returns the OPEN position for a (trader, market, outcome)
// tuple. There is at most one.
func (s *Store) GetOpenPosition(ctx context.Context, trader, marketID, outcome string) (*models.CopyPosition, error) {
	row := s.db.QueryRowContext(ctx, positionSelect+`
        WHERE source_trader = ? AND market_id = ? AND outcome = ? AND status = 'OPEN'
        ORDER BY datetime(opened_at) DESC LIMIT 1`, trader, marketID, outcome)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return pos, nil
}

// ListPositions returns positions, newest first, optionally filtered by
// status. An empty status returns everything.
func (s *Store) ListPositions(ctx context.Context, status models.PositionStatus, limit int) ([]models.CopyPosition, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, positionSelect+`
            ORDER BY datetime(opened_at) DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, positionSelect+`
            WHERE status = ?
            ORDER BY datetime(opened_at) DESC LIMIT ?`, string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.CopyPosition
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	return positions, rows.Err()
}

// GetPortfolioSummary aggregates position counts and realized P&L.
func (s *Store) GetPortfolioSummary(ctx context.Context) (*models.PortfolioSummary, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT
            COUNT(CASE WHEN status = 'OPEN' THEN 1 END),
            COUNT(CASE WHEN status = 'CLOSED' THEN 1 END),
            COUNT(CASE WHEN status = 'FAILED' THEN 1 END),
            COALESCE(SUM(CASE WHEN status = 'OPEN' THEN amount_usd END), 0),
            COALESCE(SUM(CASE WHEN status = 'CLOSED' THEN realized_pnl_usd END), 0),
            COUNT(CASE WHEN status = 'CLOSED' AND realized_pnl_usd > 0 THEN 1 END),
            COUNT(CASE WHEN status = 'CLOSED' AND realized_pnl_usd < 0 THEN 1 END)
        FROM copy_positions`)

	var summary models.PortfolioSummary
	if err := row.Scan(
		&summary.OpenCount,
		&summary.ClosedCount,
		&summary.FailedCount,
		&summary.TotalInvested,
		&summary.RealizedUSD,
		&summary.WinCount,
		&summary.LossCount,
	); err != nil {
		return nil, fmt.Errorf("storage: portfolio summary: %w", err)
	}
	return &summary, nil
}

const positionSelect = `
    SELECT id, source_trader, source_trade_id, market_id, token_id, outcome, title,
           entry_price, size, amount_usd, status, order_id, alert_message_id, neg_risk,
           opened_at, close_price, closed_at, realized_pnl_usd, realized_pnl_pct
    FROM copy_positions`

func scanPosition(row rowScanner) (*models.CopyPosition, error) {
	var p models.CopyPosition
	var status string
	var negRisk int
	var openedAt, closedAt sql.NullString
	if err := row.Scan(&p.ID, &p.SourceTrader, &p.SourceTradeID, &p.MarketID,
		&p.TokenID, &p.Outcome, &p.Title, &p.EntryPrice, &p.Size, &p.AmountUSD,
		&status, &p.OrderID, &p.AlertMessageID, &negRisk, &openedAt,
		&p.ClosePrice, &closedAt, &p.RealizedPnlUSD, &p.RealizedPnlPct); err != nil {
		return nil, err
	}
	p.Status = models.PositionStatus(status)
	p.NegRisk = negRisk == 1
	if openedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339, openedAt.String); err == nil {
			p.OpenedAt = parsed
		}
	}
	if closedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339, closedAt.String); err == nil {
			p.ClosedAt = parsed
		}
	}
	return &p, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	const schema = `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS watched_traders (
        address TEXT PRIMARY KEY,
        username TEXT,
        nickname TEXT,
        profile_url TEXT,
        last_seen_trade_id TEXT,
        last_seen_ts INTEGER DEFAULT 0,
        added_at TEXT
    );

    CREATE TABLE IF NOT EXISTS copy_positions (
        id TEXT PRIMARY KEY,
        source_trader TEXT NOT NULL,
        source_trade_id TEXT,
        market_id TEXT NOT NULL,
        token_id TEXT,
        outcome TEXT NOT NULL,
        title TEXT,
        entry_price REAL,
        size REAL,
        amount_usd REAL,
        status TEXT NOT NULL,
        order_id TEXT,
        alert_message_id INTEGER DEFAULT 0,
        neg_risk INTEGER DEFAULT 0,
        opened_at TEXT,
        close_price REAL DEFAULT 0,
        closed_at TEXT,
        realized_pnl_usd REAL DEFAULT 0,
        realized_pnl_pct REAL DEFAULT 0
    );

    CREATE INDEX IF NOT EXISTS idx_positions_status ON copy_positions(status);
    CREATE INDEX IF NOT EXISTS idx_positions_open_slot
        ON copy_positions(source_trader, market_id, outcome, status);
    `

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeString(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
