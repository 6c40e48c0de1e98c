package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/poedgar905/Paulie/models"
)

// PostgresStore wraps PostgreSQL persistence with Redis caching. It is used
// when several bot instances share one database; the SQLite store covers the
// single-instance setup.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

const (
	cacheKeyWatchlist = "watchlist"
	cacheKeyPortfolio = "portfolio:summary"
	cacheTTL          = 30 * time.Second
)

// NewPostgres creates a new PostgreSQL store with connection pooling and
// Redis caching. Connection parameters come from the environment.
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "copytrader")
	password := getEnv("POSTGRES_PASSWORD", "copytrader")
	dbname := getEnv("POSTGRES_DB", "copytrader")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password:   redisPassword,
		DB:         0,
		PoolSize:   20,
		MaxRetries: 3,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	store := &PostgresStore{pool: pool, redis: rdb}
	if err := store.runMigrations(context.Background()); err != nil {
		pool.Close()
		rdb.Close()
		return nil, err
	}

	return store, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Close releases database connections
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Redis returns the shared Redis client for metrics publishing.
func (s *PostgresStore) Redis() *redis.Client {
	return s.redis
}

// AddTrader upserts a watchlist entry.
func (s *PostgresStore) AddTrader(ctx context.Context, trader models.WatchedTrader) error {
	addedAt := trader.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO watched_traders (address, username, nickname, profile_url, last_seen_trade_id, last_seen_ts, added_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (address) DO UPDATE SET
            username = EXCLUDED.username,
            profile_url = EXCLUDED.profile_url
    `, trader.Address, trader.Username, trader.Nickname, trader.ProfileURL,
		trader.LastSeenTradeID, trader.LastSeenTS, addedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: add trader: %w", err)
	}

	s.redis.Del(ctx, cacheKeyWatchlist)
	return nil
}

// RemoveTrader deletes a watchlist entry.
func (s *PostgresStore) RemoveTrader(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watched_traders WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("postgres: remove trader: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.redis.Del(ctx, cacheKeyWatchlist)
	return nil
}

// GetTrader returns a single watchlist entry.
func (s *PostgresStore) GetTrader(ctx context.Context, address string) (*models.WatchedTrader, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT address, username, nickname, profile_url, last_seen_trade_id, last_seen_ts, added_at
        FROM watched_traders WHERE address = $1`, address)

	var t models.WatchedTrader
	if err := row.Scan(&t.Address, &t.Username, &t.Nickname, &t.ProfileURL,
		&t.LastSeenTradeID, &t.LastSeenTS, &t.AddedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListTraders returns the full watchlist, oldest first. Served from Redis
// when fresh.
func (s *PostgresStore) ListTraders(ctx context.Context) ([]models.WatchedTrader, error) {
	if cached, err := s.redis.Get(ctx, cacheKeyWatchlist).Result(); err == nil {
		var traders []models.WatchedTrader
		if json.Unmarshal([]byte(cached), &traders) == nil {
			return traders, nil
		}
	}

	rows, err := s.pool.Query(ctx, `
        SELECT address, username, nickname, profile_url, last_seen_trade_id, last_seen_ts, added_at
        FROM watched_traders
        ORDER BY added_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traders []models.WatchedTrader
	for rows.Next() {
		var t models.WatchedTrader
		if err := rows.Scan(&t.Address, &t.Username, &t.Nickname, &t.ProfileURL,
			&t.LastSeenTradeID, &t.LastSeenTS, &t.AddedAt); err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if data, err := json.Marshal(traders); err == nil {
		s.redis.Set(ctx, cacheKeyWatchlist, data, cacheTTL)
	}
	return traders, nil
}

// SetNickname assigns an operator alias to a watched trader.
func (s *PostgresStore) SetNickname(ctx context.Context, address, nickname string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watched_traders SET nickname = $1 WHERE address = $2`, nickname, address)
	if err != nil {
		return fmt.Errorf("postgres: set nickname: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.redis.Del(ctx, cacheKeyWatchlist)
	return nil
}

// UpdateLastSeen advances the detection cursor for a trader. The watchlist
// cache is left alone; the cursor is read back from the database each cycle.
func (s *PostgresStore) UpdateLastSeen(ctx context.Context, address, tradeID string, ts int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watched_traders SET last_seen_trade_id = $1, last_seen_ts = $2 WHERE address = $3`,
		tradeID, ts, address)
	if err != nil {
		return fmt.Errorf("postgres: update last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.redis.Del(ctx, cacheKeyWatchlist)
	return nil
}

// SavePosition upserts a copy position by id.
func (s *PostgresStore) SavePosition(ctx context.Context, pos models.CopyPosition) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO copy_positions (
            id, source_trader, source_trade_id, market_id, token_id, outcome, title,
            entry_price, size, amount_usd, status, order_id, alert_message_id, neg_risk,
            opened_at, close_price, closed_at, realized_pnl_usd, realized_pnl_pct
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            order_id = EXCLUDED.order_id,
            alert_message_id = EXCLUDED.alert_message_id,
            close_price = EXCLUDED.close_price,
            closed_at = EXCLUDED.closed_at,
            realized_pnl_usd = EXCLUDED.realized_pnl_usd,
            realized_pnl_pct = EXCLUDED.realized_pnl_pct
    `, pos.ID, pos.SourceTrader, pos.SourceTradeID, pos.MarketID, pos.TokenID,
		pos.Outcome, pos.Title, pos.EntryPrice, pos.Size, pos.AmountUSD,
		string(pos.Status), pos.OrderID, pos.AlertMessageID, pos.NegRisk,
		nullTime(pos.OpenedAt), pos.ClosePrice, nullTime(pos.ClosedAt),
		pos.RealizedPnlUSD, pos.RealizedPnlPct)
	if err != nil {
		return fmt.Errorf("postgres: save position: %w", err)
	}

	s.redis.Del(ctx, cacheKeyPortfolio)
	return nil
}

// GetPosition returns a position by id.
func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*models.CopyPosition, error) {
	row := s.pool.QueryRow(ctx, pgPositionSelect+` WHERE id = $1`, id)
	pos, err := scanPgPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return pos, nil
}

// GetOpenPosition returns the OPEN position for a (trader, market, outcome)
// tuple.
func (s *PostgresStore) GetOpenPosition(ctx context.Context, trader, marketID, outcome string) (*models.CopyPosition, error) {
	row := s.pool.QueryRow(ctx, pgPositionSelect+`
        WHERE source_trader = $1 AND market_id = $2 AND outcome = $3 AND status = 'OPEN'
        ORDER BY opened_at DESC LIMIT 1`, trader, marketID, outcome)
	pos, err := scanPgPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return pos, nil
}

// ListPositions returns positions, newest first, optionally filtered by
// status.
func (s *PostgresStore) ListPositions(ctx context.Context, status models.PositionStatus, limit int) ([]models.CopyPosition, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, pgPositionSelect+`
            ORDER BY opened_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, pgPositionSelect+`
            WHERE status = $1
            ORDER BY opened_at DESC LIMIT $2`, string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []models.CopyPosition
	for rows.Next() {
		pos, err := scanPgPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	return positions, rows.Err()
}

// GetPortfolioSummary aggregates position counts and realized P&L, cached in
// Redis for a short window.
func (s *PostgresStore) GetPortfolioSummary(ctx context.Context) (*models.PortfolioSummary, error) {
	if cached, err := s.redis.Get(ctx, cacheKeyPortfolio).Result(); err == nil {
		var summary models.PortfolioSummary
		if json.Unmarshal([]byte(cached), &summary) == nil {
			return &summary, nil
		}
	}

	row := s.pool.QueryRow(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE status = 'OPEN'),
            COUNT(*) FILTER (WHERE status = 'CLOSED'),
            COUNT(*) FILTER (WHERE status = 'FAILED'),
            COALESCE(SUM(amount_usd) FILTER (WHERE status = 'OPEN'), 0),
            COALESCE(SUM(realized_pnl_usd) FILTER (WHERE status = 'CLOSED'), 0),
            COUNT(*) FILTER (WHERE status = 'CLOSED' AND realized_pnl_usd > 0),
            COUNT(*) FILTER (WHERE status = 'CLOSED' AND realized_pnl_usd < 0)
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
		return nil, fmt.Errorf("postgres: portfolio summary: %w", err)
	}

	if data, err := json.Marshal(summary); err == nil {
		s.redis.Set(ctx, cacheKeyPortfolio, data, cacheTTL)
	}
	return &summary, nil
}

const pgPositionSelect = `
    SELECT id, source_trader, source_trade_id, market_id, token_id, outcome, title,
           entry_price, size, amount_usd, status, order_id, alert_message_id, neg_risk,
           opened_at, close_price, closed_at, realized_pnl_usd, realized_pnl_pct
    FROM copy_positions`

func scanPgPosition(row pgx.Row) (*models.CopyPosition, error) {
	var p models.CopyPosition
	var status string
	var openedAt, closedAt *time.Time
	if err := row.Scan(&p.ID, &p.SourceTrader, &p.SourceTradeID, &p.MarketID,
		&p.TokenID, &p.Outcome, &p.Title, &p.EntryPrice, &p.Size, &p.AmountUSD,
		&status, &p.OrderID, &p.AlertMessageID, &p.NegRisk, &openedAt,
		&p.ClosePrice, &closedAt, &p.RealizedPnlUSD, &p.RealizedPnlPct); err != nil {
		return nil, err
	}
	p.Status = models.PositionStatus(status)
	if openedAt != nil {
		p.OpenedAt = *openedAt
	}
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}
	return &p, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS watched_traders (
        address TEXT PRIMARY KEY,
        username TEXT,
        nickname TEXT,
        profile_url TEXT,
        last_seen_trade_id TEXT,
        last_seen_ts BIGINT DEFAULT 0,
        added_at TIMESTAMPTZ
    );

    CREATE TABLE IF NOT EXISTS copy_positions (
        id TEXT PRIMARY KEY,
        source_trader TEXT NOT NULL,
        source_trade_id TEXT,
        market_id TEXT NOT NULL,
        token_id TEXT,
        outcome TEXT NOT NULL,
        title TEXT,
        entry_price DOUBLE PRECISION,
        size DOUBLE PRECISION,
        amount_usd DOUBLE PRECISION,
        status TEXT NOT NULL,
        order_id TEXT,
        alert_message_id BIGINT DEFAULT 0,
        neg_risk BOOLEAN DEFAULT FALSE,
        opened_at TIMESTAMPTZ,
        close_price DOUBLE PRECISION DEFAULT 0,
        closed_at TIMESTAMPTZ,
        realized_pnl_usd DOUBLE PRECISION DEFAULT 0,
        realized_pnl_pct DOUBLE PRECISION DEFAULT 0
    );

    CREATE INDEX IF NOT EXISTS idx_positions_status ON copy_positions(status);
    CREATE INDEX IF NOT EXISTS idx_positions_open_slot
        ON copy_positions(source_trader, market_id, outcome, status);
    `

	_, err := s.pool.Exec(ctx, schema)
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
