package storage

import (
	"context"
	"errors"

	"github.com/poedgar905/Paulie/models"
)

// ErrNotFound is returned when a watchlist entry or position does not exist.
var ErrNotFound = errors.New("storage: not found")

// DataStore defines the interface for storage backends
type DataStore interface {
	Close() error

	// Watchlist operations
	AddTrader(ctx context.Context, trader models.WatchedTrader) error
	RemoveTrader(ctx context.Context, address string) error
	GetTrader(ctx context.Context, address string) (*models.WatchedTrader, error)
	ListTraders(ctx context.Context) ([]models.WatchedTrader, error)
	SetNickname(ctx context.Context, address, nickname string) error
	UpdateLastSeen(ctx context.Context, address, tradeID string, ts int64) error

	// Position operations
	SavePosition(ctx context.Context, pos models.CopyPosition) error
	GetPosition(ctx context.Context, id string) (*models.CopyPosition, error)
	GetOpenPosition(ctx context.Context, trader, marketID, outcome string) (*models.CopyPosition, error)
	ListPositions(ctx context.Context, status models.PositionStatus, limit int) ([]models.CopyPosition, error)
	GetPortfolioSummary(ctx context.Context) (*models.PortfolioSummary, error)
}

// Ensure implementations satisfy the interface
var _ DataStore = (*Store)(nil)
var _ DataStore = (*PostgresStore)(nil)
var _ DataStore = (*MockStore)(nil)
