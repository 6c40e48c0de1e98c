package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/poedgar905/Paulie/models"
)

// MockStore is an in-memory DataStore for testing
type MockStore struct {
	mu sync.RWMutex

	Traders   map[string]models.WatchedTrader
	Positions map[string]models.CopyPosition

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Traders:     make(map[string]models.WatchedTrader),
		Positions:   make(map[string]models.CopyPosition),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockStore) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackCall("Close")
}

func (m *MockStore) AddTrader(ctx context.Context, trader models.WatchedTrader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("AddTrader"); err != nil {
		return err
	}
	if existing, ok := m.Traders[trader.Address]; ok {
		existing.Username = trader.Username
		existing.ProfileURL = trader.ProfileURL
		m.Traders[trader.Address] = existing
		return nil
	}
	m.Traders[trader.Address] = trader
	return nil
}

func (m *MockStore) RemoveTrader(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("RemoveTrader"); err != nil {
		return err
	}
	if _, ok := m.Traders[address]; !ok {
		return ErrNotFound
	}
	delete(m.Traders, address)
	return nil
}

func (m *MockStore) GetTrader(ctx context.Context, address string) (*models.WatchedTrader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetTrader"); err != nil {
		return nil, err
	}
	trader, ok := m.Traders[address]
	if !ok {
		return nil, ErrNotFound
	}
	copied := trader
	return &copied, nil
}

func (m *MockStore) ListTraders(ctx context.Context) ([]models.WatchedTrader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListTraders"); err != nil {
		return nil, err
	}
	traders := make([]models.WatchedTrader, 0, len(m.Traders))
	for _, t := range m.Traders {
		traders = append(traders, t)
	}
	sort.Slice(traders, func(i, j int) bool {
		return traders[i].Address < traders[j].Address
	})
	return traders, nil
}

func (m *MockStore) SetNickname(ctx context.Context, address, nickname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SetNickname"); err != nil {
		return err
	}
	trader, ok := m.Traders[address]
	if !ok {
		return ErrNotFound
	}
	trader.Nickname = nickname
	m.Traders[address] = trader
	return nil
}

func (m *MockStore) UpdateLastSeen(ctx context.Context, address, tradeID string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("UpdateLastSeen"); err != nil {
		return err
	}
	trader, ok := m.Traders[address]
	if !ok {
		return ErrNotFound
	}
	trader.LastSeenTradeID = tradeID
	trader.LastSeenTS = ts
	m.Traders[address] = trader
	return nil
}

func (m *MockStore) SavePosition(ctx context.Context, pos models.CopyPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SavePosition"); err != nil {
		return err
	}
	m.Positions[pos.ID] = pos
	return nil
}

func (m *MockStore) GetPosition(ctx context.Context, id string) (*models.CopyPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetPosition"); err != nil {
		return nil, err
	}
	pos, ok := m.Positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := pos
	return &copied, nil
}

func (m *MockStore) GetOpenPosition(ctx context.Context, trader, marketID, outcome string) (*models.CopyPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetOpenPosition"); err != nil {
		return nil, err
	}
	for _, pos := range m.Positions {
		if pos.SourceTrader == trader && pos.MarketID == marketID &&
			pos.Outcome == outcome && pos.Status == models.StatusOpen {
			copied := pos
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) ListPositions(ctx context.Context, status models.PositionStatus, limit int) ([]models.CopyPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListPositions"); err != nil {
		return nil, err
	}
	var positions []models.CopyPosition
	for _, pos := range m.Positions {
		if status != "" && pos.Status != status {
			continue
		}
		positions = append(positions, pos)
		if limit > 0 && len(positions) >= limit {
			break
		}
	}
	return positions, nil
}

func (m *MockStore) GetPortfolioSummary(ctx context.Context) (*models.PortfolioSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetPortfolioSummary"); err != nil {
		return nil, err
	}
	var summary models.PortfolioSummary
	for _, pos := range m.Positions {
		switch pos.Status {
		case models.StatusOpen:
			summary.OpenCount++
			summary.TotalInvested += pos.AmountUSD
		case models.StatusClosed:
			summary.ClosedCount++
			summary.RealizedUSD += pos.RealizedPnlUSD
			if pos.RealizedPnlUSD > 0 {
				summary.WinCount++
			} else if pos.RealizedPnlUSD < 0 {
				summary.LossCount++
			}
		case models.StatusFailed:
			summary.FailedCount++
		}
	}
	return &summary, nil
}
