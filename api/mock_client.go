package api

import (
	"context"
	"strings"
	"sync"

	"github.com/poedgar905/Paulie/models"
)

// ClobClientInterface defines the methods needed from a CLOB client.
// This interface enables dependency injection for testing.
type ClobClientInterface interface {
	// Configuration
	SetFunder(address string)
	SetSignatureType(sigType int)
	DeriveAPICreds(ctx context.Context) (*APICreds, error)

	// Market data
	GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error)
	GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error)
	GetPrice(ctx context.Context, tokenID string) (float64, error)

	// Order placement
	PlaceLimitOrder(ctx context.Context, tokenID string, side Side, size float64, price float64, negRisk bool) (*OrderResponse, error)
	PlaceMarketOrder(ctx context.Context, tokenID string, side Side, amountUSDC float64, negRisk bool) (*OrderResponse, error)

	// Order management
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// DataClientInterface defines the methods needed from the data/gamma client.
type DataClientInterface interface {
	GetActivity(ctx context.Context, address string, limit int) ([]models.TradeEvent, error)
	ResolveUser(ctx context.Context, handle string) (address, username string, err error)
}

// ExecStyleDetector classifies trades as maker or taker fills.
type ExecStyleDetector interface {
	DetectExecStyle(ctx context.Context, txHash, trader string) (ExecStyle, error)
}

// Ensure real clients implement their interfaces
var _ ClobClientInterface = (*ClobClient)(nil)
var _ DataClientInterface = (*Client)(nil)
var _ ExecStyleDetector = (*PolygonClient)(nil)

// Ensure mocks implement the interfaces
var _ ClobClientInterface = (*MockClobClient)(nil)
var _ DataClientInterface = (*MockDataClient)(nil)
var _ ExecStyleDetector = (*MockExecStyleDetector)(nil)

// MockDataClient is a mock data/gamma client for testing
type MockDataClient struct {
	mu sync.RWMutex

	// Response data, keyed by lowercased trader address
	Activity map[string][]models.TradeEvent
	Profiles map[string]*Profile

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

// NewMockDataClient creates a new mock data client
func NewMockDataClient() *MockDataClient {
	return &MockDataClient{
		Activity:    make(map[string][]models.TradeEvent),
		Profiles:    make(map[string]*Profile),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockDataClient) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// SetActivity replaces the canned activity feed for an address
func (m *MockDataClient) SetActivity(address string, events []models.TradeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Activity[address] = events
}

func (m *MockDataClient) GetActivity(ctx context.Context, address string, limit int) ([]models.TradeEvent, error) {
	if err := m.trackCall("GetActivity"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.Activity[address]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	out := make([]models.TradeEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *MockDataClient) ResolveUser(ctx context.Context, handle string) (string, string, error) {
	if err := m.trackCall("ResolveUser"); err != nil {
		return "", "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.Profiles[handle]; ok {
		return strings.ToLower(p.ProxyWallet), p.Name, nil
	}
	return "0x1234567890abcdef1234567890abcdef12345678", handle, nil
}

// MockClobClient is a mock CLOB client for testing
type MockClobClient struct {
	mu sync.RWMutex

	// Response data
	OrderBook     *OrderBook
	MarketInfo    *MarketInfo
	OrderResponse *OrderResponse
	Status        *OrderStatus
	Price         float64
	APICreds      *APICreds

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error

	// Detailed call tracking for verification
	PlaceLimitOrderCalls  []PlaceLimitOrderCall
	PlaceMarketOrderCalls []PlaceMarketOrderCall
	CancelOrderCalls      []string
}

// PlaceLimitOrderCall records a call to PlaceLimitOrder
type PlaceLimitOrderCall struct {
	TokenID string
	Side    Side
	Size    float64
	Price   float64
	NegRisk bool
}

// PlaceMarketOrderCall records a call to PlaceMarketOrder
type PlaceMarketOrderCall struct {
	TokenID    string
	Side       Side
	AmountUSDC float64
	NegRisk    bool
}

// NewMockClobClient creates a new mock CLOB client
func NewMockClobClient() *MockClobClient {
	return &MockClobClient{
		Calls:                 make(map[string]int),
		ErrorOnNext:           make(map[string]error),
		PlaceLimitOrderCalls:  []PlaceLimitOrderCall{},
		PlaceMarketOrderCalls: []PlaceMarketOrderCall{},
		CancelOrderCalls:      []string{},
		Price:                 0.5,
		APICreds: &APICreds{
			APIKey:        "test-api-key",
			APISecret:     "test-api-secret",
			APIPassphrase: "test-passphrase",
		},
	}
}

func (m *MockClobClient) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *MockClobClient) SetFunder(address string) {
	m.trackCall("SetFunder")
}

func (m *MockClobClient) SetSignatureType(sigType int) {
	m.trackCall("SetSignatureType")
}

func (m *MockClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	if err := m.trackCall("DeriveAPICreds"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.APICreds, nil
}

func (m *MockClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	if err := m.trackCall("GetOrderBook"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.OrderBook != nil {
		return m.OrderBook, nil
	}
	return &OrderBook{
		AssetID: tokenID,
		Asks: []OrderBookLevel{
			{Price: "0.50", Size: "100"},
		},
		Bids: []OrderBookLevel{
			{Price: "0.49", Size: "100"},
		},
	}, nil
}

func (m *MockClobClient) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	if err := m.trackCall("GetMarket"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.MarketInfo != nil {
		return m.MarketInfo, nil
	}
	return &MarketInfo{
		ConditionID: conditionID,
		Active:      true,
		NegRisk:     false,
	}, nil
}

func (m *MockClobClient) GetPrice(ctx context.Context, tokenID string) (float64, error) {
	if err := m.trackCall("GetPrice"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Price, nil
}

// PlaceLimitOrder mocks placing a limit order
func (m *MockClobClient) PlaceLimitOrder(ctx context.Context, tokenID string, side Side, size float64, price float64, negRisk bool) (*OrderResponse, error) {
	if err := m.trackCall("PlaceLimitOrder"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.PlaceLimitOrderCalls = append(m.PlaceLimitOrderCalls, PlaceLimitOrderCall{
		TokenID: tokenID,
		Side:    side,
		Size:    size,
		Price:   price,
		NegRisk: negRisk,
	})
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.OrderResponse != nil {
		return m.OrderResponse, nil
	}
	return &OrderResponse{
		Success: true,
		OrderID: "mock-limit-order-id",
		Status:  "live",
	}, nil
}

// PlaceMarketOrder mocks placing a market order
func (m *MockClobClient) PlaceMarketOrder(ctx context.Context, tokenID string, side Side, amountUSDC float64, negRisk bool) (*OrderResponse, error) {
	if err := m.trackCall("PlaceMarketOrder"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.PlaceMarketOrderCalls = append(m.PlaceMarketOrderCalls, PlaceMarketOrderCall{
		TokenID:    tokenID,
		Side:       side,
		AmountUSDC: amountUSDC,
		NegRisk:    negRisk,
	})
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.OrderResponse != nil {
		return m.OrderResponse, nil
	}
	return &OrderResponse{
		Success: true,
		OrderID: "mock-order-id",
		Status:  "matched",
	}, nil
}

// GetOrderStatus mocks getting order status
func (m *MockClobClient) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	if err := m.trackCall("GetOrderStatus"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Status != nil {
		return m.Status, nil
	}
	return &OrderStatus{
		ID:           orderID,
		Status:       "matched",
		OriginalSize: "100",
		SizeMatched:  "100",
	}, nil
}

// CancelOrder mocks canceling an order
func (m *MockClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := m.trackCall("CancelOrder"); err != nil {
		return err
	}
	m.mu.Lock()
	m.CancelOrderCalls = append(m.CancelOrderCalls, orderID)
	m.mu.Unlock()
	return nil
}

// MockExecStyleDetector is a mock receipt inspector for testing
type MockExecStyleDetector struct {
	mu sync.RWMutex

	// Response data, keyed by tx hash
	Styles map[string]ExecStyle

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

// NewMockExecStyleDetector creates a new mock detector
func NewMockExecStyleDetector() *MockExecStyleDetector {
	return &MockExecStyleDetector{
		Styles:      make(map[string]ExecStyle),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockExecStyleDetector) DetectExecStyle(ctx context.Context, txHash, trader string) (ExecStyle, error) {
	m.mu.Lock()
	m.Calls["DetectExecStyle"]++
	if err, ok := m.ErrorOnNext["DetectExecStyle"]; ok {
		delete(m.ErrorOnNext, "DetectExecStyle")
		m.mu.Unlock()
		return ExecStyleUnknown, err
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if style, ok := m.Styles[txHash]; ok {
		return style, nil
	}
	return ExecStyleMarket, nil
}
