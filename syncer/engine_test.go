package syncer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// recorderNotifier captures outbound alerts for assertions.
type recorderNotifier struct {
	mu             sync.Mutex
	BuyAlerts      []string
	SellAlerts     []models.CopyPosition
	Confirmed      []models.CopyPosition
	Failed         []string
	AutoSellFails  []models.CopyPosition
	Infos          []models.TradeEvent
	NextMessageID  int64
}

func newRecorderNotifier() *recorderNotifier {
	return &recorderNotifier{NextMessageID: 1000}
}

func (r *recorderNotifier) BuyAlert(opp *Opportunity, trader models.WatchedTrader, style api.ExecStyle) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BuyAlerts = append(r.BuyAlerts, opp.ID)
	r.NextMessageID++
	return r.NextMessageID, nil
}

func (r *recorderNotifier) SellAlertWithPnl(pos *models.CopyPosition, trader models.WatchedTrader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SellAlerts = append(r.SellAlerts, *pos)
	return nil
}

func (r *recorderNotifier) CopyConfirmed(pos *models.CopyPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Confirmed = append(r.Confirmed, *pos)
	return nil
}

func (r *recorderNotifier) CopyFailed(opp *Opportunity, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, reason)
	return nil
}

func (r *recorderNotifier) AutoSellFailed(pos *models.CopyPosition, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AutoSellFails = append(r.AutoSellFails, *pos)
	return nil
}

func (r *recorderNotifier) TradeInfo(event models.TradeEvent, trader models.WatchedTrader, style api.ExecStyle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Infos = append(r.Infos, event)
	return nil
}

// stubOrderClient answers submissions with a canned result or error.
type stubOrderClient struct {
	mu     sync.Mutex
	Orders []OrderParams
	Err    error
	Block  time.Duration
}

func (s *stubOrderClient) SubmitOrder(ctx context.Context, params OrderParams) (*OrderResult, error) {
	if s.Block > 0 {
		select {
		case <-time.After(s.Block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.Orders = append(s.Orders, params)
	return &OrderResult{OrderID: "order-1", Status: "live"}, nil
}

func newTestEngine(t *testing.T, orders OrderClient) (*Engine, *storage.MockStore, *recorderNotifier) {
	t.Helper()
	store := storage.NewMockStore()
	notifier := newRecorderNotifier()
	engine := NewEngine(store, orders, notifier, nil, EngineConfig{
		OrderTimeout: 200 * time.Millisecond,
		MinOrderUSDC: 1.0,
		SizeDecimals: 2,
		TickSize:     0.01,
		OppTTL:       time.Hour,
	})
	return engine, store, notifier
}

func buyEvent(id string, price float64) models.TradeEvent {
	return models.TradeEvent{
		ID:        id,
		Trader:    testTrader,
		MarketID:  "0xcondition",
		TokenID:   "token-1",
		Outcome:   "Yes",
		Type:      models.ActivityTrade,
		Side:      models.SideBuy,
		Price:     price,
		Size:      500,
		Title:     "Will it happen?",
		Timestamp: 100,
	}
}

func sellEvent(id string, price float64) models.TradeEvent {
	e := buyEvent(id, price)
	e.Side = models.SideSell
	return e
}

func trader() models.WatchedTrader {
	return models.WatchedTrader{Address: testTrader, Username: "sharpbettor"}
}

func TestOnBuyDetectedCreatesOpportunity(t *testing.T) {
	engine, store, notifier := newTestEngine(t, &stubOrderClient{})
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleMarket)

	if len(notifier.BuyAlerts) != 1 {
		t.Fatalf("buy alerts = %d, want 1", len(notifier.BuyAlerts))
	}
	if engine.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", engine.PendingCount())
	}
	// Ledger untouched until confirm
	if store.Calls["SavePosition"] != 0 {
		t.Errorf("ledger written before confirm")
	}

	opp := engine.GetOpportunity(notifier.BuyAlerts[0])
	if opp == nil {
		t.Fatal("opportunity not retrievable")
	}
	if opp.AlertMessageID == 0 {
		t.Error("alert message id not recorded")
	}
}

func TestNewerBuyReplacesPendingOpportunity(t *testing.T) {
	engine, _, notifier := newTestEngine(t, &stubOrderClient{})
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	engine.OnBuyDetected(ctx, buyEvent("0xb2", 0.60), trader(), api.ExecStyleUnknown)

	if engine.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1 (latest wins)", engine.PendingCount())
	}
	// The first opportunity must be gone
	if engine.GetOpportunity(notifier.BuyAlerts[0]) != nil {
		t.Error("stale opportunity still retrievable")
	}
	latest := engine.GetOpportunity(notifier.BuyAlerts[1])
	if latest == nil {
		t.Fatal("latest opportunity missing")
	}
	if !floatEquals(latest.Event.Price, 0.60) {
		t.Errorf("latest price = %v, want 0.60", latest.Event.Price)
	}
}

func TestConfirmCopySizing(t *testing.T) {
	orders := &stubOrderClient{}
	engine, store, notifier := newTestEngine(t, orders)
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	oppID := notifier.BuyAlerts[0]

	pos, err := engine.ConfirmCopy(ctx, oppID, 100)
	if err != nil {
		t.Fatalf("ConfirmCopy: %v", err)
	}

	// $100 at 0.55, floored to the 2-decimal lot
	if !floatEquals(pos.Size, 181.81) {
		t.Errorf("Size = %v, want 181.81", pos.Size)
	}
	if !floatEquals(pos.EntryPrice, 0.55) {
		t.Errorf("EntryPrice = %v, want 0.55", pos.EntryPrice)
	}
	if pos.Status != models.StatusOpen {
		t.Errorf("Status = %s, want OPEN", pos.Status)
	}
	if pos.OrderID != "order-1" {
		t.Errorf("OrderID = %s, want order-1", pos.OrderID)
	}

	if len(orders.Orders) != 1 {
		t.Fatalf("orders placed = %d, want 1", len(orders.Orders))
	}
	if orders.Orders[0].Side != models.SideBuy {
		t.Errorf("order side = %s, want BUY", orders.Orders[0].Side)
	}

	stored, err := store.GetOpenPosition(ctx, testTrader, "0xcondition", "Yes")
	if err != nil {
		t.Fatalf("position not in ledger: %v", err)
	}
	if stored.ID != pos.ID {
		t.Errorf("ledger position id mismatch")
	}
	if len(notifier.Confirmed) != 1 {
		t.Errorf("confirmations = %d, want 1", len(notifier.Confirmed))
	}

	// Opportunity consumed
	if engine.PendingCount() != 0 {
		t.Errorf("pending = %d after confirm, want 0", engine.PendingCount())
	}
}

func TestConfirmCopyUnknownOpportunity(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubOrderClient{})
	if _, err := engine.ConfirmCopy(context.Background(), "deadbeef", 100); !errors.Is(err, ErrUnknownOpportunity) {
		t.Errorf("err = %v, want ErrUnknownOpportunity", err)
	}
}

func TestConfirmCopyRejectsBelowMinimum(t *testing.T) {
	engine, store, notifier := newTestEngine(t, &stubOrderClient{})
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	if _, err := engine.ConfirmCopy(ctx, notifier.BuyAlerts[0], 0.50); err == nil {
		t.Fatal("expected minimum-amount rejection")
	}
	if store.Calls["SavePosition"] != 0 {
		t.Errorf("ledger written on rejected confirm")
	}
	// The opportunity survives a rejected confirm
	if engine.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", engine.PendingCount())
	}
}

func TestConfirmCopyOrderFailureLeavesNoState(t *testing.T) {
	orders := &stubOrderClient{Err: errors.New("insufficient funds")}
	engine, store, notifier := newTestEngine(t, orders)
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	if _, err := engine.ConfirmCopy(ctx, notifier.BuyAlerts[0], 100); err == nil {
		t.Fatal("expected order failure")
	}

	if store.Calls["SavePosition"] != 0 {
		t.Errorf("ledger written on failed order")
	}
	if len(notifier.Failed) != 1 {
		t.Errorf("copy-failed alerts = %d, want 1", len(notifier.Failed))
	}

	// A later retry must be possible
	orders.Err = nil
	if _, err := engine.ConfirmCopy(ctx, notifier.BuyAlerts[0], 100); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestConcurrentConfirmsOpenExactlyOne(t *testing.T) {
	engine, store, notifier := newTestEngine(t, &stubOrderClient{})
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	oppID := notifier.BuyAlerts[0]

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.ConfirmCopy(ctx, oppID, 100)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrDuplicateConfirm) && !errors.Is(err, ErrUnknownOpportunity) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}

	open, err := store.ListPositions(ctx, models.StatusOpen, 0)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("open positions = %d, want 1", len(open))
	}
}

func openPosition(t *testing.T, engine *Engine, notifier *recorderNotifier) *models.CopyPosition {
	t.Helper()
	ctx := context.Background()
	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	pos, err := engine.ConfirmCopy(ctx, notifier.BuyAlerts[len(notifier.BuyAlerts)-1], 100)
	if err != nil {
		t.Fatalf("ConfirmCopy: %v", err)
	}
	return pos
}

func TestOnSellDetectedClosesWithPnl(t *testing.T) {
	orders := &stubOrderClient{}
	engine, store, notifier := newTestEngine(t, orders)
	ctx := context.Background()

	pos := openPosition(t, engine, notifier)

	engine.OnSellDetected(ctx, sellEvent("0xs1", 0.70), trader())

	closed, err := store.GetPosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if closed.Status != models.StatusClosed {
		t.Fatalf("Status = %s, want CLOSED", closed.Status)
	}
	if !floatEquals(closed.ClosePrice, 0.70) {
		t.Errorf("ClosePrice = %v, want 0.70", closed.ClosePrice)
	}

	// P&L identity: size * (close - entry), exactly
	wantPnl := closed.Size * (closed.ClosePrice - closed.EntryPrice)
	if closed.RealizedPnlUSD != wantPnl {
		t.Errorf("RealizedPnlUSD = %v, want %v", closed.RealizedPnlUSD, wantPnl)
	}
	if !floatEquals(closed.RealizedPnlUSD, 181.81*(0.70-0.55)) {
		t.Errorf("RealizedPnlUSD = %v, want %v", closed.RealizedPnlUSD, 181.81*(0.70-0.55))
	}
	wantPct := (0.70 - 0.55) / 0.55 * 100
	if !floatEquals(closed.RealizedPnlPct, wantPct) {
		t.Errorf("RealizedPnlPct = %v, want %v", closed.RealizedPnlPct, wantPct)
	}

	if len(notifier.SellAlerts) != 1 {
		t.Fatalf("sell alerts = %d, want 1", len(notifier.SellAlerts))
	}
	if notifier.SellAlerts[0].AlertMessageID != pos.AlertMessageID {
		t.Errorf("sell alert not threaded under buy alert")
	}

	// Sell order mirrored the full size
	last := orders.Orders[len(orders.Orders)-1]
	if last.Side != models.SideSell || !floatEquals(last.Size, pos.Size) {
		t.Errorf("sell order = %+v, want SELL of %v", last, pos.Size)
	}
}

func TestOnSellDetectedWithoutPositionIsNoOp(t *testing.T) {
	orders := &stubOrderClient{}
	engine, store, notifier := newTestEngine(t, orders)

	engine.OnSellDetected(context.Background(), sellEvent("0xs1", 0.70), trader())

	if len(orders.Orders) != 0 {
		t.Errorf("orders placed = %d, want 0", len(orders.Orders))
	}
	if store.Calls["SavePosition"] != 0 {
		t.Errorf("ledger written on informational sell")
	}
	if len(notifier.Infos) != 1 {
		t.Errorf("info alerts = %d, want 1", len(notifier.Infos))
	}
}

func TestSellDiscardsPendingOpportunity(t *testing.T) {
	engine, _, _ := newTestEngine(t, &stubOrderClient{})
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	engine.OnSellDetected(ctx, sellEvent("0xs1", 0.70), trader())

	if engine.PendingCount() != 0 {
		t.Errorf("pending = %d after trader exit, want 0", engine.PendingCount())
	}
}

func TestAutoSellTimeoutMarksFailed(t *testing.T) {
	orders := &stubOrderClient{}
	engine, store, notifier := newTestEngine(t, orders)
	ctx := context.Background()

	pos := openPosition(t, engine, notifier)

	// Sell submission hangs past the order timeout
	orders.Block = time.Second

	engine.OnSellDetected(ctx, sellEvent("0xs1", 0.70), trader())

	failed, err := store.GetPosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if failed.Status != models.StatusFailed {
		t.Fatalf("Status = %s, want FAILED", failed.Status)
	}
	if len(notifier.AutoSellFails) != 1 {
		t.Errorf("auto-sell-failed alerts = %d, want 1", len(notifier.AutoSellFails))
	}

	// Terminal: a re-observed sell must not touch the position again
	orders.Block = 0
	engine.OnSellDetected(ctx, sellEvent("0xs2", 0.80), trader())

	after, _ := store.GetPosition(ctx, pos.ID)
	if after.Status != models.StatusFailed {
		t.Errorf("terminal FAILED transitioned to %s", after.Status)
	}
	if len(notifier.SellAlerts) != 0 {
		t.Errorf("sell alert sent for terminal position")
	}
}

func TestRedeemClosesAtFullPrice(t *testing.T) {
	engine, store, notifier := newTestEngine(t, &stubOrderClient{})
	ctx := context.Background()

	pos := openPosition(t, engine, notifier)

	redeem := sellEvent("0xr1", 0)
	redeem.Type = models.ActivityRedeem

	engine.OnSellDetected(ctx, redeem, trader())

	closed, err := store.GetPosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if closed.Status != models.StatusClosed {
		t.Fatalf("Status = %s, want CLOSED", closed.Status)
	}
	if !floatEquals(closed.ClosePrice, 1.0) {
		t.Errorf("ClosePrice = %v, want 1.0", closed.ClosePrice)
	}
	if !floatEquals(closed.RealizedPnlUSD, 181.81*(1.0-0.55)) {
		t.Errorf("RealizedPnlUSD = %v, want %v", closed.RealizedPnlUSD, 181.81*0.45)
	}
}

func TestTradingDisabledConfirm(t *testing.T) {
	engine, store, notifier := newTestEngine(t, nil)
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)
	if _, err := engine.ConfirmCopy(ctx, notifier.BuyAlerts[0], 100); !errors.Is(err, ErrTradingDisabled) {
		t.Errorf("err = %v, want ErrTradingDisabled", err)
	}
	if store.Calls["SavePosition"] != 0 {
		t.Errorf("ledger written with trading disabled")
	}
}

func TestExpireOpportunities(t *testing.T) {
	engine, _, notifier := newTestEngine(t, &stubOrderClient{})
	ctx := context.Background()

	engine.OnBuyDetected(ctx, buyEvent("0xb1", 0.55), trader(), api.ExecStyleUnknown)

	// Age the opportunity past the TTL
	engine.mu.Lock()
	for _, opp := range engine.opportunities {
		opp.CreatedAt = time.Now().Add(-2 * time.Hour)
	}
	engine.mu.Unlock()

	if n := engine.ExpireOpportunities(); n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	if engine.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", engine.PendingCount())
	}
	if _, err := engine.ConfirmCopy(ctx, notifier.BuyAlerts[0], 100); !errors.Is(err, ErrUnknownOpportunity) {
		t.Errorf("confirm on expired = %v, want ErrUnknownOpportunity", err)
	}
}
