package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
)

// ErrDuplicateConfirm is returned when an opportunity is confirmed twice.
var ErrDuplicateConfirm = errors.New("syncer: opportunity already confirmed")

// ErrUnknownOpportunity is returned when a confirm references an expired or
// never-seen opportunity.
var ErrUnknownOpportunity = errors.New("syncer: unknown or expired opportunity")

// ErrTradingDisabled is returned when no signing key is configured.
var ErrTradingDisabled = errors.New("syncer: trading disabled, no private key configured")

// Notifier is the outbound alert surface. The Telegram package implements
// it; tests substitute a recorder.
type Notifier interface {
	// BuyAlert announces a copy opportunity and returns the message id the
	// eventual sell alert threads under.
	BuyAlert(opp *Opportunity, trader models.WatchedTrader, execStyle api.ExecStyle) (int64, error)
	SellAlertWithPnl(pos *models.CopyPosition, trader models.WatchedTrader) error
	CopyConfirmed(pos *models.CopyPosition) error
	CopyFailed(opp *Opportunity, reason string) error
	AutoSellFailed(pos *models.CopyPosition, reason string) error
	TradeInfo(event models.TradeEvent, trader models.WatchedTrader, execStyle api.ExecStyle) error
}

// OrderClient abstracts buy/sell order submission. Venue metadata such as
// the neg-risk exchange flag is resolved inside the adapter; the engine
// never interprets it.
type OrderClient interface {
	SubmitOrder(ctx context.Context, params OrderParams) (*OrderResult, error)
}

// OrderParams describes one order submission.
type OrderParams struct {
	TokenID  string
	MarketID string
	Side     models.Side
	Price    float64
	Size     float64
}

// OrderResult is the venue's answer to a submission. NegRisk reports which
// exchange contract the adapter resolved for the market.
type OrderResult struct {
	OrderID string
	Status  string
	NegRisk bool
}

// Opportunity is a detected trader BUY awaiting operator confirmation.
type Opportunity struct {
	ID             string
	Event          models.TradeEvent
	AlertMessageID int64
	CreatedAt      time.Time
	confirmed      bool
}

// EngineConfig holds copy engine tunables.
type EngineConfig struct {
	OrderTimeout time.Duration
	MinOrderUSDC float64
	SizeDecimals int
	TickSize     float64
	OppTTL       time.Duration
}

// Engine is the copy reconciliation core. It owns pending opportunities and
// drives all CopyPosition state transitions.
type Engine struct {
	store    storage.DataStore
	orders   OrderClient
	notifier Notifier
	config   EngineConfig
	metrics  *Metrics

	mu            sync.Mutex
	opportunities map[string]*Opportunity // keyed by opportunity id
	byKey         map[string]string       // position key -> opportunity id

	keyLocks sync.Map // position key -> *sync.Mutex
}

// NewEngine creates a copy engine. orders may be nil when trading is
// disabled; BUY alerts still flow, confirms fail with ErrTradingDisabled.
func NewEngine(store storage.DataStore, orders OrderClient, notifier Notifier, metrics *Metrics, cfg EngineConfig) *Engine {
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.MinOrderUSDC == 0 {
		cfg.MinOrderUSDC = 1.0
	}
	if cfg.SizeDecimals == 0 {
		cfg.SizeDecimals = 2
	}
	if cfg.TickSize == 0 {
		cfg.TickSize = 0.01
	}
	if cfg.OppTTL == 0 {
		cfg.OppTTL = time.Hour
	}
	return &Engine{
		store:         store,
		orders:        orders,
		notifier:      notifier,
		config:        cfg,
		metrics:       metrics,
		opportunities: make(map[string]*Opportunity),
		byKey:         make(map[string]string),
	}
}

// lockKey serializes poll-driven and interactive mutations of the same
// (trader, market, outcome) slot.
func (e *Engine) lockKey(key string) func() {
	actual, _ := e.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := actual.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// opportunityID derives a short stable id from the opportunity's identity
// fields, usable inside Telegram callback data.
func opportunityID(event models.TradeEvent) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%.4f|%s",
		event.Trader, event.MarketID, event.Outcome, event.Price, event.TokenID)))
	return hex.EncodeToString(sum[:6])
}

// OnBuyDetected records a pending opportunity and alerts the operator. The
// ledger is untouched until the operator confirms. A newer BUY on the same
// (trader, market, outcome) slot replaces the prior pending one.
func (e *Engine) OnBuyDetected(ctx context.Context, event models.TradeEvent, trader models.WatchedTrader, execStyle api.ExecStyle) {
	key := models.PositionKey(event.Trader, event.MarketID, event.Outcome)

	opp := &Opportunity{
		ID:        opportunityID(event),
		Event:     event,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	if prevID, ok := e.byKey[key]; ok {
		delete(e.opportunities, prevID)
		log.Printf("[CopyEngine] Replacing pending opportunity %s with %s (newer buy on %s)",
			prevID, opp.ID, event.Outcome)
	}
	e.opportunities[opp.ID] = opp
	e.byKey[key] = opp.ID
	e.mu.Unlock()

	msgID, err := e.notifier.BuyAlert(opp, trader, execStyle)
	if err != nil {
		log.Printf("[CopyEngine] Buy alert failed for %s: %v", opp.ID, err)
		return
	}

	e.mu.Lock()
	if stored, ok := e.opportunities[opp.ID]; ok {
		stored.AlertMessageID = msgID
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncAlertsSent()
	}
}

// GetOpportunity returns a pending opportunity by id, or nil.
func (e *Engine) GetOpportunity(id string) *Opportunity {
	e.mu.Lock()
	defer e.mu.Unlock()
	opp, ok := e.opportunities[id]
	if !ok {
		return nil
	}
	copied := *opp
	return &copied
}

// ConfirmCopy mirrors a pending opportunity with usdAmount of the operator's
// funds. Size is the USD amount at the observed entry price, floored to the
// venue lot. On success the OPEN position is written to the ledger; on
// failure nothing is written.
func (e *Engine) ConfirmCopy(ctx context.Context, oppID string, usdAmount float64) (*models.CopyPosition, error) {
	e.mu.Lock()
	opp, ok := e.opportunities[oppID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrUnknownOpportunity
	}
	if opp.confirmed {
		e.mu.Unlock()
		return nil, ErrDuplicateConfirm
	}
	event := opp.Event
	e.mu.Unlock()

	key := models.PositionKey(event.Trader, event.MarketID, event.Outcome)
	unlock := e.lockKey(key)
	defer unlock()

	// Re-check under the key lock: another confirm may have won the race.
	e.mu.Lock()
	opp, ok = e.opportunities[oppID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrUnknownOpportunity
	}
	if opp.confirmed {
		e.mu.Unlock()
		return nil, ErrDuplicateConfirm
	}
	opp.confirmed = true
	e.mu.Unlock()

	if e.orders == nil {
		e.unconfirm(oppID)
		return nil, ErrTradingDisabled
	}
	if usdAmount < e.config.MinOrderUSDC {
		e.unconfirm(oppID)
		return nil, fmt.Errorf("syncer: amount $%.2f below minimum $%.2f", usdAmount, e.config.MinOrderUSDC)
	}

	price := api.RoundPrice(event.Price, e.config.TickSize)
	size := api.SizeForAmount(usdAmount, price, e.config.SizeDecimals)
	if size <= 0 {
		e.unconfirm(oppID)
		return nil, fmt.Errorf("syncer: zero size for $%.2f at %.4f", usdAmount, price)
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.config.OrderTimeout)
	defer cancel()

	start := time.Now()
	result, err := e.orders.SubmitOrder(orderCtx, OrderParams{
		TokenID:  event.TokenID,
		MarketID: event.MarketID,
		Side:     models.SideBuy,
		Price:    price,
		Size:     size,
	})
	if err != nil {
		e.unconfirm(oppID)
		reason := fmt.Sprintf("order submission failed: %v", err)
		log.Printf("[CopyEngine] Copy of %s failed: %v", oppID, err)
		if nerr := e.notifier.CopyFailed(opp, reason); nerr != nil {
			log.Printf("[CopyEngine] Copy-failed alert error: %v", nerr)
		}
		return nil, fmt.Errorf("syncer: submit buy order: %w", err)
	}

	pos := models.CopyPosition{
		ID:             positionID(event, start),
		SourceTrader:   event.Trader,
		SourceTradeID:  event.ID,
		MarketID:       event.MarketID,
		TokenID:        event.TokenID,
		Outcome:        event.Outcome,
		Title:          event.Title,
		EntryPrice:     price,
		Size:           size,
		AmountUSD:      usdAmount,
		Status:         models.StatusOpen,
		OrderID:        result.OrderID,
		AlertMessageID: opp.AlertMessageID,
		NegRisk:        result.NegRisk,
		OpenedAt:       start,
	}
	if err := e.store.SavePosition(ctx, pos); err != nil {
		// The order is in; losing the ledger write is the worst failure
		// mode here, so it is surfaced loudly instead of rolled back.
		log.Printf("[CopyEngine] CRITICAL: order %s placed but position save failed: %v", result.OrderID, err)
		return nil, fmt.Errorf("syncer: save position: %w", err)
	}

	e.removeOpportunity(oppID, key)

	if e.metrics != nil {
		e.metrics.IncCopiesOpened()
		e.metrics.ObserveCopyLatency(time.Since(start))
	}
	log.Printf("[CopyEngine] Opened position %s: %.2f %s @ %.4f ($%.2f)",
		pos.ID, pos.Size, pos.Outcome, pos.EntryPrice, pos.AmountUSD)

	if err := e.notifier.CopyConfirmed(&pos); err != nil {
		log.Printf("[CopyEngine] Copy-confirmed alert error: %v", err)
	}
	return &pos, nil
}

// OnSellDetected reconciles a trader exit against the ledger. REDEEM events
// arrive here too and close at price 1.0. No matching OPEN position means
// the operator never copied the entry; the event is informational only.
func (e *Engine) OnSellDetected(ctx context.Context, event models.TradeEvent, trader models.WatchedTrader) {
	closePrice := event.Price
	if event.Type == models.ActivityRedeem {
		closePrice = 1.0
	}

	key := models.PositionKey(event.Trader, event.MarketID, event.Outcome)
	unlock := e.lockKey(key)
	defer unlock()

	// A pending (unconfirmed) opportunity on this slot is dead once the
	// trader exits.
	e.mu.Lock()
	if oppID, ok := e.byKey[key]; ok {
		if opp := e.opportunities[oppID]; opp != nil && !opp.confirmed {
			delete(e.opportunities, oppID)
			delete(e.byKey, key)
			log.Printf("[CopyEngine] Discarded pending opportunity %s (trader exited)", oppID)
		}
	}
	e.mu.Unlock()

	pos, err := e.store.GetOpenPosition(ctx, event.Trader, event.MarketID, event.Outcome)
	if errors.Is(err, storage.ErrNotFound) {
		// The operator never copied this entry; surface the exit as
		// information only.
		if nerr := e.notifier.TradeInfo(event, trader, api.ExecStyleUnknown); nerr != nil {
			log.Printf("[CopyEngine] Trade-info alert error: %v", nerr)
		}
		return
	}
	if err != nil {
		log.Printf("[CopyEngine] Open-position lookup failed for %s: %v", key, err)
		return
	}
	// Terminal positions never transition again; a re-observed SELL on a
	// CLOSED or FAILED slot is a no-op because GetOpenPosition filters on
	// OPEN.

	if e.orders == nil {
		e.failPosition(ctx, pos, "trading disabled, sell the position manually")
		return
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.config.OrderTimeout)
	defer cancel()

	price := api.RoundPrice(closePrice, e.config.TickSize)
	_, err = e.orders.SubmitOrder(orderCtx, OrderParams{
		TokenID:  pos.TokenID,
		MarketID: pos.MarketID,
		Side:     models.SideSell,
		Price:    price,
		Size:     pos.Size,
	})
	if err != nil {
		// Terminal: retrying against stale market state risks a duplicate
		// or unintended fill.
		e.failPosition(ctx, pos, fmt.Sprintf("auto-sell order failed: %v", err))
		return
	}

	now := time.Now()
	pos.Status = models.StatusClosed
	pos.ClosePrice = price
	pos.ClosedAt = now
	pos.RealizedPnlUSD = pos.Size * (price - pos.EntryPrice)
	if pos.EntryPrice > 0 {
		pos.RealizedPnlPct = (price - pos.EntryPrice) / pos.EntryPrice * 100
	}
	if err := e.store.SavePosition(ctx, *pos); err != nil {
		log.Printf("[CopyEngine] CRITICAL: sell filled but close save failed for %s: %v", pos.ID, err)
		return
	}

	if e.metrics != nil {
		e.metrics.IncCopiesClosed()
	}
	log.Printf("[CopyEngine] Closed position %s: pnl $%.4f (%.2f%%)",
		pos.ID, pos.RealizedPnlUSD, pos.RealizedPnlPct)

	if err := e.notifier.SellAlertWithPnl(pos, trader); err != nil {
		log.Printf("[CopyEngine] Sell alert error: %v", err)
	}
}

func (e *Engine) failPosition(ctx context.Context, pos *models.CopyPosition, reason string) {
	pos.Status = models.StatusFailed
	pos.ClosedAt = time.Now()
	if err := e.store.SavePosition(ctx, *pos); err != nil {
		log.Printf("[CopyEngine] Failed-status save error for %s: %v", pos.ID, err)
	}
	if e.metrics != nil {
		e.metrics.IncCopiesFailed()
	}
	log.Printf("[CopyEngine] Position %s marked FAILED: %s", pos.ID, reason)
	if err := e.notifier.AutoSellFailed(pos, reason); err != nil {
		log.Printf("[CopyEngine] Auto-sell-failed alert error: %v", err)
	}
}

func (e *Engine) unconfirm(oppID string) {
	e.mu.Lock()
	if opp, ok := e.opportunities[oppID]; ok {
		opp.confirmed = false
	}
	e.mu.Unlock()
}

func (e *Engine) removeOpportunity(oppID, key string) {
	e.mu.Lock()
	delete(e.opportunities, oppID)
	if e.byKey[key] == oppID {
		delete(e.byKey, key)
	}
	e.mu.Unlock()
}

// ExpireOpportunities drops pending opportunities older than the TTL. Called
// once per poll cycle.
func (e *Engine) ExpireOpportunities() int {
	cutoff := time.Now().Add(-e.config.OppTTL)

	e.mu.Lock()
	defer e.mu.Unlock()

	expired := 0
	for id, opp := range e.opportunities {
		if opp.CreatedAt.Before(cutoff) && !opp.confirmed {
			delete(e.opportunities, id)
			key := models.PositionKey(opp.Event.Trader, opp.Event.MarketID, opp.Event.Outcome)
			if e.byKey[key] == id {
				delete(e.byKey, key)
			}
			expired++
		}
	}
	if expired > 0 {
		log.Printf("[CopyEngine] Expired %d stale opportunities", expired)
	}
	return expired
}

// PendingCount reports how many opportunities await confirmation.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.opportunities)
}

func positionID(event models.TradeEvent, t time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", event.ID, event.Outcome, t.UnixNano())))
	return hex.EncodeToString(sum[:8])
}
