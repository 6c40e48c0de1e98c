package syncer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
)

// PollerConfig holds poll loop tunables.
type PollerConfig struct {
	Interval      time.Duration
	ActivityLimit int
	RequestDelay  time.Duration
	FetchTimeout  time.Duration
}

// Poller drives the fixed-interval watch cycle: fetch each watched trader's
// activity, detect new trades, route them into the copy engine. Traders are
// polled sequentially; one trader's failure never aborts the batch.
type Poller struct {
	store    storage.DataStore
	client   api.DataClientInterface
	detector *Detector
	engine   *Engine
	receipts api.ExecStyleDetector
	metrics  *Metrics
	config   PollerConfig

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a poller. receipts may be nil; alerts then go out
// without the limit/market tag.
func NewPoller(store storage.DataStore, client api.DataClientInterface, detector *Detector, engine *Engine, receipts api.ExecStyleDetector, metrics *Metrics, cfg PollerConfig) *Poller {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ActivityLimit == 0 {
		cfg.ActivityLimit = 30
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 12 * time.Second
	}
	return &Poller{
		store:    store,
		client:   client,
		detector: detector,
		engine:   engine,
		receipts: receipts,
		metrics:  metrics,
		config:   cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the poll loop.
func (p *Poller) Start(ctx context.Context) error {
	if p.running {
		return fmt.Errorf("poller already running")
	}
	p.running = true

	go p.run(ctx)
	log.Printf("[Poller] Started (interval %s, limit %d)", p.config.Interval, p.config.ActivityLimit)
	return nil
}

// Stop halts the poll loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
	<-p.doneCh
	log.Printf("[Poller] Stopped")
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// First cycle immediately so a fresh watchlist seeds without waiting a
	// full interval.
	p.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle polls every watched trader once. Exported for the manual-execute
// endpoint and tests.
func (p *Poller) RunCycle(ctx context.Context) {
	start := time.Now()

	traders, err := p.store.ListTraders(ctx)
	if err != nil {
		log.Printf("[Poller] Watchlist load failed: %v", err)
		return
	}
	if len(traders) == 0 {
		return
	}

	failures := 0
	for i := range traders {
		if err := p.pollTrader(ctx, &traders[i]); err != nil {
			failures++
			log.Printf("[Poller] %s: %v (skipping until next cycle)", traders[i].DisplayName(), err)
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-time.After(p.config.RequestDelay):
		}
	}

	p.engine.ExpireOpportunities()

	if p.metrics != nil {
		p.metrics.IncPollCycle(len(traders), failures, time.Since(start))
	}
}

func (p *Poller) pollTrader(ctx context.Context, trader *models.WatchedTrader) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	events, err := p.detector.FetchAndDetect(fetchCtx, p.client, trader, p.config.ActivityLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	log.Printf("[Poller] %s: %d new events", trader.DisplayName(), len(events))
	if p.metrics != nil {
		p.metrics.IncTradesDetected(len(events))
	}

	for _, event := range events {
		p.route(ctx, event, *trader)
	}
	return nil
}

// route dispatches one detected event into the engine. SPLIT and MERGE are
// position-neutral conversions and only logged.
func (p *Poller) route(ctx context.Context, event models.TradeEvent, trader models.WatchedTrader) {
	switch event.Type {
	case models.ActivityTrade:
		if event.Side == models.SideBuy {
			p.engine.OnBuyDetected(ctx, event, trader, p.detectStyle(ctx, event))
		} else {
			p.engine.OnSellDetected(ctx, event, trader)
		}
	case models.ActivityRedeem:
		p.engine.OnSellDetected(ctx, event, trader)
	case models.ActivitySplit, models.ActivityMerge:
		log.Printf("[Poller] %s %s on %s, no copy action",
			trader.DisplayName(), strings.ToLower(event.Type), event.Title)
	default:
		log.Printf("[Poller] Unknown activity type %q from %s", event.Type, trader.DisplayName())
	}
}

func (p *Poller) detectStyle(ctx context.Context, event models.TradeEvent) api.ExecStyle {
	if p.receipts == nil {
		return api.ExecStyleUnknown
	}

	styleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	style, err := p.receipts.DetectExecStyle(styleCtx, event.ID, event.Trader)
	if err != nil {
		log.Printf("[Poller] Exec style detection failed for %s: %v", event.ID, err)
		return api.ExecStyleUnknown
	}
	return style
}
