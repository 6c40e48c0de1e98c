// Package syncer holds the trade detection and copy reconciliation engine.
package syncer

import (
	"context"
	"fmt"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
)

// Detector diffs fetched activity against per-trader last-seen state to find
// newly appeared trades.
type Detector struct {
	store storage.DataStore
}

// NewDetector creates a detector over the given ledger.
func NewDetector(store storage.DataStore) *Detector {
	return &Detector{store: store}
}

// Detect fetches nothing itself; it takes the activity list as returned by
// the gateway (newest first) and returns the events that appeared since the
// trader's last poll, oldest first so multi-trade bursts replay in causal
// order.
//
// The last-seen cursor advances to the newest fetched trade on every
// successful call, including calls that find nothing new. A trader polled
// for the first time is seeded silently: the cursor is set and no events
// are emitted, so history is never replayed as fresh alerts.
func (d *Detector) Detect(ctx context.Context, trader *models.WatchedTrader, fetched []models.TradeEvent) ([]models.TradeEvent, error) {
	if len(fetched) == 0 {
		return nil, nil
	}

	newest := fetched[0]

	// First poll: seed without emitting.
	if trader.LastSeenTradeID == "" && trader.LastSeenTS == 0 {
		if err := d.advance(ctx, trader, newest); err != nil {
			return nil, err
		}
		return nil, nil
	}

	fresh := cutAtLastSeen(fetched, trader.LastSeenTradeID, trader.LastSeenTS)

	if err := d.advance(ctx, trader, newest); err != nil {
		return nil, err
	}

	// Reverse to oldest-first.
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh, nil
}

// cutAtLastSeen returns the prefix of the newest-first list that sits above
// the last-seen cursor. Trade IDs are transaction hashes and carry no order,
// so the ID match is the primary cut; the timestamp cutoff catches the case
// where the cursor trade has fallen off the fetched window.
func cutAtLastSeen(fetched []models.TradeEvent, lastID string, lastTS int64) []models.TradeEvent {
	var fresh []models.TradeEvent
	for _, event := range fetched {
		if event.ID == lastID {
			break
		}
		// Same-second trades share a timestamp with the cursor, so only
		// strictly older events are cut here.
		if lastTS > 0 && event.Timestamp < lastTS {
			break
		}
		fresh = append(fresh, event)
	}
	return fresh
}

func (d *Detector) advance(ctx context.Context, trader *models.WatchedTrader, newest models.TradeEvent) error {
	if err := d.store.UpdateLastSeen(ctx, trader.Address, newest.ID, newest.Timestamp); err != nil {
		return fmt.Errorf("advance last seen for %s: %w", trader.Address, err)
	}
	trader.LastSeenTradeID = newest.ID
	trader.LastSeenTS = newest.Timestamp
	return nil
}

// FetchAndDetect pulls activity through the gateway and runs detection. A
// transient gateway failure is returned without touching the cursor so the
// same window is retried next cycle.
func (d *Detector) FetchAndDetect(ctx context.Context, client api.DataClientInterface, trader *models.WatchedTrader, limit int) ([]models.TradeEvent, error) {
	fetched, err := client.GetActivity(ctx, trader.Address, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch activity for %s: %w", trader.Address, err)
	}
	return d.Detect(ctx, trader, fetched)
}
