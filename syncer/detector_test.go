package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
)

const testTrader = "0xabc1234567890abcdef1234567890abcdef12345"

func tradeEvent(id string, ts int64, side models.Side) models.TradeEvent {
	return models.TradeEvent{
		ID:        id,
		Trader:    testTrader,
		MarketID:  "0xcondition",
		TokenID:   "token-1",
		Outcome:   "Yes",
		Type:      models.ActivityTrade,
		Side:      side,
		Price:     0.55,
		Size:      100,
		Timestamp: ts,
	}
}

func watchedTrader(t *testing.T, store *storage.MockStore) *models.WatchedTrader {
	t.Helper()
	trader := models.WatchedTrader{Address: testTrader, Username: "sharpbettor"}
	if err := store.AddTrader(context.Background(), trader); err != nil {
		t.Fatalf("AddTrader: %v", err)
	}
	return &trader
}

func TestDetectSeedsSilentlyOnFirstPoll(t *testing.T) {
	store := storage.NewMockStore()
	detector := NewDetector(store)
	trader := watchedTrader(t, store)

	fetched := []models.TradeEvent{
		tradeEvent("0xt3", 300, models.SideBuy),
		tradeEvent("0xt2", 200, models.SideBuy),
		tradeEvent("0xt1", 100, models.SideSell),
	}

	events, err := detector.Detect(context.Background(), trader, fetched)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("first poll emitted %d events, want 0", len(events))
	}
	if trader.LastSeenTradeID != "0xt3" {
		t.Errorf("LastSeenTradeID = %s, want 0xt3", trader.LastSeenTradeID)
	}

	stored, _ := store.GetTrader(context.Background(), testTrader)
	if stored.LastSeenTradeID != "0xt3" || stored.LastSeenTS != 300 {
		t.Errorf("persisted cursor = %s/%d, want 0xt3/300", stored.LastSeenTradeID, stored.LastSeenTS)
	}
}

func TestDetectEmitsOldestFirst(t *testing.T) {
	// Cursor at T5; poll returns [T8(SELL), T7(BUY), T6(BUY)] newest-first.
	// Detection must emit [T6, T7, T8] and advance the cursor to T8.
	store := storage.NewMockStore()
	detector := NewDetector(store)
	trader := watchedTrader(t, store)
	trader.LastSeenTradeID = "0xt5"
	trader.LastSeenTS = 500

	fetched := []models.TradeEvent{
		tradeEvent("0xt8", 800, models.SideSell),
		tradeEvent("0xt7", 700, models.SideBuy),
		tradeEvent("0xt6", 600, models.SideBuy),
		tradeEvent("0xt5", 500, models.SideBuy),
		tradeEvent("0xt4", 400, models.SideBuy),
	}

	events, err := detector.Detect(context.Background(), trader, fetched)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	wantIDs := []string{"0xt6", "0xt7", "0xt8"}
	if len(events) != len(wantIDs) {
		t.Fatalf("got %d events, want %d", len(events), len(wantIDs))
	}
	for i, id := range wantIDs {
		if events[i].ID != id {
			t.Errorf("events[%d].ID = %s, want %s", i, events[i].ID, id)
		}
	}
	if events[2].Side != models.SideSell {
		t.Errorf("last event side = %s, want SELL", events[2].Side)
	}
	if trader.LastSeenTradeID != "0xt8" {
		t.Errorf("LastSeenTradeID = %s, want 0xt8", trader.LastSeenTradeID)
	}
}

func TestDetectIdempotentAcrossPolls(t *testing.T) {
	store := storage.NewMockStore()
	detector := NewDetector(store)
	trader := watchedTrader(t, store)
	trader.LastSeenTradeID = "0xt1"
	trader.LastSeenTS = 100

	fetched := []models.TradeEvent{
		tradeEvent("0xt2", 200, models.SideBuy),
		tradeEvent("0xt1", 100, models.SideBuy),
	}

	first, err := detector.Detect(context.Background(), trader, fetched)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(first) != 1 || first[0].ID != "0xt2" {
		t.Fatalf("first poll = %+v, want [0xt2]", first)
	}

	// Same fetch window again: nothing new.
	second, err := detector.Detect(context.Background(), trader, fetched)
	if err != nil {
		t.Fatalf("Detect again: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second poll re-emitted %d events", len(second))
	}
}

func TestDetectAdvancesOnZeroNewEvents(t *testing.T) {
	store := storage.NewMockStore()
	detector := NewDetector(store)
	trader := watchedTrader(t, store)
	trader.LastSeenTradeID = "0xt2"
	trader.LastSeenTS = 200

	fetched := []models.TradeEvent{
		tradeEvent("0xt2", 200, models.SideBuy),
		tradeEvent("0xt1", 100, models.SideBuy),
	}

	if _, err := detector.Detect(context.Background(), trader, fetched); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if store.Calls["UpdateLastSeen"] != 1 {
		t.Errorf("UpdateLastSeen calls = %d, want 1", store.Calls["UpdateLastSeen"])
	}
}

func TestDetectTimestampCutoffWhenCursorFellOffWindow(t *testing.T) {
	// The cursor trade is no longer in the fetched window; strictly older
	// events must still be cut by timestamp.
	store := storage.NewMockStore()
	detector := NewDetector(store)
	trader := watchedTrader(t, store)
	trader.LastSeenTradeID = "0xgone"
	trader.LastSeenTS = 500

	fetched := []models.TradeEvent{
		tradeEvent("0xt7", 700, models.SideBuy),
		tradeEvent("0xt6", 600, models.SideBuy),
		tradeEvent("0xt4", 400, models.SideBuy),
	}

	events, err := detector.Detect(context.Background(), trader, fetched)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != "0xt6" || events[1].ID != "0xt7" {
		t.Errorf("events = [%s, %s], want [0xt6, 0xt7]", events[0].ID, events[1].ID)
	}
}

func TestDetectEmptyFetchIsNoOp(t *testing.T) {
	store := storage.NewMockStore()
	detector := NewDetector(store)
	trader := watchedTrader(t, store)
	trader.LastSeenTradeID = "0xt1"

	events, err := detector.Detect(context.Background(), trader, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if store.Calls["UpdateLastSeen"] != 0 {
		t.Errorf("cursor advanced on empty fetch")
	}
}

func TestFetchAndDetectFailureLeavesCursorAlone(t *testing.T) {
	store := storage.NewMockStore()
	detector := NewDetector(store)
	trader := watchedTrader(t, store)
	trader.LastSeenTradeID = "0xt1"
	trader.LastSeenTS = 100

	client := api.NewMockDataClient()
	client.ErrorOnNext["GetActivity"] = &api.TransientError{Op: "get activity", Err: errors.New("timeout")}

	_, err := detector.FetchAndDetect(context.Background(), client, trader, 30)
	if err == nil {
		t.Fatal("expected fetch error")
	}

	var transient *api.TransientError
	if !errors.As(err, &transient) {
		t.Errorf("error %v is not transient", err)
	}
	if trader.LastSeenTradeID != "0xt1" {
		t.Errorf("cursor moved to %s on failed fetch", trader.LastSeenTradeID)
	}
	if store.Calls["UpdateLastSeen"] != 0 {
		t.Errorf("UpdateLastSeen called on failed fetch")
	}
}
