package api

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const marketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// PriceUpdate is a midpoint change for a subscribed token.
type PriceUpdate struct {
	AssetID   string
	BestBid   float64
	BestAsk   float64
	Midpoint  float64
	Timestamp int64
}

// PriceHandler receives price updates from the market websocket.
type PriceHandler func(update PriceUpdate)

// MarketWSClient maintains a websocket subscription to the CLOB market
// channel and forwards best bid/ask changes for subscribed tokens. It is
// optional; the bot works purely on polled data when the feed is disabled.
type MarketWSClient struct {
	url     string
	handler PriceHandler

	conn   *websocket.Conn
	connMu sync.Mutex

	subscriptions   []string
	subscriptionsMu sync.RWMutex

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMarketWSClient creates a client. The handler may be nil.
func NewMarketWSClient(handler PriceHandler) *MarketWSClient {
	return &MarketWSClient{
		url:     marketWSURL,
		handler: handler,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start connects and begins the read loop. Reconnects with backoff until
// Stop is called.
func (c *MarketWSClient) Start() error {
	if c.running {
		return fmt.Errorf("already running")
	}
	c.running = true

	go c.run()
	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (c *MarketWSClient) Stop() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	<-c.doneCh
	log.Printf("[MarketWS] Stopped")
}

// Subscribe replaces the active token subscription set. Takes effect
// immediately on a live connection, or at the next (re)connect.
func (c *MarketWSClient) Subscribe(assetIDs []string) error {
	c.subscriptionsMu.Lock()
	c.subscriptions = assetIDs
	c.subscriptionsMu.Unlock()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.sendSubscribe(conn, assetIDs)
}

func (c *MarketWSClient) run() {
	defer close(c.doneCh)

	backoff := time.Second
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if err := c.connectAndRead(); err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			log.Printf("[MarketWS] Connection lost: %v, reconnecting in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-c.stopCh:
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *MarketWSClient) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	c.subscriptionsMu.RLock()
	subs := c.subscriptions
	c.subscriptionsMu.RUnlock()
	if len(subs) > 0 {
		if err := c.sendSubscribe(conn, subs); err != nil {
			return err
		}
	}

	log.Printf("[MarketWS] Connected (%d subscriptions)", len(subs))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(message)
	}
}

func (c *MarketWSClient) sendSubscribe(conn *websocket.Conn, assetIDs []string) error {
	msg := map[string]interface{}{
		"type":       "market",
		"assets_ids": assetIDs,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	return nil
}

type wsBookMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Timestamp string `json:"timestamp"`
	Bids      []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

func (c *MarketWSClient) handleMessage(data []byte) {
	if len(data) == 0 {
		return
	}

	// The market channel delivers arrays of book snapshots and deltas.
	var messages []wsBookMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		var single wsBookMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return
		}
		messages = []wsBookMessage{single}
	}

	for _, msg := range messages {
		if msg.EventType != "book" || msg.AssetID == "" {
			continue
		}

		update := PriceUpdate{AssetID: msg.AssetID}
		if len(msg.Bids) > 0 {
			update.BestBid, _ = strconv.ParseFloat(msg.Bids[len(msg.Bids)-1].Price, 64)
		}
		if len(msg.Asks) > 0 {
			update.BestAsk, _ = strconv.ParseFloat(msg.Asks[len(msg.Asks)-1].Price, 64)
		}
		if update.BestBid > 0 && update.BestAsk > 0 {
			update.Midpoint = (update.BestBid + update.BestAsk) / 2
		}
		if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
			update.Timestamp = ts
		}

		if c.handler != nil {
			c.handler(update)
		}
	}
}
