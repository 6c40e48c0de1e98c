package models

import "time"

// Side represents the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Activity types as reported by the data API. Only ActivityTrade drives the
// copy engine; ActivityRedeem closes positions like a SELL at price 1.0.
const (
	ActivityTrade  = "TRADE"
	ActivityRedeem = "REDEEM"
	ActivitySplit  = "SPLIT"
	ActivityMerge  = "MERGE"
)

// PositionStatus is the lifecycle state of a copy position.
// OPEN is the only non-terminal state.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
	StatusFailed PositionStatus = "FAILED"
)

// WatchedTrader is a Polymarket account on the operator's watchlist.
type WatchedTrader struct {
	Address         string    `json:"address"`
	Username        string    `json:"username"`
	Nickname        string    `json:"nickname"`
	ProfileURL      string    `json:"profile_url"`
	LastSeenTradeID string    `json:"last_seen_trade_id"`
	LastSeenTS      int64     `json:"last_seen_ts"`
	AddedAt         time.Time `json:"added_at"`
}

// DisplayName prefers the operator-assigned nickname, then the venue
// username, then a truncated address.
func (t WatchedTrader) DisplayName() string {
	if t.Nickname != "" {
		return t.Nickname
	}
	if t.Username != "" {
		return t.Username
	}
	if len(t.Address) > 10 {
		return t.Address[:10]
	}
	return t.Address
}

// TradeEvent is a single activity item fetched from the venue. Identity is
// ID (the transaction hash); an ID is never processed twice.
type TradeEvent struct {
	ID        string  `json:"id"`
	Trader    string  `json:"trader"`
	MarketID  string  `json:"market_id"` // condition id
	TokenID   string  `json:"token_id"`  // outcome token (asset id)
	Outcome   string  `json:"outcome"`
	Type      string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	UsdcSize  float64 `json:"usdc_size"`
	Title     string  `json:"title"`
	Slug      string  `json:"slug"`
	EventSlug string  `json:"event_slug"`
	Timestamp int64   `json:"timestamp"`
}

// MarketURL builds the public market page for alert links.
func (e TradeEvent) MarketURL() string {
	switch {
	case e.EventSlug != "" && e.Slug != "":
		return "https://polymarket.com/event/" + e.EventSlug + "/" + e.Slug
	case e.EventSlug != "":
		return "https://polymarket.com/event/" + e.EventSlug
	case e.Slug != "":
		return "https://polymarket.com/event/" + e.Slug
	default:
		return "https://polymarket.com"
	}
}

// CopyPosition is the operator's own mirrored position, tracked independently
// of the source trader's. Rows are never deleted; CLOSED and FAILED rows
// remain for portfolio history.
type CopyPosition struct {
	ID             string         `json:"id"`
	SourceTrader   string         `json:"source_trader"`
	SourceTradeID  string         `json:"source_trade_id"`
	MarketID       string         `json:"market_id"`
	TokenID        string         `json:"token_id"`
	Outcome        string         `json:"outcome"`
	Title          string         `json:"title"`
	EntryPrice     float64        `json:"entry_price"`
	Size           float64        `json:"size"`
	AmountUSD      float64        `json:"amount_usd"`
	Status         PositionStatus `json:"status"`
	OrderID        string         `json:"order_id"`
	AlertMessageID int64          `json:"alert_message_id"` // buy alert to thread the sell alert under
	NegRisk        bool           `json:"neg_risk"`
	OpenedAt       time.Time      `json:"opened_at"`
	ClosePrice     float64        `json:"close_price"`
	ClosedAt       time.Time      `json:"closed_at"`
	RealizedPnlUSD float64        `json:"realized_pnl_usd"`
	RealizedPnlPct float64        `json:"realized_pnl_pct"`
}

// Terminal reports whether the position can no longer transition.
func (p CopyPosition) Terminal() bool {
	return p.Status == StatusClosed || p.Status == StatusFailed
}

// PositionKey identifies the unique OPEN-position slot for a
// (trader, market, outcome) tuple.
func PositionKey(trader, marketID, outcome string) string {
	return trader + "|" + marketID + "|" + outcome
}

// PortfolioSummary aggregates closed-position performance for /portfolio.
type PortfolioSummary struct {
	OpenCount     int     `json:"open_count"`
	ClosedCount   int     `json:"closed_count"`
	FailedCount   int     `json:"failed_count"`
	TotalInvested float64 `json:"total_invested"`
	RealizedUSD   float64 `json:"realized_usd"`
	WinCount      int     `json:"win_count"`
	LossCount     int     `json:"loss_count"`
}
