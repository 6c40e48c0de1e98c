package telegram

import (
	"strings"
	"testing"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
)

func sampleEvent() models.TradeEvent {
	return models.TradeEvent{
		ID:       "0xabc",
		Trader:   "0x1111111111111111111111111111111111111111",
		MarketID: "0xcondition",
		TokenID:  "token-1",
		Outcome:  "Yes",
		Type:     models.ActivityTrade,
		Side:     models.SideBuy,
		Price:    0.55,
		Size:     500,
		UsdcSize: 275,
		Title:    "Will it happen?",
		Slug:     "will-it-happen",
	}
}

func samplePosition() *models.CopyPosition {
	return &models.CopyPosition{
		ID:             "pos-1",
		SourceTrader:   "0x1111111111111111111111111111111111111111",
		Title:          "Will it happen?",
		Outcome:        "Yes",
		EntryPrice:     0.55,
		ClosePrice:     0.70,
		Size:           181.81,
		AmountUSD:      100,
		Status:         models.StatusClosed,
		OrderID:        "order-1",
		AlertMessageID: 42,
		RealizedPnlUSD: 27.2715,
		RealizedPnlPct: 27.27,
	}
}

func TestFormatBuyAlertExecStyle(t *testing.T) {
	trader := models.WatchedTrader{Address: "0x1111111111111111111111111111111111111111", Username: "whale"}

	tests := []struct {
		name  string
		style api.ExecStyle
		want  string
	}{
		{"limit", api.ExecStyleLimit, "(limit)"},
		{"market", api.ExecStyleMarket, "(market)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatBuyAlert(sampleEvent(), trader, tt.style)
			if !strings.Contains(got, tt.want) {
				t.Errorf("alert missing %q:\n%s", tt.want, got)
			}
		})
	}

	unknown := FormatBuyAlert(sampleEvent(), trader, api.ExecStyleUnknown)
	if strings.Contains(unknown, "(limit)") || strings.Contains(unknown, "(market)") {
		t.Errorf("unknown style should carry no tag:\n%s", unknown)
	}
	if !strings.Contains(unknown, "whale") {
		t.Errorf("alert missing trader name:\n%s", unknown)
	}
	if !strings.Contains(unknown, "55.00¢") {
		t.Errorf("alert missing price:\n%s", unknown)
	}
}

func TestFormatSellAlertSign(t *testing.T) {
	trader := models.WatchedTrader{Address: "0x1111111111111111111111111111111111111111", Username: "whale"}

	profit := FormatSellAlert(samplePosition(), trader)
	if !strings.Contains(profit, "🟩") || !strings.Contains(profit, "+27.27 USDC") {
		t.Errorf("profit alert wrong:\n%s", profit)
	}

	loser := samplePosition()
	loser.ClosePrice = 0.40
	loser.RealizedPnlUSD = -27.2715
	loser.RealizedPnlPct = -27.27
	loss := FormatSellAlert(loser, trader)
	if !strings.Contains(loss, "🟥") || !strings.Contains(loss, "-27.27 USDC") {
		t.Errorf("loss alert wrong:\n%s", loss)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain title", "plain title"},
		{"under_score", "under\\_score"},
		{"star*burst", "star\\*burst"},
		{"[bracket", "\\[bracket"},
		{"back`tick", "back\\`tick"},
	}
	for _, tt := range tests {
		if got := escapeMarkdown(tt.in); got != tt.want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAmountKeyboard(t *testing.T) {
	kb := amountKeyboard("abc123", []float64{1, 25, 100})
	if len(kb) != 1 || len(kb[0]) != 3 {
		t.Fatalf("keyboard shape = %dx%d, want 1x3", len(kb), len(kb[0]))
	}
	if kb[0][1].Text != "$25" {
		t.Errorf("button text = %q, want $25", kb[0][1].Text)
	}
	if kb[0][1].CallbackData != "copy:abc123:25" {
		t.Errorf("callback data = %q, want copy:abc123:25", kb[0][1].CallbackData)
	}
}

func TestFormatPortfolioEmptyOpen(t *testing.T) {
	summary := &models.PortfolioSummary{ClosedCount: 2, RealizedUSD: 17.27, WinCount: 1, LossCount: 1}
	got := FormatPortfolio(summary, nil)
	if strings.Contains(got, "Open positions") {
		t.Errorf("empty portfolio should omit open section:\n%s", got)
	}
	if !strings.Contains(got, "+17.27 USDC") {
		t.Errorf("portfolio missing realized pnl:\n%s", got)
	}
}
