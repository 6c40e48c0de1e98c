package telegram

import (
	"fmt"
	"strings"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
)

func execStyleTag(style api.ExecStyle) string {
	switch style {
	case api.ExecStyleLimit:
		return " (limit)"
	case api.ExecStyleMarket:
		return " (market)"
	default:
		return ""
	}
}

// escapeMarkdown neutralizes the Markdown control characters Telegram
// chokes on inside market titles and usernames.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`")
	return replacer.Replace(s)
}

// FormatBuyAlert renders the copy opportunity alert shown above the amount
// buttons.
func FormatBuyAlert(event models.TradeEvent, trader models.WatchedTrader, style api.ExecStyle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🟢 *%s BOUGHT%s*\n\n", escapeMarkdown(trader.DisplayName()), execStyleTag(style))
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(event.Title))
	fmt.Fprintf(&b, "Outcome: *%s* @ %.2f¢\n", escapeMarkdown(event.Outcome), event.Price*100)
	fmt.Fprintf(&b, "Their size: %.2f shares ($%.2f)\n\n", event.Size, event.UsdcSize)
	fmt.Fprintf(&b, "[View market](%s)\n\n", event.MarketURL())
	b.WriteString("Copy this trade?")
	return b.String()
}

// FormatSellAlert renders the auto-sell result with realized P&L, threaded
// under the original buy alert.
func FormatSellAlert(pos *models.CopyPosition, trader models.WatchedTrader) string {
	emoji := "🟥"
	if pos.RealizedPnlUSD >= 0 {
		emoji = "🟩"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s SOLD, position closed*\n\n", emoji, escapeMarkdown(trader.DisplayName()))
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(pos.Title))
	fmt.Fprintf(&b, "%s: %.2f shares\n", escapeMarkdown(pos.Outcome), pos.Size)
	fmt.Fprintf(&b, "Entry %.2f¢ → Exit %.2f¢\n", pos.EntryPrice*100, pos.ClosePrice*100)
	fmt.Fprintf(&b, "P&L: *%+.2f USDC* (%+.2f%%)", pos.RealizedPnlUSD, pos.RealizedPnlPct)
	return b.String()
}

// FormatCopyConfirmed renders the ack after an order is placed.
func FormatCopyConfirmed(pos *models.CopyPosition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *Copied*\n\n")
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(pos.Title))
	fmt.Fprintf(&b, "%s: %.2f shares @ %.2f¢ ($%.2f)\n", escapeMarkdown(pos.Outcome), pos.Size, pos.EntryPrice*100, pos.AmountUSD)
	fmt.Fprintf(&b, "Order `%s`", pos.OrderID)
	return b.String()
}

// FormatCopyFailed renders a failed confirm. The opportunity stays
// confirmable, so the message says so.
func FormatCopyFailed(event models.TradeEvent, reason string) string {
	return fmt.Sprintf("❌ *Copy failed*\n\n*%s*\n%s\n\nYou can tap the buttons again to retry.",
		escapeMarkdown(event.Title), escapeMarkdown(reason))
}

// FormatAutoSellFailed renders the terminal FAILED transition. Manual
// intervention is the only way out.
func FormatAutoSellFailed(pos *models.CopyPosition, reason string) string {
	return fmt.Sprintf("🚨 *AUTO-SELL FAILED, manual action needed*\n\n*%s*\n%s: %.2f shares @ %.2f¢ entry\n%s",
		escapeMarkdown(pos.Title), escapeMarkdown(pos.Outcome), pos.Size, pos.EntryPrice*100, escapeMarkdown(reason))
}

// FormatTradeInfo renders a non-actionable trader event.
func FormatTradeInfo(event models.TradeEvent, trader models.WatchedTrader, style api.ExecStyle) string {
	action := string(event.Side)
	if event.Type == models.ActivityRedeem {
		action = "REDEEMED"
	}
	return fmt.Sprintf("ℹ️ %s %s%s %.2f shares of *%s* (%s @ %.2f¢), no copy position",
		escapeMarkdown(trader.DisplayName()), action, execStyleTag(style),
		event.Size, escapeMarkdown(event.Title), escapeMarkdown(event.Outcome), event.Price*100)
}

// FormatWatchlist renders the /list reply.
func FormatWatchlist(traders []models.WatchedTrader) string {
	if len(traders) == 0 {
		return "Watchlist is empty. Add a trader with /add <handle or address>."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Watching %d trader(s)*\n\n", len(traders))
	for i, t := range traders {
		fmt.Fprintf(&b, "%d. *%s*\n   `%s`\n", i+1, escapeMarkdown(t.DisplayName()), t.Address)
	}
	return b.String()
}

// FormatPortfolio renders the /portfolio reply: roll-up then open positions.
func FormatPortfolio(summary *models.PortfolioSummary, open []models.CopyPosition) string {
	var b strings.Builder
	b.WriteString("*Portfolio*\n\n")
	fmt.Fprintf(&b, "Open: %d | Closed: %d | Failed: %d\n", summary.OpenCount, summary.ClosedCount, summary.FailedCount)
	fmt.Fprintf(&b, "Invested (open): $%.2f\n", summary.TotalInvested)
	fmt.Fprintf(&b, "Realized P&L: *%+.2f USDC* (%dW / %dL)\n", summary.RealizedUSD, summary.WinCount, summary.LossCount)
	if len(open) > 0 {
		b.WriteString("\n*Open positions*\n")
		for _, p := range open {
			fmt.Fprintf(&b, "• %s %s: %.2f @ %.2f¢ ($%.2f)\n",
				escapeMarkdown(p.Title), escapeMarkdown(p.Outcome), p.Size, p.EntryPrice*100, p.AmountUSD)
		}
	}
	return b.String()
}

// FormatRecentActivity renders the /check reply for one trader. prices adds
// a current midpoint next to each line when the market feed has one.
func FormatRecentActivity(name string, events []models.TradeEvent, prices func(tokenID string) (float64, bool)) string {
	if len(events) == 0 {
		return fmt.Sprintf("No recent activity for *%s*.", escapeMarkdown(name))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Recent activity for %s*\n\n", escapeMarkdown(name))
	for _, e := range events {
		verb := string(e.Side)
		if e.Type != models.ActivityTrade {
			verb = e.Type
		}
		fmt.Fprintf(&b, "• %s %.2f %s @ %.2f¢, %s",
			verb, e.Size, escapeMarkdown(e.Outcome), e.Price*100, escapeMarkdown(e.Title))
		if prices != nil {
			if mid, ok := prices(e.TokenID); ok {
				fmt.Fprintf(&b, " (now %.2f¢)", mid*100)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
