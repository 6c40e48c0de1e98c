package telegram

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/syncer"
)

// callbackPrefix tags confirm-button callback data: "copy:<oppID>:<usd>".
const callbackPrefix = "copy"

const sendTimeout = 15 * time.Second

// Notifier delivers engine alerts to the operator chat.
type Notifier struct {
	client       *Client
	quickAmounts []float64
}

var _ syncer.Notifier = (*Notifier)(nil)

// NewNotifier creates the alert sender. quickAmounts are the USD buttons
// offered on every buy alert.
func NewNotifier(client *Client, quickAmounts []float64) *Notifier {
	if len(quickAmounts) == 0 {
		quickAmounts = []float64{1, 5, 10, 25, 100}
	}
	return &Notifier{client: client, quickAmounts: quickAmounts}
}

func amountKeyboard(oppID string, amounts []float64) [][]Button {
	row := make([]Button, 0, len(amounts))
	for _, usd := range amounts {
		row = append(row, Button{
			Text:         fmt.Sprintf("$%g", usd),
			CallbackData: fmt.Sprintf("%s:%s:%g", callbackPrefix, oppID, usd),
		})
	}
	return [][]Button{row}
}

// BuyAlert posts the copy opportunity with amount buttons and returns the
// message id for later threading.
func (n *Notifier) BuyAlert(opp *syncer.Opportunity, trader models.WatchedTrader, execStyle api.ExecStyle) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	text := FormatBuyAlert(opp.Event, trader, execStyle)
	return n.client.SendMessageWithKeyboard(ctx, text, amountKeyboard(opp.ID, n.quickAmounts))
}

// SellAlertWithPnl posts the close result threaded under the buy alert.
func (n *Notifier) SellAlertWithPnl(pos *models.CopyPosition, trader models.WatchedTrader) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	_, err := n.client.ReplyMessage(ctx, FormatSellAlert(pos, trader), pos.AlertMessageID)
	return err
}

// CopyConfirmed acks a placed order and strips the now-dead buttons from
// the buy alert.
func (n *Notifier) CopyConfirmed(pos *models.CopyPosition) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if pos.AlertMessageID != 0 {
		if err := n.client.ClearKeyboard(ctx, pos.AlertMessageID); err != nil {
			log.Printf("[Telegram] Clear keyboard failed: %v", err)
		}
	}
	_, err := n.client.ReplyMessage(ctx, FormatCopyConfirmed(pos), pos.AlertMessageID)
	return err
}

// CopyFailed reports a failed confirm; the buttons stay live for a retry.
func (n *Notifier) CopyFailed(opp *syncer.Opportunity, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	_, err := n.client.ReplyMessage(ctx, FormatCopyFailed(opp.Event, reason), opp.AlertMessageID)
	return err
}

// AutoSellFailed reports a terminal FAILED position.
func (n *Notifier) AutoSellFailed(pos *models.CopyPosition, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	_, err := n.client.ReplyMessage(ctx, FormatAutoSellFailed(pos, reason), pos.AlertMessageID)
	return err
}

// TradeInfo posts a non-actionable trader event.
func (n *Notifier) TradeInfo(event models.TradeEvent, trader models.WatchedTrader, execStyle api.ExecStyle) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	_, err := n.client.SendMessage(ctx, FormatTradeInfo(event, trader, execStyle))
	return err
}
