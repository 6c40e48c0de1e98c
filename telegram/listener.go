package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
	"github.com/poedgar905/Paulie/syncer"
)

const (
	pollTimeout  = 60 // getUpdates long-poll seconds
	retryBackoff = 5 * time.Second
)

// PriceLookup returns the current midpoint for a token when the market
// price feed has one.
type PriceLookup func(tokenID string) (float64, bool)

// Listener long-polls for operator commands and confirm-button taps. Only
// the configured chat is served; everything else is dropped silently.
type Listener struct {
	client *Client
	store  storage.DataStore
	data   api.DataClientInterface
	engine *syncer.Engine
	prices PriceLookup

	ownerChatID int64
	offset      int64

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewListener wires the command surface. prices may be nil when the market
// feed is disabled.
func NewListener(client *Client, store storage.DataStore, data api.DataClientInterface, engine *syncer.Engine, prices PriceLookup) (*Listener, error) {
	ownerChatID, err := strconv.ParseInt(client.ChatID(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", client.ChatID(), err)
	}
	return &Listener{
		client:      client,
		store:       store,
		data:        data,
		engine:      engine,
		prices:      prices,
		ownerChatID: ownerChatID,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start launches the update loop.
func (l *Listener) Start(ctx context.Context) {
	if l.running {
		return
	}
	l.running = true
	log.Println("[Telegram] Listener started")
	go l.run(ctx)
}

// Stop halts the update loop and waits for it to exit.
func (l *Listener) Stop() {
	if !l.running {
		return
	}
	l.running = false
	close(l.stopCh)
	<-l.doneCh
	log.Println("[Telegram] Listener stopped")
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		updates, err := l.client.GetUpdates(ctx, l.offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Telegram] getUpdates failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		for _, update := range updates {
			l.offset = update.UpdateID + 1
			l.handleUpdate(ctx, update)
		}
	}
}

func (l *Listener) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil || cb.Message.Chat.ID != l.ownerChatID {
			return
		}
		l.handleCallback(ctx, cb.ID, cb.Data)
	case update.Message != nil:
		msg := update.Message
		if msg.Chat.ID != l.ownerChatID {
			log.Printf("[Telegram] Ignoring message from unauthorized chat %d (@%s)",
				msg.Chat.ID, msg.From.Username)
			return
		}
		text := strings.TrimSpace(msg.Text)
		if !strings.HasPrefix(text, "/") {
			return
		}
		reply := l.handleCommand(ctx, text)
		if reply == "" {
			return
		}
		if _, err := l.client.SendMessage(ctx, reply); err != nil {
			log.Printf("[Telegram] Reply failed: %v", err)
		}
	}
}

// handleCallback processes a confirm-button tap: "copy:<oppID>:<usd>".
func (l *Listener) handleCallback(ctx context.Context, callbackID, data string) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		log.Printf("[Telegram] Unrecognized callback data %q", data)
		l.answer(ctx, callbackID, "")
		return
	}
	oppID := parts[1]
	usd, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		l.answer(ctx, callbackID, "Bad amount")
		return
	}

	pos, err := l.engine.ConfirmCopy(ctx, oppID, usd)
	switch {
	case err == nil:
		l.answer(ctx, callbackID, fmt.Sprintf("Copied $%g", usd))
		log.Printf("[Telegram] Confirmed copy %s for $%g -> position %s", oppID, usd, pos.ID)
	case errors.Is(err, syncer.ErrDuplicateConfirm):
		l.answer(ctx, callbackID, "Already copied")
	case errors.Is(err, syncer.ErrUnknownOpportunity):
		l.answer(ctx, callbackID, "Opportunity expired")
	case errors.Is(err, syncer.ErrTradingDisabled):
		l.answer(ctx, callbackID, "Trading disabled: no signing key")
	default:
		l.answer(ctx, callbackID, "Copy failed, see chat")
		log.Printf("[Telegram] Confirm %s failed: %v", oppID, err)
	}
}

func (l *Listener) answer(ctx context.Context, callbackID, text string) {
	if err := l.client.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Printf("[Telegram] answerCallbackQuery failed: %v", err)
	}
}

func (l *Listener) handleCommand(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	// Strip the "@botname" form Telegram appends in groups.
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		return helpText
	case "/add":
		return l.cmdAdd(ctx, args)
	case "/remove":
		return l.cmdRemove(ctx, args)
	case "/list":
		return l.cmdList(ctx)
	case "/nick":
		return l.cmdNick(ctx, args)
	case "/portfolio":
		return l.cmdPortfolio(ctx)
	case "/check":
		return l.cmdCheck(ctx, args)
	default:
		return "Unknown command. " + helpText
	}
}

const helpText = `Commands:
/add <handle or address> [nickname] - watch a trader
/remove <handle or address> - stop watching
/list - show the watchlist
/nick <handle or address> <nickname> - set a nickname
/portfolio - copy positions and P&L
/check <handle or address> - recent trader activity`

func (l *Listener) resolve(ctx context.Context, input string) (address, username string, err error) {
	return l.data.ResolveUser(ctx, api.ExtractHandle(input))
}

func (l *Listener) cmdAdd(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /add <handle or address> [nickname]"
	}
	address, username, err := l.resolve(ctx, args[0])
	if err != nil {
		return fmt.Sprintf("Could not resolve %q: %v", args[0], err)
	}

	trader := models.WatchedTrader{
		Address:  address,
		Username: username,
		AddedAt:  time.Now(),
	}
	if len(args) > 1 {
		trader.Nickname = strings.Join(args[1:], " ")
	}
	if strings.Contains(args[0], "polymarket.com") || strings.HasPrefix(args[0], "@") {
		trader.ProfileURL = "https://polymarket.com/@" + api.ExtractHandle(args[0])
	}

	if err := l.store.AddTrader(ctx, trader); err != nil {
		return fmt.Sprintf("Failed to add trader: %v", err)
	}
	log.Printf("[Telegram] Watching %s (%s)", trader.DisplayName(), address)
	return fmt.Sprintf("Now watching *%s*\n`%s`", escapeMarkdown(trader.DisplayName()), address)
}

func (l *Listener) cmdRemove(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /remove <handle or address>"
	}
	address, _, err := l.resolve(ctx, args[0])
	if err != nil {
		return fmt.Sprintf("Could not resolve %q: %v", args[0], err)
	}
	if err := l.store.RemoveTrader(ctx, address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "That trader is not on the watchlist."
		}
		return fmt.Sprintf("Failed to remove trader: %v", err)
	}
	return fmt.Sprintf("Stopped watching `%s`", address)
}

func (l *Listener) cmdList(ctx context.Context) string {
	traders, err := l.store.ListTraders(ctx)
	if err != nil {
		return fmt.Sprintf("Failed to load watchlist: %v", err)
	}
	return FormatWatchlist(traders)
}

func (l *Listener) cmdNick(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "Usage: /nick <handle or address> <nickname>"
	}
	address, _, err := l.resolve(ctx, args[0])
	if err != nil {
		return fmt.Sprintf("Could not resolve %q: %v", args[0], err)
	}
	nickname := strings.Join(args[1:], " ")
	if err := l.store.SetNickname(ctx, address, nickname); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "That trader is not on the watchlist."
		}
		return fmt.Sprintf("Failed to set nickname: %v", err)
	}
	return fmt.Sprintf("Nickname for `%s` set to *%s*", address, escapeMarkdown(nickname))
}

func (l *Listener) cmdPortfolio(ctx context.Context) string {
	summary, err := l.store.GetPortfolioSummary(ctx)
	if err != nil {
		return fmt.Sprintf("Failed to load portfolio: %v", err)
	}
	open, err := l.store.ListPositions(ctx, models.StatusOpen, 0)
	if err != nil {
		return fmt.Sprintf("Failed to load open positions: %v", err)
	}
	return FormatPortfolio(summary, open)
}

func (l *Listener) cmdCheck(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /check <handle or address>"
	}
	address, username, err := l.resolve(ctx, args[0])
	if err != nil {
		return fmt.Sprintf("Could not resolve %q: %v", args[0], err)
	}
	events, err := l.data.GetActivity(ctx, address, 10)
	if err != nil {
		return fmt.Sprintf("Failed to fetch activity: %v", err)
	}
	name := username
	if name == "" {
		name = address
	}
	return FormatRecentActivity(name, events, l.prices)
}
