// Package telegram implements the operator chat surface: outbound alerts
// with inline confirm buttons and an inbound command listener.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const apiBase = "https://api.telegram.org"

// Button is one inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Client talks to the Telegram Bot API for a single bot and chat.
type Client struct {
	token      string
	chatID     string
	httpClient *http.Client
}

// NewClient creates a Bot API client bound to one chat.
func NewClient(token, chatID string) *Client {
	return &Client{
		token:  token,
		chatID: chatID,
		httpClient: &http.Client{
			Timeout: 70 * time.Second, // long-poll timeout plus slack
		},
	}
}

// ChatID returns the chat this client is bound to.
func (c *Client) ChatID() string {
	return c.chatID
}

type apiResponse struct {
	Ok          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// Update is one item from getUpdates. Only the fields the listener reads
// are mapped.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
	CallbackQuery *struct {
		ID      string `json:"id"`
		Data    string `json:"data"`
		Message *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !apiResp.Ok {
		return fmt.Errorf("telegram: %s failed: %s (code %d)", method, apiResp.Description, apiResp.ErrorCode)
	}
	if result != nil {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// SendMessage posts a Markdown message and returns its message id.
func (c *Client) SendMessage(ctx context.Context, text string) (int64, error) {
	return c.sendMessage(ctx, text, 0, nil)
}

// ReplyMessage posts a Markdown message threaded under replyTo.
func (c *Client) ReplyMessage(ctx context.Context, text string, replyTo int64) (int64, error) {
	return c.sendMessage(ctx, text, replyTo, nil)
}

// SendMessageWithKeyboard posts a Markdown message with an inline keyboard
// and returns its message id.
func (c *Client) SendMessageWithKeyboard(ctx context.Context, text string, keyboard [][]Button) (int64, error) {
	return c.sendMessage(ctx, text, 0, keyboard)
}

func (c *Client) sendMessage(ctx context.Context, text string, replyTo int64, keyboard [][]Button) (int64, error) {
	payload := map[string]any{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
		payload["allow_sending_without_reply"] = true
	}
	if keyboard != nil {
		payload["reply_markup"] = map[string]any{"inline_keyboard": keyboard}
	}

	var sent sentMessage
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// AnswerCallback acknowledges a callback query, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// ClearKeyboard removes the inline keyboard from a previously sent message.
func (c *Client) ClearKeyboard(ctx context.Context, messageID int64) error {
	payload := map[string]any{
		"chat_id":      c.chatID,
		"message_id":   messageID,
		"reply_markup": map[string]any{"inline_keyboard": [][]Button{}},
	}
	return c.call(ctx, "editMessageReplyMarkup", payload, nil)
}

// GetUpdates long-polls for updates past offset. timeout is in seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
