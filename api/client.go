// Package api provides clients for the Polymarket data API, gamma API and
// CLOB trading API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/poedgar905/Paulie/models"
)

// TransientError marks a fetch failure as retryable on the next poll cycle.
// The poll loop skips the trader and continues; nothing else is done with it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Client talks to the public data and gamma APIs. It is the read-only
/// market data gateway: trade history and display prices, never execution.
type Client struct {
	dataURL    string
	gammaURL   string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a gateway client for the given endpoints. Empty strings
// select the production endpoints.
func NewClient(dataURL, gammaURL string) *Client {
	if dataURL == "" {
		dataURL = "https://data-api.polymarket.com"
	}
	if gammaURL == "" {
		gammaURL = "https://gamma-api.polymarket.com"
	}
	return &Client{
		dataURL:  strings.TrimRight(dataURL, "/"),
		gammaURL: strings.TrimRight(gammaURL, "/"),
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		// Browser-like UA avoids Cloudflare 403s on the public endpoints.
		userAgent: "Mozilla/5.0",
	}
}

// DataActivity mirrors one item of the data API /activity response.
type DataActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	EventSlug       string  `json:"eventSlug"`
	Name            string  `json:"name"`
	Pseudonym       string  `json:"pseudonym"`
}

// GetActivity fetches a trader's recent activity, newest first.
func (c *Client) GetActivity(ctx context.Context, address string, limit int) ([]models.TradeEvent, error) {
	if limit <= 0 {
		limit = 30
	}

	q := url.Values{}
	q.Set("user", strings.ToLower(address))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")

	var raw []DataActivity
	if err := c.getJSON(ctx, c.dataURL+"/activity?"+q.Encode(), &raw); err != nil {
		return nil, &TransientError{Op: "get activity", Err: err}
	}

	events := make([]models.TradeEvent, 0, len(raw))
	for _, a := range raw {
		if a.TransactionHash == "" {
			continue
		}
		events = append(events, models.TradeEvent{
			ID:        a.TransactionHash,
			Trader:    strings.ToLower(address),
			MarketID:  a.ConditionID,
			TokenID:   a.Asset,
			Outcome:   a.Outcome,
			Type:      a.Type,
			Side:      models.Side(a.Side),
			Price:     a.Price,
			Size:      a.Size,
			UsdcSize:  a.UsdcSize,
			Title:     a.Title,
			Slug:      a.Slug,
			EventSlug: a.EventSlug,
			Timestamp: a.Timestamp,
		})
	}
	return events, nil
}

// Profile is a public trader profile from the gamma API.
type Profile struct {
	Name        string `json:"name"`
	Pseudonym   string `json:"pseudonym"`
	ProxyWallet string `json:"proxyWallet"`
}

var addressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ExtractHandle pulls a username or address out of a profile URL or raw
// input as typed by the operator after /add.
func ExtractHandle(input string) string {
	input = strings.TrimSpace(input)
	for _, re := range []*regexp.Regexp{
		regexp.MustCompile(`polymarket\.com/@([^\s/?#]+)`),
		regexp.MustCompile(`polymarket\.com/profile/([^\s/?#]+)`),
	} {
		if m := re.FindStringSubmatch(input); m != nil {
			return m[1]
		}
	}
	return strings.TrimPrefix(input, "@")
}

// ResolveUser turns a username or address into a lowercase wallet address
// plus the venue display name.
func (c *Client) ResolveUser(ctx context.Context, handle string) (address, username string, err error) {
	handle = ExtractHandle(handle)
	if addressRe.MatchString(handle) {
		addr := strings.ToLower(handle)
		if p, err := c.getProfile(ctx, addr); err == nil && p != nil {
			return addr, firstNonEmpty(p.Name, p.Pseudonym), nil
		}
		return addr, "", nil
	}

	var result struct {
		Profiles []Profile `json:"profiles"`
	}
	q := url.Values{}
	q.Set("query", handle)
	if err := c.getJSON(ctx, c.gammaURL+"/public-search?"+q.Encode(), &result); err != nil {
		return "", "", &TransientError{Op: "public search", Err: err}
	}

	lower := strings.ToLower(handle)
	// Exact name match first, then substring, then the top hit.
	for _, p := range result.Profiles {
		if p.ProxyWallet != "" && (strings.ToLower(p.Name) == lower || strings.ToLower(p.Pseudonym) == lower) {
			return strings.ToLower(p.ProxyWallet), firstNonEmpty(p.Name, p.Pseudonym), nil
		}
	}
	for _, p := range result.Profiles {
		if p.ProxyWallet != "" && (strings.Contains(strings.ToLower(p.Name), lower) || strings.Contains(strings.ToLower(p.Pseudonym), lower)) {
			return strings.ToLower(p.ProxyWallet), firstNonEmpty(p.Name, p.Pseudonym), nil
		}
	}
	if len(result.Profiles) > 0 && result.Profiles[0].ProxyWallet != "" {
		p := result.Profiles[0]
		return strings.ToLower(p.ProxyWallet), firstNonEmpty(p.Name, p.Pseudonym), nil
	}

	return "", "", fmt.Errorf("no profile found for %q", handle)
}

func (c *Client) getProfile(ctx context.Context, address string) (*Profile, error) {
	q := url.Values{}
	q.Set("address", address)

	var p Profile
	if err := c.getJSON(ctx, c.gammaURL+"/public-profile?"+q.Encode(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("%s: status=%d body=%q", endpoint, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
