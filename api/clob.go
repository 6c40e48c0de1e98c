package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ClobClient handles CLOB API interactions for order placement. It signs
// orders with EIP-712 and authenticates requests with derived L2 HMAC
// credentials.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	auth          *Auth
	apiCreds      *APICreds
	chainID       int64
	funder        common.Address
	signatureType int // 0=EOA, 1=Magic/Email, 2=Browser proxy
}

// APICreds holds derived L2 API credentials.
type APICreds struct {
	APIKey        string `json:"apiKey"`
	APISecret     string `json:"secret"`
	APIPassphrase string `json:"passphrase"`
}

// OrderBook represents the order book for a token.
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel is a single price level.
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// MarketInfo represents market information from the CLOB.
type MarketInfo struct {
	ConditionID      string          `json:"condition_id"`
	QuestionID       string          `json:"question_id"`
	Tokens           []ClobTokenInfo `json:"tokens"`
	MinimumOrderSize string          `json:"minimum_order_size"`
	MinimumTickSize  string          `json:"minimum_tick_size"`
	Active           bool            `json:"active"`
	Closed           bool            `json:"closed"`
	MarketSlug       string          `json:"market_slug"`
	NegRisk          bool            `json:"neg_risk"`
}

// ClobTokenInfo represents one outcome token of a market.
type ClobTokenInfo struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Price   string `json:"price"`
	Winner  bool   `json:"winner"`
}

// OrderType selects the time-in-force of an order.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill (market order)
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled (limit order)
)

// Side re-exports the trade direction for order placement.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is a signed exchange order.
type Order struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
	SideInt       int    `json:"-"` // internal, for EIP-712 signing
}

// OrderRequest is the payload for placing an order.
type OrderRequest struct {
	Order     Order     `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

// OrderResponse is the response from placing an order.
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderId"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"` // matched, live, delayed, unmatched
}

// OrderStatus mirrors the /data/order response.
type OrderStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// NewClobClient creates a new CLOB API client.
func NewClobClient(baseURL string, auth *Auth) (*ClobClient, error) {
	if baseURL == "" {
		baseURL = "https://clob.polymarket.com"
	}

	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:          auth,
		chainID:       137, // Polygon mainnet
		funder:        auth.GetAddress(),
		signatureType: 0, // EOA by default
	}, nil
}

// SetFunder sets the funder address for Magic/Email wallets. The funder is
// the Polymarket profile address where USDC is held.
func (c *ClobClient) SetFunder(funderAddress string) {
	c.funder = common.HexToAddress(funderAddress)
}

// SetSignatureType sets the signature type (0=EOA, 1=Magic/Email, 2=proxy).
func (c *ClobClient) SetSignatureType(sigType int) {
	c.signatureType = sigType
}

// DeriveAPICreds derives or creates L2 API credentials.
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	creds, err := c.createAPICreds(ctx)
	if err == nil && creds != nil {
		c.apiCreds = creds
		log.Printf("[CLOB] Created new API credentials")
		return creds, nil
	}

	log.Printf("[CLOB] Creating creds failed (%v), deriving existing", err)
	creds, err = c.deriveAPICreds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to derive API creds: %w", err)
	}

	c.apiCreds = creds
	return creds, nil
}

func (c *ClobClient) deriveAPICreds(ctx context.Context) (*APICreds, error) {
	return c.authRequest(ctx, http.MethodGet, "/auth/derive-api-key", "")
}

func (c *ClobClient) createAPICreds(ctx context.Context) (*APICreds, error) {
	body := fmt.Sprintf(`{"nonce":%d}`, time.Now().UnixNano())
	return c.authRequest(ctx, http.MethodPost, "/auth/api-key", body)
}

func (c *ClobClient) authRequest(ctx context.Context, method, path, body string) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s failed: %d %s", method, path, resp.StatusCode, string(respBody))
	}

	var creds APICreds
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode API creds: %w", err)
	}
	return &creds, nil
}

// GetOrderBook fetches the order book for a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	var book OrderBook
	if err := c.getJSON(ctx, "/book?"+values.Encode(), &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// GetMarket fetches market information by condition id.
func (c *ClobClient) GetMarket(ctx context.Context, conditionID string) (*MarketInfo, error) {
	var market MarketInfo
	if err := c.getJSON(ctx, "/markets/"+conditionID, &market); err != nil {
		return nil, err
	}
	return &market, nil
}

// GetPrice returns the current midpoint for a token. Display only; execution
// always uses the observed trade price.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID string) (float64, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	var result struct {
		Mid string `json:"mid"`
	}
	if err := c.getJSON(ctx, "/midpoint?"+values.Encode(), &result); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(result.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("bad midpoint %q: %w", result.Mid, err)
	}
	return price, nil
}

func (c *ClobClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s failed: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PlaceLimitOrder places a GTC limit order at the given price.
func (c *ClobClient) PlaceLimitOrder(ctx context.Context, tokenID string, side Side, size, price float64, negRisk bool) (*OrderResponse, error) {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("failed to get API creds: %w", err)
		}
	}

	order, err := c.createSignedOrder(tokenID, side, size, price, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed order: %w", err)
	}

	return c.postOrder(ctx, order, OrderTypeGTC)
}

// PlaceMarketOrder sweeps the book for amountUSDC worth of tokens at the
// depth-weighted average price.
func (c *ClobClient) PlaceMarketOrder(ctx context.Context, tokenID string, side Side, amountUSDC float64, negRisk bool) (*OrderResponse, error) {
	if c.apiCreds == nil {
		if _, err := c.DeriveAPICreds(ctx); err != nil {
			return nil, fmt.Errorf("failed to get API creds: %w", err)
		}
	}

	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book: %w", err)
	}

	totalSize, avgPrice, filled := CalculateOptimalFill(book, side, amountUSDC)
	if totalSize == 0 {
		return nil, fmt.Errorf("cannot fill order: insufficient liquidity")
	}

	log.Printf("[CLOB] Market order: %s %.4f USDC at avg price %.4f (size %.4f)",
		side, filled, avgPrice, totalSize)

	order, err := c.createSignedOrder(tokenID, side, totalSize, avgPrice, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed order: %w", err)
	}

	return c.postOrder(ctx, order, OrderTypeGTC)
}

// GetOrderStatus fetches the current status for an order id.
func (c *ClobClient) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	if c.apiCreds == nil {
		return nil, fmt.Errorf("api creds not configured")
	}

	path := "/data/order/" + orderID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order status failed: %d %s", resp.StatusCode, string(body))
	}

	var status OrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode order status: %w", err)
	}
	return &status, nil
}

// CancelOrder cancels a single resting order.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	if c.apiCreds == nil {
		return fmt.Errorf("api creds not configured")
	}

	body, _ := json.Marshal(map[string]string{"orderID": orderID})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel order failed: %d %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *ClobClient) createSignedOrder(tokenID string, side Side, size, price float64, negRisk bool) (*Order, error) {
	price = RoundPrice(price, 0.01)
	size = RoundSize(size, 2)

	if price <= 0 || price >= 1 {
		return nil, fmt.Errorf("invalid price %.4f", price)
	}
	if size < 0.01 {
		size = 0.01
	}

	// Both USDC and outcome tokens use 6 decimals.
	// MakerAmount: what we give (USDC for buy, tokens for sell).
	// TakerAmount: what we get (tokens for buy, USDC for sell).
	sizeUnits := new(big.Float).Mul(big.NewFloat(size), big.NewFloat(1e6))
	sizeInt := new(big.Int)
	sizeUnits.Int(sizeInt)

	usdcUnits := new(big.Float).Mul(big.NewFloat(size*price), big.NewFloat(1e6))
	usdcInt := new(big.Int)
	usdcUnits.Int(usdcInt)

	var makerAmount, takerAmount *big.Int
	sideInt := 0
	sideStr := "BUY"
	if side == SideBuy {
		makerAmount, takerAmount = usdcInt, sizeInt
	} else {
		makerAmount, takerAmount = sizeInt, usdcInt
		sideInt, sideStr = 1, "SELL"
	}

	order := &Order{
		Salt:          generateSalt(),
		Maker:         c.funder.Hex(),
		Signer:        c.auth.GetAddress().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0", // GTC, no expiration
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideStr,
		SignatureType: c.signatureType,
		SideInt:       sideInt,
	}

	signature, err := c.signOrder(order, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	order.Signature = signature

	return order, nil
}

func (c *ClobClient) signOrder(order *Order, negRisk bool) (string, error) {
	// Neg-risk markets settle through a different exchange contract.
	verifyingContract := "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E" // CTFExchange
	if negRisk {
		verifyingContract = "0xC5d563A36AE78145C45a50134d48A1215220f80a" // NegRiskCTFExchange
	}

	domain := apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           ethmath.NewHexOrDecimal256(c.chainID),
		VerifyingContract: verifyingContract,
	}

	tokenId := new(big.Int)
	tokenId.SetString(order.TokenID, 10)
	makerAmount := new(big.Int)
	makerAmount.SetString(order.MakerAmount, 10)
	takerAmount := new(big.Int)
	takerAmount.SetString(order.TakerAmount, 10)

	message := map[string]interface{}{
		"salt":          big.NewInt(order.Salt),
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       tokenId,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    big.NewInt(0),
		"nonce":         big.NewInt(0),
		"feeRateBps":    big.NewInt(0),
		"side":          big.NewInt(int64(order.SideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(hash, c.auth.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

func (c *ClobClient) postOrder(ctx context.Context, order *Order, orderType OrderType) (*OrderResponse, error) {
	payload := OrderRequest{
		Order:     *order,
		Owner:     c.apiCreds.APIKey,
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	// Browser-like headers avoid Cloudflare blocking order submission.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", "https://polymarket.com")
	req.Header.Set("Referer", "https://polymarket.com/")

	c.addL2Headers(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post order failed: %d %s", resp.StatusCode, string(respBody))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &orderResp, nil
}

func (c *ClobClient) addL2Headers(req *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	// L2 signature covers timestamp + method + path + body.
	message := timestamp + req.Method + req.URL.Path
	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		message += string(bodyBytes)
	}

	signature := hmacSign(message, c.apiCreds.APISecret)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.auth.GetAddress().Hex())
	req.Header.Set("POLY_API_KEY", c.apiCreds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.apiCreds.APIPassphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", signature)
}

func hmacSign(message, secret string) string {
	// The secret is URL-safe base64; fall back to standard alphabet, then raw.
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			key = []byte(secret)
		}
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func generateSalt() int64 {
	return time.Now().UnixNano() % 1000000000
}

// RoundPrice snaps a price to the venue tick (nearest).
func RoundPrice(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// RoundSize floors a share count to the venue lot precision. Flooring keeps
// the order cost at or under the requested USD amount.
func RoundSize(size float64, decimals int) float64 {
	pow := math.Pow10(decimals)
	return math.Floor(size*pow) / pow
}

// SizeForAmount converts a USD budget at a price into a venue-rounded share
// count.
func SizeForAmount(amountUSD, price float64, decimals int) float64 {
	if price <= 0 {
		return 0
	}
	return RoundSize(amountUSD/price, decimals)
}

// CalculateOptimalFill walks the book and reports how much of amountUSDC can
// be filled, at what average price, for the given side.
func CalculateOptimalFill(book *OrderBook, side Side, amountUSDC float64) (totalSize, avgPrice, filledUSDC float64) {
	var levels []OrderBookLevel
	if side == SideBuy {
		levels = book.Asks
	} else {
		levels = book.Bids
	}

	remainingUSDC := amountUSDC
	totalCost := 0.0

	for _, level := range levels {
		price, _ := strconv.ParseFloat(level.Price, 64)
		size, _ := strconv.ParseFloat(level.Size, 64)

		levelValue := size * price
		if levelValue <= remainingUSDC {
			totalSize += size
			totalCost += levelValue
			remainingUSDC -= levelValue
		} else {
			fillSize := remainingUSDC / price
			totalSize += fillSize
			totalCost += remainingUSDC
			remainingUSDC = 0
			break
		}

		if remainingUSDC <= 0 {
			break
		}
	}

	if totalSize > 0 {
		avgPrice = totalCost / totalSize
	}
	filledUSDC = amountUSDC - remainingUSDC
	return
}
