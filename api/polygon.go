package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ExecStyle classifies how a trade executed on the exchange contract.
type ExecStyle string

const (
	ExecStyleLimit   ExecStyle = "LIMIT"
	ExecStyleMarket  ExecStyle = "MARKET"
	ExecStyleUnknown ExecStyle = "UNKNOWN"
)

// PolygonClient reads transaction receipts from a Polygon JSON-RPC node.
type PolygonClient struct {
	rpcURL     string
	httpClient *http.Client
}

// NewPolygonClient creates a client against the given RPC endpoint.
func NewPolygonClient(rpcURL string) *PolygonClient {
	if rpcURL == "" {
		rpcURL = "https://polygon-bor-rpc.publicnode.com"
	}
	return &PolygonClient{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type receiptResponse struct {
	Result *struct {
		Logs []struct {
			Topics []string `json:"topics"`
		} `json:"logs"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DetectExecStyle inspects the OrderFilled logs of a trade transaction and
// reports whether the trader sat as maker (limit) or crossed as taker
// (market).
//
// OrderFilled on the CTF Exchange indexes orderHash, maker and taker, so
// topics[2] and topics[3] carry the two addresses right-aligned in 32 bytes.
// A trader appearing as both maker and taker counts as limit.
func (p *PolygonClient) DetectExecStyle(ctx context.Context, txHash, trader string) (ExecStyle, error) {
	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}
	want := strings.ToLower(strings.TrimPrefix(trader, "0x"))
	if len(want) != 40 {
		return ExecStyleUnknown, fmt.Errorf("bad trader address %q", trader)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_getTransactionReceipt",
		Params:  []interface{}{txHash},
		ID:      1,
	})
	if err != nil {
		return ExecStyleUnknown, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return ExecStyleUnknown, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ExecStyleUnknown, &TransientError{Op: "receipt fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ExecStyleUnknown, &TransientError{
			Op:  "receipt fetch",
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var rpcResp receiptResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return ExecStyleUnknown, fmt.Errorf("failed to decode receipt: %w", err)
	}
	if rpcResp.Error != nil {
		return ExecStyleUnknown, fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		// Receipt not indexed yet; callers treat unknown as non-fatal.
		return ExecStyleUnknown, nil
	}

	var isMaker, isTaker bool
	for _, lg := range rpcResp.Result.Logs {
		if len(lg.Topics) < 4 {
			continue
		}
		maker := topicAddress(lg.Topics[2])
		taker := topicAddress(lg.Topics[3])
		if maker == want {
			isMaker = true
		}
		if taker == want {
			isTaker = true
		}
	}

	switch {
	case isMaker:
		return ExecStyleLimit, nil
	case isTaker:
		return ExecStyleMarket, nil
	}
	return ExecStyleUnknown, nil
}

func topicAddress(topic string) string {
	t := strings.ToLower(strings.TrimPrefix(topic, "0x"))
	if len(t) < 40 {
		return ""
	}
	return t[len(t)-40:]
}
