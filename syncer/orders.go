package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/models"
)

// ClobOrderClient adapts the CLOB client to the engine's OrderClient
// contract. It resolves the neg-risk exchange flag per market and caches it;
// the flag never changes for a given condition id.
type ClobOrderClient struct {
	clob api.ClobClientInterface

	mu      sync.Mutex
	negRisk map[string]bool
}

// NewClobOrderClient wraps a CLOB client.
func NewClobOrderClient(clob api.ClobClientInterface) *ClobOrderClient {
	return &ClobOrderClient{
		clob:    clob,
		negRisk: make(map[string]bool),
	}
}

var _ OrderClient = (*ClobOrderClient)(nil)

// SubmitOrder places a GTC limit order at the given price.
func (c *ClobOrderClient) SubmitOrder(ctx context.Context, params OrderParams) (*OrderResult, error) {
	negRisk, err := c.resolveNegRisk(ctx, params.MarketID)
	if err != nil {
		return nil, fmt.Errorf("resolve market %s: %w", params.MarketID, err)
	}

	side := api.SideBuy
	if params.Side == models.SideSell {
		side = api.SideSell
	}

	resp, err := c.clob.PlaceLimitOrder(ctx, params.TokenID, side, params.Size, params.Price, negRisk)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("order rejected: %s", resp.ErrorMsg)
	}

	log.Printf("[Orders] %s %.2f @ %.4f placed, order %s (%s)",
		params.Side, params.Size, params.Price, resp.OrderID, resp.Status)

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  resp.Status,
		NegRisk: negRisk,
	}, nil
}

func (c *ClobOrderClient) resolveNegRisk(ctx context.Context, marketID string) (bool, error) {
	c.mu.Lock()
	if flag, ok := c.negRisk[marketID]; ok {
		c.mu.Unlock()
		return flag, nil
	}
	c.mu.Unlock()

	market, err := c.clob.GetMarket(ctx, marketID)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.negRisk[marketID] = market.NegRisk
	c.mu.Unlock()
	return market.NegRisk, nil
}
