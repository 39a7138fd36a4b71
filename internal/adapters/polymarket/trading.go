package polymarket

// trading.go — Real order execution via Polymarket CLOB API.
//
// Implements ports.TradingClient using AuthClient for L1/L2 auth. All quotes
// are placed as GTC (good-till-cancelled) limit orders; merges are delegated
// to the on-chain executor.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// MergeExecutor executes on-chain YES+NO merges. Satisfied by
// onchain.MergeClient.
type MergeExecutor interface {
	MergePositions(ctx context.Context, conditionID string, amount float64, negRisk bool) error
}

// CLOB hard limits: orders outside these never rest, the exchange rejects
// them, so we fail fast without burning a signed request.
const (
	minOrderPrice = 0.01
	maxOrderPrice = 0.99
	minOrderSize  = 1.0
)

// TradingClient implements ports.TradingClient.
type TradingClient struct {
	auth  *AuthClient
	merge MergeExecutor
}

// NewTradingClient creates a TradingClient backed by the given auth client
// and on-chain merge executor.
func NewTradingClient(auth *AuthClient, merge MergeExecutor) *TradingClient {
	return &TradingClient{auth: auth, merge: merge}
}

// SubmitOrder signs and submits a GTC limit order to the CLOB.
func (tc *TradingClient) SubmitOrder(ctx context.Context, req domain.Quote, conditionID string, negRisk bool) (string, error) {
	if req.Price < minOrderPrice || req.Price > maxOrderPrice {
		return "", fmt.Errorf("%w: price %.4f outside [%.2f, %.2f]",
			domain.ErrOrderRejected, req.Price, minOrderPrice, maxOrderPrice)
	}
	if req.Size < minOrderSize {
		return "", fmt.Errorf("%w: size %.2f below minimum %.1f",
			domain.ErrOrderRejected, req.Size, minOrderSize)
	}
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return "", fmt.Errorf("submit order: creds: %w", err)
	}

	signed, err := tc.auth.buildSignedOrder(req.TokenID, req.Side, req.Price, req.Size, negRisk)
	if err != nil {
		return "", fmt.Errorf("submit order: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return "", fmt.Errorf("submit order: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return "", fmt.Errorf("%w: clob error: %s", domain.ErrOrderRejected, resp.ErrorMsg)
	}
	return resp.OrderID, nil
}

// CancelOrder cancels a single order by its CLOB order ID.
func (tc *TradingClient) CancelOrder(ctx context.Context, clobOrderID string) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel order: creds: %w", err)
	}

	path := "/order/" + clobOrderID
	if err := tc.auth.doL2(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", clobOrderID, err)
	}
	return nil
}

// ListOpenOrders returns our resting orders for one market, following the
// CLOB cursor pagination.
func (tc *TradingClient) ListOpenOrders(ctx context.Context, conditionID string) ([]domain.RestingOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("list orders: creds: %w", err)
	}

	var out []domain.RestingOrder
	cursor := ""
	for {
		path := "/orders?market=" + url.QueryEscape(conditionID)
		if cursor != "" {
			path += "&next_cursor=" + url.QueryEscape(cursor)
		}

		var resp clobOrdersResponse
		if err := tc.auth.doL2(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		for _, o := range resp.Data {
			out = append(out, o.toRestingOrder())
		}
		// "LTE=" is the CLOB's end-of-results cursor.
		if resp.NextCursor == "" || resp.NextCursor == "LTE=" {
			return out, nil
		}
		cursor = resp.NextCursor
	}
}

// MergePositions merges amount YES+NO sets back into collateral on-chain.
func (tc *TradingClient) MergePositions(ctx context.Context, conditionID string, amount float64, negRisk bool) error {
	return tc.merge.MergePositions(ctx, conditionID, amount, negRisk)
}

// GetBalance returns the available USDC collateral balance in the CLOB.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return 0, fmt.Errorf("get balance: creds: %w", err)
	}

	var resp clobBalanceResponse
	path := "/balance-allowance?asset_type=COLLATERAL&signature_type=0"
	if err := tc.auth.doL2(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return parseUSDC(resp.Balance), nil
}
