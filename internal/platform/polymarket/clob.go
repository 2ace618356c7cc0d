package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"
	"time"

	"polyarb/internal/crypto"
	"polyarb/internal/domain"
)

const (
	// Prices outside this band are clamped before signing; the exchange
	// rejects orders priced at 0 or 1.
	minPrice = 0.01
	maxPrice = 0.99

	// Amounts are fixed-point with 6 decimals on the wire.
	amountScale = 1e6

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// ClobClient is the authenticated REST client for the CLOB API. It implements
// domain.OrderGateway: it signs, submits, cancels, and polls orders, and maps
// exchange rejections onto the domain sentinel errors.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	funder     string
}

// NewClobClient creates a CLOB client. hmac may be nil; call DeriveAPIKey
// before the first authenticated request in that case. funder overrides the
// maker address when the wallet trades through a proxy; empty means the
// signer's own address.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, funder string) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		funder:   funder,
	}
}

// PlaceOrder signs and submits one leg. The request price is clamped into
// [0.01, 0.99] before signing. Rejections come back as wrapped sentinel
// errors; OrderResult.Retryable reflects the exchange's own retry hint.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: build order: %w", err)
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          string(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.ownerKey(),
		"orderType": "FAK",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := domain.OrderResult{
		OrderID:   apiResult.OrderID,
		Message:   apiResult.ErrorMsg,
		Retryable: apiResult.ShouldRetry,
	}
	if !apiResult.Success {
		result.Status = domain.OrderStatusRejected
		return result, fmt.Errorf("polymarket/clob: order rejected: %w", rejectionError(apiResult.ErrorMsg))
	}

	switch apiResult.Status {
	case "matched":
		result.Status = domain.OrderStatusFilled
		result.FilledSize = req.Size
		result.FilledPrice = req.Price
	default:
		result.Status = domain.OrderStatusAccepted
	}
	return result, nil
}

// CancelOrder cancels a resting order by its exchange ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetOrder polls the current fill state of a resting order.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (domain.OrderResult, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/order/"+orderID, nil)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var apiOrder APIOpenOrder
	if err := json.Unmarshal(respBody, &apiOrder); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	return apiOrder.ToDomainResult(), nil
}

// DeriveAPIKey runs the L1 auth flow to obtain HMAC credentials and stores
// them on the client. Must complete before the first authenticated call when
// no credentials were configured.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	timestamp := time.Now().Unix()

	sig, err := c.signer.SignAuthMessage(timestamp, 0)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: %w: derive-api-key HTTP %d: %s",
			domain.ErrUnauthorized, resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildPayload converts an OrderRequest into a signable EIP-712 payload.
// BUY makes the quote currency and takes shares; SELL is the inverse.
func (c *ClobClient) buildPayload(req domain.OrderRequest) (crypto.OrderPayload, error) {
	if req.Size <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("%w: size %v", domain.ErrInvalidOrder, req.Size)
	}
	price := math.Min(math.Max(req.Price, minPrice), maxPrice)

	shares := fmt.Sprintf("%d", int64(math.Round(req.Size*amountScale)))
	quote := fmt.Sprintf("%d", int64(math.Round(price*req.Size*amountScale)))

	payload := crypto.OrderPayload{
		Maker:      c.makerAddress(),
		Signer:     c.signer.Address().Hex(),
		Taker:      zeroAddress,
		TokenID:    req.TokenID,
		Expiration: "0",
		Nonce:      "0",
		FeeRateBps: "0",
	}

	salt, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("generate salt: %w", err)
	}
	payload.Salt = salt.String()

	switch req.Side {
	case domain.OrderSideBuy:
		payload.Side = 0
		payload.MakerAmount = quote
		payload.TakerAmount = shares
	case domain.OrderSideSell:
		payload.Side = 1
		payload.MakerAmount = shares
		payload.TakerAmount = quote
	default:
		return crypto.OrderPayload{}, fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, req.Side)
	}
	return payload, nil
}

func (c *ClobClient) makerAddress() string {
	if c.funder != "" {
		return c.funder
	}
	return c.signer.Address().Hex()
}

func (c *ClobClient) ownerKey() string {
	if c.hmacAuth != nil {
		return c.hmacAuth.Key
	}
	return ""
}

// doAuthenticatedRequest builds, HMAC-signs, sends, and reads a request
// against the CLOB API.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		headers := c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// rejectionError maps the CLOB's errorMsg strings to sentinel errors so the
// execution engine can tell transient rejections from terminal ones.
func rejectionError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "balance") || strings.Contains(lower, "allowance"):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, msg)
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "min size") || strings.Contains(lower, "tick"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, msg)
	case strings.Contains(lower, "market") && strings.Contains(lower, "closed"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidMarket, msg)
	default:
		return fmt.Errorf("rejected: %s", msg)
	}
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
