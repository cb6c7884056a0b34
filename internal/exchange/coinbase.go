package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"boxbridge/internal/config"
)

const requestTimeout = 15 * time.Second

// Client talks to the Coinbase Exchange REST API
type Client struct {
	baseURL    string
	spotURL    string
	key        string
	secret     []byte
	passphrase string
	profileID  string

	allowedWithdrawTo map[string]struct{}
	maxFeeUSDEthereum decimal.Decimal
	maxFeeUSDDefault  decimal.Decimal

	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an exchange client and resolves the trading profile.
// A failed profile lookup is returned as an error so startup can abort.
func NewClient(ctx context.Context, cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exchange secret: %w", err)
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedWithdrawTo))
	for _, addr := range cfg.AllowedWithdrawTo {
		allowed[strings.ToLower(addr)] = struct{}{}
	}

	c := &Client{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		spotURL:           cfg.SpotURL,
		key:               cfg.Key,
		secret:            secret,
		passphrase:        cfg.Passphrase,
		allowedWithdrawTo: allowed,
		maxFeeUSDEthereum: decimal.NewFromFloat(cfg.MaxFeeUSDEthereum),
		maxFeeUSDDefault:  decimal.NewFromFloat(cfg.MaxFeeUSDDefault),
		httpClient:        &http.Client{Timeout: requestTimeout},
		logger:            logger.Named("exchange"),
	}

	if err := c.loadProfile(ctx); err != nil {
		return nil, fmt.Errorf("exchange health check failed: %w", err)
	}

	c.logger.Info("Exchange client initialized",
		zap.String("base_url", c.baseURL),
		zap.String("profile_id", c.profileID),
		zap.Int("allowed_withdraw_addresses", len(allowed)))

	return c, nil
}

// ProfileID returns the profile withdrawals are made from
func (c *Client) ProfileID() string {
	return c.profileID
}

func (c *Client) loadProfile(ctx context.Context) error {
	var profiles []struct {
		ID      string `json:"id"`
		Default bool   `json:"is_default"`
	}
	if err := c.do(ctx, http.MethodGet, "/profiles", nil, &profiles); err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	if len(profiles) == 0 {
		return fmt.Errorf("no exchange profiles available")
	}

	c.profileID = profiles[0].ID
	for _, p := range profiles {
		if p.Default {
			c.profileID = p.ID
			break
		}
	}
	return nil
}

// EstimateWithdrawFee quotes the fee for withdrawing currency to address on network
func (c *Client) EstimateWithdrawFee(ctx context.Context, currency, address, network string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("currency", currency)
	q.Set("crypto_address", address)
	q.Set("network", network)

	var resp struct {
		Fee decimal.NullDecimal `json:"fee"`
	}
	if err := c.do(ctx, http.MethodGet, "/withdrawals/fee-estimate?"+q.Encode(), nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to estimate withdraw fee: %w", err)
	}
	if !resp.Fee.Valid {
		return decimal.Zero, fmt.Errorf("fee estimate returned no fee")
	}
	return resp.Fee.Decimal, nil
}

// GetTransferReceipt finds a transfer either by exchange id or, for 0x keys, by on-chain hash.
// The receipt is validated against the expected amount, currency and network.
func (c *Client) GetTransferReceipt(
	ctx context.Context,
	kind TransferKind,
	key string,
	expectedUnits decimal.Decimal,
	currency, network string,
) (*Receipt, error) {
	receipt, err := c.findTransfer(ctx, key)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}

	if receipt.Type != "" && !strings.Contains(receipt.Type, string(kind)) {
		return nil, fmt.Errorf("%w: type %s, expected %s", ErrReceiptMismatch, receipt.Type, kind)
	}
	if err := ValidateReceipt(receipt, expectedUnits, currency, network); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", key, err)
	}
	return receipt, nil
}

func (c *Client) findTransfer(ctx context.Context, key string) (*Receipt, error) {
	if !strings.HasPrefix(key, "0x") {
		var receipt Receipt
		err := c.do(ctx, http.MethodGet, "/transfers/"+url.PathEscape(key), nil, &receipt)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get transfer %s: %w", key, err)
		}
		return &receipt, nil
	}

	// Deposits are only known by their on-chain hash until acknowledged
	var transfers []Receipt
	if err := c.do(ctx, http.MethodGet, "/transfers", nil, &transfers); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	want := normalizeHash(key)
	for i := range transfers {
		if normalizeHash(transfers[i].Details.CryptoTransactionHash) == want {
			return &transfers[i], nil
		}
	}
	return nil, nil
}

// Withdraw sends funds to an allow-listed address once the fee passes the USD guard
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	if _, ok := c.allowedWithdrawTo[strings.ToLower(req.Address)]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrWithdrawAddressNotAllowed, req.Address)
	}
	if !req.Amount.IsPositive() || req.Nonce == 0 {
		return nil, fmt.Errorf("withdraw request missing amount or nonce")
	}

	spotUSD, err := c.GetSpotUSD(ctx, req.Currency)
	if err != nil {
		return nil, err
	}

	expectedFee, err := c.EstimateWithdrawFee(ctx, req.Currency, req.Address, req.Network)
	if err != nil {
		return nil, err
	}

	maxFeeUSD := c.maxFeeUSDDefault
	if req.Network == "ethereum" {
		maxFeeUSD = c.maxFeeUSDEthereum
	}
	expectedFeeUSD := expectedFee.Mul(spotUSD)
	if expectedFeeUSD.GreaterThan(maxFeeUSD) {
		return nil, fmt.Errorf("%w: %s %s fee $%s vs max $%s",
			ErrFeeTooHigh, req.Network, req.Currency, expectedFeeUSD.StringFixed(2), maxFeeUSD.StringFixed(2))
	}

	payload := map[string]interface{}{
		"profile_id":         c.profileID,
		"currency":           req.Currency,
		"amount":             req.Amount.String(),
		"crypto_address":     req.Address,
		"no_destination_tag": true,
		"nonce":              req.Nonce,
		"network":            req.Network,
		"is_intermediary":    false,
	}

	var resp struct {
		ID       string              `json:"id"`
		Fee      decimal.NullDecimal `json:"fee"`
		Subtotal decimal.NullDecimal `json:"subtotal"`
	}
	if err := c.do(ctx, http.MethodPost, "/withdrawals/crypto", payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to request withdrawal: %w", err)
	}
	if !resp.Fee.Valid {
		return nil, ErrNonceUsed
	}

	subtotal := resp.Subtotal.Decimal
	if !resp.Subtotal.Valid {
		subtotal = req.Amount.Sub(resp.Fee.Decimal)
	}

	c.logger.Info("Withdrawal requested",
		zap.String("withdraw_id", resp.ID),
		zap.String("currency", req.Currency),
		zap.String("network", req.Network),
		zap.String("amount", req.Amount.String()),
		zap.String("fee", resp.Fee.Decimal.String()),
		zap.Int64("nonce", req.Nonce))

	return &WithdrawResult{
		ID:       resp.ID,
		Fee:      resp.Fee.Decimal,
		Subtotal: subtotal,
		FeeUSD:   resp.Fee.Decimal.Mul(spotUSD),
	}, nil
}

// GetBalance returns the available balance of currency
func (c *Client) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var accounts []struct {
		Currency  string          `json:"currency"`
		Available decimal.Decimal `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return decimal.Zero, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a.Available, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no %s account", currency)
}

// GetSpotUSD returns the USD price of one unit of currency
func (c *Client) GetSpotUSD(ctx context.Context, currency string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.spotURL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("spot price lookup failed: %w", err)
	}
	defer res.Body.Close()

	var body struct {
		Data struct {
			Rates map[string]decimal.Decimal `json:"rates"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode spot rates: %w", err)
	}

	rate, ok := body.Data.Rates[strings.ToUpper(currency)]
	if !ok || rate.IsZero() {
		return decimal.Zero, fmt.Errorf("rate for %s not found", currency)
	}
	return decimal.NewFromInt(1).DivRound(rate, 8), nil
}

// ==================== Transport ====================

// do sends a signed request and decodes the JSON response into out
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	timestamp := c.timestamp(ctx)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("CB-ACCESS-KEY", c.key)
	req.Header.Set("CB-ACCESS-SIGN", c.sign(timestamp, method, path, payload))
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("%s %s: status %d: %s", method, path, res.StatusCode, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// sign returns base64(HMAC-SHA256(secret, timestamp + method + path + body))
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// timestamp prefers the exchange clock and falls back to the local one
func (c *Client) timestamp(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/time", nil)
	if err == nil {
		if res, err := c.httpClient.Do(req); err == nil {
			defer res.Body.Close()
			var body struct {
				Epoch json.Number `json:"epoch"`
			}
			if json.NewDecoder(res.Body).Decode(&body) == nil && body.Epoch != "" {
				return body.Epoch.String()
			}
		}
	}

	c.logger.Debug("Exchange time unavailable, using local clock")
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimPrefix(h, "0x"))
}
