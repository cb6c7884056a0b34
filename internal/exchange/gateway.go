package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownNetwork            = errors.New("no exchange network for chain")
	ErrNotFound                  = errors.New("exchange resource not found")
	ErrReceiptMismatch           = errors.New("exchange receipt does not match expectation")
	ErrWithdrawAddressNotAllowed = errors.New("withdraw address not in allow-list")
	ErrFeeTooHigh                = errors.New("exchange withdraw fee above limit")
	ErrNonceUsed                 = errors.New("exchange withdrawal rejected, nonce already used")
)

// Gateway is the settlement venue as seen by the sweep orchestrator
type Gateway interface {
	EstimateWithdrawFee(ctx context.Context, currency, address, network string) (decimal.Decimal, error)
	// GetTransferReceipt returns nil, nil when the exchange has no such transfer yet
	GetTransferReceipt(ctx context.Context, kind TransferKind, key string, expectedUnits decimal.Decimal, currency, network string) (*Receipt, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error)
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
}

// TransferKind distinguishes deposit and withdrawal receipts
type TransferKind string

const (
	TransferKindDeposit  TransferKind = "deposit"
	TransferKindWithdraw TransferKind = "withdraw"
)

// Receipt is an exchange transfer record
type Receipt struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	CreatedAt   string          `json:"created_at"`
	CompletedAt *string         `json:"completed_at"`
	CanceledAt  *string         `json:"canceled_at"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Details     ReceiptDetails  `json:"details"`
}

// ReceiptDetails carries the on-chain side of a transfer
type ReceiptDetails struct {
	CryptoTransactionHash string `json:"crypto_transaction_hash"`
	CryptoAddress         string `json:"crypto_address"`
	Network               string `json:"network"`
}

// IsCompleted reports whether the exchange has finished the transfer
func (r *Receipt) IsCompleted() bool {
	return r.CompletedAt != nil && *r.CompletedAt != ""
}

// WithdrawRequest asks the exchange to send funds on-chain
type WithdrawRequest struct {
	Currency string
	Address  string
	Network  string
	Amount   decimal.Decimal
	Nonce    int64
}

// WithdrawResult is the exchange's answer to a withdrawal
type WithdrawResult struct {
	ID       string
	Fee      decimal.Decimal
	Subtotal decimal.Decimal
	FeeUSD   decimal.Decimal
}

var networkLabels = map[uint64]string{
	1:     "ethereum",
	10:    "optimism",
	42161: "arbitrum",
	137:   "polygon",
	8453:  "base",
	130:   "unichain",
}

// NetworkLabel maps a chain id to the exchange's network name
func NetworkLabel(chainID uint64) (string, error) {
	label, ok := networkLabels[chainID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownNetwork, chainID)
	}
	return label, nil
}

// Symbol maps a token symbol to the exchange's currency code
func Symbol(tokenSymbol string) string {
	return strings.Replace(tokenSymbol, "cbBTC", "BTC", 1)
}

// receiptCurrency is the currency code the exchange reports on receipts
func receiptCurrency(currency string) string {
	return strings.Replace(currency, "WETH", "ETH", 1)
}

// amountPrecision is the number of decimals the exchange keeps for a currency
func amountPrecision(currency string) int32 {
	switch currency {
	case "USDC":
		return 3
	case "BTC":
		return 8
	default:
		return 5
	}
}

// ValidateReceipt checks amount, currency and network of a receipt against expectations
func ValidateReceipt(r *Receipt, expectedUnits decimal.Decimal, currency, network string) error {
	places := amountPrecision(currency)
	if !r.Amount.Truncate(places).Equal(expectedUnits.Truncate(places)) {
		return fmt.Errorf("%w: amount %s, expected %s", ErrReceiptMismatch, r.Amount, expectedUnits)
	}

	if want := receiptCurrency(currency); r.Currency != want {
		return fmt.Errorf("%w: currency %s, expected %s", ErrReceiptMismatch, r.Currency, want)
	}

	// internal_pro shows up for transfers that settled fine on the expected network
	if r.Details.Network != network && r.Details.Network != "internal_pro" {
		return fmt.Errorf("%w: network %s, expected %s", ErrReceiptMismatch, r.Details.Network, network)
	}

	return nil
}
