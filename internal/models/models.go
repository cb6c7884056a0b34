package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// NextStep is the forward-looking state carried by the latest event of a transfer
type NextStep string

const (
	NextStepAwaitingAcknowledgement   NextStep = "Awaiting Acknowledgement by CEX"
	NextStepAwaitingConfirmation      NextStep = "Awaiting Confirmation by CEX"
	NextStepAwaitingWithdrawalRequest NextStep = "Awaiting Withdrawal Request by Agent"
	NextStepAwaitingWithdrawalOnChain NextStep = "Awaiting CEX Withdrawal Confirmation On-Chain"
	NextStepAwaitingRelease           NextStep = "Awaiting Contract Withdrawal to Recipient"
	NextStepCompleted                 NextStep = "-All Steps Completed-"
	NextStepInvestigating             NextStep = "Investigating"
)

// IsTerminal reports whether no further automated step applies
func (s NextStep) IsTerminal() bool {
	return s == NextStepCompleted || s == NextStepInvestigating
}

// EventStatus describes the transition an event records
type EventStatus string

const (
	EventStatusRegistered         EventStatus = "Deposit Confirmed by Agent"
	EventStatusAcknowledged       EventStatus = "Deposit Acknowledged by CEX"
	EventStatusConfirmed          EventStatus = "Deposit Confirmed by CEX"
	EventStatusWithdrawRequested  EventStatus = "Withdrawal Requested by Agent"
	EventStatusWithdrawOnChain    EventStatus = "CEX Withdrawal Confirmed On-Chain"
	EventStatusReleased           EventStatus = "Contract Withdrawal to Recipient Complete"
	EventStatusReleaseReverted    EventStatus = "Contract Withdrawal to Recipient Reverted"
	EventStatusWithdrawLogMissing EventStatus = "CEX Withdrawal Log Not Found"
)

// IgnoreNote values written by the agent
const (
	IgnoreNoteReverted           = "reverted"
	IgnoreNoteWithdrawLogMissing = "withdraw log not found"
)

// TransferKey identifies a deposit and its bridge transfer
type TransferKey struct {
	ProxyContract string `db:"proxy_contract"`
	OriginChainID uint64 `db:"origin_chain_id"`
	DepositID     string `db:"deposit_id"` // uint256 as decimal string
}

// String returns the short key used in logs and cooldowns
func (k TransferKey) String() string {
	prefix := k.ProxyContract
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	return fmt.Sprintf("%s_%d_%s", prefix, k.OriginChainID, k.DepositID)
}

// DepositIDInt parses the deposit id as a big integer
func (k TransferKey) DepositIDInt() (*big.Int, error) {
	id, ok := new(big.Int).SetString(k.DepositID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid deposit id %q", k.DepositID)
	}
	return id, nil
}

// Deposit is an on-chain deposit observed by the indexer
type Deposit struct {
	TransferKey
	DestinationChainID uint64     `db:"destination_chain_id"`
	AssetAddress       string     `db:"asset_address"`
	RecipientAddress   string     `db:"recipient_address"`
	DepositorAddress   string     `db:"depositor_address"`
	AmountRaw          RawAmount  `db:"amount_raw"`
	TxHashDeposit      string     `db:"txhash_deposit"`
	DepositTS          time.Time  `db:"deposit_ts"`
	TxHashWithdraw     *string    `db:"txhash_withdraw"`
	WithdrawTS         *time.Time `db:"withdraw_ts"`
}

// TokenGroup is a set of equivalent assets across chains with one fee schedule
type TokenGroup struct {
	TokenGroup     string          `db:"token_group"`
	FeeCapitalBps  uint32          `db:"fee_capital_bps"`
	FeeServiceRaw  RawAmount       `db:"fee_service_raw"`
	ExchangeSymbol string          `db:"exchange_symbol"`
	MinUnits       decimal.Decimal `db:"min_units"`
	MaxUnits       decimal.Decimal `db:"max_units"`
}

// Token is an asset registered on one chain
type Token struct {
	TokenAddress string `db:"token_address"`
	ChainID      uint64 `db:"chain_id"`
	TokenGroup   string `db:"token_group"`
	Decimals     int32  `db:"decimals"`
	Symbol       string `db:"symbol"`
}

// PendingDeposit is a deposit without a bridge transfer, joined with its fee schedule
type PendingDeposit struct {
	TransferKey
	AmountRaw     RawAmount `db:"amount_raw"`
	TxHashDeposit string    `db:"txhash_deposit"`
	FeeCapitalBps uint32    `db:"fee_capital_bps"`
	FeeServiceRaw RawAmount `db:"fee_service_raw"`
}

// BridgeTransfer is the mutable aggregate tracking one transfer through the pipeline
type BridgeTransfer struct {
	TransferKey
	DepositAmountRaw     RawAmount  `db:"deposit_amount_raw"`
	FeeCapitalBps        uint32     `db:"fee_capital_bps"`
	FeeCapitalRaw        RawAmount  `db:"fee_capital_raw"`
	FeeServiceRaw        RawAmount  `db:"fee_service_raw"`
	DepositFkey          *string    `db:"deposit_fkey"`
	FeeExchangeRaw       *RawAmount `db:"fee_exchange_raw"`
	WithdrawAmountRaw    *RawAmount `db:"withdraw_amount_raw"`
	WithdrawFkey         *string    `db:"withdraw_fkey"`
	ExchangeWithdrawHash *string    `db:"exchange_withdraw_hash"`
	ContractWithdrawHash *string    `db:"contract_withdraw_hash"`
	IgnoreNote           *string    `db:"ignore_note"`
	ReleaseClaimedAt     *time.Time `db:"release_claimed_at"`
}

// BridgeEvent is one append-only state transition
type BridgeEvent struct {
	EventID int64 `db:"event_id"`
	TransferKey
	EventTS         time.Time      `db:"event_ts"`
	Status          EventStatus    `db:"status"`
	NextStep        NextStep       `db:"next_step"`
	EventIdentifier string         `db:"event_identifier"`
	Note            *string        `db:"note"`
	Ext             types.JSONText `db:"ext"`
}

// TransferView is a bridge transfer joined with its deposit, origin token and latest event
type TransferView struct {
	BridgeTransfer

	DestinationChainID uint64     `db:"destination_chain_id"`
	AssetAddress       string     `db:"asset_address"`
	RecipientAddress   string     `db:"recipient_address"`
	DepositorAddress   string     `db:"depositor_address"`
	TxHashDeposit      string     `db:"txhash_deposit"`
	DepositTS          time.Time  `db:"deposit_ts"`
	TxHashWithdraw     *string    `db:"txhash_withdraw"`
	WithdrawTS         *time.Time `db:"withdraw_ts"`

	TokenGroup     string `db:"token_group"`
	TokenDecimals  int32  `db:"decimals"`
	TokenSymbol    string `db:"symbol"`
	ExchangeSymbol string `db:"exchange_symbol"`

	// same token group on the destination chain, empty if not registered
	DestTokenAddress string `db:"dest_token_address"`
	DestTokenCount   int    `db:"dest_token_count"`

	EventTS         time.Time   `db:"event_ts"`
	Status          EventStatus `db:"status"`
	NextStep        NextStep    `db:"next_step"`
	EventIdentifier string      `db:"event_identifier"`
}

// Route is an origin token joined with its group and the same group's token on the destination chain
type Route struct {
	Token
	DestTokenAddress string          `db:"dest_token_address"`
	DestDecimals     int32           `db:"dest_decimals"`
	FeeCapitalBps    uint32          `db:"fee_capital_bps"`
	FeeServiceRaw    RawAmount       `db:"fee_service_raw"`
	ExchangeSymbol   string          `db:"exchange_symbol"`
	MinUnits         decimal.Decimal `db:"min_units"`
	MaxUnits         decimal.Decimal `db:"max_units"`
}
