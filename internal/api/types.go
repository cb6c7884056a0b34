package api

import "time"

// ==================== Shared ====================

// AssetInfo describes the token on one side of a route
type AssetInfo struct {
	Label    string `json:"label"`
	Decimals int32  `json:"decimals"`
	Address  string `json:"address"`
}

// ChainInfo identifies a chain
type ChainInfo struct {
	ID uint64 `json:"id"`
}

// RouteEnd is one side of a transfer route
type RouteEnd struct {
	Asset AssetInfo `json:"asset"`
	Chain ChainInfo `json:"chain"`
}

// FeeAmount is one fee component in raw and human units
type FeeAmount struct {
	Bps        *uint32 `json:"bps,omitempty"`
	Raw        string  `json:"raw"`
	Units      string  `json:"units"`
	IsEstimate *bool   `json:"is_estimate,omitempty"`
}

// Amount is a raw amount with its human units
type Amount struct {
	Raw   string `json:"raw"`
	Units string `json:"units"`
}

// ==================== Estimate ====================

// TotalFee sums the fee components of an estimate
type TotalFee struct {
	Raw               string `json:"raw"`
	Units             string `json:"units"`
	EffectiveTotalBps string `json:"effective_total_bps"`
	IsEstimate        bool   `json:"is_estimate"`
}

// EstimateFees is the fee breakdown of an estimate
type EstimateFees struct {
	Capital  FeeAmount `json:"capital"`
	Service  FeeAmount `json:"service"`
	Exchange FeeAmount `json:"exchange"`
	DestGas  FeeAmount `json:"dest_gas"`
	Total    TotalFee  `json:"total"`
}

// Pricing carries the live prices used by an estimate
type Pricing struct {
	DestGasPriceGwei string `json:"dest_gas_price_gwei"`
}

// EstimateParams echoes the request parameters
type EstimateParams struct {
	OrigChainID  string `json:"orig_chain_id"`
	DestChainID  string `json:"dest_chain_id"`
	AssetAddress string `json:"asset_address"`
	Amount       string `json:"amount"`
}

// EstimateResponse represents response of GET /estimate
type EstimateResponse struct {
	RouteSummary      string         `json:"route_summary"`
	Fees              EstimateFees   `json:"fees"`
	Pricing           Pricing        `json:"pricing"`
	Orig              RouteEnd       `json:"orig"`
	Dest              RouteEnd       `json:"dest"`
	AmountIn          Amount         `json:"amount_in"`
	AmountOutEstimate Amount         `json:"amount_out_estimate"`
	Params            EstimateParams `json:"params"`
}

// ==================== Transfers ====================

// TransferStatus is the latest event of a transfer
type TransferStatus struct {
	LastStatusTS time.Time `json:"last_status_ts"`
	LastStatus   string    `json:"last_status"`
	NextStep     string    `json:"next_step"`
}

// SentLeg is the on-chain deposit
type SentLeg struct {
	UTC       *string `json:"utc"`
	Raw       string  `json:"raw"`
	Units     string  `json:"units"`
	Depositor string  `json:"depositor"`
	Hash      string  `json:"hash"`
}

// ReceivedLeg is the payout to the recipient
type ReceivedLeg struct {
	UTC       *string `json:"utc"`
	Raw       string  `json:"raw"`
	Units     string  `json:"units"`
	Recipient string  `json:"recipient"`
	Hash      string  `json:"hash"`
}

// TransferFees are the fees charged on a completed transfer
type TransferFees struct {
	Capital  FeeAmount `json:"capital"`
	Service  FeeAmount `json:"service"`
	Exchange FeeAmount `json:"exchange"`
	DestGas  FeeAmount `json:"dest_gas"`
}

// SysInfo identifies the transfer in the ledger
type SysInfo struct {
	ProxyContract string `json:"proxy_contract"`
	DepositID     string `json:"deposit_id"`
}

// TransferResponse is one row of GET /transfers. TransferFees and Received are
// omitted until the receive leg is known.
type TransferResponse struct {
	RouteSummary string         `json:"route_summary"`
	Orig         RouteEnd       `json:"orig"`
	Dest         RouteEnd       `json:"dest"`
	Status       TransferStatus `json:"status"`
	Sent         SentLeg        `json:"sent"`
	TransferFees *TransferFees  `json:"transfer_fees,omitempty"`
	Received     *ReceivedLeg   `json:"received,omitempty"`
	Sys          SysInfo        `json:"sys"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
