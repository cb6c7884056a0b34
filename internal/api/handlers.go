package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"boxbridge/internal/exchange"
	"boxbridge/internal/models"
	"boxbridge/internal/service"
)

// TransferReader is the read side of the ledger used by /transfers
type TransferReader interface {
	ListTransferViewsByDepositor(ctx context.Context, depositor string) ([]models.TransferView, error)
	ListTransferViewsByHash(ctx context.Context, hash string) ([]models.TransferView, error)
}

// Estimator quotes a transfer
type Estimator interface {
	Estimate(ctx context.Context, req service.EstimateRequest) (*service.Estimate, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	transfers    TransferReader
	estimator    Estimator
	errorDetails bool
	logger       *zap.Logger
}

// NewHandler creates a new API handler. errorDetails adds internal error text to 500 responses.
func NewHandler(transfers TransferReader, estimator Estimator, errorDetails bool, logger *zap.Logger) *Handler {
	return &Handler{
		transfers:    transfers,
		estimator:    estimator,
		errorDetails: errorDetails,
		logger:       logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Estimate ====================

// HandleEstimate handles GET /estimate?orig_chain_id&dest_chain_id&asset_address&amount
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := EstimateParams{
		OrigChainID:  q.Get("orig_chain_id"),
		DestChainID:  q.Get("dest_chain_id"),
		AssetAddress: q.Get("asset_address"),
		Amount:       q.Get("amount"),
	}

	if params.OrigChainID == "" || params.DestChainID == "" || params.AssetAddress == "" || params.Amount == "" {
		respondError(w, http.StatusBadRequest,
			"Parameters 'orig_chain_id', 'dest_chain_id', 'asset_address', and 'amount' are required.", nil)
		return
	}

	origChainID, err := strconv.ParseUint(params.OrigChainID, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid orig_chain_id: must be an integer", err)
		return
	}
	destChainID, err := strconv.ParseUint(params.DestChainID, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid dest_chain_id: must be an integer", err)
		return
	}
	if !common.IsHexAddress(params.AssetAddress) {
		respondError(w, http.StatusBadRequest, "Invalid asset_address", nil)
		return
	}
	amount, ok := sdkmath.NewIntFromString(params.Amount)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid amount: must be an integer in raw units", nil)
		return
	}

	estimate, err := h.estimator.Estimate(r.Context(), service.EstimateRequest{
		OrigChainID:  origChainID,
		DestChainID:  destChainID,
		AssetAddress: params.AssetAddress,
		Amount:       amount,
	})
	if err != nil {
		h.estimateError(w, err)
		return
	}

	h.logger.Info("Estimate", zap.String("route", estimate.RouteSummary()))

	respondJSON(w, http.StatusOK, newEstimateResponse(estimate, params))
}

func (h *Handler) estimateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRouteNotFound):
		respondError(w, http.StatusNotFound,
			"Route not found. Check the asset address, orig chain id, and dest chain id.", nil)
	case errors.Is(err, service.ErrAmountOutOfBounds), errors.Is(err, service.ErrInvalidEstimateArg):
		respondError(w, http.StatusBadRequest, "Invalid amount", err)
	case errors.Is(err, exchange.ErrUnknownNetwork):
		respondError(w, http.StatusBadRequest, "Unsupported destination chain", err)
	case errors.Is(err, service.ErrAmbiguousRoute):
		h.internalError(w, "Server error. Ambiguous config settings.", err)
	default:
		h.internalError(w, "Internal server error", err)
	}
}

func newEstimateResponse(e *service.Estimate, params EstimateParams) EstimateResponse {
	decimals := e.Route.Decimals
	bps := e.Fees.CapitalBps

	gwei := "0"
	if e.DestGasPriceWei != nil {
		gwei = decimal.NewFromBigInt(e.DestGasPriceWei, -9).String()
	}

	return EstimateResponse{
		RouteSummary: e.RouteSummary(),
		Fees: EstimateFees{
			Capital:  feeAmount(e.Fees.CapitalRaw, decimals, &bps, boolPtr(false)),
			Service:  feeAmount(e.Fees.ServiceRaw, decimals, nil, boolPtr(false)),
			Exchange: feeAmount(e.ExchangeFee, decimals, nil, boolPtr(true)),
			DestGas:  feeAmount(e.DestGasFee, decimals, nil, boolPtr(true)),
			Total: TotalFee{
				Raw:               e.TotalFees.String(),
				Units:             service.FormatUnits(e.TotalFees, decimals),
				EffectiveTotalBps: e.EffectiveBps.StringFixed(5),
				IsEstimate:        true,
			},
		},
		Pricing: Pricing{DestGasPriceGwei: gwei},
		Orig: RouteEnd{
			Asset: AssetInfo{Label: e.Route.TokenGroup, Decimals: decimals, Address: e.Route.TokenAddress},
			Chain: ChainInfo{ID: e.Request.OrigChainID},
		},
		Dest: RouteEnd{
			Asset: AssetInfo{Label: e.Route.TokenGroup, Decimals: e.Route.DestDecimals, Address: e.Route.DestTokenAddress},
			Chain: ChainInfo{ID: e.Request.DestChainID},
		},
		AmountIn: Amount{
			Raw:   e.Request.Amount.String(),
			Units: service.FormatUnits(e.Request.Amount, decimals),
		},
		AmountOutEstimate: Amount{
			Raw:   e.AmountOut.String(),
			Units: service.FormatUnits(e.AmountOut, decimals),
		},
		Params: params,
	}
}

// ==================== Transfers ====================

// HandleTransfers handles GET /transfers?depositor= or GET /transfers?hash=
func (h *Handler) HandleTransfers(w http.ResponseWriter, r *http.Request) {
	depositor := strings.ToLower(r.URL.Query().Get("depositor"))
	hash := r.URL.Query().Get("hash")

	if (depositor == "") == (hash == "") {
		respondError(w, http.StatusBadRequest, "Either 'depositor' or 'hash' parameter must be supplied.", nil)
		return
	}

	var (
		views []models.TransferView
		err   error
	)
	if depositor != "" {
		if !common.IsHexAddress(depositor) {
			respondError(w, http.StatusBadRequest, "Invalid depositor address", nil)
			return
		}
		views, err = h.transfers.ListTransferViewsByDepositor(r.Context(), depositor)
	} else {
		views, err = h.transfers.ListTransferViewsByHash(r.Context(), hash)
	}
	if err != nil {
		h.internalError(w, "Unexpected database response.", err)
		return
	}

	response := make([]TransferResponse, 0, len(views))
	for i := range views {
		response = append(response, newTransferResponse(&views[i]))
	}

	respondJSON(w, http.StatusOK, response)
}

func newTransferResponse(tv *models.TransferView) TransferResponse {
	decimals := tv.TokenDecimals
	deposit := tv.DepositAmountRaw.OrZero()

	resp := TransferResponse{
		RouteSummary: fmt.Sprintf("%s %s from Chain%d >> %s to Chain%d",
			service.FormatUnits(deposit, decimals), tv.TokenGroup, tv.OriginChainID, tv.TokenGroup, tv.DestinationChainID),
		Orig: RouteEnd{
			Asset: AssetInfo{Label: tv.TokenGroup, Decimals: decimals, Address: tv.AssetAddress},
			Chain: ChainInfo{ID: tv.OriginChainID},
		},
		Dest: RouteEnd{
			Asset: AssetInfo{Label: tv.TokenGroup, Decimals: decimals, Address: tv.DestTokenAddress},
			Chain: ChainInfo{ID: tv.DestinationChainID},
		},
		Status: TransferStatus{
			LastStatusTS: tv.EventTS,
			LastStatus:   string(tv.Status),
			NextStep:     string(tv.NextStep),
		},
		Sent: SentLeg{
			UTC:       utc(&tv.DepositTS),
			Raw:       deposit.String(),
			Units:     service.FormatUnits(deposit, decimals),
			Depositor: tv.DepositorAddress,
			Hash:      tv.TxHashDeposit,
		},
		Sys: SysInfo{
			ProxyContract: tv.ProxyContract,
			DepositID:     tv.DepositID,
		},
	}

	receiveHash := receivedHash(tv)
	if tv.WithdrawAmountRaw == nil || receiveHash == "" {
		return resp
	}

	withdrawn := tv.WithdrawAmountRaw.OrZero()
	exchangeFee := sdkmath.ZeroInt()
	if tv.FeeExchangeRaw != nil {
		exchangeFee = tv.FeeExchangeRaw.OrZero()
	}
	bps := tv.FeeCapitalBps

	resp.TransferFees = &TransferFees{
		Capital:  feeAmount(tv.FeeCapitalRaw.OrZero(), decimals, &bps, nil),
		Service:  feeAmount(tv.FeeServiceRaw.OrZero(), decimals, nil, nil),
		Exchange: feeAmount(exchangeFee, decimals, nil, nil),
		DestGas:  feeAmount(sdkmath.ZeroInt(), decimals, nil, nil),
	}
	resp.Received = &ReceivedLeg{
		UTC:       utc(tv.WithdrawTS),
		Raw:       withdrawn.String(),
		Units:     service.FormatUnits(withdrawn, decimals),
		Recipient: tv.RecipientAddress,
		Hash:      receiveHash,
	}
	return resp
}

// receivedHash is the payout transaction, known from the indexer or from a completed release
func receivedHash(tv *models.TransferView) string {
	if tv.TxHashWithdraw != nil && *tv.TxHashWithdraw != "" {
		return *tv.TxHashWithdraw
	}
	if tv.NextStep == models.NextStepCompleted && tv.ContractWithdrawHash != nil {
		return *tv.ContractWithdrawHash
	}
	return ""
}

// ==================== Helper Functions ====================

func feeAmount(raw sdkmath.Int, decimals int32, bps *uint32, isEstimate *bool) FeeAmount {
	return FeeAmount{
		Bps:        bps,
		Raw:        raw.String(),
		Units:      service.FormatUnits(raw, decimals),
		IsEstimate: isEstimate,
	}
}

func boolPtr(b bool) *bool { return &b }

func utc(ts *time.Time) *string {
	if ts == nil || ts.IsZero() {
		return nil
	}
	s := ts.UTC().Format("2006-01-02T15:04:05.000Z")
	return &s
}

// internalError logs err and responds 500, with err's text only when error details are enabled
func (h *Handler) internalError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, zap.Error(err))

	response := ErrorResponse{Error: message}
	if h.errorDetails {
		response.Details = err.Error()
	}
	respondJSON(w, http.StatusInternalServerError, response)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Message = fmt.Sprintf("%s: %v", message, err)
	}

	respondJSON(w, statusCode, response)
}
