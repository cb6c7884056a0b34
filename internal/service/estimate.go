package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"boxbridge/internal/exchange"
	"boxbridge/internal/models"
)

var (
	ErrRouteNotFound      = errors.New("route not found")
	ErrAmbiguousRoute     = errors.New("ambiguous route configuration")
	ErrAmountOutOfBounds  = errors.New("amount out of bounds")
	ErrInvalidEstimateArg = errors.New("invalid estimate request")
)

// RouteStore looks up configured routes
type RouteStore interface {
	FindRoutes(ctx context.Context, origChainID, destChainID uint64, assetAddress string) ([]models.Route, error)
}

// WithdrawFeeEstimator quotes the exchange's withdrawal fee
type WithdrawFeeEstimator interface {
	EstimateWithdrawFee(ctx context.Context, currency, address, network string) (decimal.Decimal, error)
}

// GasPriceReader reads the current gas price of a chain
type GasPriceReader interface {
	GasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
}

// EstimateRequest is a quote request for bridging amount of asset from one chain to another
type EstimateRequest struct {
	OrigChainID  uint64
	DestChainID  uint64
	AssetAddress string
	Amount       sdkmath.Int
}

// Estimate is the projected fee breakdown and payout of a transfer
type Estimate struct {
	Route           models.Route
	Request         EstimateRequest
	Fees            FeeSnapshot
	ExchangeFee     sdkmath.Int
	DestGasFee      sdkmath.Int
	TotalFees       sdkmath.Int
	AmountOut       sdkmath.Int
	EffectiveBps    decimal.Decimal
	DestGasPriceWei *big.Int
}

// RouteSummary describes the route in one line
func (e *Estimate) RouteSummary() string {
	return fmt.Sprintf("%s %s from Chain%d >> %s to Chain%d",
		FormatUnits(e.Request.Amount, e.Route.Decimals), e.Route.TokenGroup, e.Request.OrigChainID,
		e.Route.TokenGroup, e.Request.DestChainID)
}

// EstimateService quotes transfers for the read API
type EstimateService struct {
	routes       RouteStore
	fees         WithdrawFeeEstimator
	gas          GasPriceReader
	gasMarkupBps int64
	logger       *zap.Logger
}

// NewEstimateService creates a new estimate service. gasMarkupBps scales the live gas price (11000 = +10%).
func NewEstimateService(routes RouteStore, fees WithdrawFeeEstimator, gas GasPriceReader, gasMarkupBps int64, logger *zap.Logger) *EstimateService {
	return &EstimateService{
		routes:       routes,
		fees:         fees,
		gas:          gas,
		gasMarkupBps: gasMarkupBps,
		logger:       logger,
	}
}

// Estimate validates the route and bounds, then prices the transfer with live exchange and gas data
func (s *EstimateService) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	if req.Amount.IsNil() || !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidEstimateArg)
	}

	routes, err := s.routes.FindRoutes(ctx, req.OrigChainID, req.DestChainID, req.AssetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to look up route: %w", err)
	}
	if len(routes) == 0 {
		return nil, ErrRouteNotFound
	}
	if len(routes) > 1 {
		return nil, fmt.Errorf("%w: %d token rows match", ErrAmbiguousRoute, len(routes))
	}
	route := routes[0]

	units := ToUnits(req.Amount, route.Decimals)
	if units.LessThan(route.MinUnits) {
		return nil, fmt.Errorf("%w: amount too low, minimum units %s",
			ErrAmountOutOfBounds, route.MinUnits.StringFixed(route.Decimals))
	}
	if units.GreaterThan(route.MaxUnits) {
		return nil, fmt.Errorf("%w: amount too high, maximum units %s",
			ErrAmountOutOfBounds, route.MaxUnits.StringFixed(route.Decimals))
	}

	network, err := exchange.NetworkLabel(req.DestChainID)
	if err != nil {
		return nil, err
	}

	exchangeFeeUnits, err := s.fees.EstimateWithdrawFee(ctx, exchange.Symbol(route.ExchangeSymbol), route.DestTokenAddress, network)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate exchange fee: %w", err)
	}

	gasPrice, err := s.gas.GasPrice(ctx, req.DestChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination gas price: %w", err)
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(s.gasMarkupBps)), big.NewInt(BpsDenominator))

	snapshot := NewFeeSnapshot(req.Amount, FeeSchedule{
		CapitalBps:     route.FeeCapitalBps,
		ServiceFlatRaw: route.FeeServiceRaw.OrZero(),
	})
	exchangeFee := FromUnitsCeil(exchangeFeeUnits, route.Decimals)
	destGasFee := sdkmath.ZeroInt()
	total := snapshot.CapitalRaw.Add(snapshot.ServiceRaw).Add(exchangeFee).Add(destGasFee)

	out := req.Amount.Sub(total)
	if !out.IsPositive() {
		return nil, fmt.Errorf("%w: amount does not cover fees of %s",
			ErrAmountOutOfBounds, FormatUnits(total, route.Decimals))
	}

	effectiveBps := decimal.NewFromBigInt(total.BigInt(), 0).
		Mul(decimal.NewFromInt(BpsDenominator)).
		DivRound(decimal.NewFromBigInt(req.Amount.BigInt(), 0), 5)

	estimate := &Estimate{
		Route:           route,
		Request:         req,
		Fees:            snapshot,
		ExchangeFee:     exchangeFee,
		DestGasFee:      destGasFee,
		TotalFees:       total,
		AmountOut:       out,
		EffectiveBps:    effectiveBps,
		DestGasPriceWei: gasPrice,
	}

	s.logger.Debug("Estimated transfer",
		zap.String("route", estimate.RouteSummary()),
		zap.String("total_fees_raw", total.String()),
		zap.String("amount_out_raw", out.String()))

	return estimate, nil
}
