package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	sqltypes "github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"boxbridge/internal/blockchain/evm"
	"boxbridge/internal/config"
	"boxbridge/internal/exchange"
	"boxbridge/internal/models"
	"boxbridge/internal/service"
)

// ErrNoMatchingTransferLog means the exchange's withdrawal tx did not pay the proxy the recorded amount
var ErrNoMatchingTransferLog = errors.New("no matching token transfer to proxy contract")

// ErrAmbiguousDestToken means the token group has more than one token on the destination chain
var ErrAmbiguousDestToken = errors.New("ambiguous destination token")

const (
	stepRegister       = "register"
	stepAcknowledge    = "acknowledge"
	stepConfirm        = "confirm"
	stepWithdraw       = "withdraw"
	stepConfirmOnChain = "confirm_onchain"
	stepRelease        = "release"
)

// Ledger is the transfer store as used by the sweeper
type Ledger interface {
	ListUnregisteredDeposits(ctx context.Context) ([]models.PendingDeposit, error)
	ListTransfersAtStep(ctx context.Context, step models.NextStep) ([]models.TransferView, error)
	RegisterTransfer(ctx context.Context, transfer *models.BridgeTransfer, event *models.BridgeEvent) (bool, error)
	RecordAcknowledged(ctx context.Context, key models.TransferKey, depositFkey string, event *models.BridgeEvent) error
	AppendEvent(ctx context.Context, event *models.BridgeEvent) error
	RecordWithdrawal(ctx context.Context, key models.TransferKey, feeExchange, withdrawAmount models.RawAmount, withdrawFkey string, event *models.BridgeEvent) error
	RecordExchangeWithdrawHash(ctx context.Context, key models.TransferKey, hash string, event *models.BridgeEvent) error
	ClaimRelease(ctx context.Context, key models.TransferKey, lease time.Duration) (bool, error)
	DropReleaseClaim(ctx context.Context, key models.TransferKey) error
	RecordContractWithdrawHash(ctx context.Context, key models.TransferKey, hash string) error
	MarkIgnored(ctx context.Context, key models.TransferKey, note string, event *models.BridgeEvent) error
}

// ChainGateway is the set of chain operations the sweeper needs
type ChainGateway interface {
	ProxyChainID(ctx context.Context, chainID uint64, proxy string) (uint64, error)
	IsRecipientAllowed(ctx context.Context, chainID uint64, proxy, recipient string) (bool, error)
	TransactionReceipt(ctx context.Context, chainID uint64, txHash string) (*types.Receipt, error)
	SubmitRelease(ctx context.Context, chainID uint64, release evm.Release) (string, error)
	WaitForReceipt(ctx context.Context, chainID uint64, txHash string) (*types.Receipt, error)
}

// SweeperDeps are the collaborators of a Sweeper. Nil clock, cooldowns and metrics get defaults.
type SweeperDeps struct {
	Ledger         Ledger
	Exchange       exchange.Gateway
	Chain          ChainGateway
	Clock          Clock
	LogCooldown    Cooldown
	SubmitCooldown Cooldown
	Metrics        *Metrics
}

// Sweeper advances every bridge transfer through the six settlement steps
type Sweeper struct {
	ledger         Ledger
	exchange       exchange.Gateway
	chain          ChainGateway
	clock          Clock
	logCooldown    Cooldown
	submitCooldown Cooldown
	metrics        *Metrics
	cfg            config.WorkerConfig
	logger         *zap.Logger
}

func NewSweeper(deps SweeperDeps, cfg config.WorkerConfig, logger *zap.Logger) *Sweeper {
	s := &Sweeper{
		ledger:         deps.Ledger,
		exchange:       deps.Exchange,
		chain:          deps.Chain,
		clock:          deps.Clock,
		logCooldown:    deps.LogCooldown,
		submitCooldown: deps.SubmitCooldown,
		metrics:        deps.Metrics,
		cfg:            cfg,
		logger:         logger.Named("sweeper"),
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logCooldown == nil {
		s.logCooldown = NewMemoryCooldown(s.clock)
	}
	if s.submitCooldown == nil {
		s.submitCooldown = NewMemoryCooldown(s.clock)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// Run sweeps every SweepInterval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Sweeper started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("step_pause", s.cfg.StepPause))

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs all steps once, in pipeline order
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { s.metrics.sweepDuration.Observe(time.Since(start).Seconds()) }()

	steps := []func(context.Context){
		s.registerNewDeposits,
		s.checkAcknowledgements,
		s.checkConfirmations,
		s.requestWithdrawals,
		s.confirmWithdrawalsOnChain,
		s.releaseToRecipients,
	}

	for i, step := range steps {
		if i > 0 && s.cfg.StepPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.StepPause):
			}
		}
		if ctx.Err() != nil {
			return
		}
		step(ctx)
	}
}

// ==================== Step 1 ====================

func (s *Sweeper) registerNewDeposits(ctx context.Context) {
	deposits, err := s.ledger.ListUnregisteredDeposits(ctx)
	if err != nil {
		s.logger.Error("Failed to list unregistered deposits", zap.Error(err))
		return
	}

	for _, d := range deposits {
		s.metrics.stepProcessed.WithLabelValues(stepRegister).Inc()

		snapshot := service.NewFeeSnapshot(d.AmountRaw.OrZero(), service.FeeSchedule{
			CapitalBps:     d.FeeCapitalBps,
			ServiceFlatRaw: d.FeeServiceRaw.OrZero(),
		})

		transfer := &models.BridgeTransfer{
			TransferKey:      d.TransferKey,
			DepositAmountRaw: d.AmountRaw,
			FeeCapitalBps:    snapshot.CapitalBps,
			FeeCapitalRaw:    models.NewRawAmount(snapshot.CapitalRaw),
			FeeServiceRaw:    models.NewRawAmount(snapshot.ServiceRaw),
		}
		event := newEvent(d.TransferKey, models.EventStatusRegistered, models.NextStepAwaitingAcknowledgement, d.TxHashDeposit, nil)

		created, err := s.ledger.RegisterTransfer(ctx, transfer, event)
		if err != nil {
			s.rowError(stepRegister, d.TransferKey, err)
			continue
		}
		if !created {
			continue
		}

		s.transition(event)
		s.logger.Info("Deposit registered",
			zap.String("deposit_key", d.TransferKey.String()),
			zap.String("amount_raw", d.AmountRaw.String()),
			zap.String("fee_capital_raw", snapshot.CapitalRaw.String()),
			zap.String("fee_service_raw", snapshot.ServiceRaw.String()))
	}
}

// ==================== Step 2 ====================

func (s *Sweeper) checkAcknowledgements(ctx context.Context) {
	s.forEachAtStep(ctx, stepAcknowledge, models.NextStepAwaitingAcknowledgement, s.checkAcknowledgement)
}

func (s *Sweeper) checkAcknowledgement(ctx context.Context, tv *models.TransferView) error {
	network, err := exchange.NetworkLabel(tv.OriginChainID)
	if err != nil {
		return err
	}

	receipt, err := s.exchange.GetTransferReceipt(ctx,
		exchange.TransferKindDeposit,
		tv.TxHashDeposit,
		service.ToUnits(tv.DepositAmountRaw.OrZero(), tv.TokenDecimals),
		exchange.Symbol(tv.ExchangeSymbol),
		network,
	)
	if err != nil {
		return err
	}
	if receipt == nil {
		s.waitLog(ctx, stepAcknowledge, tv, "Waiting for exchange to acknowledge deposit")
		return nil
	}

	event := newEvent(tv.TransferKey, models.EventStatusAcknowledged, models.NextStepAwaitingConfirmation, receipt.ID, receipt)
	if err := s.ledger.RecordAcknowledged(ctx, tv.TransferKey, receipt.ID, event); err != nil {
		return err
	}

	s.transition(event)
	s.logger.Info("Deposit acknowledged by exchange",
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.String("deposit_fkey", receipt.ID))
	return nil
}

// ==================== Step 3 ====================

func (s *Sweeper) checkConfirmations(ctx context.Context) {
	s.forEachAtStep(ctx, stepConfirm, models.NextStepAwaitingConfirmation, s.checkConfirmation)
}

func (s *Sweeper) checkConfirmation(ctx context.Context, tv *models.TransferView) error {
	receipt, err := s.depositReceipt(ctx, tv)
	if err != nil {
		return err
	}
	if receipt == nil || !receipt.IsCompleted() {
		s.waitLog(ctx, stepConfirm, tv, "Waiting for exchange to confirm deposit")
		return nil
	}

	event := newEvent(tv.TransferKey, models.EventStatusConfirmed, models.NextStepAwaitingWithdrawalRequest, receipt.ID, receipt)
	if err := s.ledger.AppendEvent(ctx, event); err != nil {
		return err
	}

	s.transition(event)
	s.logger.Info("Deposit confirmed by exchange",
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.String("deposit_fkey", receipt.ID))
	return nil
}

// depositReceipt looks up the deposit by its exchange id
func (s *Sweeper) depositReceipt(ctx context.Context, tv *models.TransferView) (*exchange.Receipt, error) {
	if tv.DepositFkey == nil {
		return nil, fmt.Errorf("transfer has no exchange deposit id")
	}
	network, err := exchange.NetworkLabel(tv.OriginChainID)
	if err != nil {
		return nil, err
	}

	return s.exchange.GetTransferReceipt(ctx,
		exchange.TransferKindDeposit,
		*tv.DepositFkey,
		service.ToUnits(tv.DepositAmountRaw.OrZero(), tv.TokenDecimals),
		exchange.Symbol(tv.ExchangeSymbol),
		network,
	)
}

// ==================== Step 4 ====================

func (s *Sweeper) requestWithdrawals(ctx context.Context) {
	s.forEachAtStep(ctx, stepWithdraw, models.NextStepAwaitingWithdrawalRequest, s.requestWithdrawal)
}

func (s *Sweeper) requestWithdrawal(ctx context.Context, tv *models.TransferView) error {
	currency := exchange.Symbol(tv.ExchangeSymbol)
	network, err := exchange.NetworkLabel(tv.DestinationChainID)
	if err != nil {
		return err
	}

	feeUnits, err := s.exchange.EstimateWithdrawFee(ctx, currency, tv.ProxyContract, network)
	if err != nil {
		return err
	}
	feeExchangeRaw := service.FromUnitsCeil(feeUnits, tv.TokenDecimals)

	withdrawRaw, err := service.WithdrawAmount(tv.DepositAmountRaw.OrZero(), service.FeeSnapshot{
		CapitalBps: tv.FeeCapitalBps,
		CapitalRaw: tv.FeeCapitalRaw.OrZero(),
		ServiceRaw: tv.FeeServiceRaw.OrZero(),
	}, feeExchangeRaw)
	if err != nil {
		return err
	}

	receipt, err := s.depositReceipt(ctx, tv)
	if err != nil {
		return err
	}
	if receipt == nil || !receipt.IsCompleted() {
		return fmt.Errorf("exchange deposit receipt unexpectedly not completed")
	}

	proxyChainID, err := s.chain.ProxyChainID(ctx, tv.DestinationChainID, tv.ProxyContract)
	if err != nil {
		return fmt.Errorf("proxy contract check failed: %w", err)
	}
	if proxyChainID != tv.DestinationChainID {
		return fmt.Errorf("proxy chain id mismatch: expected %d, got %d", tv.DestinationChainID, proxyChainID)
	}

	allowed, err := s.chain.IsRecipientAllowed(ctx, tv.DestinationChainID, tv.ProxyContract, tv.RecipientAddress)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("recipient %s not allowed on destination proxy", tv.RecipientAddress)
	}

	depositID, err := tv.DepositIDInt()
	if err != nil {
		return err
	}
	nonce := service.WithdrawalNonce(tv.ProxyContract, tv.OriginChainID, depositID)

	result, err := s.exchange.Withdraw(ctx, exchange.WithdrawRequest{
		Currency: currency,
		Address:  tv.ProxyContract,
		Network:  network,
		Amount:   service.ToUnits(withdrawRaw, tv.TokenDecimals).Truncate(tv.TokenDecimals),
		Nonce:    nonce,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrNonceUsed) {
			// an earlier withdrawal went through but was never recorded
			s.logger.Error("Withdrawal nonce already used, look up the exchange withdrawal with this nonce and record it",
				zap.String("deposit_key", tv.TransferKey.String()),
				zap.Int64("nonce", nonce),
				zap.String("currency", currency),
				zap.String("network", network))
		}
		return fmt.Errorf("withdraw with nonce %d: %w", nonce, err)
	}

	feeActual := models.NewRawAmount(service.FromUnitsCeil(result.Fee, tv.TokenDecimals))
	withdrawActual := models.NewRawAmount(service.FromUnitsCeil(result.Subtotal, tv.TokenDecimals))

	event := newEvent(tv.TransferKey, models.EventStatusWithdrawRequested, models.NextStepAwaitingWithdrawalOnChain, result.ID, map[string]interface{}{
		"nonce":          nonce,
		"fee":            result.Fee.String(),
		"fee_usd":        result.FeeUSD.StringFixed(2),
		"subtotal":       result.Subtotal.String(),
		"fee_estimate":   feeUnits.String(),
		"requested_raw":  withdrawRaw.String(),
		"requested_unit": service.FormatUnits(withdrawRaw, tv.TokenDecimals),
	})
	if err := s.ledger.RecordWithdrawal(ctx, tv.TransferKey, feeActual, withdrawActual, result.ID, event); err != nil {
		return err
	}

	s.transition(event)
	s.logger.Info("Exchange withdrawal requested",
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.String("withdraw_fkey", result.ID),
		zap.String("withdraw_amount_raw", withdrawActual.String()),
		zap.String("fee_exchange_raw", feeActual.String()),
		zap.Int64("nonce", nonce))
	return nil
}

// ==================== Step 5 ====================

func (s *Sweeper) confirmWithdrawalsOnChain(ctx context.Context) {
	s.forEachAtStep(ctx, stepConfirmOnChain, models.NextStepAwaitingWithdrawalOnChain, s.confirmWithdrawalOnChain)
}

func (s *Sweeper) confirmWithdrawalOnChain(ctx context.Context, tv *models.TransferView) error {
	if tv.WithdrawFkey == nil || tv.WithdrawAmountRaw == nil {
		return fmt.Errorf("transfer has no recorded exchange withdrawal")
	}
	network, err := exchange.NetworkLabel(tv.DestinationChainID)
	if err != nil {
		return err
	}

	withdrawRaw := tv.WithdrawAmountRaw.OrZero()
	feeRaw := sdkmath.ZeroInt()
	if tv.FeeExchangeRaw != nil {
		feeRaw = tv.FeeExchangeRaw.OrZero()
	}
	expected := service.ToUnits(withdrawRaw.Add(feeRaw), tv.TokenDecimals)

	receipt, err := s.exchange.GetTransferReceipt(ctx,
		exchange.TransferKindWithdraw, *tv.WithdrawFkey, expected, exchange.Symbol(tv.ExchangeSymbol), network)
	if err != nil {
		return err
	}
	if receipt == nil || receipt.Details.CryptoTransactionHash == "" {
		s.waitLog(ctx, stepConfirmOnChain, tv, "Waiting for exchange withdrawal transaction hash")
		return nil
	}

	txHash := receipt.Details.CryptoTransactionHash
	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}

	txReceipt, err := s.chain.TransactionReceipt(ctx, tv.DestinationChainID, txHash)
	if err != nil {
		return fmt.Errorf("exchange withdrawal tx %s: %w", txHash, err)
	}

	logs := evm.DecodeTransferLogs(txReceipt)
	match, ok := evm.FindTransfer(logs, common.HexToAddress(tv.ProxyContract), withdrawRaw.BigInt())
	if !ok {
		return s.unmatchedWithdrawal(ctx, tv, txHash, len(logs))
	}

	event := newEvent(tv.TransferKey, models.EventStatusWithdrawOnChain, models.NextStepAwaitingRelease, txHash, map[string]interface{}{
		"token":     match.Token.Hex(),
		"from":      match.From.Hex(),
		"log_index": match.Index,
		"block":     txReceipt.BlockNumber,
	})
	if err := s.ledger.RecordExchangeWithdrawHash(ctx, tv.TransferKey, txHash, event); err != nil {
		return err
	}

	s.transition(event)
	s.logger.Info("Exchange withdrawal confirmed on-chain",
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.String("tx_hash", txHash))
	return nil
}

// unmatchedWithdrawal escalates to Investigating once the row has waited past the configured window
func (s *Sweeper) unmatchedWithdrawal(ctx context.Context, tv *models.TransferView, txHash string, decoded int) error {
	err := fmt.Errorf("%w: tx %s, %d transfer logs decoded", ErrNoMatchingTransferLog, txHash, decoded)

	window := s.cfg.UnmatchedLogEscalateAfter
	if window <= 0 || s.clock.Now().Sub(tv.EventTS) < window {
		return err
	}

	note := models.IgnoreNoteWithdrawLogMissing
	event := newEvent(tv.TransferKey, models.EventStatusWithdrawLogMissing, models.NextStepInvestigating, txHash, nil)
	event.Note = &note
	if markErr := s.ledger.MarkIgnored(ctx, tv.TransferKey, note, event); markErr != nil {
		return fmt.Errorf("%v; failed to escalate: %w", err, markErr)
	}

	s.transition(event)
	s.logger.Error("Exchange withdrawal never matched, escalated for investigation",
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.String("tx_hash", txHash),
		zap.Duration("waited", s.clock.Now().Sub(tv.EventTS)))
	return nil
}

// ==================== Step 6 ====================

func (s *Sweeper) releaseToRecipients(ctx context.Context) {
	s.forEachAtStep(ctx, stepRelease, models.NextStepAwaitingRelease, s.releaseToRecipient)
}

func (s *Sweeper) releaseToRecipient(ctx context.Context, tv *models.TransferView) error {
	// A recorded hash is never resubmitted, only polled
	if tv.ContractWithdrawHash != nil {
		receipt, err := s.chain.TransactionReceipt(ctx, tv.DestinationChainID, *tv.ContractWithdrawHash)
		if err != nil || receipt == nil {
			s.waitLog(ctx, stepRelease, tv, "Waiting for release receipt",
				zap.String("tx_hash", *tv.ContractWithdrawHash), zap.NamedError("lookup_error", err))
			return nil
		}
		return s.settleRelease(ctx, tv, *tv.ContractWithdrawHash, receipt)
	}

	if tv.WithdrawAmountRaw == nil {
		return fmt.Errorf("transfer has no withdraw amount")
	}
	if tv.DestTokenAddress == "" {
		return fmt.Errorf("no %s token registered on chain %d", tv.TokenGroup, tv.DestinationChainID)
	}
	depositID, err := tv.DepositIDInt()
	if err != nil {
		return err
	}

	claimed, err := s.ledger.ClaimRelease(ctx, tv.TransferKey, s.cfg.ReleaseLease)
	if err != nil {
		return err
	}
	if !claimed {
		s.waitLog(ctx, stepRelease, tv, "Release claimed elsewhere, skipping")
		return nil
	}

	cooldownKey := fmt.Sprintf("release:%d", tv.DestinationChainID)
	if !s.submitCooldown.Allow(ctx, cooldownKey, s.cfg.SubmitCooldown) {
		s.dropClaim(ctx, tv)
		s.waitLog(ctx, stepRelease, tv, "Release submission cooling down for chain",
			zap.Uint64("chain_id", tv.DestinationChainID))
		return nil
	}

	txHash, err := s.chain.SubmitRelease(ctx, tv.DestinationChainID, evm.Release{
		Proxy:         common.HexToAddress(tv.ProxyContract),
		Asset:         common.HexToAddress(tv.DestTokenAddress),
		Recipient:     common.HexToAddress(tv.RecipientAddress),
		Amount:        tv.WithdrawAmountRaw.OrZero().BigInt(),
		DepositID:     depositID,
		OriginChainID: tv.OriginChainID,
	})
	if err != nil {
		s.dropClaim(ctx, tv)
		return fmt.Errorf("release submission failed: %w", err)
	}

	if err := s.ledger.RecordContractWithdrawHash(ctx, tv.TransferKey, txHash); err != nil {
		// the claim lease stays in place so the release is not sent again before someone looks
		s.logger.Error("Release sent but hash not recorded",
			zap.String("deposit_key", tv.TransferKey.String()),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return err
	}

	s.logger.Info("Release submitted",
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.Uint64("chain_id", tv.DestinationChainID),
		zap.String("tx_hash", txHash))

	receipt, err := s.chain.WaitForReceipt(ctx, tv.DestinationChainID, txHash)
	if err != nil {
		s.logger.Warn("Release receipt not available yet",
			zap.String("deposit_key", tv.TransferKey.String()),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return nil
	}
	return s.settleRelease(ctx, tv, txHash, receipt)
}

// settleRelease appends the terminal event for a mined release
func (s *Sweeper) settleRelease(ctx context.Context, tv *models.TransferView, txHash string, receipt *types.Receipt) error {
	ext := map[string]interface{}{
		"block":    receipt.BlockNumber,
		"gas_used": receipt.GasUsed,
		"status":   receipt.Status,
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		note := models.IgnoreNoteReverted
		event := newEvent(tv.TransferKey, models.EventStatusReleaseReverted, models.NextStepInvestigating, txHash, ext)
		event.Note = &note
		if err := s.ledger.MarkIgnored(ctx, tv.TransferKey, note, event); err != nil {
			return err
		}

		s.transition(event)
		s.logger.Error("Release reverted, transfer needs investigation",
			zap.String("deposit_key", tv.TransferKey.String()),
			zap.String("tx_hash", txHash))
		return nil
	}

	event := newEvent(tv.TransferKey, models.EventStatusReleased, models.NextStepCompleted, txHash, ext)
	if err := s.ledger.AppendEvent(ctx, event); err != nil {
		return err
	}

	s.transition(event)
	s.logger.Info("Release confirmed, all steps completed",
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.String("tx_hash", txHash))
	return nil
}

func (s *Sweeper) dropClaim(ctx context.Context, tv *models.TransferView) {
	if err := s.ledger.DropReleaseClaim(ctx, tv.TransferKey); err != nil {
		s.logger.Warn("Failed to drop release claim",
			zap.String("deposit_key", tv.TransferKey.String()),
			zap.Error(err))
	}
}

// ==================== Helpers ====================

// forEachAtStep runs fn for every transfer waiting at next, isolating failures per row
func (s *Sweeper) forEachAtStep(ctx context.Context, step string, next models.NextStep, fn func(context.Context, *models.TransferView) error) {
	transfers, err := s.ledger.ListTransfersAtStep(ctx, next)
	if err != nil {
		s.logger.Error("Failed to list transfers", zap.String("step", step), zap.Error(err))
		return
	}

	seen := make(map[models.TransferKey]struct{}, len(transfers))
	for i := range transfers {
		if ctx.Err() != nil {
			return
		}
		tv := &transfers[i]

		// one action per transfer per pass, even if the store returns a row twice
		if _, ok := seen[tv.TransferKey]; ok {
			continue
		}
		seen[tv.TransferKey] = struct{}{}

		if tv.DestTokenCount > 1 {
			s.skipAmbiguous(ctx, step, tv)
			continue
		}
		s.metrics.stepProcessed.WithLabelValues(step).Inc()

		if err := fn(ctx, tv); err != nil {
			s.rowError(step, tv.TransferKey, err)
		}
	}
}

// skipAmbiguous counts a row whose destination token cannot be resolved and logs it at most once per LogCooldown
func (s *Sweeper) skipAmbiguous(ctx context.Context, step string, tv *models.TransferView) {
	s.metrics.stepErrors.WithLabelValues(step).Inc()
	if !s.logCooldown.Allow(ctx, "ambiguous:"+step+":"+tv.TransferKey.String(), s.cfg.LogCooldown) {
		return
	}
	s.logger.Error("Skipping transfer, fix the token configuration",
		zap.String("step", step),
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.String("token_group", tv.TokenGroup),
		zap.Uint64("destination_chain_id", tv.DestinationChainID),
		zap.Int("dest_tokens", tv.DestTokenCount),
		zap.Error(ErrAmbiguousDestToken))
}

func (s *Sweeper) rowError(step string, key models.TransferKey, err error) {
	s.metrics.stepErrors.WithLabelValues(step).Inc()
	s.logger.Error("Step failed",
		zap.String("step", step),
		zap.String("deposit_key", key.String()),
		zap.Error(err))
}

// waitLog logs a waiting row at most once per LogCooldown
func (s *Sweeper) waitLog(ctx context.Context, step string, tv *models.TransferView, msg string, fields ...zap.Field) {
	if !s.logCooldown.Allow(ctx, step+":"+tv.TransferKey.String(), s.cfg.LogCooldown) {
		return
	}
	fields = append(fields,
		zap.String("step", step),
		zap.String("deposit_key", tv.TransferKey.String()),
		zap.Duration("since_last_event", s.clock.Now().Sub(tv.EventTS)))
	s.logger.Info(msg, fields...)
}

func (s *Sweeper) transition(event *models.BridgeEvent) {
	s.metrics.transitions.WithLabelValues(string(event.NextStep)).Inc()
}

func newEvent(key models.TransferKey, status models.EventStatus, next models.NextStep, identifier string, ext interface{}) *models.BridgeEvent {
	event := &models.BridgeEvent{
		TransferKey:     key,
		Status:          status,
		NextStep:        next,
		EventIdentifier: identifier,
	}
	if ext != nil {
		if raw, err := json.Marshal(ext); err == nil {
			event.Ext = sqltypes.JSONText(raw)
		}
	}
	return event
}
