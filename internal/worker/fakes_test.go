package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"boxbridge/internal/blockchain/evm"
	"boxbridge/internal/exchange"
	"boxbridge/internal/models"
)

// ==================== Clock ====================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ==================== Ledger ====================

// fixture is a deposit as the indexer would write it, with its token configuration
type fixture struct {
	models.Deposit
	FeeCapitalBps    uint32
	FeeServiceRaw    models.RawAmount
	TokenGroup       string
	Decimals         int32
	Symbol           string
	ExchangeSymbol   string
	DestTokenAddress string
	// tokens of the group on the destination chain; zero derives it from DestTokenAddress
	DestTokenCount int
}

func (f fixture) destTokenCount() int {
	if f.DestTokenCount != 0 || f.DestTokenAddress == "" {
		return f.DestTokenCount
	}
	return 1
}

// fakeLedger keeps the ledger in memory with the same step semantics as the SQL store
type fakeLedger struct {
	mu        sync.Mutex
	clock     Clock
	fixtures  map[models.TransferKey]fixture
	order     []models.TransferKey
	transfers map[models.TransferKey]*models.BridgeTransfer
	events    []models.BridgeEvent
	nextID    int64
}

func newFakeLedger(clock Clock, fixtures ...fixture) *fakeLedger {
	l := &fakeLedger{
		clock:     clock,
		fixtures:  make(map[models.TransferKey]fixture),
		transfers: make(map[models.TransferKey]*models.BridgeTransfer),
	}
	for _, f := range fixtures {
		l.fixtures[f.TransferKey] = f
		l.order = append(l.order, f.TransferKey)
	}
	return l
}

func (l *fakeLedger) ListUnregisteredDeposits(ctx context.Context) ([]models.PendingDeposit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.PendingDeposit
	for _, key := range l.order {
		if _, ok := l.transfers[key]; ok {
			continue
		}
		f := l.fixtures[key]
		out = append(out, models.PendingDeposit{
			TransferKey:   key,
			AmountRaw:     f.AmountRaw,
			TxHashDeposit: f.TxHashDeposit,
			FeeCapitalBps: f.FeeCapitalBps,
			FeeServiceRaw: f.FeeServiceRaw,
		})
	}
	return out, nil
}

func (l *fakeLedger) ListTransfersAtStep(ctx context.Context, step models.NextStep) ([]models.TransferView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.TransferView
	for _, key := range l.order {
		t, ok := l.transfers[key]
		if !ok || t.IgnoreNote != nil {
			continue
		}
		latest := l.latestLocked(key)
		if latest == nil || latest.NextStep != step {
			continue
		}

		f := l.fixtures[key]
		out = append(out, models.TransferView{
			BridgeTransfer:     *t,
			DestinationChainID: f.DestinationChainID,
			AssetAddress:       f.AssetAddress,
			RecipientAddress:   f.RecipientAddress,
			DepositorAddress:   f.DepositorAddress,
			TxHashDeposit:      f.TxHashDeposit,
			DepositTS:          f.DepositTS,
			TokenGroup:         f.TokenGroup,
			TokenDecimals:      f.Decimals,
			TokenSymbol:        f.Symbol,
			ExchangeSymbol:     f.ExchangeSymbol,
			DestTokenAddress:   f.DestTokenAddress,
			DestTokenCount:     f.destTokenCount(),
			EventTS:            latest.EventTS,
			Status:             latest.Status,
			NextStep:           latest.NextStep,
			EventIdentifier:    latest.EventIdentifier,
		})
	}
	return out, nil
}

func (l *fakeLedger) RegisterTransfer(ctx context.Context, transfer *models.BridgeTransfer, event *models.BridgeEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.transfers[transfer.TransferKey]; ok {
		return false, nil
	}
	copied := *transfer
	l.transfers[transfer.TransferKey] = &copied
	l.appendLocked(event)
	return true, nil
}

func (l *fakeLedger) RecordAcknowledged(ctx context.Context, key models.TransferKey, depositFkey string, event *models.BridgeEvent) error {
	return l.update(key, event, func(t *models.BridgeTransfer) error {
		t.DepositFkey = &depositFkey
		return nil
	})
}

func (l *fakeLedger) AppendEvent(ctx context.Context, event *models.BridgeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(event)
	return nil
}

func (l *fakeLedger) RecordWithdrawal(ctx context.Context, key models.TransferKey, feeExchange, withdrawAmount models.RawAmount, withdrawFkey string, event *models.BridgeEvent) error {
	return l.update(key, event, func(t *models.BridgeTransfer) error {
		t.FeeExchangeRaw = &feeExchange
		t.WithdrawAmountRaw = &withdrawAmount
		t.WithdrawFkey = &withdrawFkey
		return nil
	})
}

func (l *fakeLedger) RecordExchangeWithdrawHash(ctx context.Context, key models.TransferKey, hash string, event *models.BridgeEvent) error {
	return l.update(key, event, func(t *models.BridgeTransfer) error {
		t.ExchangeWithdrawHash = &hash
		return nil
	})
}

func (l *fakeLedger) ClaimRelease(ctx context.Context, key models.TransferKey, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.transfers[key]
	if !ok {
		return false, fmt.Errorf("unknown transfer %s", key)
	}
	now := l.clock.Now()
	if t.ContractWithdrawHash != nil || t.IgnoreNote != nil {
		return false, nil
	}
	if t.ReleaseClaimedAt != nil && now.Before(t.ReleaseClaimedAt.Add(lease)) {
		return false, nil
	}
	t.ReleaseClaimedAt = &now
	return true, nil
}

func (l *fakeLedger) DropReleaseClaim(ctx context.Context, key models.TransferKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.transfers[key]; ok && t.ContractWithdrawHash == nil {
		t.ReleaseClaimedAt = nil
	}
	return nil
}

func (l *fakeLedger) RecordContractWithdrawHash(ctx context.Context, key models.TransferKey, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.transfers[key]
	if !ok || t.ContractWithdrawHash != nil {
		return fmt.Errorf("expected 1 row affected, got 0")
	}
	t.ContractWithdrawHash = &hash
	return nil
}

func (l *fakeLedger) MarkIgnored(ctx context.Context, key models.TransferKey, note string, event *models.BridgeEvent) error {
	return l.update(key, event, func(t *models.BridgeTransfer) error {
		t.IgnoreNote = &note
		return nil
	})
}

func (l *fakeLedger) update(key models.TransferKey, event *models.BridgeEvent, fn func(*models.BridgeTransfer) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.transfers[key]
	if !ok {
		return fmt.Errorf("expected 1 row affected, got 0")
	}
	if err := fn(t); err != nil {
		return err
	}
	l.appendLocked(event)
	return nil
}

func (l *fakeLedger) appendLocked(event *models.BridgeEvent) {
	l.nextID++
	e := *event
	e.EventID = l.nextID
	e.EventTS = l.clock.Now()
	l.events = append(l.events, e)
}

func (l *fakeLedger) latestLocked(key models.TransferKey) *models.BridgeEvent {
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].TransferKey == key {
			e := l.events[i]
			return &e
		}
	}
	return nil
}

// seed places a transfer directly at a step
func (l *fakeLedger) seed(transfer models.BridgeTransfer, next models.NextStep) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transfers[transfer.TransferKey] = &transfer
	l.appendLocked(&models.BridgeEvent{
		TransferKey:     transfer.TransferKey,
		Status:          "seeded",
		NextStep:        next,
		EventIdentifier: "seed",
	})
}

func (l *fakeLedger) transfer(key models.TransferKey) models.BridgeTransfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.transfers[key]
}

func (l *fakeLedger) latest(key models.TransferKey) *models.BridgeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestLocked(key)
}

func (l *fakeLedger) eventCount(key models.TransferKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.events {
		if e.TransferKey == key {
			n++
		}
	}
	return n
}

// ==================== Gateway mocks ====================

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) EstimateWithdrawFee(ctx context.Context, currency, address, network string) (decimal.Decimal, error) {
	args := m.Called(ctx, currency, address, network)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockExchange) GetTransferReceipt(ctx context.Context, kind exchange.TransferKind, key string, expectedUnits decimal.Decimal, currency, network string) (*exchange.Receipt, error) {
	args := m.Called(ctx, kind, key, expectedUnits, currency, network)
	receipt, _ := args.Get(0).(*exchange.Receipt)
	return receipt, args.Error(1)
}

func (m *mockExchange) Withdraw(ctx context.Context, req exchange.WithdrawRequest) (*exchange.WithdrawResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*exchange.WithdrawResult)
	return result, args.Error(1)
}

func (m *mockExchange) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockChain struct {
	mock.Mock
}

func (m *mockChain) ProxyChainID(ctx context.Context, chainID uint64, proxy string) (uint64, error) {
	args := m.Called(ctx, chainID, proxy)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockChain) IsRecipientAllowed(ctx context.Context, chainID uint64, proxy, recipient string) (bool, error) {
	args := m.Called(ctx, chainID, proxy, recipient)
	return args.Bool(0), args.Error(1)
}

func (m *mockChain) TransactionReceipt(ctx context.Context, chainID uint64, txHash string) (*types.Receipt, error) {
	args := m.Called(ctx, chainID, txHash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

func (m *mockChain) SubmitRelease(ctx context.Context, chainID uint64, release evm.Release) (string, error) {
	args := m.Called(ctx, chainID, release)
	return args.String(0), args.Error(1)
}

func (m *mockChain) WaitForReceipt(ctx context.Context, chainID uint64, txHash string) (*types.Receipt, error) {
	args := m.Called(ctx, chainID, txHash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

// decimalEq matches a decimal argument by value
func decimalEq(s string) interface{} {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}
