package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var (
	testProxy     = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testRecipient = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testToken     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

func TestMulBpsAndPriceGas(t *testing.T) {
	tests := []struct {
		name      string
		suggested int64
		mult      int64
		ceiling   int64
		expected  int64
		err       error
	}{
		{name: "default multipliers", suggested: 1_000_000_000, mult: 10_200, ceiling: 13_000, expected: 1_020_000_000},
		{name: "truncates", suggested: 99, mult: 10_200, ceiling: 13_000, expected: 100},
		{name: "ceiling equal to applied", suggested: 100, mult: 12_000, ceiling: 12_000, err: ErrGasCeiling},
		{name: "rounded ceiling collides", suggested: 1, mult: 10_200, ceiling: 13_000, err: ErrGasCeiling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PriceGas(big.NewInt(tt.suggested), tt.mult, tt.ceiling)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Int64() != tt.expected {
				t.Errorf("expected %d, got %s", tt.expected, got)
			}
		})
	}

	if GasLimit(100_001, 15_000) != 150_001 {
		t.Errorf("unexpected gas limit %d", GasLimit(100_001, 15_000))
	}
}

func transferLog(token, from, to common.Address, value *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			erc20ABI.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

func TestDecodeTransferLogs(t *testing.T) {
	exchange := common.HexToAddress("0x00000000000000000000000000000000000000cb")

	erc721 := transferLog(testToken, exchange, testProxy, big.NewInt(5))
	erc721.Topics = append(erc721.Topics, common.BigToHash(big.NewInt(5)))
	erc721.Data = nil

	otherEvent := transferLog(testToken, exchange, testProxy, big.NewInt(5))
	otherEvent.Topics[0] = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))

	badData := transferLog(testToken, exchange, testProxy, big.NewInt(5))
	badData.Data = []byte{0x01}

	receipt := &types.Receipt{Logs: []*types.Log{
		erc721,
		transferLog(testToken, exchange, testProxy, big.NewInt(998_700)),
		otherEvent,
		badData,
		{Address: testToken},
		transferLog(testToken, exchange, testRecipient, big.NewInt(42)),
	}}

	logs := DecodeTransferLogs(receipt)
	if len(logs) != 2 {
		t.Fatalf("expected 2 decoded transfers, got %d", len(logs))
	}
	if logs[0].From != exchange || logs[0].To != testProxy || logs[0].Value.Int64() != 998_700 {
		t.Errorf("unexpected first transfer %+v", logs[0])
	}
	if logs[0].Token != testToken {
		t.Errorf("expected token %s, got %s", testToken.Hex(), logs[0].Token.Hex())
	}

	if DecodeTransferLogs(nil) != nil {
		t.Error("expected nil for nil receipt")
	}
}

func TestFindTransfer(t *testing.T) {
	logs := []TransferLog{
		{To: testProxy, Value: big.NewInt(100)},
		{To: testRecipient, Value: big.NewInt(998_700)},
		{To: testProxy, Value: big.NewInt(998_700)},
	}

	tests := []struct {
		name  string
		to    common.Address
		value int64
		found bool
		index int
	}{
		{name: "address and value match", to: testProxy, value: 998_700, found: true, index: 2},
		{name: "value only", to: testToken, value: 998_700},
		{name: "address only", to: testProxy, value: 998_701},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindTransfer(logs, tt.to, big.NewInt(tt.value))
			if ok != tt.found {
				t.Fatalf("expected found=%v, got %v", tt.found, ok)
			}
			if ok && got.Value.Cmp(logs[tt.index].Value) != 0 {
				t.Errorf("unexpected match %+v", got)
			}
		})
	}
}

func TestPackRelease(t *testing.T) {
	release := Release{
		Proxy:         testProxy,
		Asset:         testToken,
		Recipient:     testRecipient,
		Amount:        big.NewInt(998_700),
		DepositID:     big.NewInt(17),
		OriginChainID: 8453,
	}

	data, err := PackRelease(release)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data[:4], proxyABI.Methods["withdrawToRecipient"].ID) {
		t.Errorf("unexpected selector %x", data[:4])
	}
	if len(data) != 4+5*32 {
		t.Errorf("unexpected calldata length %d", len(data))
	}

	args, err := proxyABI.Methods["withdrawToRecipient"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("failed to unpack: %v", err)
	}
	if args[1].(common.Address) != testRecipient || args[3].(uint32) != 17 {
		t.Errorf("unexpected args %v", args)
	}

	tooBig := release
	tooBig.DepositID = new(big.Int).Lsh(big.NewInt(1), 32)
	if _, err := PackRelease(tooBig); err == nil {
		t.Error("expected error for deposit id above uint32")
	}

	zero := release
	zero.Amount = big.NewInt(0)
	if _, err := PackRelease(zero); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestGateway_Reads(t *testing.T) {
	chainIDOut, _ := proxyABI.Methods["chainId"].Outputs.Pack(big.NewInt(42161))
	allowedOut, _ := proxyABI.Methods["allowedRecipients"].Outputs.Pack(true)

	backend := &fakeBackend{callResult: chainIDOut, gasPrice: big.NewInt(12345)}
	client, _ := newClient(backend, 42161, "arbitrum", "", testTxConfig(), zap.NewNop())
	gw := NewGatewayFromClients(zap.NewNop(), client)
	ctx := context.Background()

	id, err := gw.ProxyChainID(ctx, 42161, testProxy.Hex())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42161 {
		t.Errorf("expected 42161, got %d", id)
	}

	backend.callResult = allowedOut
	allowed, err := gw.IsRecipientAllowed(ctx, 42161, testProxy.Hex(), testRecipient.Hex())
	if err != nil || !allowed {
		t.Errorf("expected allowed recipient, got %v (%v)", allowed, err)
	}

	price, err := gw.GasPrice(ctx, 42161)
	if err != nil || price.Int64() != 12345 {
		t.Errorf("unexpected gas price %v (%v)", price, err)
	}

	if _, err := gw.GasPrice(ctx, 1); !errors.Is(err, ErrUnknownChain) {
		t.Errorf("expected ErrUnknownChain, got %v", err)
	}
	if _, err := gw.SubmitRelease(ctx, 1, Release{}); !errors.Is(err, ErrUnknownChain) {
		t.Errorf("expected ErrUnknownChain, got %v", err)
	}
}

func TestGateway_SubmitRelease(t *testing.T) {
	privateKey, _ := newTestKey(t)
	backend := &fakeBackend{gasPrice: big.NewInt(1_000), estimate: 80_000}
	client, _ := newClient(backend, 8453, "base", privateKey, testTxConfig(), zap.NewNop())
	gw := NewGatewayFromClients(zap.NewNop(), client)

	hash, err := gw.SubmitRelease(context.Background(), 8453, Release{
		Proxy:         testProxy,
		Asset:         testToken,
		Recipient:     testRecipient,
		Amount:        big.NewInt(1),
		DepositID:     big.NewInt(1),
		OriginChainID: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.sent) != 1 || backend.sent[0].Hash().Hex() != hash {
		t.Fatalf("expected hash of the sent transaction, got %s", hash)
	}
	if *backend.sent[0].To() != testProxy {
		t.Errorf("expected call to proxy, got %s", backend.sent[0].To().Hex())
	}
}
