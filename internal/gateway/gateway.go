// Package gateway encodes bank contract calls and drives them through the wallet provider.
package gateway

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/clients"
	"github.com/vadiminshakov/bankdapp/internal/contract"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/pkg/retrier"
	"go.uber.org/zap"
)

const (
	defaultReceiptPollInterval = time.Second
	defaultReceiptTimeout      = 2 * time.Minute
)

type chainProvider interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Config configures the gateway.
type Config struct {
	Contract            common.Address
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	// GasHeadroomPercent pads every estimate, 0 sends the estimate as is.
	GasHeadroomPercent uint64
}

// Gateway is the only place that knows the contract's method names and encoding.
type Gateway struct {
	l        *zap.Logger
	provider chainProvider
	abi      abi.ABI
	cfg      Config
}

// Receipt is the part of a mined transaction the client cares about.
type Receipt struct {
	TxHash      common.Hash
	GasUsed     uint64
	BlockNumber *big.Int
}

// New creates a gateway for the contract at cfg.Contract.
func New(l *zap.Logger, provider chainProvider, cfg Config) (*Gateway, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if provider == nil {
		return nil, errors.Wrap(domain.ErrProviderUnavailable, "no wallet provider configured")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("contract address is required")
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}

	parsed, err := contract.BankABI()
	if err != nil {
		return nil, err
	}

	return &Gateway{
		l:        l.With(zap.String("component", "gateway"), zap.String("contract", cfg.Contract.Hex())),
		provider: provider,
		abi:      parsed,
		cfg:      cfg,
	}, nil
}

// Contract returns the configured contract address.
func (g *Gateway) Contract() common.Address {
	return g.cfg.Contract
}

// SpendableBalance returns the caller's spendable balance in wei.
func (g *Gateway) SpendableBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.readUint(ctx, account, contract.MethodGetBalance)
}

// FixedDepositBalance returns the caller's fixed-deposit balance in wei.
func (g *Gateway) FixedDepositBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.readUint(ctx, account, contract.MethodGetFixedDepositBalance)
}

// ContractTotalBalance returns the native balance held by the contract.
func (g *Gateway) ContractTotalBalance(ctx context.Context) (*big.Int, error) {
	total, err := g.provider.BalanceAt(ctx, g.cfg.Contract)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQueryFailed, "contract balance: %v", err)
	}
	if total == nil {
		return new(big.Int), nil
	}
	return total, nil
}

func (g *Gateway) readUint(ctx context.Context, account common.Address, method string) (*big.Int, error) {
	data, err := g.abi.Pack(method)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQueryFailed, "pack %s: %v", method, err)
	}

	out, err := g.provider.CallContract(ctx, ethereum.CallMsg{From: account, To: &g.cfg.Contract, Data: data})
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQueryFailed, "call %s: %v", method, err)
	}

	vals, err := g.abi.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQueryFailed, "decode %s: %v", method, err)
	}
	if len(vals) != 1 {
		return nil, errors.Wrapf(domain.ErrQueryFailed, "decode %s: expected 1 value, got %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errors.Wrapf(domain.ErrQueryFailed, "decode %s: unexpected type %T", method, vals[0])
	}

	return v, nil
}

// EstimateCost returns the gas limit to send call with, headroom included.
func (g *Gateway) EstimateCost(ctx context.Context, from common.Address, call Call) (uint64, error) {
	msg, err := g.message(from, call)
	if err != nil {
		return 0, errors.Wrapf(domain.ErrEstimationFailed, "%v", err)
	}

	gas, err := g.provider.EstimateGas(ctx, msg)
	if err != nil {
		if clients.IsUnavailable(err) {
			return 0, errors.Wrapf(domain.ErrProviderUnavailable, "%s: %v", call.Method, err)
		}
		return 0, errors.Wrapf(domain.ErrEstimationFailed, "%s: %v", call.Method, err)
	}

	if g.cfg.GasHeadroomPercent > 0 {
		gas += gas * g.cfg.GasHeadroomPercent / 100
	}

	return gas, nil
}

// Send asks the wallet to sign and broadcast call. It returns once the wallet
// accepted the transaction, use WaitMined to await its receipt.
func (g *Gateway) Send(ctx context.Context, from common.Address, call Call, gas uint64) (common.Hash, error) {
	msg, err := g.message(from, call)
	if err != nil {
		return common.Hash{}, errors.Wrapf(domain.ErrSubmissionFailed, "%v", err)
	}
	msg.Gas = gas

	hash, err := g.provider.SendTransaction(ctx, msg)
	if err != nil {
		if clients.IsUserRejected(err) {
			return common.Hash{}, errors.Wrapf(domain.ErrUserRejected, "%s: %v", call.Method, err)
		}
		if clients.IsUnavailable(err) {
			return common.Hash{}, errors.Wrapf(domain.ErrProviderUnavailable, "%s: %v", call.Method, err)
		}
		return common.Hash{}, errors.Wrapf(domain.ErrSubmissionFailed, "%s: %v", call.Method, err)
	}

	g.l.Debug("transaction sent", zap.String("method", call.Method), zap.String("tx", hash.Hex()))

	return hash, nil
}

// WaitMined polls for the receipt of hash until it is available or the receipt timeout expires.
func (g *Gateway) WaitMined(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ReceiptTimeout)
	defer cancel()

	r := retrier.New(
		retrier.WithFixedInterval(g.cfg.ReceiptPollInterval),
		retrier.WithBudget(g.cfg.ReceiptTimeout),
		retrier.WithMaxRetries(-1),
		retrier.WithRetryIf(clients.IsNotFound),
		retrier.WithOnRetry(func(attempt int, _ error, wait time.Duration) {
			g.l.Debug("receipt pending",
				zap.String("tx", hash.Hex()),
				zap.Int("poll", attempt),
				zap.Duration("next", wait))
		}),
	)

	receipt, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (*types.Receipt, error) {
		return g.provider.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		if clients.IsNotFound(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(domain.ErrSubmissionFailed, "tx %s not mined within %s", hash.Hex(), g.cfg.ReceiptTimeout)
		}
		return nil, errors.Wrapf(domain.ErrSubmissionFailed, "receipt %s: %v", hash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Wrapf(domain.ErrSubmissionFailed, "tx %s reverted", hash.Hex())
	}

	return &Receipt{
		TxHash:      receipt.TxHash,
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber,
	}, nil
}

// Submit sends call and waits until it is mined.
func (g *Gateway) Submit(ctx context.Context, from common.Address, call Call, gas uint64) (*Receipt, error) {
	hash, err := g.Send(ctx, from, call, gas)
	if err != nil {
		return nil, err
	}
	return g.WaitMined(ctx, hash)
}

func (g *Gateway) message(from common.Address, call Call) (ethereum.CallMsg, error) {
	data, err := g.abi.Pack(call.Method, call.Args...)
	if err != nil {
		return ethereum.CallMsg{}, errors.Wrapf(err, "pack %s", call.Method)
	}
	to := g.cfg.Contract
	return ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: call.Value,
		Data:  data,
	}, nil
}
