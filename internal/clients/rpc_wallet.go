package clients

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultAccountPollInterval = 2 * time.Second

// RPCWallet talks to a wallet that exposes the EIP-1193 methods over JSON-RPC
// (a desktop wallet's local endpoint, or a node with managed accounts).
// Signing happens in the wallet; account changes are detected by polling eth_accounts.
type RPCWallet struct {
	rpc          *rpc.Client
	eth          *ethclient.Client
	pollInterval time.Duration
	l            *zap.Logger
}

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Gas   hexutil.Uint64  `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// NewRPCWallet dials the wallet endpoint.
func NewRPCWallet(ctx context.Context, url string, pollInterval time.Duration, l *zap.Logger) (*RPCWallet, error) {
	if url == "" {
		return nil, errors.New("wallet rpc url is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = defaultAccountPollInterval
	}

	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "dial wallet rpc")
	}

	return &RPCWallet{
		rpc:          c,
		eth:          ethclient.NewClient(c),
		pollInterval: pollInterval,
		l:            l,
	}, nil
}

func (w *RPCWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := w.rpc.CallContext(ctx, &accounts, "eth_requestAccounts")
	if isMethodNotFound(err) {
		// plain nodes have no permission prompt
		return w.Accounts(ctx)
	}
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (w *RPCWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (w *RPCWallet) WatchAccounts(ctx context.Context) (<-chan []common.Address, error) {
	last, err := w.Accounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read initial accounts")
	}

	ch := make(chan []common.Address, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				accounts, err := w.Accounts(ctx)
				if err != nil {
					w.l.Warn("failed to poll wallet accounts", zap.Error(err))
					continue
				}
				if sameAccounts(last, accounts) {
					continue
				}
				last = accounts
				select {
				case ch <- accounts:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

func (w *RPCWallet) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return w.eth.CallContract(ctx, msg, nil)
}

func (w *RPCWallet) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return w.eth.BalanceAt(ctx, account, nil)
}

func (w *RPCWallet) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return w.eth.EstimateGas(ctx, msg)
}

func (w *RPCWallet) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	args := sendTxArgs{
		From: msg.From,
		To:   msg.To,
		Gas:  hexutil.Uint64(msg.Gas),
		Data: msg.Data,
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(msg.Value)
	}

	var hash common.Hash
	if err := w.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (w *RPCWallet) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return w.eth.TransactionReceipt(ctx, hash)
}

func (w *RPCWallet) Close() {
	w.rpc.Close()
}
