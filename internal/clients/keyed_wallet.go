package clients

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KeyedWallet signs locally with a single private key and broadcasts through a node.
type KeyedWallet struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	account common.Address
	chainID *big.Int
	l       *zap.Logger

	// serialises nonce assignment
	sendMu sync.Mutex
}

// NewKeyedWallet dials rpcURL and derives the account from privateKeyHex.
// When chainID is zero it is read from the node.
func NewKeyedWallet(ctx context.Context, rpcURL, privateKeyHex string, chainID int64, l *zap.Logger) (*KeyedWallet, error) {
	if l == nil {
		l = zap.NewNop()
	}

	key, account, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial node")
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, errors.Wrap(err, "read chain id")
		}
	}

	l.Info("keyed wallet ready", zap.String("account", account.Hex()), zap.String("chain_id", id.String()))

	return &KeyedWallet{
		eth:     eth,
		key:     key,
		account: account,
		chainID: id,
		l:       l,
	}, nil
}

func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	key := strings.TrimSpace(privateKeyHex)
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}
	if key == "" {
		return nil, common.Address{}, errors.New("private key is required")
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, common.Address{}, errors.Wrap(err, "parse private key")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, common.Address{}, errors.New("error casting public key to ECDSA")
	}

	return privateKey, crypto.PubkeyToAddress(*pub), nil
}

func (w *KeyedWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{w.account}, nil
}

func (w *KeyedWallet) Accounts(context.Context) ([]common.Address, error) {
	return []common.Address{w.account}, nil
}

// WatchAccounts never emits: the key is fixed for the process lifetime.
func (w *KeyedWallet) WatchAccounts(ctx context.Context) (<-chan []common.Address, error) {
	ch := make(chan []common.Address)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (w *KeyedWallet) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return w.eth.CallContract(ctx, msg, nil)
}

func (w *KeyedWallet) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return w.eth.BalanceAt(ctx, account, nil)
}

func (w *KeyedWallet) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return w.eth.EstimateGas(ctx, msg)
}

func (w *KeyedWallet) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	if msg.From != w.account {
		return common.Hash{}, &ProviderError{Code: CodeUnauthorized, Message: "unknown account " + msg.From.Hex()}
	}
	if msg.To == nil {
		return common.Hash{}, errors.New("contract creation is not supported")
	}

	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	nonce, err := w.eth.PendingNonceAt(ctx, w.account)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "get nonce")
	}

	tx, err := w.buildTx(ctx, nonce, msg)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}

	if err := w.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	w.l.Debug("transaction sent", zap.String("tx", signed.Hash().Hex()), zap.Uint64("nonce", nonce))

	return signed.Hash(), nil
}

// buildTx prefers a dynamic fee transaction and falls back to legacy pricing
// on chains without a base fee.
func (w *KeyedWallet) buildTx(ctx context.Context, nonce uint64, msg ethereum.CallMsg) (*types.Transaction, error) {
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	head, err := w.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "get latest header")
	}

	if head.BaseFee == nil {
		gasPrice, err := w.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "suggest gas price")
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      msg.Gas,
			To:       msg.To,
			Value:    value,
			Data:     msg.Data,
		}), nil
	}

	tip, err := w.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "suggest gas tip")
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       msg.Gas,
		To:        msg.To,
		Value:     value,
		Data:      msg.Data,
	}), nil
}

func (w *KeyedWallet) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return w.eth.TransactionReceipt(ctx, hash)
}

func (w *KeyedWallet) Close() {
	w.eth.Close()
}
