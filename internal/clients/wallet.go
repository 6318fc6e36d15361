// Package clients contains the wallet providers the bank client can be attached to.
// A provider owns keys and signing; the rest of the application only asks it to
// list accounts, read chain state and send transactions on the user's behalf.
package clients

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Wallet is the request/subscribe interface of a wallet provider.
type Wallet interface {
	// RequestAccounts asks the user for account access and returns the granted accounts.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the currently exposed accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	// WatchAccounts streams every change of the account selection until ctx is done.
	WatchAccounts(ctx context.Context) (<-chan []common.Address, error)

	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	// SendTransaction signs msg on behalf of msg.From and broadcasts it.
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error)
	// TransactionReceipt returns ethereum.NotFound while the transaction is pending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	Close()
}

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901

	codeMethodNotFound  = -32601
	codeExecutionFailed = 3
)

// ProviderError is an error reported by a wallet provider with an EIP-1193 code.
// It satisfies rpc.Error so real and simulated providers classify the same way.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string  { return e.Message }
func (e *ProviderError) ErrorCode() int { return e.Code }

var _ rpc.Error = (*ProviderError)(nil)

var rejectionPhrases = []string{"user denied", "user rejected", "rejected by user", "request rejected"}

// IsUserRejected reports whether err means the user declined a wallet prompt.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == CodeUserRejected {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rejectionPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsUnavailable reports whether err means the provider cannot serve requests at all.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUnauthorized, CodeDisconnected, CodeChainDisconnected:
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is the "receipt not available yet" marker.
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeMethodNotFound
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
