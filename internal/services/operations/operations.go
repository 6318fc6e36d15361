// Package operations maps the five bank actions onto contract calls.
package operations

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/gateway"
	"github.com/vadiminshakov/bankdapp/internal/services/txrunner"
)

type runner interface {
	Run(ctx context.Context, req domain.OperationRequest, build txrunner.CallBuilder) (domain.TransactionOutcome, error)
}

// deposits attach the amount as value, withdraw and transfer pass it as an argument
var builders = map[domain.OperationKind]txrunner.CallBuilder{
	domain.OperationDeposit: func(amount *big.Int, _ common.Address) gateway.Call {
		return gateway.Deposit(amount)
	},
	domain.OperationWithdraw: func(amount *big.Int, _ common.Address) gateway.Call {
		return gateway.Withdraw(amount)
	},
	domain.OperationTransfer: func(amount *big.Int, recipient common.Address) gateway.Call {
		return gateway.Transfer(recipient, amount)
	},
	domain.OperationCreateFixedDeposit: func(amount *big.Int, _ common.Address) gateway.Call {
		return gateway.CreateFixedDeposit(amount)
	},
	domain.OperationWithdrawFixedDeposit: func(*big.Int, common.Address) gateway.Call {
		return gateway.WithdrawFixedDeposit()
	},
}

// Catalog is the user-facing action set.
type Catalog struct {
	runner runner
}

// New creates a catalog running actions through r.
func New(r runner) *Catalog {
	return &Catalog{runner: r}
}

// Deposit moves amount ether from the wallet into the spendable balance.
func (c *Catalog) Deposit(ctx context.Context, amount string) (domain.TransactionOutcome, error) {
	return c.Execute(ctx, domain.OperationRequest{Kind: domain.OperationDeposit, Amount: amount})
}

// Withdraw moves amount ether from the spendable balance back to the wallet.
func (c *Catalog) Withdraw(ctx context.Context, amount string) (domain.TransactionOutcome, error) {
	return c.Execute(ctx, domain.OperationRequest{Kind: domain.OperationWithdraw, Amount: amount})
}

// Transfer moves amount ether of spendable balance to recipient.
func (c *Catalog) Transfer(ctx context.Context, recipient, amount string) (domain.TransactionOutcome, error) {
	return c.Execute(ctx, domain.OperationRequest{Kind: domain.OperationTransfer, Amount: amount, Recipient: recipient})
}

// CreateFixedDeposit locks amount ether as a fixed deposit.
func (c *Catalog) CreateFixedDeposit(ctx context.Context, amount string) (domain.TransactionOutcome, error) {
	return c.Execute(ctx, domain.OperationRequest{Kind: domain.OperationCreateFixedDeposit, Amount: amount})
}

// WithdrawFixedDeposit releases the whole fixed deposit.
func (c *Catalog) WithdrawFixedDeposit(ctx context.Context) (domain.TransactionOutcome, error) {
	return c.Execute(ctx, domain.OperationRequest{Kind: domain.OperationWithdrawFixedDeposit})
}

// Execute runs any request, used by the generic surfaces.
func (c *Catalog) Execute(ctx context.Context, req domain.OperationRequest) (domain.TransactionOutcome, error) {
	build, ok := builders[req.Kind]
	if !ok {
		return domain.TransactionOutcome{}, errors.Wrapf(domain.ErrInvalidRequest, "unknown operation %d", int(req.Kind))
	}
	return c.runner.Run(ctx, req, build)
}
