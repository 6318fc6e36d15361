// Package txrunner drives one state-changing contract action from validation to a terminal outcome.
package txrunner

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"github.com/vadiminshakov/bankdapp/internal/gateway"
	"github.com/vadiminshakov/bankdapp/internal/metrics"
	"github.com/vadiminshakov/bankdapp/pkg/units"
	"go.uber.org/zap"
)

type contractGateway interface {
	EstimateCost(ctx context.Context, from common.Address, call gateway.Call) (uint64, error)
	Send(ctx context.Context, from common.Address, call gateway.Call, gas uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*gateway.Receipt, error)
}

type accountSource interface {
	Account() (common.Address, bool)
}

type balanceRefresher interface {
	RefreshCurrent(ctx context.Context) (domain.BalanceSnapshot, error)
}

type statusPublisher interface {
	Publish(ev events.StatusEvent)
}

// CallBuilder turns validated input into a contract call.
type CallBuilder func(amount *big.Int, recipient common.Address) gateway.Call

// Runner executes transactions. At most one run per operation kind is in flight;
// different kinds may run concurrently.
type Runner struct {
	l        *zap.Logger
	gw       contractGateway
	accounts accountSource
	balances balanceRefresher
	status   statusPublisher
	metrics  *metrics.Registry

	mu       sync.Mutex
	inFlight map[domain.OperationKind]struct{}
}

// New creates a runner. status and metrics may be nil.
func New(l *zap.Logger, gw contractGateway, accounts accountSource, balances balanceRefresher, status statusPublisher, m *metrics.Registry) *Runner {
	if l == nil {
		l = zap.NewNop()
	}
	return &Runner{
		l:        l.With(zap.String("component", "txrunner")),
		gw:       gw,
		accounts: accounts,
		balances: balances,
		status:   status,
		metrics:  m,
		inFlight: make(map[domain.OperationKind]struct{}),
	}
}

// Run validates req, then estimates, signs, submits and awaits the transaction built by build.
// Input errors, a busy kind and a missing wallet connection are returned as errors
// without touching the network. Everything after that ends in an outcome.
func (r *Runner) Run(ctx context.Context, req domain.OperationRequest, build CallBuilder) (domain.TransactionOutcome, error) {
	amount, recipient, err := Validate(req)
	if err != nil {
		return domain.TransactionOutcome{}, err
	}

	if !r.acquire(req.Kind) {
		return domain.TransactionOutcome{}, errors.Wrapf(domain.ErrActionInFlight, "%s", req.Kind)
	}
	defer r.release(req.Kind)

	id := uuid.NewString()
	l := r.l.With(zap.String("invocation", id), zap.String("kind", req.Kind.String()))
	outcome := domain.TransactionOutcome{ID: id, Kind: req.Kind}

	transition(l, domain.TxStateEstimating)
	account, ok := r.accounts.Account()
	if !ok {
		transition(l, domain.TxStateIdle)
		return domain.TransactionOutcome{}, errors.Wrap(domain.ErrProviderUnavailable, "please connect your wallet")
	}
	l = l.With(zap.String("account", account.Hex()))

	call := build(amount, recipient)

	gas, err := r.gw.EstimateCost(ctx, account, call)
	if err != nil {
		return r.finish(ctx, l, outcome, domain.TxStatusFailed, err), nil
	}

	transition(l, domain.TxStateAwaitingSignature, zap.Uint64("gas", gas))
	hash, err := r.gw.Send(ctx, account, call, gas)
	if err != nil {
		if errors.Is(err, domain.ErrUserRejected) {
			return r.finish(ctx, l, outcome, domain.TxStatusRejected, err), nil
		}
		return r.finish(ctx, l, outcome, domain.TxStatusFailed, err), nil
	}
	outcome.TxHash = hash.Hex()

	transition(l, domain.TxStateSubmitted, zap.String("tx", outcome.TxHash))
	receipt, err := r.gw.WaitMined(ctx, hash)
	if err != nil {
		return r.finish(ctx, l, outcome, domain.TxStatusFailed, err), nil
	}
	outcome.GasUsed = receipt.GasUsed

	return r.finish(ctx, l, outcome, domain.TxStatusConfirmed, nil), nil
}

// InFlight reports whether a run of kind is in progress.
func (r *Runner) InFlight(kind domain.OperationKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[kind]
	return ok
}

func (r *Runner) finish(ctx context.Context, l *zap.Logger, o domain.TransactionOutcome, status domain.TxStatus, err error) domain.TransactionOutcome {
	o.Status = status
	o.Err = err

	if status == domain.TxStatusConfirmed {
		// the account may have changed since estimation, refresh whatever is selected now
		if _, syncErr := r.balances.RefreshCurrent(ctx); syncErr != nil {
			o.SyncErr = syncErr
		}
	}
	o.FinishedAt = time.Now().UTC()

	var fields []zap.Field
	if o.TxHash != "" {
		fields = append(fields, zap.String("tx", o.TxHash))
	}
	switch {
	case err != nil:
		l.Warn("transaction finished", append(fields,
			zap.String("state", string(status)),
			zap.String("category", string(domain.Category(err))),
			zap.Error(err))...)
	case o.SyncErr != nil:
		l.Warn("transaction confirmed, balances not refreshed", append(fields,
			zap.String("state", string(status)),
			zap.Error(o.SyncErr))...)
	default:
		transition(l, status.State(), append(fields, zap.Uint64("gas_used", o.GasUsed))...)
	}

	r.metrics.ObserveOutcome(o.Kind.String(), string(status))
	if r.status != nil {
		r.status.Publish(events.OutcomeEvent(o))
	}

	return o
}

func (r *Runner) acquire(kind domain.OperationKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[kind]; busy {
		return false
	}
	r.inFlight[kind] = struct{}{}
	r.metrics.AddInFlight(kind.String(), 1)
	return true
}

func (r *Runner) release(kind domain.OperationKind) {
	r.mu.Lock()
	delete(r.inFlight, kind)
	r.mu.Unlock()
	r.metrics.AddInFlight(kind.String(), -1)
}

// transition logs intermediate states at debug level and the final one at info.
func transition(l *zap.Logger, state domain.TxState, fields ...zap.Field) {
	fields = append([]zap.Field{zap.String("state", string(state))}, fields...)
	if state.IsTerminal() {
		l.Info("transaction finished", fields...)
		return
	}
	l.Debug("transaction state", fields...)
}

// Validate checks the user input of req and returns the amount in wei and the recipient.
// Kinds without an amount or recipient get nil and the zero address.
func Validate(req domain.OperationRequest) (*big.Int, common.Address, error) {
	if !req.Kind.IsValid() {
		return nil, common.Address{}, errors.Wrapf(domain.ErrInvalidRequest, "unknown operation %d", int(req.Kind))
	}

	var amount *big.Int
	if req.Kind.RequiresAmount() {
		wei, err := units.ToBaseUnit(req.Amount)
		if err != nil {
			return nil, common.Address{}, err
		}
		if wei.Sign() == 0 {
			return nil, common.Address{}, errors.Wrap(domain.ErrInvalidAmount, "amount must be greater than 0")
		}
		amount = wei
	}

	var recipient common.Address
	if req.Kind.RequiresRecipient() {
		s := strings.TrimSpace(req.Recipient)
		if !common.IsHexAddress(s) {
			return nil, common.Address{}, errors.Wrapf(domain.ErrInvalidRequest, "recipient %q is not an address", req.Recipient)
		}
		recipient = common.HexToAddress(s)
		if recipient == (common.Address{}) {
			return nil, common.Address{}, errors.Wrap(domain.ErrInvalidRequest, "recipient is the zero address")
		}
	}

	return amount, recipient, nil
}
