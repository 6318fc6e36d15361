package internal

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/config"
	"github.com/vadiminshakov/bankdapp/internal/clients"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"github.com/vadiminshakov/bankdapp/internal/gateway"
	"github.com/vadiminshakov/bankdapp/internal/metrics"
	"github.com/vadiminshakov/bankdapp/internal/services/balancesync"
	"github.com/vadiminshakov/bankdapp/internal/services/operations"
	"github.com/vadiminshakov/bankdapp/internal/services/txrunner"
	"github.com/vadiminshakov/bankdapp/internal/session"
	"go.uber.org/zap"
)

const statusJournalSize = 512

// Bank represents a single client instance bound to one wallet and one contract.
type Bank struct {
	Config config.Config

	logger   *zap.Logger
	wallet   clients.Wallet
	session  *session.Session
	balances *balancesync.Service
	catalog  *operations.Catalog
	status   *events.Status
	metrics  *metrics.Registry

	changes    *events.Broadcaster[events.AccountChanged]
	accountSub chan events.AccountChanged
}

// NewBank creates the wallet provider for conf and wires the client around it.
func NewBank(ctx context.Context, conf config.Config, logger *zap.Logger) (*Bank, error) {
	wallet, err := newWallet(ctx, conf, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create wallet provider")
	}

	b, err := NewBankWithWallet(conf, wallet, logger)
	if err != nil {
		wallet.Close()
		return nil, err
	}
	return b, nil
}

// NewBankWithWallet wires the client around an existing wallet provider.
func NewBankWithWallet(conf config.Config, wallet clients.Wallet, logger *zap.Logger) (*Bank, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("platform", conf.Platform))

	gw, err := gateway.New(logger, wallet, gateway.Config{
		Contract:            conf.ContractAddress,
		ReceiptPollInterval: conf.ReceiptPollInterval,
		ReceiptTimeout:      conf.ReceiptTimeout,
		GasHeadroomPercent:  conf.GasHeadroomPercent,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create contract gateway")
	}
	logger = logger.With(zap.String("contract", gw.Contract().Hex()))

	changes := events.NewBroadcaster[events.AccountChanged](16)
	status := events.NewStatus(statusJournalSize)
	m := metrics.New()

	sess := session.New(logger, wallet, changes)
	balances := balancesync.New(logger, gw, sess, status, m)
	runner := txrunner.New(logger, gw, sess, balances, status, m)

	return &Bank{
		Config:     conf,
		logger:     logger,
		wallet:     wallet,
		session:    sess,
		balances:   balances,
		catalog:    operations.New(runner),
		status:     status,
		metrics:    m,
		changes:    changes,
		accountSub: changes.Subscribe(),
	}, nil
}

// Connect requests wallet access and loads the first snapshot.
// A failed first refresh is reported on the status channel and does not fail the connection.
func (b *Bank) Connect(ctx context.Context) (common.Address, error) {
	account, err := b.session.Connect(ctx)
	if err != nil {
		return common.Address{}, err
	}

	if _, err := b.balances.RefreshCurrent(ctx); err != nil {
		b.logger.Warn("initial balance refresh failed", zap.Error(err))
	}
	return account, nil
}

// Run follows account changes until ctx is cancelled.
func (b *Bank) Run(ctx context.Context) error {
	b.logger.Info("following wallet account changes")
	b.balances.Run(ctx, b.accountSub)
	return ctx.Err()
}

// Close releases the wallet provider.
func (b *Bank) Close() {
	b.session.Close()
	b.changes.Unsubscribe(b.accountSub)
	b.wallet.Close()
}

// Account returns the selected account.
func (b *Bank) Account() (common.Address, bool) {
	return b.session.Account()
}

// Snapshot returns the last consistent balance read.
func (b *Bank) Snapshot() (domain.BalanceSnapshot, bool) {
	return b.balances.Snapshot()
}

// Refresh re-reads the balances of the selected account.
func (b *Bank) Refresh(ctx context.Context) (domain.BalanceSnapshot, error) {
	return b.balances.RefreshCurrent(ctx)
}

func (b *Bank) Deposit(ctx context.Context, amount string) (domain.TransactionOutcome, error) {
	return b.catalog.Deposit(ctx, amount)
}

func (b *Bank) Withdraw(ctx context.Context, amount string) (domain.TransactionOutcome, error) {
	return b.catalog.Withdraw(ctx, amount)
}

func (b *Bank) Transfer(ctx context.Context, recipient, amount string) (domain.TransactionOutcome, error) {
	return b.catalog.Transfer(ctx, recipient, amount)
}

func (b *Bank) CreateFixedDeposit(ctx context.Context, amount string) (domain.TransactionOutcome, error) {
	return b.catalog.CreateFixedDeposit(ctx, amount)
}

func (b *Bank) WithdrawFixedDeposit(ctx context.Context) (domain.TransactionOutcome, error) {
	return b.catalog.WithdrawFixedDeposit(ctx)
}

// Execute runs any operation request.
func (b *Bank) Execute(ctx context.Context, req domain.OperationRequest) (domain.TransactionOutcome, error) {
	return b.catalog.Execute(ctx, req)
}

// Subscribe returns a live feed of status events.
func (b *Bank) Subscribe() chan events.StatusEvent {
	return b.status.Subscribe()
}

// Unsubscribe stops a feed returned by Subscribe.
func (b *Bank) Unsubscribe(ch chan events.StatusEvent) {
	b.status.Unsubscribe(ch)
}

// Status returns the status channel with its journal.
func (b *Bank) Status() *events.Status {
	return b.status
}

// Metrics returns the metrics registry.
func (b *Bank) Metrics() *metrics.Registry {
	return b.metrics
}
