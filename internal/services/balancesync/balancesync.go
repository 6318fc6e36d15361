// Package balancesync keeps the balance snapshot of the selected account up to date.
package balancesync

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"github.com/vadiminshakov/bankdapp/internal/metrics"
	"github.com/vadiminshakov/bankdapp/pkg/units"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type balanceReader interface {
	SpendableBalance(ctx context.Context, account common.Address) (*big.Int, error)
	FixedDepositBalance(ctx context.Context, account common.Address) (*big.Int, error)
	ContractTotalBalance(ctx context.Context) (*big.Int, error)
}

type accountSource interface {
	Account() (common.Address, bool)
}

type statusPublisher interface {
	Publish(ev events.StatusEvent)
}

// Service replaces the snapshot only when a whole read batch succeeds,
// so readers never see balances mixed from two reads.
type Service struct {
	l        *zap.Logger
	reader   balanceReader
	accounts accountSource
	status   statusPublisher
	metrics  *metrics.Registry

	snapshot atomic.Pointer[domain.BalanceSnapshot]
}

// New creates the service. metrics may be nil.
func New(l *zap.Logger, reader balanceReader, accounts accountSource, status statusPublisher, m *metrics.Registry) *Service {
	if l == nil {
		l = zap.NewNop()
	}
	return &Service{
		l:        l.With(zap.String("component", "balancesync")),
		reader:   reader,
		accounts: accounts,
		status:   status,
		metrics:  m,
	}
}

// Snapshot returns the last successfully read snapshot.
func (s *Service) Snapshot() (domain.BalanceSnapshot, bool) {
	snap := s.snapshot.Load()
	if snap == nil {
		return domain.BalanceSnapshot{}, false
	}
	return *snap, true
}

// Refresh reads all balances of account concurrently. On any failure the
// previous snapshot is kept and the returned error matches domain.ErrSync.
func (s *Service) Refresh(ctx context.Context, account common.Address) (domain.BalanceSnapshot, error) {
	var spendable, fixedDeposit, total *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.reader.SpendableBalance(gctx, account)
		spendable = v
		return err
	})
	g.Go(func() error {
		v, err := s.reader.FixedDepositBalance(gctx, account)
		fixedDeposit = v
		return err
	})
	g.Go(func() error {
		v, err := s.reader.ContractTotalBalance(gctx)
		total = v
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.BalanceSnapshot{}, s.fail(account, err)
	}

	snap, err := domain.NewBalanceSnapshot(
		account,
		units.ToDecimalAmount(spendable),
		units.ToDecimalAmount(fixedDeposit),
		units.ToDecimalAmount(total),
	)
	if err != nil {
		return domain.BalanceSnapshot{}, s.fail(account, err)
	}

	s.snapshot.Store(&snap)
	s.metrics.ObserveRefresh(true)
	if s.status != nil {
		s.status.Publish(events.SnapshotEvent(snap))
	}

	s.l.Debug("balances refreshed",
		zap.String("account", account.Hex()),
		zap.String("spendable", snap.Spendable.String()),
		zap.String("fixed_deposit", snap.FixedDeposit.String()),
		zap.String("contract_total", snap.ContractTotal.String()))

	return snap, nil
}

// RefreshCurrent refreshes the account selected at call time.
func (s *Service) RefreshCurrent(ctx context.Context) (domain.BalanceSnapshot, error) {
	account, ok := s.accounts.Account()
	if !ok {
		return domain.BalanceSnapshot{}, s.fail(common.Address{}, errors.Wrap(domain.ErrProviderUnavailable, "wallet not connected"))
	}
	return s.Refresh(ctx, account)
}

// Run refreshes balances on every account change until ctx is done or changes is closed.
func (s *Service) Run(ctx context.Context, changes <-chan events.AccountChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			if s.status != nil {
				s.status.Publish(events.AccountChangedEvent(ev))
			}
			if !ev.Connected {
				continue
			}
			// errors are already published on the status channel
			_, _ = s.RefreshCurrent(ctx)
		}
	}
}

func (s *Service) fail(account common.Address, cause error) error {
	err := domain.NewSyncError(cause)

	s.l.Warn("balance refresh failed", zap.String("account", account.Hex()), zap.Error(cause))
	s.metrics.ObserveRefresh(false)
	if s.status != nil {
		s.status.Publish(events.SyncErrorEvent(account, err))
	}

	return err
}
