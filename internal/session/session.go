// Package session tracks the wallet connection and the currently selected account.
package session

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/clients"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"go.uber.org/zap"
)

type accountProvider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	WatchAccounts(ctx context.Context) (<-chan []common.Address, error)
}

// Session holds the connection state. The account is last-write-wins:
// every wallet notification replaces it and readers always see the latest value.
type Session struct {
	l        *zap.Logger
	provider accountProvider
	changes  *events.Broadcaster[events.AccountChanged]

	mu        sync.RWMutex
	account   common.Address
	connected bool

	watchOnce sync.Once
	watchCtx  context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a disconnected session. provider may be nil when no wallet is configured.
func New(l *zap.Logger, provider accountProvider, changes *events.Broadcaster[events.AccountChanged]) *Session {
	if l == nil {
		l = zap.NewNop()
	}
	if changes == nil {
		changes = events.NewBroadcaster[events.AccountChanged](16)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		l:        l.With(zap.String("component", "session")),
		provider: provider,
		changes:  changes,
		watchCtx: ctx,
		cancel:   cancel,
	}
}

// Connect asks the wallet for account access and selects the first granted account.
func (s *Session) Connect(ctx context.Context) (common.Address, error) {
	if s.provider == nil {
		return common.Address{}, errors.Wrap(domain.ErrProviderUnavailable, "no wallet provider configured")
	}

	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		if clients.IsUserRejected(err) {
			return common.Address{}, errors.Wrapf(domain.ErrUserRejected, "request accounts: %v", err)
		}
		return common.Address{}, errors.Wrapf(domain.ErrProviderUnavailable, "request accounts: %v", err)
	}
	if len(accounts) == 0 {
		return common.Address{}, errors.Wrap(domain.ErrUserRejected, "no account access granted")
	}

	account := accounts[0]
	s.mu.Lock()
	s.account = account
	s.connected = true
	s.mu.Unlock()

	s.l.Info("wallet connected", zap.String("account", account.Hex()))
	s.startWatch()

	return account, nil
}

// Account returns the selected account and whether the session is connected.
func (s *Session) Account() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.connected
}

// Connected reports whether an account is selected.
func (s *Session) Connected() bool {
	_, ok := s.Account()
	return ok
}

// Changes returns the account change broadcaster.
func (s *Session) Changes() *events.Broadcaster[events.AccountChanged] {
	return s.changes
}

// Close stops watching the wallet.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Session) startWatch() {
	s.watchOnce.Do(func() {
		ch, err := s.provider.WatchAccounts(s.watchCtx)
		if err != nil {
			s.l.Warn("account changes will not be tracked", zap.Error(err))
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watch(ch)
		}()
	})
}

func (s *Session) watch(ch <-chan []common.Address) {
	for {
		select {
		case <-s.watchCtx.Done():
			return
		case accounts, ok := <-ch:
			if !ok {
				return
			}
			s.apply(accounts)
		}
	}
}

func (s *Session) apply(accounts []common.Address) {
	var ev events.AccountChanged

	s.mu.Lock()
	if len(accounts) == 0 {
		s.account = common.Address{}
		s.connected = false
	} else {
		s.account = accounts[0]
		s.connected = true
		ev = events.AccountChanged{Account: accounts[0], Connected: true}
	}
	s.mu.Unlock()

	if ev.Connected {
		s.l.Info("account changed", zap.String("account", ev.Account.Hex()))
	} else {
		s.l.Info("wallet locked or disconnected")
	}
	s.changes.Publish(ev)
}
