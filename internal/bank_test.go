package internal

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/bankdapp/config"
	"github.com/vadiminshakov/bankdapp/internal/clients"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"go.uber.org/zap"
)

var (
	first  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	second = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func simulateConfig() config.Config {
	return config.Config{
		Platform:            config.PlatformSimulate,
		ContractAddress:     common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		ReceiptPollInterval: time.Millisecond,
		ReceiptTimeout:      time.Second,
		SimulateBalance:     decimal.NewFromInt(10),
		SimulateAccounts:    []common.Address{first, second},
		Console:             true,
	}
}

func TestNewBank_Simulate(t *testing.T) {
	b, err := NewBank(context.Background(), simulateConfig(), zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	account, err := b.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, account)

	snap, ok := b.Snapshot()
	require.True(t, ok)
	assert.True(t, snap.Spendable.IsZero())

	out, err := b.Deposit(context.Background(), "1.5")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusConfirmed, out.Status)

	snap, _ = b.Snapshot()
	assert.True(t, snap.Spendable.Equal(decimal.RequireFromString("1.5")))
}

func TestNewBank_UnsupportedPlatform(t *testing.T) {
	conf := simulateConfig()
	conf.Platform = "ledger"
	_, err := NewBank(context.Background(), conf, zap.NewNop())
	assert.Error(t, err)
}

func TestBank_FollowsAccountChanges(t *testing.T) {
	conf := simulateConfig()
	wallet, err := clients.NewSimulatedWallet(zap.NewNop(), conf.ContractAddress, decimal.NewFromInt(10).Shift(18).BigInt(), first, second)
	require.NoError(t, err)

	b, err := NewBankWithWallet(conf, wallet, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	feed := b.Subscribe()
	defer b.Unsubscribe(feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	_, err = b.Connect(ctx)
	require.NoError(t, err)

	wallet.SwitchAccount(second)

	assert.Eventually(t, func() bool {
		snap, ok := b.Snapshot()
		return ok && snap.Account == second
	}, time.Second, 5*time.Millisecond)

	account, ok := b.Account()
	assert.True(t, ok)
	assert.Equal(t, second, account)

	seen := map[events.StatusType]bool{}
	for _, r := range b.Status().EventsAfter(0) {
		seen[r.Event.Type] = true
	}
	assert.True(t, seen[events.StatusAccountChanged])
	assert.True(t, seen[events.StatusSnapshot])
}

func TestBank_ConnectRejected(t *testing.T) {
	conf := simulateConfig()
	wallet, err := clients.NewSimulatedWallet(zap.NewNop(), conf.ContractAddress, decimal.NewFromInt(1).Shift(18).BigInt(), first)
	require.NoError(t, err)

	b, err := NewBankWithWallet(conf, wallet, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	wallet.RejectNext()
	_, err = b.Connect(context.Background())
	assert.Equal(t, domain.CategoryUserRejected, domain.Category(err))

	_, err = b.Withdraw(context.Background(), "1")
	assert.Equal(t, domain.CategoryProviderUnavailable, domain.Category(err))
}
