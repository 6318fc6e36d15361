package operations

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/bankdapp/internal/clients"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"github.com/vadiminshakov/bankdapp/internal/gateway"
	"github.com/vadiminshakov/bankdapp/internal/services/balancesync"
	"github.com/vadiminshakov/bankdapp/internal/services/txrunner"
	"github.com/vadiminshakov/bankdapp/internal/session"
	"go.uber.org/zap"
)

var (
	bankAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type bench struct {
	wallet  *clients.SimulatedWallet
	session *session.Session
	sync    *balancesync.Service
	status  *events.Status
	catalog *Catalog
}

func newBench(t *testing.T) *bench {
	t.Helper()
	l := zap.NewNop()

	wallet, err := clients.NewSimulatedWallet(l, bankAddr, new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)), alice, bob)
	require.NoError(t, err)

	sess := session.New(l, wallet, nil)
	t.Cleanup(sess.Close)

	gw, err := gateway.New(l, wallet, gateway.Config{
		Contract:            bankAddr,
		ReceiptPollInterval: time.Millisecond,
		ReceiptTimeout:      time.Second,
	})
	require.NoError(t, err)

	status := events.NewStatus(64)
	sync := balancesync.New(l, gw, sess, status, nil)
	runner := txrunner.New(l, gw, sess, sync, status, nil)

	_, err = sess.Connect(context.Background())
	require.NoError(t, err)
	_, err = sync.RefreshCurrent(context.Background())
	require.NoError(t, err)

	return &bench{wallet: wallet, session: sess, sync: sync, status: status, catalog: New(runner)}
}

func (b *bench) snapshot(t *testing.T) domain.BalanceSnapshot {
	t.Helper()
	snap, ok := b.sync.Snapshot()
	require.True(t, ok)
	return snap
}

func (b *bench) countSince(index uint64, typ events.StatusType) int {
	n := 0
	for _, r := range b.status.EventsAfter(index) {
		if r.Event.Type == typ {
			n++
		}
	}
	return n
}

func (b *bench) lastIndex() uint64 {
	records := b.status.EventsAfter(0)
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Index
}

func TestWithdrawWithoutBalanceFailsEstimation(t *testing.T) {
	b := newBench(t)
	before := b.snapshot(t)
	mark := b.lastIndex()

	out, err := b.catalog.Withdraw(context.Background(), "1.0")
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusFailed, out.Status)
	assert.True(t, errors.Is(out.Err, domain.ErrEstimationFailed))
	assert.Equal(t, before, b.snapshot(t))
	assert.Zero(t, b.countSince(mark, events.StatusSnapshot))
}

func TestDepositConfirmedRefreshesOnce(t *testing.T) {
	b := newBench(t)
	before := b.snapshot(t)
	mark := b.lastIndex()

	out, err := b.catalog.Deposit(context.Background(), "2.5")
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusConfirmed, out.Status)
	assert.NoError(t, out.SyncErr)

	after := b.snapshot(t)
	assert.True(t, after.Spendable.Equal(before.Spendable.Add(decimal.RequireFromString("2.5"))))
	assert.True(t, after.ContractTotal.Equal(before.ContractTotal.Add(decimal.RequireFromString("2.5"))))
	assert.Equal(t, 1, b.countSince(mark, events.StatusSnapshot))
	assert.Equal(t, 1, b.countSince(mark, events.StatusOutcome))
}

func TestDeclinedTransferIsRejected(t *testing.T) {
	b := newBench(t)
	_, err := b.catalog.Deposit(context.Background(), "3")
	require.NoError(t, err)

	before := b.snapshot(t)
	mark := b.lastIndex()

	b.wallet.RejectNext()
	out, err := b.catalog.Transfer(context.Background(), bob.Hex(), "1")
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusRejected, out.Status)
	assert.Equal(t, domain.CategoryUserRejected, domain.Category(out.Err))
	assert.Equal(t, before, b.snapshot(t))
	assert.Zero(t, b.countSince(mark, events.StatusSnapshot))
}

func TestFixedDepositLifecycle(t *testing.T) {
	b := newBench(t)
	ctx := context.Background()

	out, err := b.catalog.CreateFixedDeposit(ctx, "4")
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusConfirmed, out.Status)
	assert.True(t, b.snapshot(t).FixedDeposit.Equal(decimal.NewFromInt(4)))

	out, err = b.catalog.WithdrawFixedDeposit(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusConfirmed, out.Status)
	assert.True(t, b.snapshot(t).FixedDeposit.IsZero())
	assert.True(t, b.snapshot(t).ContractTotal.IsZero())
}

func TestTransferMovesSpendable(t *testing.T) {
	b := newBench(t)
	ctx := context.Background()

	_, err := b.catalog.Deposit(ctx, "5")
	require.NoError(t, err)
	out, err := b.catalog.Transfer(ctx, bob.Hex(), "1.5")
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusConfirmed, out.Status)

	assert.True(t, b.snapshot(t).Spendable.Equal(decimal.RequireFromString("3.5")))

	bobs, err := b.sync.Refresh(ctx, bob)
	require.NoError(t, err)
	assert.True(t, bobs.Spendable.Equal(decimal.RequireFromString("1.5")))
}

func TestRefreshIsIdempotent(t *testing.T) {
	b := newBench(t)
	ctx := context.Background()
	_, err := b.catalog.Deposit(ctx, "1.25")
	require.NoError(t, err)

	first, err := b.sync.RefreshCurrent(ctx)
	require.NoError(t, err)
	second, err := b.sync.RefreshCurrent(ctx)
	require.NoError(t, err)
	assert.True(t, first.SameBalances(second))
}

func TestSyncFailureAfterConfirmation(t *testing.T) {
	b := newBench(t)
	before := b.snapshot(t)

	// reads fail right after the transaction is sent
	failing := &failAfterSend{SimulatedWallet: b.wallet}
	gw, err := gateway.New(zap.NewNop(), failing, gateway.Config{Contract: bankAddr, ReceiptPollInterval: time.Millisecond})
	require.NoError(t, err)
	runner := txrunner.New(zap.NewNop(), gw, b.session, b.sync, b.status, nil)

	out, err := New(runner).Deposit(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusConfirmed, out.Status)
	assert.True(t, errors.Is(out.SyncErr, domain.ErrSync))
	assert.Equal(t, before, b.snapshot(t))
}

// failAfterSend breaks reads once a transaction was sent.
type failAfterSend struct {
	*clients.SimulatedWallet
}

func (f *failAfterSend) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	hash, err := f.SimulatedWallet.SendTransaction(ctx, msg)
	if err == nil {
		f.SimulatedWallet.FailReads(errors.New("node unreachable"))
	}
	return hash, err
}

type runnerMock struct {
	mock.Mock
}

func (r *runnerMock) Run(ctx context.Context, req domain.OperationRequest, build txrunner.CallBuilder) (domain.TransactionOutcome, error) {
	args := r.Called(ctx, req)
	return args.Get(0).(domain.TransactionOutcome), args.Error(1)
}

func TestExecute_UnknownKind(t *testing.T) {
	r := &runnerMock{}
	_, err := New(r).Execute(context.Background(), domain.OperationRequest{Kind: domain.OperationKind(9)})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
	r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestBuilders(t *testing.T) {
	amount := big.NewInt(1000)
	assert.Equal(t, gateway.Deposit(amount), builders[domain.OperationDeposit](amount, bob))
	assert.Equal(t, gateway.Withdraw(amount), builders[domain.OperationWithdraw](amount, bob))
	assert.Equal(t, gateway.Transfer(bob, amount), builders[domain.OperationTransfer](amount, bob))
	assert.Equal(t, gateway.CreateFixedDeposit(amount), builders[domain.OperationCreateFixedDeposit](amount, bob))
	assert.Equal(t, gateway.WithdrawFixedDeposit(), builders[domain.OperationWithdrawFixedDeposit](nil, common.Address{}))
	assert.Len(t, builders, len(domain.OperationKinds))
}
