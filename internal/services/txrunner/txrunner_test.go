package txrunner

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/bankdapp/internal/domain"
	"github.com/vadiminshakov/bankdapp/internal/events"
	"github.com/vadiminshakov/bankdapp/internal/gateway"
	"github.com/vadiminshakov/bankdapp/internal/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	txHash = common.HexToHash("0x01")
)

type gatewayMock struct {
	mock.Mock
	// closed to let Send return
	gate chan struct{}
	// receives once Send is entered
	sending chan struct{}
}

func (g *gatewayMock) EstimateCost(ctx context.Context, from common.Address, call gateway.Call) (uint64, error) {
	args := g.Called(ctx, from, call)
	return args.Get(0).(uint64), args.Error(1)
}

func (g *gatewayMock) Send(ctx context.Context, from common.Address, call gateway.Call, gas uint64) (common.Hash, error) {
	if g.sending != nil {
		g.sending <- struct{}{}
	}
	if g.gate != nil {
		<-g.gate
	}
	args := g.Called(ctx, from, call, gas)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (g *gatewayMock) WaitMined(ctx context.Context, hash common.Hash) (*gateway.Receipt, error) {
	args := g.Called(ctx, hash)
	r, _ := args.Get(0).(*gateway.Receipt)
	return r, args.Error(1)
}

type accountStub struct {
	mu        sync.Mutex
	account   common.Address
	connected bool
}

func (a *accountStub) Account() (common.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account, a.connected
}

func (a *accountStub) set(acc common.Address) {
	a.mu.Lock()
	a.account = acc
	a.mu.Unlock()
}

type refresherStub struct {
	calls    atomic.Int32
	accounts *accountStub
	seen     []common.Address
	err      error
	mu       sync.Mutex
}

func (r *refresherStub) RefreshCurrent(context.Context) (domain.BalanceSnapshot, error) {
	r.calls.Add(1)
	acc, _ := r.accounts.Account()
	r.mu.Lock()
	r.seen = append(r.seen, acc)
	r.mu.Unlock()
	if r.err != nil {
		return domain.BalanceSnapshot{}, r.err
	}
	return domain.BalanceSnapshot{Account: acc}, nil
}

type fixture struct {
	gw       *gatewayMock
	accounts *accountStub
	refresh  *refresherStub
	status   *events.Status
	metrics  *metrics.Registry
	runner   *Runner
}

func newFixture() *fixture {
	f := &fixture{
		gw:       &gatewayMock{},
		accounts: &accountStub{account: alice, connected: true},
		status:   events.NewStatus(16),
		metrics:  metrics.New(),
	}
	f.refresh = &refresherStub{accounts: f.accounts}
	f.runner = New(zap.NewNop(), f.gw, f.accounts, f.refresh, f.status, f.metrics)
	return f
}

func depositCall(amount *big.Int, _ common.Address) gateway.Call {
	return gateway.Deposit(amount)
}

func withdrawCall(amount *big.Int, _ common.Address) gateway.Call {
	return gateway.Withdraw(amount)
}

func TestRun_Confirmed(t *testing.T) {
	f := newFixture()
	amount := big.NewInt(2_500_000_000_000_000_000)
	f.gw.On("EstimateCost", mock.Anything, alice, gateway.Deposit(amount)).Return(uint64(45_000), nil)
	f.gw.On("Send", mock.Anything, alice, gateway.Deposit(amount), uint64(45_000)).Return(txHash, nil)
	f.gw.On("WaitMined", mock.Anything, txHash).Return(&gateway.Receipt{TxHash: txHash, GasUsed: 43_000}, nil)

	out, err := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "2.5"}, depositCall)
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusConfirmed, out.Status)
	assert.NoError(t, out.Err)
	assert.NoError(t, out.SyncErr)
	assert.Equal(t, txHash.Hex(), out.TxHash)
	assert.Equal(t, uint64(43_000), out.GasUsed)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, int32(1), f.refresh.calls.Load())

	last, ok := f.status.Latest()
	require.True(t, ok)
	assert.Equal(t, events.StatusOutcome, last.Type)
	assert.Equal(t, domain.TxStatusConfirmed, last.Outcome.Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OutcomesTotal().WithLabelValues("deposit", "confirmed")))
	assert.False(t, f.runner.InFlight(domain.OperationDeposit))
}

func TestRun_LogsStates(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := newFixture()
	f.runner = New(zap.New(core), f.gw, f.accounts, f.refresh, f.status, f.metrics)
	f.gw.On("EstimateCost", mock.Anything, alice, mock.Anything).Return(uint64(45_000), nil)
	f.gw.On("Send", mock.Anything, alice, mock.Anything, uint64(45_000)).Return(txHash, nil)
	f.gw.On("WaitMined", mock.Anything, txHash).Return(&gateway.Receipt{TxHash: txHash, GasUsed: 43_000}, nil)

	_, err := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "1"}, depositCall)
	require.NoError(t, err)

	var states []string
	for _, e := range logs.All() {
		states = append(states, e.ContextMap()["state"].(string))
	}
	assert.Equal(t, []string{"estimating", "awaiting_signature", "submitted", "confirmed"}, states)

	finished := logs.FilterMessage("transaction finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, zapcore.InfoLevel, finished[0].Level)
	assert.Equal(t, uint64(43_000), finished[0].ContextMap()["gas_used"])
}

func TestRun_EstimationFailed(t *testing.T) {
	f := newFixture()
	f.gw.On("EstimateCost", mock.Anything, alice, mock.Anything).
		Return(uint64(0), errors.Wrap(domain.ErrEstimationFailed, "execution reverted: Insufficient balance"))

	out, err := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationWithdraw, Amount: "1"}, withdrawCall)
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusFailed, out.Status)
	assert.Equal(t, domain.CategoryEstimationFailed, domain.Category(out.Err))
	assert.Zero(t, f.refresh.calls.Load())
	f.gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_Rejected(t *testing.T) {
	f := newFixture()
	f.gw.On("EstimateCost", mock.Anything, alice, mock.Anything).Return(uint64(50_000), nil)
	f.gw.On("Send", mock.Anything, alice, mock.Anything, uint64(50_000)).
		Return(common.Hash{}, errors.Wrap(domain.ErrUserRejected, "User denied transaction signature."))

	transfer := func(amount *big.Int, recipient common.Address) gateway.Call { return gateway.Transfer(recipient, amount) }
	out, err := f.runner.Run(context.Background(), domain.OperationRequest{
		Kind: domain.OperationTransfer, Amount: "1", Recipient: bob.Hex(),
	}, transfer)
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusRejected, out.Status)
	assert.True(t, errors.Is(out.Err, domain.ErrUserRejected))
	assert.Zero(t, f.refresh.calls.Load())
	f.gw.AssertNotCalled(t, "WaitMined", mock.Anything, mock.Anything)
}

func TestRun_SubmissionFailed(t *testing.T) {
	f := newFixture()
	f.gw.On("EstimateCost", mock.Anything, alice, mock.Anything).Return(uint64(50_000), nil)
	f.gw.On("Send", mock.Anything, alice, mock.Anything, uint64(50_000)).Return(txHash, nil)
	f.gw.On("WaitMined", mock.Anything, txHash).Return(nil, errors.Wrap(domain.ErrSubmissionFailed, "reverted"))

	out, err := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationWithdraw, Amount: "1"}, withdrawCall)
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusFailed, out.Status)
	assert.Equal(t, domain.CategorySubmissionFailed, domain.Category(out.Err))
	assert.Equal(t, txHash.Hex(), out.TxHash)
	assert.Zero(t, f.refresh.calls.Load())
}

func TestRun_SyncErrorKeepsConfirmed(t *testing.T) {
	f := newFixture()
	f.refresh.err = domain.NewSyncError(errors.Wrap(domain.ErrQueryFailed, "node down"))
	f.gw.On("EstimateCost", mock.Anything, alice, mock.Anything).Return(uint64(50_000), nil)
	f.gw.On("Send", mock.Anything, alice, mock.Anything, uint64(50_000)).Return(txHash, nil)
	f.gw.On("WaitMined", mock.Anything, txHash).Return(&gateway.Receipt{TxHash: txHash}, nil)

	out, err := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "1"}, depositCall)
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusConfirmed, out.Status)
	assert.NoError(t, out.Err)
	assert.True(t, errors.Is(out.SyncErr, domain.ErrSync))
}

func TestRun_ValidationWithoutProviderCalls(t *testing.T) {
	tests := []struct {
		name string
		req  domain.OperationRequest
	}{
		{name: "empty amount", req: domain.OperationRequest{Kind: domain.OperationDeposit}},
		{name: "zero amount", req: domain.OperationRequest{Kind: domain.OperationWithdraw, Amount: "0"}},
		{name: "negative amount", req: domain.OperationRequest{Kind: domain.OperationCreateFixedDeposit, Amount: "-1"}},
		{name: "garbage amount", req: domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "1,5"}},
		{name: "bad recipient", req: domain.OperationRequest{Kind: domain.OperationTransfer, Amount: "1", Recipient: "bob"}},
		{name: "zero recipient", req: domain.OperationRequest{Kind: domain.OperationTransfer, Amount: "1", Recipient: common.Address{}.Hex()}},
		{name: "unknown kind", req: domain.OperationRequest{Kind: domain.OperationKind(42), Amount: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.runner.Run(context.Background(), tt.req, depositCall)
			require.Error(t, err)
			assert.Equal(t, domain.CategoryInvalidRequest, domain.Category(err))
			f.gw.AssertNotCalled(t, "EstimateCost", mock.Anything, mock.Anything, mock.Anything)
			_, published := f.status.Latest()
			assert.False(t, published)
		})
	}
}

func TestRun_NotConnected(t *testing.T) {
	f := newFixture()
	f.accounts.connected = false

	_, err := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "1"}, depositCall)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
	f.gw.AssertNotCalled(t, "EstimateCost", mock.Anything, mock.Anything, mock.Anything)
	assert.False(t, f.runner.InFlight(domain.OperationDeposit))
}

func TestRun_InFlightGuard(t *testing.T) {
	f := newFixture()
	f.gw.gate = make(chan struct{})
	f.gw.On("EstimateCost", mock.Anything, alice, mock.Anything).Return(uint64(50_000), nil)
	f.gw.On("Send", mock.Anything, alice, mock.Anything, uint64(50_000)).Return(txHash, nil)
	f.gw.On("WaitMined", mock.Anything, txHash).Return(&gateway.Receipt{TxHash: txHash}, nil)

	first := make(chan domain.TransactionOutcome)
	go func() {
		out, _ := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "1"}, depositCall)
		first <- out
	}()

	require.Eventually(t, func() bool { return f.runner.InFlight(domain.OperationDeposit) }, time.Second, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InFlight().WithLabelValues("deposit")))

	_, err := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "1"}, depositCall)
	assert.True(t, errors.Is(err, domain.ErrActionInFlight))

	// another kind is not blocked by the running deposit
	second := make(chan domain.TransactionOutcome)
	go func() {
		out, _ := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationWithdraw, Amount: "1"}, withdrawCall)
		second <- out
	}()
	require.Eventually(t, func() bool { return f.runner.InFlight(domain.OperationWithdraw) }, time.Second, time.Millisecond)

	close(f.gw.gate)
	assert.Equal(t, domain.TxStatusConfirmed, (<-first).Status)
	assert.Equal(t, domain.TxStatusConfirmed, (<-second).Status)
	assert.False(t, f.runner.InFlight(domain.OperationDeposit))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.InFlight().WithLabelValues("deposit")))
}

func TestRun_AccountChangeMidFlight(t *testing.T) {
	f := newFixture()
	f.gw.gate = make(chan struct{})
	f.gw.sending = make(chan struct{}, 1)
	f.gw.On("EstimateCost", mock.Anything, alice, mock.Anything).Return(uint64(50_000), nil)
	f.gw.On("Send", mock.Anything, alice, mock.Anything, uint64(50_000)).Return(txHash, nil)
	f.gw.On("WaitMined", mock.Anything, txHash).Return(&gateway.Receipt{TxHash: txHash}, nil)

	done := make(chan domain.TransactionOutcome)
	go func() {
		out, _ := f.runner.Run(context.Background(), domain.OperationRequest{Kind: domain.OperationDeposit, Amount: "1"}, depositCall)
		done <- out
	}()

	select {
	case <-f.gw.sending:
	case <-time.After(time.Second):
		t.Fatal("transaction was not sent")
	}
	f.accounts.set(bob)
	close(f.gw.gate)

	out := <-done
	assert.Equal(t, domain.TxStatusConfirmed, out.Status)
	// the transaction was sent from the account selected at estimation
	f.gw.AssertCalled(t, "Send", mock.Anything, alice, mock.Anything, uint64(50_000))
	// the refresh uses the account selected when it runs
	assert.Equal(t, []common.Address{bob}, f.refresh.seen)
}

func TestValidate(t *testing.T) {
	amount, recipient, err := Validate(domain.OperationRequest{Kind: domain.OperationTransfer, Amount: "0.5", Recipient: " " + bob.Hex() + " "})
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", amount.String())
	assert.Equal(t, bob, recipient)

	amount, _, err = Validate(domain.OperationRequest{Kind: domain.OperationWithdrawFixedDeposit, Amount: "ignored"})
	require.NoError(t, err)
	assert.Nil(t, amount)
}
