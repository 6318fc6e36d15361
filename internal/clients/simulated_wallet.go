package clients

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/bankdapp/internal/contract"
	"go.uber.org/zap"
)

const transferGas = 21_000

var simulatedGas = map[string]uint64{
	contract.MethodDeposit:              43_512,
	contract.MethodWithdraw:             38_761,
	contract.MethodTransfer:             52_090,
	contract.MethodCreateFixedDeposit:   45_203,
	contract.MethodWithdrawFixedDeposit: 36_118,
}

// SimulatedWallet is an in-memory bank contract behind the wallet interface.
// Gas is accounted but never charged, so balances move by exact amounts.
type SimulatedWallet struct {
	mu       sync.Mutex
	l        *zap.Logger
	abi      abi.ABI
	contract common.Address

	accounts  []common.Address
	ether     map[common.Address]*big.Int
	spendable map[common.Address]*big.Int
	fixed     map[common.Address]*big.Int

	receipts     map[common.Hash]*types.Receipt
	pendingPolls map[common.Hash]int
	receiptDelay int
	txCount      uint64

	rejectNext bool
	readErr    error

	watchers    map[int]chan []common.Address
	nextWatcher int
}

// NewSimulatedWallet creates a ledger where every account starts with balance wei
// of native currency and nothing deposited. The first account is selected.
func NewSimulatedWallet(l *zap.Logger, contractAddr common.Address, balance *big.Int, accounts ...common.Address) (*SimulatedWallet, error) {
	if l == nil {
		l = zap.NewNop()
	}
	parsed, err := contract.BankABI()
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() < 0 {
		return nil, errors.New("initial balance must be non-negative")
	}

	w := &SimulatedWallet{
		l:            l,
		abi:          parsed,
		contract:     contractAddr,
		accounts:     append([]common.Address(nil), accounts...),
		ether:        make(map[common.Address]*big.Int),
		spendable:    make(map[common.Address]*big.Int),
		fixed:        make(map[common.Address]*big.Int),
		receipts:     make(map[common.Hash]*types.Receipt),
		pendingPolls: make(map[common.Hash]int),
		watchers:     make(map[int]chan []common.Address),
	}
	for _, a := range accounts {
		w.ether[a] = new(big.Int).Set(balance)
	}

	l.Info("simulate init",
		zap.String("contract", contractAddr.Hex()),
		zap.Int("accounts", len(accounts)),
		zap.String("balance_wei", balance.String()))

	return w, nil
}

// SwitchAccount replaces the exposed accounts and notifies watchers.
// No arguments means the wallet got locked.
func (w *SimulatedWallet) SwitchAccount(accounts ...common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.accounts = append([]common.Address(nil), accounts...)
	for _, ch := range w.watchers {
		select {
		case ch <- append([]common.Address(nil), accounts...):
		default:
			w.l.Warn("account watcher is slow, dropping notification")
		}
	}
}

// RejectNext makes the next prompt (account access or signature) fail with code 4001.
func (w *SimulatedWallet) RejectNext() {
	w.mu.Lock()
	w.rejectNext = true
	w.mu.Unlock()
}

// FailReads makes contract calls and balance reads return err until called with nil.
func (w *SimulatedWallet) FailReads(err error) {
	w.mu.Lock()
	w.readErr = err
	w.mu.Unlock()
}

// SetReceiptDelay hides every new receipt for the given number of polls.
func (w *SimulatedWallet) SetReceiptDelay(polls int) {
	w.mu.Lock()
	w.receiptDelay = polls
	w.mu.Unlock()
}

// Fund credits wei of native currency to account.
func (w *SimulatedWallet) Fund(account common.Address, wei *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	add(w.ether, account, wei)
}

func (w *SimulatedWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rejectNext {
		w.rejectNext = false
		return nil, &ProviderError{Code: CodeUserRejected, Message: "User rejected the request."}
	}
	return append([]common.Address(nil), w.accounts...), nil
}

func (w *SimulatedWallet) Accounts(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.accounts...), nil
}

func (w *SimulatedWallet) WatchAccounts(ctx context.Context) (<-chan []common.Address, error) {
	ch := make(chan []common.Address, 16)

	w.mu.Lock()
	id := w.nextWatcher
	w.nextWatcher++
	w.watchers[id] = ch
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.watchers[id]; ok {
			delete(w.watchers, id)
			close(ch)
		}
	}()

	return ch, nil
}

func (w *SimulatedWallet) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.readErr != nil {
		return nil, w.readErr
	}
	if msg.To == nil || *msg.To != w.contract {
		return nil, nil
	}
	if len(msg.Data) < 4 {
		return nil, reverted("fallback not supported")
	}

	method, err := w.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, reverted("unknown method")
	}

	switch method.Name {
	case contract.MethodGetBalance:
		return method.Outputs.Pack(get(w.spendable, msg.From))
	case contract.MethodGetFixedDepositBalance:
		return method.Outputs.Pack(get(w.fixed, msg.From))
	default:
		// a call to a mutating method only reports whether it would succeed
		if _, err := w.execute(msg, false); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func (w *SimulatedWallet) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.readErr != nil {
		return nil, w.readErr
	}
	return get(w.ether, account), nil
}

func (w *SimulatedWallet) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.execute(msg, false)
}

func (w *SimulatedWallet) SendTransaction(_ context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rejectNext {
		w.rejectNext = false
		return common.Hash{}, &ProviderError{Code: CodeUserRejected, Message: "User denied transaction signature."}
	}
	if !w.exposes(msg.From) {
		return common.Hash{}, &ProviderError{Code: CodeUnauthorized, Message: "account not authorized: " + msg.From.Hex()}
	}

	w.txCount++
	hash := crypto.Keccak256Hash(msg.From.Bytes(), new(big.Int).SetUint64(w.txCount).Bytes(), msg.Data)

	status := types.ReceiptStatusSuccessful
	gasUsed, err := w.execute(msg, false)
	switch {
	case err != nil:
		status = types.ReceiptStatusFailed
		gasUsed = msg.Gas
		w.l.Debug("simulated transaction reverted", zap.String("tx", hash.Hex()), zap.Error(err))
	case msg.Gas != 0 && msg.Gas < gasUsed:
		status = types.ReceiptStatusFailed
		gasUsed = msg.Gas
	default:
		if _, err := w.execute(msg, true); err != nil {
			return common.Hash{}, err
		}
	}

	w.receipts[hash] = &types.Receipt{
		Type:              types.DynamicFeeTxType,
		Status:            status,
		CumulativeGasUsed: gasUsed,
		GasUsed:           gasUsed,
		TxHash:            hash,
		BlockNumber:       new(big.Int).SetUint64(w.txCount),
		TransactionIndex:  0,
	}
	if w.receiptDelay > 0 {
		w.pendingPolls[hash] = w.receiptDelay
	}

	w.l.Debug("simulated transaction",
		zap.String("tx", hash.Hex()),
		zap.String("from", msg.From.Hex()),
		zap.Uint64("status", status))

	return hash, nil
}

func (w *SimulatedWallet) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := w.pendingPolls[hash]; n > 0 {
		w.pendingPolls[hash] = n - 1
		return nil, ethereum.NotFound
	}
	r, ok := w.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (w *SimulatedWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.watchers {
		delete(w.watchers, id)
		close(ch)
	}
}

// execute validates msg against the ledger and applies it when commit is set.
// Must be called with mu held.
func (w *SimulatedWallet) execute(msg ethereum.CallMsg, commit bool) (uint64, error) {
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	if msg.To == nil {
		return 0, reverted("contract creation is not supported")
	}
	if *msg.To != w.contract {
		if len(msg.Data) > 0 {
			return 0, reverted("no code at address")
		}
		if get(w.ether, msg.From).Cmp(value) < 0 {
			return 0, insufficientFunds()
		}
		if commit {
			sub(w.ether, msg.From, value)
			add(w.ether, *msg.To, value)
		}
		return transferGas, nil
	}

	if len(msg.Data) < 4 {
		return 0, reverted("fallback not supported")
	}
	method, err := w.abi.MethodById(msg.Data[:4])
	if err != nil {
		return 0, reverted("unknown method")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return 0, reverted("malformed calldata")
	}
	if value.Sign() > 0 && !method.IsPayable() {
		return 0, reverted("non-payable method cannot receive value")
	}
	if get(w.ether, msg.From).Cmp(value) < 0 {
		return 0, insufficientFunds()
	}

	switch method.Name {
	case contract.MethodDeposit, contract.MethodCreateFixedDeposit:
		if value.Sign() <= 0 {
			return 0, reverted("Amount must be greater than 0")
		}
		if commit {
			target := w.spendable
			if method.Name == contract.MethodCreateFixedDeposit {
				target = w.fixed
			}
			sub(w.ether, msg.From, value)
			add(w.ether, w.contract, value)
			add(target, msg.From, value)
		}

	case contract.MethodWithdraw:
		amount, ok := args[0].(*big.Int)
		if !ok {
			return 0, reverted("malformed amount")
		}
		if amount.Sign() <= 0 {
			return 0, reverted("Amount must be greater than 0")
		}
		if get(w.spendable, msg.From).Cmp(amount) < 0 {
			return 0, reverted("Insufficient balance")
		}
		if commit {
			sub(w.spendable, msg.From, amount)
			sub(w.ether, w.contract, amount)
			add(w.ether, msg.From, amount)
		}

	case contract.MethodTransfer:
		recipient, ok := args[0].(common.Address)
		if !ok {
			return 0, reverted("malformed recipient")
		}
		amount, ok := args[1].(*big.Int)
		if !ok {
			return 0, reverted("malformed amount")
		}
		if amount.Sign() <= 0 {
			return 0, reverted("Amount must be greater than 0")
		}
		if get(w.spendable, msg.From).Cmp(amount) < 0 {
			return 0, reverted("Insufficient balance")
		}
		if commit {
			sub(w.spendable, msg.From, amount)
			add(w.spendable, recipient, amount)
		}

	case contract.MethodWithdrawFixedDeposit:
		amount := get(w.fixed, msg.From)
		if amount.Sign() == 0 {
			return 0, reverted("No fixed deposit found")
		}
		if commit {
			delete(w.fixed, msg.From)
			sub(w.ether, w.contract, amount)
			add(w.ether, msg.From, amount)
		}

	default:
		// views cost nothing when sent as transactions
		return transferGas, nil
	}

	return simulatedGas[method.Name], nil
}

func (w *SimulatedWallet) exposes(account common.Address) bool {
	for _, a := range w.accounts {
		if a == account {
			return true
		}
	}
	return false
}

func reverted(reason string) error {
	return &ProviderError{Code: codeExecutionFailed, Message: "execution reverted: " + reason}
}

func insufficientFunds() error {
	return &ProviderError{Code: -32000, Message: "insufficient funds for gas * price + value"}
}

func get(m map[common.Address]*big.Int, a common.Address) *big.Int {
	if v, ok := m[a]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func add(m map[common.Address]*big.Int, a common.Address, delta *big.Int) {
	m[a] = new(big.Int).Add(get(m, a), delta)
}

func sub(m map[common.Address]*big.Int, a common.Address, delta *big.Int) {
	m[a] = new(big.Int).Sub(get(m, a), delta)
}
