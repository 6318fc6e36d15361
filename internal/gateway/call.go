package gateway

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vadiminshakov/bankdapp/internal/contract"
)

// Call is a mutating contract call: method, ABI arguments and attached native value.
type Call struct {
	Method string
	Args   []interface{}
	Value  *big.Int
}

// Deposit credits the attached value to the caller's spendable balance.
func Deposit(amount *big.Int) Call {
	return Call{Method: contract.MethodDeposit, Value: amount}
}

// Withdraw pays amount from the spendable balance back to the caller.
func Withdraw(amount *big.Int) Call {
	return Call{Method: contract.MethodWithdraw, Args: []interface{}{amount}}
}

// Transfer moves amount of spendable balance to recipient inside the contract.
func Transfer(recipient common.Address, amount *big.Int) Call {
	return Call{Method: contract.MethodTransfer, Args: []interface{}{recipient, amount}}
}

// CreateFixedDeposit locks the attached value as a fixed deposit.
func CreateFixedDeposit(amount *big.Int) Call {
	return Call{Method: contract.MethodCreateFixedDeposit, Value: amount}
}

// WithdrawFixedDeposit releases the caller's fixed deposit.
func WithdrawFixedDeposit() Call {
	return Call{Method: contract.MethodWithdrawFixedDeposit}
}
