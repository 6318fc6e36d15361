// Package contract holds the static interface description of the bank contract.
package contract

import (
	"bytes"
	_ "embed"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

// Method names exposed by the bank contract.
const (
	MethodGetBalance             = "getBalance"
	MethodGetFixedDepositBalance = "getFixedDepositBalance"
	MethodDeposit                = "deposit"
	MethodWithdraw               = "withdraw"
	MethodTransfer               = "transfer"
	MethodCreateFixedDeposit     = "createFixedDeposit"
	MethodWithdrawFixedDeposit   = "withdrawFD"
)

//go:embed bank.abi.json
var bankABI []byte

var (
	parsedOnce sync.Once
	parsed     abi.ABI
	parseErr   error
)

// BankABI returns the parsed contract ABI.
func BankABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsed, parseErr = abi.JSON(bytes.NewReader(bankABI))
		if parseErr != nil {
			parseErr = errors.Wrap(parseErr, "parse bank abi")
		}
	})
	return parsed, parseErr
}
