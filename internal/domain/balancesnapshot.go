package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BalanceSnapshot is one consistent read of the tracked balances, in ether.
// All three amounts come from the same read batch.
type BalanceSnapshot struct {
	Account       common.Address  `json:"account"`
	Spendable     decimal.Decimal `json:"spendable"`
	FixedDeposit  decimal.Decimal `json:"fixed_deposit"`
	ContractTotal decimal.Decimal `json:"contract_total"`
	Timestamp     time.Time       `json:"ts"`
}

// NewBalanceSnapshot creates a new BalanceSnapshot. Amounts must be non-negative.
func NewBalanceSnapshot(account common.Address, spendable, fixedDeposit, contractTotal decimal.Decimal) (BalanceSnapshot, error) {
	for name, v := range map[string]decimal.Decimal{
		"spendable":      spendable,
		"fixed deposit":  fixedDeposit,
		"contract total": contractTotal,
	} {
		if v.IsNegative() {
			return BalanceSnapshot{}, fmt.Errorf("%s balance is negative: %s", name, v.String())
		}
	}

	return BalanceSnapshot{
		Account:       account,
		Spendable:     spendable,
		FixedDeposit:  fixedDeposit,
		ContractTotal: contractTotal,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// SameBalances reports whether s and other hold the same account and amounts,
// ignoring when they were read.
func (s BalanceSnapshot) SameBalances(other BalanceSnapshot) bool {
	return s.Account == other.Account &&
		s.Spendable.Equal(other.Spendable) &&
		s.FixedDeposit.Equal(other.FixedDeposit) &&
		s.ContractTotal.Equal(other.ContractTotal)
}
