package domain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBalanceSnapshot(t *testing.T) {
	account := common.HexToAddress("0x3333333333333333333333333333333333333333")
	one := decimal.NewFromInt(1)

	snap, err := NewBalanceSnapshot(account, one, decimal.Zero, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, account, snap.Account)
	assert.False(t, snap.Timestamp.IsZero())

	_, err = NewBalanceSnapshot(account, one, decimal.NewFromInt(-1), one)
	assert.Error(t, err)
}

func TestSameBalances(t *testing.T) {
	account := common.HexToAddress("0x3333333333333333333333333333333333333333")

	a, err := NewBalanceSnapshot(account, decimal.RequireFromString("2.50"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	b, err := NewBalanceSnapshot(account, decimal.RequireFromString("2.5"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	c, err := NewBalanceSnapshot(common.Address{}, decimal.RequireFromString("2.5"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, a.SameBalances(b))
	assert.False(t, a.SameBalances(c))
}
