// Package domain defines core data structures shared by the bank client.
package domain

import "fmt"

// OperationKind is one of the five state-changing contract actions.
type OperationKind int

const (
	OperationDeposit OperationKind = iota
	OperationWithdraw
	OperationTransfer
	OperationCreateFixedDeposit
	OperationWithdrawFixedDeposit
)

// operation kind string constants to avoid magic strings
const (
	kindStringDeposit              = "deposit"
	kindStringWithdraw             = "withdraw"
	kindStringTransfer             = "transfer"
	kindStringCreateFixedDeposit   = "create_fixed_deposit"
	kindStringWithdrawFixedDeposit = "withdraw_fixed_deposit"
)

// OperationKinds lists all kinds in display order.
var OperationKinds = []OperationKind{
	OperationDeposit,
	OperationWithdraw,
	OperationTransfer,
	OperationCreateFixedDeposit,
	OperationWithdrawFixedDeposit,
}

// String returns the string representation of the kind.
func (k OperationKind) String() string {
	switch k {
	case OperationDeposit:
		return kindStringDeposit
	case OperationWithdraw:
		return kindStringWithdraw
	case OperationTransfer:
		return kindStringTransfer
	case OperationCreateFixedDeposit:
		return kindStringCreateFixedDeposit
	case OperationWithdrawFixedDeposit:
		return kindStringWithdrawFixedDeposit
	default:
		return "unknown"
	}
}

// IsValid checks if the kind is one of the known operations.
func (k OperationKind) IsValid() bool {
	return k >= OperationDeposit && k <= OperationWithdrawFixedDeposit
}

// RequiresAmount reports whether the operation carries an amount.
func (k OperationKind) RequiresAmount() bool {
	return k.IsValid() && k != OperationWithdrawFixedDeposit
}

// RequiresRecipient reports whether the operation needs a recipient address.
func (k OperationKind) RequiresRecipient() bool {
	return k == OperationTransfer
}

// MarshalText encodes the kind as its string form.
func (k OperationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind from its string form.
func (k *OperationKind) UnmarshalText(text []byte) error {
	parsed, ok := ParseOperationKind(string(text))
	if !ok {
		return fmt.Errorf("unknown operation kind %q", text)
	}
	*k = parsed
	return nil
}

// ParseOperationKind converts a string into an OperationKind.
func ParseOperationKind(s string) (OperationKind, bool) {
	for _, k := range OperationKinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// OperationRequest describes one pending action as entered by the user.
// Amount is the decimal ether string as typed; Recipient is a hex address.
type OperationRequest struct {
	Kind      OperationKind
	Amount    string
	Recipient string
}
