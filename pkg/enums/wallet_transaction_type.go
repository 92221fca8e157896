package enums

import "fmt"

// WalletTransactionType classifies a money movement on a user wallet.
type WalletTransactionType string

const (
	WalletTransactionTypeDebit   WalletTransactionType = "debit"
	WalletTransactionTypeDeposit WalletTransactionType = "deposit"
	WalletTransactionTypeRefund  WalletTransactionType = "refund"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionTypeDebit,
	WalletTransactionTypeDeposit,
	WalletTransactionTypeRefund,
}

func (t WalletTransactionType) String() string { return string(t) }

// IsValid reports whether the value matches the canonical transaction type enum.
func (t WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether the movement increases the wallet balance.
func (t WalletTransactionType) IsCredit() bool {
	return t == WalletTransactionTypeDeposit || t == WalletTransactionTypeRefund
}

// ParseWalletTransactionType converts raw input into WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}
