package portfolio

import "strings"

// Wallet holds the balance of exactly one currency. The balance is never
// negative: both operations validate fully before mutating.
type Wallet struct {
	CurrencyCode string  `json:"currency_code"`
	Balance      float64 `json:"balance"`
}

func NewWallet(code string) *Wallet {
	return &Wallet{CurrencyCode: strings.ToUpper(code)}
}

func (w *Wallet) Deposit(amount float64) error {
	if amount <= 0 {
		return &InvalidAmountError{Amount: amount}
	}
	w.Balance += amount
	return nil
}

func (w *Wallet) Withdraw(amount float64) error {
	if amount <= 0 {
		return &InvalidAmountError{Amount: amount}
	}
	if amount > w.Balance {
		return &InsufficientFundsError{
			Code:      w.CurrencyCode,
			Available: w.Balance,
			Required:  amount,
		}
	}
	w.Balance -= amount
	return nil
}
