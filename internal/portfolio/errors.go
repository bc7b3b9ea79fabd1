package portfolio

import "fmt"

type InvalidAmountError struct {
	Amount float64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("amount must be positive, got %v", e.Amount)
}

type InsufficientFundsError struct {
	Code      string
	Available float64
	Required  float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %.4f %s, required %.4f %s",
		e.Available, e.Code, e.Required, e.Code)
}

type DuplicateWalletError struct {
	Code string
}

func (e *DuplicateWalletError) Error() string {
	return fmt.Sprintf("wallet '%s' already exists", e.Code)
}
