package portfolio

import (
	"sort"
	"strings"
)

// Portfolio is the full set of one user's wallets, at most one per currency
// code. Wallets are created lazily on the first operation that touches a new
// currency.
type Portfolio struct {
	UserID  int                `json:"user_id"`
	Wallets map[string]*Wallet `json:"wallets"`
}

func New(userID int) *Portfolio {
	return &Portfolio{
		UserID:  userID,
		Wallets: make(map[string]*Wallet),
	}
}

// Wallet looks a wallet up by code without creating it.
func (p *Portfolio) Wallet(code string) (*Wallet, bool) {
	w, ok := p.Wallets[strings.ToUpper(code)]
	return w, ok
}

// AddWallet creates a zero-balance wallet for code; creating one for a code
// already present is a caller error.
func (p *Portfolio) AddWallet(code string) (*Wallet, error) {
	code = strings.ToUpper(code)
	if _, exists := p.Wallets[code]; exists {
		return nil, &DuplicateWalletError{Code: code}
	}
	w := NewWallet(code)
	p.Wallets[code] = w
	return w, nil
}

// EnsureWallet returns the wallet for code, creating it with a zero balance
// when absent. Idempotent: two calls for one code yield the same wallet.
func (p *Portfolio) EnsureWallet(code string) *Wallet {
	code = strings.ToUpper(code)
	if w, exists := p.Wallets[code]; exists {
		return w
	}
	w := NewWallet(code)
	p.Wallets[code] = w
	return w
}

// Codes returns the portfolio's currency codes in ascending order. This is
// the portfolio's iteration order wherever "first wallet" matters, since map
// order is randomized.
func (p *Portfolio) Codes() []string {
	codes := make([]string, 0, len(p.Wallets))
	for code := range p.Wallets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
