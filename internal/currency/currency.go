package currency

import (
	"fmt"
	"strings"
	"sync"
)

// Kind tags a currency as state-issued money or a crypto asset. No other
// behavior depends on the kind beyond display metadata.
type Kind string

const (
	Fiat   Kind = "FIAT"
	Crypto Kind = "CRYPTO"
)

// Currency is an immutable catalog entry. For Fiat currencies Country is set,
// for Crypto currencies Algorithm is set.
type Currency struct {
	Code      string
	Name      string
	Kind      Kind
	Country   string
	Algorithm string
}

func (c Currency) DisplayInfo() string {
	switch c.Kind {
	case Crypto:
		return fmt.Sprintf("[CRYPTO] %s — %s (Algo: %s)", c.Code, c.Name, c.Algorithm)
	default:
		return fmt.Sprintf("[FIAT] %s — %s (Issuing: %s)", c.Code, c.Name, c.Country)
	}
}

type UnknownCurrencyError struct {
	Code string
}

func (e *UnknownCurrencyError) Error() string {
	return fmt.Sprintf("unknown currency '%s'", e.Code)
}

var (
	mu       sync.RWMutex
	registry = map[string]Currency{}
)

// Register adds entries to the process-wide catalog. Codes are upper-cased;
// re-registering an existing code is a no-op, so repeated initialization never
// duplicates or resets entries.
func Register(currencies ...Currency) {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range currencies {
		c.Code = strings.ToUpper(c.Code)
		if _, exists := registry[c.Code]; exists {
			continue
		}
		registry[c.Code] = c
	}
}

// Resolve looks a code up in the catalog, case-insensitively.
func Resolve(code string) (Currency, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[strings.ToUpper(code)]
	if !ok {
		return Currency{}, &UnknownCurrencyError{Code: strings.ToUpper(code)}
	}
	return c, nil
}

// Codes returns every registered code, order unspecified.
func Codes() []string {
	mu.RLock()
	defer mu.RUnlock()
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

func init() {
	Register(
		Currency{Code: "USD", Name: "US Dollar", Kind: Fiat, Country: "United States"},
		Currency{Code: "EUR", Name: "Euro", Kind: Fiat, Country: "Eurozone"},
		Currency{Code: "RUB", Name: "Russian Ruble", Kind: Fiat, Country: "Russia"},
		Currency{Code: "BTC", Name: "Bitcoin", Kind: Crypto, Algorithm: "SHA-256"},
		Currency{Code: "ETH", Name: "Ethereum", Kind: Crypto, Algorithm: "Ethash"},
	)
}
