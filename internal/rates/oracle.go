package rates

import (
	"fmt"
	"strings"
)

// Oracle answers how much of currency `to` one unit of currency `from` buys.
// Implementations must return a positive rate or an error.
type Oracle interface {
	Rate(from, to string) (float64, error)
}

type RateUnavailableError struct {
	From string
	To   string
}

func (e *RateUnavailableError) Error() string {
	return fmt.Sprintf("no exchange rate for %s->%s", e.From, e.To)
}

// Table is a static oracle over a fixed set of ordered currency pairs.
// Pairs absent from the table resolve transitively through the reference
// currency when both legs are known.
type Table struct {
	ref   string
	pairs map[string]float64
}

func NewTable(reference string, pairs map[string]float64) *Table {
	t := &Table{
		ref:   strings.ToUpper(reference),
		pairs: make(map[string]float64, len(pairs)),
	}
	for key, rate := range pairs {
		t.pairs[strings.ToUpper(key)] = rate
	}
	return t
}

// Reference returns the pivot currency used for transitive composition.
func (t *Table) Reference() string { return t.ref }

func (t *Table) Rate(from, to string) (float64, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	if from == to {
		return 1.0, nil
	}
	if rate, ok := t.pairs[pairKey(from, to)]; ok {
		return rate, nil
	}

	// Compose through the reference currency. Each leg is identity when it
	// touches the reference itself, so one direct entry is enough to quote
	// REF->X and X->REF pairs.
	toRef, ok := t.direct(from, t.ref)
	if !ok {
		return 0, &RateUnavailableError{From: from, To: to}
	}
	fromRef, ok := t.direct(t.ref, to)
	if !ok {
		return 0, &RateUnavailableError{From: from, To: to}
	}
	return toRef * fromRef, nil
}

func (t *Table) direct(from, to string) (float64, bool) {
	if from == to {
		return 1.0, true
	}
	rate, ok := t.pairs[pairKey(from, to)]
	return rate, ok
}

func pairKey(from, to string) string { return from + "_" + to }

// DirectFrom returns every directly quoted rate out of the given currency,
// plus the identity quote for the currency itself.
func (t *Table) DirectFrom(from string) map[string]float64 {
	from = strings.ToUpper(from)
	quotes := map[string]float64{from: 1.0}
	for key, rate := range t.pairs {
		parts := strings.SplitN(key, "_", 2)
		if parts[0] == from {
			quotes[parts[1]] = rate
		}
	}
	return quotes
}

// DefaultTable quotes the fixed catalog currencies against USD.
func DefaultTable() *Table {
	return NewTable("USD", map[string]float64{
		"USD_EUR": 0.92,
		"EUR_USD": 1.08,
		"USD_BTC": 0.00001685,
		"BTC_USD": 59337.21,
		"USD_ETH": 0.00027,
		"ETH_USD": 3720.00,
		"USD_RUB": 98.5,
		"RUB_USD": 0.01016,
	})
}
