package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/valutatrade/valutatrade-hub/internal/currency"
	"github.com/valutatrade/valutatrade-hub/internal/portfolio"
	"github.com/valutatrade/valutatrade-hub/internal/rates"
	"github.com/valutatrade/valutatrade-hub/internal/storages"
	"github.com/valutatrade/valutatrade-hub/internal/storages/jsonfile"
)

func newTestEngine(t *testing.T) (*Engine, storages.Storage) {
	t.Helper()
	store, err := jsonfile.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return New(store, rates.DefaultTable(), "USD"), store
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func balance(t *testing.T, store storages.Storage, userID int, code string) float64 {
	t.Helper()
	p, err := store.Portfolio(userID)
	if err != nil {
		t.Fatalf("Portfolio(%d) failed: %v", userID, err)
	}
	w, ok := p.Wallet(code)
	if !ok {
		t.Fatalf("wallet %s missing for user %d", code, userID)
	}
	return w.Balance
}

func assertNonNegative(t *testing.T, store storages.Storage, userID int) {
	t.Helper()
	p, err := store.Portfolio(userID)
	if err != nil {
		t.Fatalf("Portfolio(%d) failed: %v", userID, err)
	}
	for _, code := range p.Codes() {
		w, _ := p.Wallet(code)
		if w.Balance < 0 {
			t.Fatalf("wallet %s went negative: %v", code, w.Balance)
		}
	}
}

func TestDeposit(t *testing.T) {
	eng, store := newTestEngine(t)

	t.Run("fresh_portfolio", func(t *testing.T) {
		// Scenario: deposit 100 USD into an empty portfolio.
		if _, err := eng.Deposit(1, "usd", 100); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
		if got := balance(t, store, 1, "USD"); got != 100 {
			t.Errorf("USD balance = %v, want 100", got)
		}
	})

	t.Run("unknown_currency", func(t *testing.T) {
		_, err := eng.Deposit(1, "XYZ", 10)
		var ucErr *currency.UnknownCurrencyError
		if !errors.As(err, &ucErr) {
			t.Fatalf("expected UnknownCurrencyError, got %v", err)
		}
		if got := balance(t, store, 1, "USD"); got != 100 {
			t.Errorf("failed deposit mutated USD balance to %v", got)
		}
	})

	t.Run("invalid_amount", func(t *testing.T) {
		for _, amount := range []float64{0, -10} {
			_, err := eng.Deposit(1, "USD", amount)
			var iaErr *portfolio.InvalidAmountError
			if !errors.As(err, &iaErr) {
				t.Fatalf("Deposit(%v): expected InvalidAmountError, got %v", amount, err)
			}
		}
		if got := balance(t, store, 1, "USD"); got != 100 {
			t.Errorf("failed deposit mutated USD balance to %v", got)
		}
	})

	t.Run("not_authenticated", func(t *testing.T) {
		if _, err := eng.Deposit(0, "USD", 10); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}

func TestBuy(t *testing.T) {
	t.Run("funded_by_usd", func(t *testing.T) {
		// Scenario: USD=100, buy 0.001 BTC at BTC->USD 59337.21.
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(1, "USD", 100); err != nil {
			t.Fatalf("seed deposit failed: %v", err)
		}

		result, err := eng.Buy(1, "BTC", 0.001)
		if err != nil {
			t.Fatalf("Buy failed: %v", err)
		}
		if result.Settlement != "USD" {
			t.Errorf("funding currency = %s, want USD", result.Settlement)
		}
		if !almostEqual(result.Settled, 59.33721) {
			t.Errorf("cost = %v, want 59.33721", result.Settled)
		}
		if got := balance(t, store, 1, "USD"); !almostEqual(got, 40.66279) {
			t.Errorf("USD balance = %v, want 40.66279", got)
		}
		if got := balance(t, store, 1, "BTC"); got != 0.001 {
			t.Errorf("BTC balance = %v, want 0.001", got)
		}
		assertNonNegative(t, store, 1)
	})

	t.Run("conservation", func(t *testing.T) {
		// Only the funding and target wallets move; every other wallet is
		// untouched and the funding debit equals amount * rate.
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(1, "EUR", 500); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Deposit(1, "RUB", 1000); err != nil {
			t.Fatal(err)
		}

		result, err := eng.Buy(1, "ETH", 0.1)
		if err != nil {
			t.Fatalf("Buy failed: %v", err)
		}
		// EUR precedes RUB in code order, so it funds the purchase.
		if result.Settlement != "EUR" {
			t.Fatalf("funding currency = %s, want EUR", result.Settlement)
		}
		// cost = 0.1 * rate(ETH, EUR) = 0.1 * (3720.00 * 0.92)
		wantCost := 0.1 * 3720.00 * 0.92
		if !almostEqual(result.Settled, wantCost) {
			t.Errorf("cost = %v, want %v", result.Settled, wantCost)
		}
		if got := balance(t, store, 1, "EUR"); !almostEqual(got, 500-wantCost) {
			t.Errorf("EUR balance = %v, want %v", got, 500-wantCost)
		}
		if got := balance(t, store, 1, "RUB"); got != 1000 {
			t.Errorf("RUB wallet touched: %v", got)
		}
		if got := balance(t, store, 1, "ETH"); !almostEqual(got, 0.1) {
			t.Errorf("ETH balance = %v, want 0.1", got)
		}
	})

	t.Run("funding_skips_target_wallet", func(t *testing.T) {
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(1, "BTC", 1); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Deposit(1, "USD", 1000); err != nil {
			t.Fatal(err)
		}

		// BTC sorts first but is the purchase target, so USD funds it.
		result, err := eng.Buy(1, "BTC", 0.001)
		if err != nil {
			t.Fatalf("Buy failed: %v", err)
		}
		if result.Settlement != "USD" {
			t.Errorf("funding currency = %s, want USD", result.Settlement)
		}
		if got := balance(t, store, 1, "BTC"); !almostEqual(got, 1.001) {
			t.Errorf("BTC balance = %v, want 1.001", got)
		}
	})

	t.Run("no_funding_source", func(t *testing.T) {
		// Scenario: every existing wallet has zero balance.
		eng, store := newTestEngine(t)
		p := portfolio.New(2)
		p.EnsureWallet("USD")
		p.EnsureWallet("EUR")
		if err := store.SavePortfolio(p); err != nil {
			t.Fatal(err)
		}

		_, err := eng.Buy(2, "BTC", 0.001)
		var nfErr *NoFundingSourceError
		if !errors.As(err, &nfErr) {
			t.Fatalf("expected NoFundingSourceError, got %v", err)
		}
		if got := balance(t, store, 2, "USD"); got != 0 {
			t.Errorf("failed buy mutated USD balance to %v", got)
		}
		loaded, _ := store.Portfolio(2)
		if _, ok := loaded.Wallet("BTC"); ok {
			t.Error("failed buy created a target wallet")
		}
	})

	t.Run("insufficient_funds_no_mutation", func(t *testing.T) {
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(3, "USD", 10); err != nil {
			t.Fatal(err)
		}

		_, err := eng.Buy(3, "BTC", 1) // needs 59337.21 USD
		var ifErr *portfolio.InsufficientFundsError
		if !errors.As(err, &ifErr) {
			t.Fatalf("expected InsufficientFundsError, got %v", err)
		}
		if ifErr.Code != "USD" || !almostEqual(ifErr.Required, 59337.21) {
			t.Errorf("error fields = %+v", ifErr)
		}
		if got := balance(t, store, 3, "USD"); got != 10 {
			t.Errorf("failed buy mutated USD balance to %v", got)
		}
	})

	t.Run("invalid_amount", func(t *testing.T) {
		eng, _ := newTestEngine(t)
		_, err := eng.Buy(1, "BTC", -0.5)
		var iaErr *portfolio.InvalidAmountError
		if !errors.As(err, &iaErr) {
			t.Errorf("expected InvalidAmountError, got %v", err)
		}
	})
}

func TestSell(t *testing.T) {
	t.Run("defaults_to_reference_currency", func(t *testing.T) {
		// Scenario: only BTC=0.01 held, sell 0.005 with no USD wallet
		// present; proceeds settle in USD.
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(1, "BTC", 0.01); err != nil {
			t.Fatal(err)
		}

		result, err := eng.Sell(1, "BTC", 0.005)
		if err != nil {
			t.Fatalf("Sell failed: %v", err)
		}
		if result.Settlement != "USD" {
			t.Errorf("settlement currency = %s, want USD", result.Settlement)
		}
		if got := balance(t, store, 1, "BTC"); !almostEqual(got, 0.005) {
			t.Errorf("BTC balance = %v, want 0.005", got)
		}
		wantUSD := 0.005 * 59337.21
		if got := balance(t, store, 1, "USD"); !almostEqual(got, wantUSD) {
			t.Errorf("USD balance = %v, want %v", got, wantUSD)
		}
		assertNonNegative(t, store, 1)
	})

	t.Run("prefers_existing_reference_wallet", func(t *testing.T) {
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(1, "BTC", 0.01); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Deposit(1, "EUR", 5); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Deposit(1, "USD", 1); err != nil {
			t.Fatal(err)
		}

		result, err := eng.Sell(1, "BTC", 0.005)
		if err != nil {
			t.Fatalf("Sell failed: %v", err)
		}
		if result.Settlement != "USD" {
			t.Errorf("settlement currency = %s, want USD", result.Settlement)
		}
		if got := balance(t, store, 1, "EUR"); got != 5 {
			t.Errorf("EUR wallet touched: %v", got)
		}
	})

	t.Run("falls_back_to_first_other_currency", func(t *testing.T) {
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(1, "BTC", 0.01); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.Deposit(1, "EUR", 5); err != nil {
			t.Fatal(err)
		}

		result, err := eng.Sell(1, "BTC", 0.004)
		if err != nil {
			t.Fatalf("Sell failed: %v", err)
		}
		if result.Settlement != "EUR" {
			t.Errorf("settlement currency = %s, want EUR", result.Settlement)
		}
		wantEUR := 5 + 0.004*(59337.21*0.92)
		if got := balance(t, store, 1, "EUR"); !almostEqual(got, wantEUR) {
			t.Errorf("EUR balance = %v, want %v", got, wantEUR)
		}
	})

	t.Run("insufficient_balance", func(t *testing.T) {
		eng, store := newTestEngine(t)
		if _, err := eng.Deposit(1, "BTC", 0.001); err != nil {
			t.Fatal(err)
		}

		_, err := eng.Sell(1, "BTC", 0.01)
		var ifErr *portfolio.InsufficientFundsError
		if !errors.As(err, &ifErr) {
			t.Fatalf("expected InsufficientFundsError, got %v", err)
		}
		if got := balance(t, store, 1, "BTC"); got != 0.001 {
			t.Errorf("failed sell mutated BTC balance to %v", got)
		}
	})

	t.Run("missing_wallet", func(t *testing.T) {
		eng, _ := newTestEngine(t)
		_, err := eng.Sell(1, "ETH", 1)
		var ifErr *portfolio.InsufficientFundsError
		if !errors.As(err, &ifErr) {
			t.Fatalf("expected InsufficientFundsError, got %v", err)
		}
		if ifErr.Code != "ETH" || ifErr.Available != 0 {
			t.Errorf("error fields = %+v", ifErr)
		}
	})

	t.Run("invalid_amount", func(t *testing.T) {
		eng, _ := newTestEngine(t)
		_, err := eng.Sell(1, "BTC", 0)
		var iaErr *portfolio.InvalidAmountError
		if !errors.As(err, &iaErr) {
			t.Errorf("expected InvalidAmountError, got %v", err)
		}
	})
}

// trapOracle fails the test if it is ever consulted.
type trapOracle struct {
	t *testing.T
}

func (o *trapOracle) Rate(from, to string) (float64, error) {
	o.t.Fatalf("oracle consulted for %s->%s", from, to)
	return 0, nil
}

func TestGetRate(t *testing.T) {
	t.Run("quote_with_inverse", func(t *testing.T) {
		eng, _ := newTestEngine(t)
		quote, err := eng.GetRate("usd", "btc")
		if err != nil {
			t.Fatalf("GetRate failed: %v", err)
		}
		if !almostEqual(quote.Rate, 0.00001685) {
			t.Errorf("rate = %v, want 0.00001685", quote.Rate)
		}
		if !almostEqual(quote.Inverse, 1/0.00001685) {
			t.Errorf("inverse = %v, want %v", quote.Inverse, 1/0.00001685)
		}
	})

	t.Run("unknown_code_short_circuits", func(t *testing.T) {
		// Scenario: an unregistered code fails before the oracle is touched.
		store, err := jsonfile.NewStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		eng := New(store, &trapOracle{t: t}, "USD")
		if _, err := eng.GetRate("XYZ", "USD"); err == nil {
			t.Fatal("GetRate(XYZ, USD) should fail")
		}
	})
}

func TestShowPortfolio(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.Deposit(1, "USD", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Deposit(1, "BTC", 0.001); err != nil {
		t.Fatal(err)
	}

	report, err := eng.ShowPortfolio(1, "USD")
	if err != nil {
		t.Fatalf("ShowPortfolio failed: %v", err)
	}
	if len(report.Positions) != 2 {
		t.Fatalf("got %d positions, want 2", len(report.Positions))
	}

	wantTotal := 100 + 0.001*59337.21
	if !almostEqual(report.Total, wantTotal) {
		t.Errorf("total = %v, want %v", report.Total, wantTotal)
	}

	// Positions follow the portfolio's code order.
	if report.Positions[0].Code != "BTC" || report.Positions[1].Code != "USD" {
		t.Errorf("position order = %s, %s", report.Positions[0].Code, report.Positions[1].Code)
	}
	if !almostEqual(report.Positions[0].Value, 0.001*59337.21) {
		t.Errorf("BTC value = %v", report.Positions[0].Value)
	}
	// A same-code wallet is valued at its face balance.
	if report.Positions[1].Value != 100 {
		t.Errorf("USD value = %v, want 100", report.Positions[1].Value)
	}
}

func TestShowPortfolioUnquotableWalletValuedAtZero(t *testing.T) {
	store, err := jsonfile.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// An oracle that only quotes identity: every cross pair fails.
	oracle := rates.NewTable("USD", nil)
	eng := New(store, oracle, "USD")

	if _, err := eng.Deposit(1, "USD", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Deposit(1, "BTC", 1); err != nil {
		t.Fatal(err)
	}

	report, err := eng.ShowPortfolio(1, "USD")
	if err != nil {
		t.Fatalf("ShowPortfolio failed: %v", err)
	}
	if !almostEqual(report.Total, 100) {
		t.Errorf("total = %v, want 100 (BTC valued at zero)", report.Total)
	}
}

func TestBalancesNeverNegativeAcrossSequence(t *testing.T) {
	eng, store := newTestEngine(t)

	ops := []func() error{
		func() error { _, err := eng.Deposit(1, "USD", 200); return err },
		func() error { _, err := eng.Buy(1, "BTC", 0.002); return err },
		func() error { _, err := eng.Sell(1, "BTC", 0.001); return err },
		func() error { _, err := eng.Buy(1, "ETH", 0.01); return err },
		func() error { _, err := eng.Sell(1, "ETH", 0.01); return err },
		func() error { _, err := eng.Buy(1, "BTC", 100); return err },  // must fail
		func() error { _, err := eng.Sell(1, "BTC", 100); return err }, // must fail
		func() error { _, err := eng.Deposit(1, "EUR", 1); return err },
	}
	for i, op := range ops {
		if err := op(); err != nil {
			var ifErr *portfolio.InsufficientFundsError
			if !errors.As(err, &ifErr) {
				t.Fatalf("op %d failed unexpectedly: %v", i, err)
			}
		}
		assertNonNegative(t, store, 1)
	}
}
