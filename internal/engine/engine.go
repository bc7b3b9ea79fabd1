package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/valutatrade/valutatrade-hub/internal/currency"
	"github.com/valutatrade/valutatrade-hub/internal/portfolio"
	"github.com/valutatrade/valutatrade-hub/internal/rates"
	"github.com/valutatrade/valutatrade-hub/internal/storages"
)

// ErrNotAuthenticated is returned when an operation is invoked without an
// authenticated user id. The engine never authenticates by itself; callers
// supply the id from their session layer.
var ErrNotAuthenticated = errors.New("not authenticated")

// NoFundingSourceError means a buy found no wallet with a positive balance to
// pay from.
type NoFundingSourceError struct {
	Target string
}

func (e *NoFundingSourceError) Error() string {
	return fmt.Sprintf("no funded wallet available to buy %s", e.Target)
}

// Engine orchestrates trades against stored portfolios. It holds no state
// across calls: every operation loads the portfolio, validates, mutates the
// in-memory copy and persists it whole.
type Engine struct {
	store  storages.Storage
	oracle rates.Oracle
	ref    string
}

func New(store storages.Storage, oracle rates.Oracle, referenceCurrency string) *Engine {
	return &Engine{store: store, oracle: oracle, ref: referenceCurrency}
}

// TradeResult describes one executed buy or sell.
type TradeResult struct {
	Code       string  `json:"currency"`
	Amount     float64 `json:"amount"`
	Settlement string  `json:"settlement_currency"`
	Settled    float64 `json:"settled_amount"`
	Rate       float64 `json:"rate"`
}

// RateQuote carries a rate and its inverse for a currency pair.
type RateQuote struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Rate    float64 `json:"rate"`
	Inverse float64 `json:"inverse_rate"`
}

// Position is one wallet valued in the report's base currency.
type Position struct {
	Code    string  `json:"currency"`
	Display string  `json:"display"`
	Balance float64 `json:"balance"`
	Value   float64 `json:"value"`
}

// Report is a portfolio breakdown in a base currency.
type Report struct {
	UserID    int        `json:"user_id"`
	Base      string     `json:"base_currency"`
	Positions []Position `json:"positions"`
	Total     float64    `json:"total"`
}

// Deposit credits amount of code to the user's wallet, creating the wallet on
// first use.
func (e *Engine) Deposit(userID int, code string, amount float64) (*portfolio.Portfolio, error) {
	if userID <= 0 {
		return nil, ErrNotAuthenticated
	}
	cur, err := currency.Resolve(code)
	if err != nil {
		return nil, err
	}

	p, err := e.store.Portfolio(userID)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureWallet(cur.Code).Deposit(amount); err != nil {
		return nil, err
	}
	if err := e.store.SavePortfolio(p); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"action":   "DEPOSIT",
		"user_id":  userID,
		"currency": cur.Code,
		"amount":   amount,
	}).Info("deposit completed")
	return p, nil
}

// Buy purchases amount of targetCode, paid from the first wallet (in the
// portfolio's code order) that holds a positive balance of another currency.
func (e *Engine) Buy(userID int, targetCode string, amount float64) (TradeResult, error) {
	if userID <= 0 {
		return TradeResult{}, ErrNotAuthenticated
	}
	if amount <= 0 {
		return TradeResult{}, &portfolio.InvalidAmountError{Amount: amount}
	}
	cur, err := currency.Resolve(targetCode)
	if err != nil {
		return TradeResult{}, err
	}
	target := cur.Code

	p, err := e.store.Portfolio(userID)
	if err != nil {
		return TradeResult{}, err
	}

	var funding *portfolio.Wallet
	for _, code := range p.Codes() {
		if code == target {
			continue
		}
		if w, ok := p.Wallet(code); ok && w.Balance > 0 {
			funding = w
			break
		}
	}
	if funding == nil {
		return TradeResult{}, &NoFundingSourceError{Target: target}
	}

	rate, err := e.oracle.Rate(target, funding.CurrencyCode)
	if err != nil {
		return TradeResult{}, err
	}
	cost := amount * rate
	if funding.Balance < cost {
		return TradeResult{}, &portfolio.InsufficientFundsError{
			Code:      funding.CurrencyCode,
			Available: funding.Balance,
			Required:  cost,
		}
	}

	targetWallet := p.EnsureWallet(target)
	if err := funding.Withdraw(cost); err != nil {
		return TradeResult{}, err
	}
	if err := targetWallet.Deposit(amount); err != nil {
		// Deposit only rejects non-positive amounts, which the guard above
		// already excludes; the compensation keeps the pair atomic should
		// deposit ever gain another constraint.
		_ = funding.Deposit(cost)
		return TradeResult{}, err
	}

	if err := e.store.SavePortfolio(p); err != nil {
		return TradeResult{}, err
	}

	logrus.WithFields(logrus.Fields{
		"action":   "BUY",
		"user_id":  userID,
		"currency": target,
		"amount":   amount,
		"funding":  funding.CurrencyCode,
		"cost":     cost,
		"rate":     rate,
	}).Info("buy completed")
	return TradeResult{
		Code:       target,
		Amount:     amount,
		Settlement: funding.CurrencyCode,
		Settled:    cost,
		Rate:       rate,
	}, nil
}

// Sell disposes amount of sourceCode. Proceeds settle in the reference
// currency when the portfolio holds a wallet for it or holds nothing else;
// otherwise in the first other currency present.
func (e *Engine) Sell(userID int, sourceCode string, amount float64) (TradeResult, error) {
	if userID <= 0 {
		return TradeResult{}, ErrNotAuthenticated
	}
	if amount <= 0 {
		return TradeResult{}, &portfolio.InvalidAmountError{Amount: amount}
	}
	cur, err := currency.Resolve(sourceCode)
	if err != nil {
		return TradeResult{}, err
	}
	source := cur.Code

	p, err := e.store.Portfolio(userID)
	if err != nil {
		return TradeResult{}, err
	}

	sourceWallet, ok := p.Wallet(source)
	if !ok {
		return TradeResult{}, &portfolio.InsufficientFundsError{Code: source, Required: amount}
	}
	if sourceWallet.Balance < amount {
		return TradeResult{}, &portfolio.InsufficientFundsError{
			Code:      source,
			Available: sourceWallet.Balance,
			Required:  amount,
		}
	}

	target := e.settlementCurrency(p, source)
	rate, err := e.oracle.Rate(source, target)
	if err != nil {
		return TradeResult{}, err
	}
	revenue := amount * rate

	targetWallet := p.EnsureWallet(target)
	if err := sourceWallet.Withdraw(amount); err != nil {
		return TradeResult{}, err
	}
	if err := targetWallet.Deposit(revenue); err != nil {
		_ = sourceWallet.Deposit(amount)
		return TradeResult{}, err
	}

	if err := e.store.SavePortfolio(p); err != nil {
		return TradeResult{}, err
	}

	logrus.WithFields(logrus.Fields{
		"action":   "SELL",
		"user_id":  userID,
		"currency": source,
		"amount":   amount,
		"target":   target,
		"revenue":  revenue,
		"rate":     rate,
	}).Info("sell completed")
	return TradeResult{
		Code:       source,
		Amount:     amount,
		Settlement: target,
		Settled:    revenue,
		Rate:       rate,
	}, nil
}

// settlementCurrency picks where sale proceeds land: the reference currency
// when the portfolio already holds it or holds no other wallet, otherwise the
// first other currency in code order.
func (e *Engine) settlementCurrency(p *portfolio.Portfolio, source string) string {
	if _, ok := p.Wallet(e.ref); ok {
		return e.ref
	}
	for _, code := range p.Codes() {
		if code != source {
			return code
		}
	}
	return e.ref
}

// GetRate quotes a currency pair and its inverse. Both codes must be in the
// catalog before the oracle is consulted.
func (e *Engine) GetRate(fromCode, toCode string) (RateQuote, error) {
	from, err := currency.Resolve(fromCode)
	if err != nil {
		return RateQuote{}, err
	}
	to, err := currency.Resolve(toCode)
	if err != nil {
		return RateQuote{}, err
	}

	rate, err := e.oracle.Rate(from.Code, to.Code)
	if err != nil {
		return RateQuote{}, err
	}
	inverse := 0.0
	if rate != 0 {
		inverse = 1 / rate
	}
	return RateQuote{From: from.Code, To: to.Code, Rate: rate, Inverse: inverse}, nil
}

// ShowPortfolio values every wallet in baseCode and sums a grand total. A
// wallet whose conversion fails is valued at zero rather than failing the
// whole report.
func (e *Engine) ShowPortfolio(userID int, baseCode string) (Report, error) {
	if userID <= 0 {
		return Report{}, ErrNotAuthenticated
	}
	base, err := currency.Resolve(baseCode)
	if err != nil {
		return Report{}, err
	}

	p, err := e.store.Portfolio(userID)
	if err != nil {
		return Report{}, err
	}

	report := Report{UserID: userID, Base: base.Code, Positions: []Position{}}
	for _, code := range p.Codes() {
		w, _ := p.Wallet(code)

		value := w.Balance
		if code != base.Code {
			rate, err := e.oracle.Rate(code, base.Code)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"user_id":  userID,
					"currency": code,
					"base":     base.Code,
				}).WithError(err).Warn("wallet valued at zero, no conversion rate")
				value = 0
			} else {
				value = w.Balance * rate
			}
		}

		pos := Position{Code: code, Balance: w.Balance, Value: value}
		if cur, err := currency.Resolve(code); err == nil {
			pos.Display = cur.DisplayInfo()
		}
		report.Positions = append(report.Positions, pos)
		report.Total += value
	}
	return report, nil
}
