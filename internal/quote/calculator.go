// Package quote derives fiat amounts, fees and limit checks for an offramp input.
// Everything here is pure: the same input always yields the same Quote.
package quote

import (
	"fmt"
	"strings"

	"offramp_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Denomination says which side of the pair the user typed.
type Denomination string

const (
	DenominationAsset Denomination = "asset"
	DenominationFiat  Denomination = "fiat"
)

const (
	// assetPlaces matches Stellar's 7-decimal amount precision.
	assetPlaces = 7
	fiatPlaces  = 2
)

// FeeSchedule configures the fee formula. Base, Network and Bank fees are fiat;
// Percentage is a fraction applied to the fiat amount (0.01 = 1%).
type FeeSchedule struct {
	BaseFee    decimal.Decimal `yaml:"base_fee" json:"base_fee"`
	Percentage decimal.Decimal `yaml:"percentage" json:"percentage"`
	NetworkFee decimal.Decimal `yaml:"network_fee" json:"network_fee"`
	BankFee    decimal.Decimal `yaml:"bank_fee" json:"bank_fee"`
}

// Limits bounds the asset amount. Zero MaxAmount or nil Balance disables that check.
type Limits struct {
	MinAmount decimal.Decimal  `yaml:"min_amount" json:"min_amount"`
	MaxAmount decimal.Decimal  `yaml:"max_amount" json:"max_amount"`
	Balance   *decimal.Decimal `yaml:"-" json:"balance,omitempty"`
}

// Input is everything Compute needs.
type Input struct {
	AmountInput  string
	Denomination Denomination
	// Precision is the asset's decimal places; zero means the Stellar default of 7.
	Precision    int32
	Rate         decimal.Decimal
	Fees         FeeSchedule
	Limits       Limits
}

// Quote is the calculator's output.
type Quote struct {
	Amount        decimal.Decimal          `json:"amount"`
	Rate          decimal.Decimal          `json:"rate"`
	FiatAmount    decimal.Decimal          `json:"fiat_amount"`
	Fees          domain.FeeBreakdown      `json:"fees"`
	ReceiveAmount decimal.Decimal          `json:"receive_amount"`
	IsValid       bool                     `json:"is_valid"`
	Errors        []domain.ValidationIssue `json:"errors,omitempty"`
}

// Err returns the quote's problems as a *domain.ValidationError, or nil when valid.
func (q Quote) Err() error {
	if q.IsValid {
		return nil
	}
	return &domain.ValidationError{Issues: q.Errors}
}

// ParseAmount strips grouping separators and whitespace and parses s.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	clean = strings.ReplaceAll(clean, "_", "")
	return decimal.NewFromString(clean)
}

// Compute validates the input and derives fiat figures and fees.
func Compute(in Input) Quote {
	q := Quote{Rate: in.Rate}

	raw, err := ParseAmount(in.AmountInput)
	if err != nil {
		return invalid(q, domain.CodeInvalidAmount, "amount is not a number")
	}
	if !raw.IsPositive() {
		return invalid(q, domain.CodeNonPositiveAmount, "amount must be greater than zero")
	}
	if !in.Rate.IsPositive() {
		return invalid(q, domain.CodeMissingRate, "no exchange rate available")
	}

	places := in.Precision
	if places <= 0 {
		places = assetPlaces
	}

	if in.Denomination == DenominationFiat {
		q.FiatAmount = raw.Round(fiatPlaces)
		q.Amount = raw.DivRound(in.Rate, places+4).RoundDown(places)
	} else {
		if !raw.Equal(raw.Truncate(places)) {
			return invalid(q, domain.CodeTooManyDecimals,
				fmt.Sprintf("amount supports at most %d decimal places", places))
		}
		q.Amount = raw
		q.FiatAmount = raw.Mul(in.Rate).Round(fiatPlaces)
	}

	q.Errors = checkLimits(q.Amount, in.Limits)

	q.Fees = computeFees(q.FiatAmount, in.Fees)
	q.ReceiveAmount = q.Fees.ReceiveAmount
	q.IsValid = len(q.Errors) == 0
	return q
}

func checkLimits(amount decimal.Decimal, l Limits) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	if l.MinAmount.IsPositive() && amount.LessThan(l.MinAmount) {
		issues = append(issues, domain.ValidationIssue{
			Code:    domain.CodeBelowMinimum,
			Message: "minimum amount is " + l.MinAmount.String(),
		})
	}
	if l.MaxAmount.IsPositive() && amount.GreaterThan(l.MaxAmount) {
		issues = append(issues, domain.ValidationIssue{
			Code:    domain.CodeAboveMaximum,
			Message: "maximum amount is " + l.MaxAmount.String(),
		})
	}
	if l.Balance != nil && amount.GreaterThan(*l.Balance) {
		issues = append(issues, domain.ValidationIssue{
			Code:    domain.CodeInsufficientBalance,
			Message: "amount exceeds available balance of " + l.Balance.String(),
		})
	}
	return issues
}

// computeFees applies totalFee = base + fiat*percentage + network + bank,
// receive = max(fiat - totalFee, 0).
func computeFees(fiat decimal.Decimal, s FeeSchedule) domain.FeeBreakdown {
	offramp := clampZero(s.BaseFee.Add(fiat.Mul(s.Percentage))).Round(fiatPlaces)
	network := clampZero(s.NetworkFee).Round(fiatPlaces)
	bank := clampZero(s.BankFee).Round(fiatPlaces)
	total := offramp.Add(network).Add(bank)

	return domain.FeeBreakdown{
		OfframpFee:    offramp,
		NetworkFee:    network,
		BankFee:       bank,
		Total:         total,
		ReceiveAmount: clampZero(fiat.Sub(total)),
	}
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func invalid(q Quote, code domain.ValidationCode, msg string) Quote {
	q.IsValid = false
	q.Errors = []domain.ValidationIssue{{Code: code, Message: msg}}
	return q
}
