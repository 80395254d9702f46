package quote

import (
	"testing"

	"offramp_go/internal/domain"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func flatFees() FeeSchedule {
	return FeeSchedule{BaseFee: dec("815"), NetworkFee: dec("150")}
}

func TestCompute_FiatDenominated(t *testing.T) {
	q := Compute(Input{
		AmountInput:  "50,000",
		Denomination: DenominationFiat,
		Rate:         dec("1584"),
		Fees:         flatFees(),
	})

	if !q.IsValid {
		t.Fatalf("expected valid quote, got %+v", q.Errors)
	}
	if !q.FiatAmount.Equal(dec("50000")) {
		t.Errorf("fiat = %s, want 50000", q.FiatAmount)
	}
	if !q.Amount.Equal(dec("31.5656565")) {
		t.Errorf("amount = %s, want 31.5656565 (rounded down to 7dp)", q.Amount)
	}
	if !q.Fees.OfframpFee.Equal(dec("815")) {
		t.Errorf("offramp fee = %s, want 815", q.Fees.OfframpFee)
	}
	if !q.ReceiveAmount.Equal(dec("49035")) {
		t.Errorf("receive = %s, want 50000 - 815 - 150", q.ReceiveAmount)
	}
}

func TestCompute_AssetDenominated(t *testing.T) {
	q := Compute(Input{
		AmountInput:  "50000",
		Denomination: DenominationAsset,
		Rate:         dec("1584"),
		Fees:         flatFees(),
	})

	if !q.FiatAmount.Equal(dec("79200000")) {
		t.Errorf("fiat = %s, want 79200000", q.FiatAmount)
	}
	if !q.Fees.Total.Equal(dec("965")) {
		t.Errorf("total fee = %s, want 965", q.Fees.Total)
	}
	if !q.ReceiveAmount.Equal(dec("79199035")) {
		t.Errorf("receive = %s", q.ReceiveAmount)
	}
}

func TestCompute_PercentageFee(t *testing.T) {
	q := Compute(Input{
		AmountInput:  "100",
		Denomination: DenominationAsset,
		Rate:         dec("1000"),
		Fees:         FeeSchedule{BaseFee: dec("100"), Percentage: dec("0.01"), BankFee: dec("50")},
	})

	if !q.Fees.OfframpFee.Equal(dec("1100")) {
		t.Errorf("offramp fee = %s, want 100 + 1%% of 100000", q.Fees.OfframpFee)
	}
	if !q.Fees.Total.Equal(dec("1150")) {
		t.Errorf("total = %s, want 1150", q.Fees.Total)
	}
}

func TestCompute_ReceiveNeverNegative(t *testing.T) {
	q := Compute(Input{
		AmountInput:  "0.1",
		Denomination: DenominationAsset,
		Rate:         dec("1584"),
		Fees:         flatFees(),
	})

	if !q.ReceiveAmount.IsZero() {
		t.Errorf("receive = %s, want 0 when fees exceed fiat", q.ReceiveAmount)
	}
	if !q.IsValid {
		t.Errorf("fee overrun alone is not a validation error: %+v", q.Errors)
	}
}

func TestCompute_Validation(t *testing.T) {
	balance := dec("10")
	tests := []struct {
		name   string
		input  string
		rate   string
		limits Limits
		want   []domain.ValidationCode
	}{
		{"not a number", "abc", "1584", Limits{}, []domain.ValidationCode{domain.CodeInvalidAmount}},
		{"empty", "", "1584", Limits{}, []domain.ValidationCode{domain.CodeInvalidAmount}},
		{"zero", "0", "1584", Limits{}, []domain.ValidationCode{domain.CodeNonPositiveAmount}},
		{"negative", "-5", "1584", Limits{}, []domain.ValidationCode{domain.CodeNonPositiveAmount}},
		{"no rate", "5", "0", Limits{}, []domain.ValidationCode{domain.CodeMissingRate}},
		{"below min", "1", "1584", Limits{MinAmount: dec("5")}, []domain.ValidationCode{domain.CodeBelowMinimum}},
		{"above max", "500", "1584", Limits{MaxAmount: dec("100")}, []domain.ValidationCode{domain.CodeAboveMaximum}},
		{
			"above max and balance", "500", "1584",
			Limits{MaxAmount: dec("100"), Balance: &balance},
			[]domain.ValidationCode{domain.CodeAboveMaximum, domain.CodeInsufficientBalance},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Compute(Input{
				AmountInput:  tt.input,
				Denomination: DenominationAsset,
				Rate:         dec(tt.rate),
				Fees:         flatFees(),
				Limits:       tt.limits,
			})
			if q.IsValid {
				t.Fatal("expected invalid quote")
			}
			if len(q.Errors) != len(tt.want) {
				t.Fatalf("errors = %+v, want codes %v", q.Errors, tt.want)
			}
			for i, code := range tt.want {
				if q.Errors[i].Code != code {
					t.Errorf("errors[%d] = %s, want %s", i, q.Errors[i].Code, code)
				}
			}

			ve, ok := q.Err().(*domain.ValidationError)
			if !ok || !ve.Has(tt.want[0]) {
				t.Errorf("Err() = %v, want ValidationError with %s", q.Err(), tt.want[0])
			}
		})
	}
}

func TestCompute_AssetPrecision(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		precision int32
		valid     bool
	}{
		{"within usdc decimals", "31.565656", 6, true},
		{"beyond usdc decimals", "31.5656565", 6, false},
		{"trailing zeros are fine", "31.5600000", 6, true},
		{"stellar default", "31.5656565", 0, true},
		{"beyond stellar default", "31.56565651", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Compute(Input{
				AmountInput:  tt.input,
				Denomination: DenominationAsset,
				Precision:    tt.precision,
				Rate:         dec("1584"),
				Fees:         flatFees(),
			})
			if q.IsValid != tt.valid {
				t.Fatalf("valid = %v, want %v (%+v)", q.IsValid, tt.valid, q.Errors)
			}
			if !tt.valid && q.Errors[0].Code != domain.CodeTooManyDecimals {
				t.Errorf("code = %s, want %s", q.Errors[0].Code, domain.CodeTooManyDecimals)
			}
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	in := Input{AmountInput: "123.45", Denomination: DenominationAsset, Rate: dec("1583.91"), Fees: flatFees()}
	a, b := Compute(in), Compute(in)
	if !a.FiatAmount.Equal(b.FiatAmount) || !a.Fees.Equal(b.Fees) {
		t.Error("Compute is not deterministic")
	}
	if !a.FiatAmount.Equal(dec("195533.69")) {
		t.Errorf("fiat = %s, want 195533.69", a.FiatAmount)
	}
}
