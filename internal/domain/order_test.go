package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusPendingBankDetails, StatusPendingSignature, true},
		{StatusPendingBankDetails, StatusProcessing, false},
		{StatusPendingBankDetails, StatusExpired, true},
		{StatusPendingSignature, StatusPendingSignature, true},
		{StatusPendingSignature, StatusProcessing, true},
		{StatusPendingSignature, StatusPendingBankDetails, false},
		{StatusProcessing, StatusPendingBankDetails, false},
		{StatusProcessing, StatusExpired, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusExpired, StatusPendingSignature, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOrderStatus_Classification(t *testing.T) {
	for _, s := range []OrderStatus{StatusCompleted, StatusFailed, StatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.IsPreProcessing() {
			t.Errorf("%s should not be pre-processing", s)
		}
	}
	if StatusProcessing.IsTerminal() || StatusProcessing.IsPreProcessing() {
		t.Error("processing is neither terminal nor pre-processing")
	}
	if OrderStatus("settled").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestOfframpOrder_LockRemaining(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	o := &OfframpOrder{CreatedAt: created, LockExpiresAt: created.Add(15 * time.Minute)}

	if got := o.LockRemaining(created.Add(5 * time.Minute)); got != 10*time.Minute {
		t.Errorf("remaining after 5m = %v, want 10m", got)
	}
	if o.LockExpired(created.Add(15 * time.Minute)) {
		t.Error("lock should still hold at exactly the deadline")
	}
	if !o.LockExpired(created.Add(15*time.Minute + time.Second)) {
		t.Error("lock should be expired past the deadline")
	}
	if got := o.LockRemaining(created.Add(time.Hour)); got != 0 {
		t.Errorf("remaining should clamp at zero, got %v", got)
	}
}

func TestOfframpOrder_Clone(t *testing.T) {
	o := &OfframpOrder{ID: "o-1", Amount: decimal.NewFromInt(5), BankDetails: &BankDetails{AccountNumber: "0123456789"}}
	cp := o.Clone()
	cp.BankDetails.AccountNumber = "9999999999"

	if o.BankDetails.AccountNumber != "0123456789" {
		t.Error("Clone shared BankDetails with the original")
	}
}
