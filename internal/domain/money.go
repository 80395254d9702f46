package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders d with comma-grouped thousands and at most two
// fraction digits, trailing zeros dropped: 49035 -> "49,035", 1234.5 -> "1,234.5".
func FormatAmount(d decimal.Decimal) string {
	s := d.Round(2).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac = strings.TrimRight(frac, "0"); frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// AuthorizationMessage is the text the wallet signs to authorize a bank payout.
func AuthorizationMessage(receive decimal.Decimal, accountNumber string) string {
	return "I authorize AFRAMP to send ₦" + FormatAmount(receive) + " to account " + accountNumber
}
