// Package receipt renders a finished or in-flight offramp order as a
// downloadable receipt in CSV, plain text or PNG form.
package receipt

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"offramp_go/internal/domain"
)

const timeLayout = "02 Jan 2006 15:04 MST"

// Row is one label/value line.
type Row struct {
	Label string
	Value string
}

// Section groups rows under a heading.
type Section struct {
	Title string
	Rows  []Row
}

// Receipt is the renderer-neutral view of an order.
type Receipt struct {
	Title      string
	Reference  string
	Status     domain.OrderStatus
	IssuedAt   time.Time
	BankCode   string
	Sections   []Section
	TotalLabel string
	TotalValue string
}

// FromOrder builds the receipt for order.
func FromOrder(order *domain.OfframpOrder) Receipt {
	money := func(s string) string { return order.FiatCurrency + " " + s }

	tx := Section{Title: "Transaction", Rows: []Row{
		{"Reference", order.ID},
		{"Status", statusLabel(order.Status)},
		{"Created", order.CreatedAt.UTC().Format(timeLayout)},
	}}
	if order.TxRef != "" {
		tx.Rows = append(tx.Rows, Row{"Transaction hash", order.TxRef})
	}
	if order.Memo != "" {
		tx.Rows = append(tx.Rows, Row{"Memo", order.Memo})
	}
	if order.FailureReason != "" {
		tx.Rows = append(tx.Rows, Row{"Failure reason", order.FailureReason})
	}

	amounts := Section{Title: "Amount", Rows: []Row{
		{"You sold", fmt.Sprintf("%s %s (%s)", order.Amount.String(), order.Asset, order.Chain)},
		{"Rate", fmt.Sprintf("%s per %s", money(domain.FormatAmount(order.Rate)), order.Asset)},
		{"Fiat amount", money(domain.FormatAmount(order.FiatAmount))},
		{"Offramp fee", money(domain.FormatAmount(order.Fees.OfframpFee))},
		{"Network fee", money(domain.FormatAmount(order.Fees.NetworkFee))},
		{"Bank fee", money(domain.FormatAmount(order.Fees.BankFee))},
		{"Total fees", money(domain.FormatAmount(order.Fees.Total))},
	}}

	r := Receipt{
		Title:      "Aframp Transaction Receipt",
		Reference:  order.ID,
		Status:     order.Status,
		IssuedAt:   order.UpdatedAt,
		Sections:   []Section{tx, amounts},
		TotalLabel: "You receive",
		TotalValue: money(domain.FormatAmount(order.Fees.ReceiveAmount)),
	}

	if bd := order.BankDetails; bd != nil {
		r.BankCode = bd.BankCode
		r.Sections = append(r.Sections, Section{Title: "Bank account", Rows: []Row{
			{"Bank", bd.BankName},
			{"Account name", bd.AccountName},
			{"Account number", MaskAccount(bd.AccountNumber)},
		}})
	}
	return r
}

// MaskAccount hides all but the last four digits.
func MaskAccount(acct string) string {
	if len(acct) <= 4 {
		return acct
	}
	return strings.Repeat("*", len(acct)-4) + acct[len(acct)-4:]
}

func statusLabel(s domain.OrderStatus) string {
	switch s {
	case domain.StatusPendingBankDetails:
		return "Awaiting bank details"
	case domain.StatusPendingSignature:
		return "Awaiting signature"
	case domain.StatusProcessing:
		return "Processing"
	case domain.StatusCompleted:
		return "Completed"
	case domain.StatusFailed:
		return "Failed"
	case domain.StatusExpired:
		return "Expired"
	}
	return string(s)
}

// WriteCSV writes section,label,value records with a header line.
func WriteCSV(w io.Writer, r Receipt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"section", "label", "value"}); err != nil {
		return err
	}
	for _, sec := range r.Sections {
		for _, row := range sec.Rows {
			if err := cw.Write([]string{sec.Title, row.Label, row.Value}); err != nil {
				return err
			}
		}
	}
	if err := cw.Write([]string{"Total", r.TotalLabel, r.TotalValue}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteText writes an aligned plain-text receipt.
func WriteText(w io.Writer, r Receipt) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\n", r.Title)
	fmt.Fprintf(tw, "Reference: %s\n", r.Reference)
	for _, sec := range r.Sections {
		fmt.Fprintf(tw, "\n%s\n", strings.ToUpper(sec.Title))
		for _, row := range sec.Rows {
			fmt.Fprintf(tw, "  %s\t%s\n", row.Label, row.Value)
		}
	}
	fmt.Fprintf(tw, "\n  %s\t%s\n", r.TotalLabel, r.TotalValue)
	return tw.Flush()
}
