// Package billing turns line items, discount, tax and payment into resolved
// invoice totals, numbers invoices per tenant and month, and persists them.
package billing

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

// LineItem is one billed service or product.
type LineItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Rate     float64 `json:"rate"`
	Amount   float64 `json:"amount"`
}

// Totals are the resolved monetary fields of an invoice. Every field is
// rounded to two decimals on its own.
type Totals struct {
	Subtotal       float64 `json:"subtotal"`
	DiscountAmount float64 `json:"discountAmount"`
	TaxableAmount  float64 `json:"taxableAmount"`
	TaxAmount      float64 `json:"taxAmount"`
	Total          float64 `json:"total"`
	Paid           float64 `json:"paid"`
	Due            float64 `json:"due"`
}

// Invoice is stored at invoices/{tenantId}/{id} and never modified.
type Invoice struct {
	ID              string      `json:"id"`
	Number          string      `json:"invoiceNumber"`
	TenantID        string      `json:"tenantId"`
	PatientID       string      `json:"patientId,omitempty"`
	PatientName     string      `json:"patientName,omitempty"`
	Items           []LineItem  `json:"items"`
	DiscountPercent float64     `json:"discountPercent"`
	TaxPercent      float64     `json:"taxPercent"`
	Totals          Totals      `json:"totals"`
	PaymentMode     string      `json:"paymentMode,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Warnings        []Violation `json:"warnings,omitempty"`
	CreatedBy       string      `json:"createdBy"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// Violation codes reported by Validate.
const (
	CodeNoItems             = "no_items"
	CodeItemInvalid         = "item_invalid"
	CodeSubtotalNotPositive = "subtotal_not_positive"
	CodeDiscountOutOfRange  = "discount_out_of_range"
	CodePaidNegative        = "paid_negative"
	CodePaidExceedsTotal    = "paid_exceeds_total"
)

// Violation is a human readable validation finding.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Round2 rounds half up to two decimals.
func Round2(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}

// NewLineItem builds a line item with a locally unique id and its amount
// rounded at creation.
func NewLineItem(name string, quantity, rate float64) LineItem {
	return LineItem{
		ID:       lineItemID(time.Now()),
		Name:     name,
		Quantity: quantity,
		Rate:     rate,
		Amount:   Round2(quantity * rate),
	}
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func lineItemID(at time.Time) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			n = big.NewInt((at.UnixNano() + int64(i)) % int64(len(idAlphabet)))
		}
		suffix[i] = idAlphabet[n.Int64()]
	}
	return strconv.FormatInt(at.UnixMilli(), 10) + "-" + string(suffix)
}

// Calculate resolves invoice totals. Each stage works on the rounded result
// of the previous one. Due is not clamped, so overpayment yields a negative
// due.
func Calculate(items []LineItem, discountPercent, taxPercent, paid float64) Totals {
	var sum float64
	for _, it := range items {
		sum += it.Amount
	}
	subtotal := Round2(sum)
	discount := Round2(subtotal * discountPercent / 100)
	taxable := Round2(subtotal - discount)
	tax := Round2(taxable * taxPercent / 100)
	total := Round2(taxable + tax)
	paid = Round2(paid)
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxableAmount:  taxable,
		TaxAmount:      tax,
		Total:          total,
		Paid:           paid,
		Due:            Round2(total - paid),
	}
}

// GenerateInvoiceNumber formats {prefix}-{YY}{MM}-{seq:04d}.
func GenerateInvoiceNumber(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%02d%02d-%04d", prefix, at.Year()%100, int(at.Month()), seq)
}

// Validate checks an invoice's structure and reports every finding.
// An empty result means the invoice is valid.
func Validate(inv *Invoice) []Violation {
	var out []Violation
	if len(inv.Items) == 0 {
		out = append(out, Violation{CodeNoItems, "at least one item is required"})
	}
	for i, it := range inv.Items {
		if it.Name == "" || !(it.Quantity > 0) || it.Rate < 0 {
			out = append(out, Violation{CodeItemInvalid, fmt.Sprintf("item %d must have a name and a positive quantity at a non-negative rate", i+1)})
		}
	}
	if !(inv.Totals.Subtotal > 0) {
		out = append(out, Violation{CodeSubtotalNotPositive, "subtotal must be greater than zero"})
	}
	if inv.DiscountPercent < 0 || inv.DiscountPercent > 100 {
		out = append(out, Violation{CodeDiscountOutOfRange, "discount must be between 0 and 100 percent"})
	}
	if inv.Totals.Paid < 0 {
		out = append(out, Violation{CodePaidNegative, "paid amount cannot be negative"})
	}
	if inv.Totals.Paid > inv.Totals.Total {
		out = append(out, Violation{CodePaidExceedsTotal, "paid amount exceeds the invoice total"})
	}
	return out
}

// Blocking reports whether any violation prevents an invoice from being
// stored. Overpayment is recorded as a warning only.
func Blocking(vs []Violation) bool {
	for _, v := range vs {
		if v.Code != CodePaidExceedsTotal {
			return true
		}
	}
	return false
}
