package billing

import (
	"regexp"
	"testing"
	"time"
)

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{999.999, 1000.00},
		{0.005, 0.01},
		{1.234, 1.23},
		{1.235, 1.24},
		{-100, -100},
		{0, 0},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLineItem(t *testing.T) {
	it := NewLineItem("CBC", 3, 333.333)
	if it.Amount != 1000.00 {
		t.Errorf("amount = %v, want 1000.00", it.Amount)
	}
	if !regexp.MustCompile(`^\d+-[a-z0-9]{6}$`).MatchString(it.ID) {
		t.Errorf("id %q does not look like <millis>-<suffix>", it.ID)
	}
	if other := NewLineItem("CBC", 3, 333.333); other.ID == it.ID {
		t.Error("two items should not share an id")
	}
}

func TestCalculate_RoundsEveryStage(t *testing.T) {
	items := []LineItem{NewLineItem("Lipid profile", 3, 333.333)}
	got := Calculate(items, 10, 18, 500)
	want := Totals{
		Subtotal:       1000.00,
		DiscountAmount: 100.00,
		TaxableAmount:  900.00,
		TaxAmount:      162.00,
		Total:          1062.00,
		Paid:           500.00,
		Due:            562.00,
	}
	if got != want {
		t.Errorf("Calculate = %+v\nwant        %+v", got, want)
	}
}

func TestCalculate_Overpayment(t *testing.T) {
	items := []LineItem{NewLineItem("Consultation", 1, 500)}
	got := Calculate(items, 0, 0, 600)
	if got.Total != 500.00 || got.Due != -100.00 {
		t.Errorf("total=%v due=%v, want 500 and -100", got.Total, got.Due)
	}
}

func TestCalculate_FractionalTax(t *testing.T) {
	items := []LineItem{NewLineItem("A", 1, 99.99), NewLineItem("B", 2, 0.335)}
	got := Calculate(items, 5, 12.5, 0)
	// 99.99 + 0.67 = 100.66; discount 5.03; taxable 95.63; tax 11.95 (11.95375)
	if got.Subtotal != 100.66 || got.DiscountAmount != 5.03 || got.TaxableAmount != 95.63 || got.TaxAmount != 11.95 || got.Total != 107.58 {
		t.Errorf("Calculate = %+v", got)
	}
	if got.Due != got.Total {
		t.Errorf("due %v should equal total with nothing paid", got.Due)
	}
}

func TestGenerateInvoiceNumber(t *testing.T) {
	at := time.Date(2025, time.December, 3, 10, 0, 0, 0, time.UTC)
	got := GenerateInvoiceNumber("INV", at, 7)
	if got != "INV-2512-0007" {
		t.Fatalf("got %q", got)
	}
	if again := GenerateInvoiceNumber("INV", at, 7); again != got {
		t.Errorf("not deterministic: %q vs %q", got, again)
	}
	next := GenerateInvoiceNumber("INV", at, 8)
	if next[:len(next)-4] != got[:len(got)-4] || next[len(next)-4:] != "0008" {
		t.Errorf("changing the sequence changed more than the last 4 digits: %q", next)
	}
	if !regexp.MustCompile(`^[A-Za-z]+-\d{6}-\d{4}$`).MatchString(got) {
		t.Errorf("%q does not match the invoice number format", got)
	}
	if got := GenerateInvoiceNumber("LAB", time.Date(2031, time.January, 1, 0, 0, 0, 0, time.UTC), 1); got != "LAB-3101-0001" {
		t.Errorf("got %q", got)
	}
}

func codes(vs []Violation) map[string]bool {
	out := make(map[string]bool, len(vs))
	for _, v := range vs {
		out[v.Code] = true
	}
	return out
}

func TestValidate(t *testing.T) {
	valid := &Invoice{Items: []LineItem{NewLineItem("CBC", 1, 300)}}
	valid.Totals = Calculate(valid.Items, 0, 0, 100)
	if vs := Validate(valid); len(vs) != 0 {
		t.Fatalf("expected no violations, got %+v", vs)
	}

	empty := &Invoice{DiscountPercent: 120}
	empty.Totals = Calculate(nil, 120, 0, -5)
	got := codes(Validate(empty))
	for _, c := range []string{CodeNoItems, CodeSubtotalNotPositive, CodeDiscountOutOfRange, CodePaidNegative} {
		if !got[c] {
			t.Errorf("missing violation %s in %v", c, got)
		}
	}

	bad := &Invoice{Items: []LineItem{NewLineItem("", 0, -1)}}
	bad.Totals = Calculate(bad.Items, 0, 0, 0)
	if !codes(Validate(bad))[CodeItemInvalid] {
		t.Error("expected item_invalid")
	}

	over := &Invoice{Items: []LineItem{NewLineItem("X-ray", 1, 500)}}
	over.Totals = Calculate(over.Items, 0, 0, 600)
	vs := Validate(over)
	if len(vs) != 1 || vs[0].Code != CodePaidExceedsTotal || vs[0].Message == "" {
		t.Errorf("got %+v", vs)
	}
	if Blocking(vs) {
		t.Error("overpayment alone should not block")
	}
	if !Blocking(Validate(empty)) {
		t.Error("structural violations should block")
	}
}
