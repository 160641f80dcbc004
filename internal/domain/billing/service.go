package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/notification"
)

// DefaultPrefix is used when the service is built without an invoice prefix.
const DefaultPrefix = "INV"

// ItemRequest is one line of an invoice request. Amounts are always
// recomputed server side.
type ItemRequest struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Rate     float64 `json:"rate"`
}

// InvoiceRequest is the body of preview and create calls.
type InvoiceRequest struct {
	PatientID       string        `json:"patientId"`
	PatientName     string        `json:"patientName"`
	Items           []ItemRequest `json:"items"`
	DiscountPercent float64       `json:"discountPercent"`
	TaxPercent      float64       `json:"taxPercent"`
	Paid            float64       `json:"paid"`
	PaymentMode     string        `json:"paymentMode"`
	Notes           string        `json:"notes"`
}

// ValidationError carries the violations that blocked an invoice.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "invoice is invalid: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return errs.ErrInvalidInput }

type Service struct {
	repo   InvoiceRepository
	events notification.Publisher
	logger zerolog.Logger
	prefix string
	now    func() time.Time
}

func NewService(repo InvoiceRepository, events notification.Publisher, logger zerolog.Logger, prefix string) *Service {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Service{
		repo:   repo,
		events: events,
		logger: logger.With().Str("component", "billing").Logger(),
		prefix: prefix,
		now:    time.Now,
	}
}

// Preview computes the invoice a request would produce, with its
// violations, without storing anything.
func (s *Service) Preview(req InvoiceRequest) (*Invoice, []Violation) {
	inv := draft(req)
	return inv, Validate(inv)
}

func draft(req InvoiceRequest) *Invoice {
	items := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, NewLineItem(strings.TrimSpace(it.Name), it.Quantity, it.Rate))
	}
	return &Invoice{
		PatientID:       strings.TrimSpace(req.PatientID),
		PatientName:     strings.TrimSpace(req.PatientName),
		Items:           items,
		DiscountPercent: req.DiscountPercent,
		TaxPercent:      req.TaxPercent,
		Totals:          Calculate(items, req.DiscountPercent, req.TaxPercent, req.Paid),
		PaymentMode:     strings.TrimSpace(req.PaymentMode),
		Notes:           strings.TrimSpace(req.Notes),
	}
}

// CreateInvoice recomputes and validates the request, numbers it from the
// tenant's counter for the current month and stores it. Overpayment is kept
// as a warning on the invoice; every other violation returns a
// *ValidationError.
func (s *Service) CreateInvoice(ctx context.Context, caller auth.Identity, req InvoiceRequest) (*Invoice, error) {
	inv := draft(req)
	violations := Validate(inv)
	if Blocking(violations) {
		return nil, &ValidationError{Violations: violations}
	}
	inv.Warnings = violations

	now := s.now().UTC()
	period := now.Format("0601")
	seq, err := s.repo.NextSequence(ctx, caller.TenantID, period)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", caller.TenantID).Msg("invoice counter failed")
		return nil, err
	}

	inv.ID = uuid.NewString()
	inv.Number = GenerateInvoiceNumber(s.prefix, now, seq)
	inv.TenantID = caller.TenantID
	inv.CreatedBy = caller.Username
	inv.CreatedAt = now
	if err := s.repo.Create(ctx, inv); err != nil {
		s.logger.Error().Err(err).Str("tenant_id", caller.TenantID).Str("invoice", inv.Number).Msg("invoice store failed")
		return nil, err
	}

	s.logger.Info().Str("tenant_id", caller.TenantID).Str("invoice", inv.Number).Float64("total", inv.Totals.Total).Msg("invoice created")
	notification.Emit(ctx, s.events, s.logger, notification.Event{
		Type:     notification.InvoiceCreated,
		TenantID: caller.TenantID,
		Subject:  inv.Number,
		Data:     map[string]any{"total": inv.Totals.Total, "due": inv.Totals.Due},
	})
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, caller auth.Identity, id string) (*Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("invoice id is required: %w", errs.ErrInvalidInput)
	}
	inv, err := s.repo.Get(ctx, caller.TenantID, id)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.logger.Error().Err(err).Str("tenant_id", caller.TenantID).Msg("invoice load failed")
		}
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns the caller's invoices newest first.
func (s *Service) ListInvoices(ctx context.Context, caller auth.Identity) ([]*Invoice, error) {
	out, err := s.repo.List(ctx, caller.TenantID)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", caller.TenantID).Msg("invoice list failed")
		return nil, err
	}
	return out, nil
}
