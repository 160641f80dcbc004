package billing

import (
	"context"
	"sort"

	"github.com/mediclo/mediclo/internal/platform/docstore"
)

// InvoiceRepository persists invoices. There is no update or delete: an
// invoice is immutable once created.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, tenantID, id string) (*Invoice, error)
	List(ctx context.Context, tenantID string) ([]*Invoice, error)
	NextSequence(ctx context.Context, tenantID, period string) (int64, error)
}

func InvoicesPath(tenantID string) string {
	return docstore.Join("invoices", tenantID)
}

func InvoicePath(tenantID, id string) string {
	return docstore.Join("invoices", tenantID, id)
}

// SequencePath is the per tenant, per YYMM invoice counter.
func SequencePath(tenantID, period string) string {
	return docstore.Join("counters", tenantID, "invoices", period)
}

type docstoreInvoiceRepo struct {
	store docstore.Store
}

func NewInvoiceRepository(store docstore.Store) InvoiceRepository {
	return &docstoreInvoiceRepo{store: store}
}

func (r *docstoreInvoiceRepo) Create(ctx context.Context, inv *Invoice) error {
	return r.store.Set(ctx, InvoicePath(inv.TenantID, inv.ID), inv)
}

func (r *docstoreInvoiceRepo) Get(ctx context.Context, tenantID, id string) (*Invoice, error) {
	var inv Invoice
	if err := docstore.GetInto(ctx, r.store, InvoicePath(tenantID, id), &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// List returns the tenant's invoices newest first.
func (r *docstoreInvoiceRepo) List(ctx context.Context, tenantID string) ([]*Invoice, error) {
	children, err := docstore.Children(ctx, r.store, InvoicesPath(tenantID))
	if err != nil {
		return nil, err
	}
	out := make([]*Invoice, 0, len(children))
	for _, raw := range children {
		var inv Invoice
		if err := docstore.Decode(raw, &inv); err != nil {
			return nil, err
		}
		out = append(out, &inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}

func (r *docstoreInvoiceRepo) NextSequence(ctx context.Context, tenantID, period string) (int64, error) {
	return r.store.Increment(ctx, SequencePath(tenantID, period), 1)
}
