package memstore

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/billing"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"sort"
	"time"
)

type InvoiceStore struct{ db *DB }

func (s *InvoiceStore) FindClaimable(_ context.Context, customerID string, w billing.Window) ([]invoicing.BillableOrder, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []invoicing.BillableOrder{}
	for _, o := range s.db.orders {
		if o.CustomerID != customerID || o.Status != orders.StatusDelivered || o.Claimed() || !w.Contains(o.CreatedAt) {
			continue
		}
		out = append(out, invoicing.BillableOrder{ID: o.ID, TotalAmount: o.TotalAmount, CreatedAt: o.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InvoiceStore) CreateClaiming(_ context.Context, inv invoicing.Invoice) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, id := range inv.OrderIDs {
		o, ok := s.db.orders[id]
		if !ok {
			return apperr.Conflict("order %s no longer exists", id)
		}
		if o.Claimed() {
			return apperr.Conflict("order %s already claimed by invoice %s", id, *o.InvoiceID)
		}
	}
	for _, id := range inv.OrderIDs {
		o := s.db.orders[id]
		invID := inv.ID
		o.InvoiceID = &invID
		s.db.orders[id] = o
	}
	s.db.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *InvoiceStore) Get(_ context.Context, id string) (invoicing.Invoice, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	inv, ok := s.db.invoices[id]
	if !ok {
		return invoicing.Invoice{}, apperr.NotFound("invoice not found")
	}
	return cloneInvoice(inv), nil
}

func (s *InvoiceStore) List(_ context.Context, f invoicing.Filter) ([]invoicing.Invoice, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []invoicing.Invoice{}
	for _, inv := range s.db.invoices {
		if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
			continue
		}
		if f.InvoiceID != "" && inv.ID != f.InvoiceID {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InvoiceStore) SetDraft(_ context.Context, id string, draft bool, status invoicing.Status, at time.Time) (invoicing.Invoice, error) {
	return s.update(id, func(inv *invoicing.Invoice) error {
		if inv.Status == invoicing.StatusPaid {
			return apperr.Conflict("invoice is already paid")
		}
		inv.Draft = draft
		inv.Status = status
		inv.UpdatedAt = at
		return nil
	})
}

func (s *InvoiceStore) RecordPayment(_ context.Context, id string, p invoicing.Payment, at time.Time) (invoicing.Invoice, error) {
	return s.update(id, func(inv *invoicing.Invoice) error {
		if inv.HasPayment() {
			return apperr.Conflict("payment details already recorded for this invoice")
		}
		d := p.TransactionDate
		inv.PaymentMethod = p.Method
		inv.TransactionID = p.TransactionID
		inv.TransactionDate = &d
		inv.UpdatedAt = at
		return nil
	})
}

func (s *InvoiceStore) MarkPaid(_ context.Context, id string, at time.Time) (invoicing.Invoice, error) {
	return s.update(id, func(inv *invoicing.Invoice) error {
		if !inv.HasPayment() {
			return apperr.Conflict("no payment recorded yet, can't mark invoice as paid")
		}
		inv.Status = invoicing.StatusPaid
		inv.UpdatedAt = at
		return nil
	})
}

func (s *InvoiceStore) update(id string, fn func(*invoicing.Invoice) error) (invoicing.Invoice, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	inv, ok := s.db.invoices[id]
	if !ok {
		return invoicing.Invoice{}, apperr.NotFound("invoice not found")
	}
	if err := fn(&inv); err != nil {
		return invoicing.Invoice{}, err
	}
	s.db.invoices[id] = inv
	return cloneInvoice(inv), nil
}

func cloneInvoice(inv invoicing.Invoice) invoicing.Invoice {
	inv.OrderIDs = append([]string(nil), inv.OrderIDs...)
	if inv.TransactionDate != nil {
		d := *inv.TransactionDate
		inv.TransactionDate = &d
	}
	return inv
}
