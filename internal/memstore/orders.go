package memstore

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"sort"
	"time"
)

type OrderStore struct{ db *DB }

func (s *OrderStore) Insert(_ context.Context, o orders.Order) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.FailOrderInsert; err != nil {
		s.db.FailOrderInsert = nil
		return err
	}
	if _, ok := s.db.orders[o.ID]; ok {
		return apperr.Conflict("order already exists")
	}
	s.db.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (orders.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return orders.Order{}, apperr.NotFound("order not found")
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) List(_ context.Context, f orders.Filter) ([]orders.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []orders.Order{}
	for _, o := range s.db.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.OrderID != "" && o.ID != f.OrderID {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *OrderStore) CompareAndSetStatus(_ context.Context, id string, from, to orders.Status) (orders.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return orders.Order{}, apperr.NotFound("order not found")
	}
	if o.Status != from {
		return orders.Order{}, apperr.Conflict("order status changed concurrently, now %s", o.Status)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	s.db.orders[id] = o
	return cloneOrder(o), nil
}

func (s *OrderStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return apperr.NotFound("order not found")
	}
	if o.Claimed() {
		return apperr.Conflict("order is billed on invoice %s and can't be deleted", *o.InvoiceID)
	}
	delete(s.db.orders, id)
	return nil
}

// SetCreatedAt backdates an order; tests use it to place orders in or out
// of a billing window.
func (s *OrderStore) SetCreatedAt(id string, at time.Time) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if o, ok := s.db.orders[id]; ok {
		o.CreatedAt = at.UTC()
		s.db.orders[id] = o
	}
}

func cloneOrder(o orders.Order) orders.Order {
	o.Lines = append([]orders.Line(nil), o.Lines...)
	if o.InvoiceID != nil {
		id := *o.InvoiceID
		o.InvoiceID = &id
	}
	return o
}
