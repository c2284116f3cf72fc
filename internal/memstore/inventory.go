package memstore

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/validation"
	"sort"
	"time"
)

type InventoryStore struct{ db *DB }

func (s *InventoryStore) Get(_ context.Context, id string) (inventory.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.inventory[id]
	if !ok {
		return inventory.Record{}, apperr.NotFound("inventory not found")
	}
	return r, nil
}

func (s *InventoryStore) List(context.Context) ([]inventory.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]inventory.Record, 0, len(s.db.inventory))
	for _, r := range s.db.inventory {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InventoryStore) Upsert(_ context.Context, rec inventory.Record, setThreshold bool) (inventory.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for id, cur := range s.db.inventory {
		if cur.SupplierID != rec.SupplierID || cur.ProductID != rec.ProductID {
			continue
		}
		if cur.Quantity+rec.Quantity > validation.MaxQuantity {
			return inventory.Record{}, apperr.InvalidArgument("upsert inventory would exceed the maximum stock quantity")
		}
		cur.Quantity += rec.Quantity
		if setThreshold {
			cur.Threshold = rec.Threshold
		}
		cur.Status = inventory.DeriveStatus(cur.Quantity, cur.Threshold)
		cur.UpdatedAt = rec.UpdatedAt
		s.db.inventory[id] = cur
		return cur, nil
	}
	rec.Status = inventory.DeriveStatus(rec.Quantity, rec.Threshold)
	s.db.inventory[rec.ID] = rec
	return rec, nil
}

func (s *InventoryStore) ApplyDeltas(_ context.Context, deltas []inventory.Delta) ([]inventory.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	next := make(map[string]int, len(deltas))
	for _, d := range deltas {
		r, ok := s.db.inventory[d.InventoryID]
		if !ok {
			return nil, apperr.NotFound("inventory not found: %s", d.InventoryID)
		}
		q, seen := next[d.InventoryID]
		if !seen {
			q = r.Quantity
		}
		q += d.Delta
		if q < 0 {
			return nil, apperr.InsufficientStock("insufficient stock for inventory %s: have %d, need %d", d.InventoryID, r.Quantity, -d.Delta)
		}
		if q > validation.MaxQuantity {
			return nil, apperr.InvalidArgument("apply delta to %s would exceed the maximum stock quantity", d.InventoryID)
		}
		next[d.InventoryID] = q
	}

	now := time.Now().UTC()
	out := make([]inventory.Record, 0, len(deltas))
	for _, d := range deltas {
		r := s.db.inventory[d.InventoryID]
		r.Quantity += d.Delta
		r.Status = inventory.DeriveStatus(r.Quantity, r.Threshold)
		r.UpdatedAt = now
		s.db.inventory[d.InventoryID] = r
		out = append(out, r)
	}
	return out, nil
}

func (s *InventoryStore) SetQuantity(_ context.Context, id string, quantity int, threshold *int) (inventory.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.inventory[id]
	if !ok {
		return inventory.Record{}, apperr.NotFound("inventory not found")
	}
	r.Quantity = quantity
	if threshold != nil {
		r.Threshold = *threshold
	}
	r.Status = inventory.DeriveStatus(r.Quantity, r.Threshold)
	r.UpdatedAt = time.Now().UTC()
	s.db.inventory[id] = r
	return r, nil
}

func (s *InventoryStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.inventory[id]; !ok {
		return apperr.NotFound("inventory not found")
	}
	for _, o := range s.db.orders {
		if o.Status.Terminal() {
			continue
		}
		for _, l := range o.Lines {
			if l.InventoryID == id {
				return apperr.Conflict("inventory is referenced by open order %s", o.ID)
			}
		}
	}
	delete(s.db.inventory, id)
	return nil
}

// Drop removes a record without the open-order check, the way an external
// purge would.
func (s *InventoryStore) Drop(id string) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.inventory, id)
}
