package httpx

import (
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/validation"
	"github.com/go-chi/chi/v5"
	"net/http"
)

type upsertInventoryReq struct {
	SupplierID string  `json:"supplierId"`
	ProductID  string  `json:"productId"`
	Quantity   number  `json:"quantity"`
	Threshold  *number `json:"threshold"`
}

type setQuantityReq struct {
	Quantity  number  `json:"quantity"`
	Threshold *number `json:"threshold"`
}

type adjustReq struct {
	Delta number `json:"delta"`
}

func optionalInt(field string, n *number) (*int, error) {
	if n == nil || *n == "" {
		return nil, nil
	}
	v, err := validation.NonNegativeInt(field, string(*n))
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Server) listInventory(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	recs, err := s.Inventory.List(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if id.IsAdmin() {
		writeJSON(w, http.StatusOK, recs)
		return
	}
	views := make([]inventory.CatalogView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, rec.CatalogView())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getInventory(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	rec, err := s.Inventory.Get(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !id.IsAdmin() {
		writeJSON(w, http.StatusOK, rec.CatalogView())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) upsertInventory(w http.ResponseWriter, r *http.Request) {
	var req upsertInventoryReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	qty, err := validation.NonNegativeInt("quantity", string(req.Quantity))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	threshold, err := optionalInt("threshold", req.Threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.Inventory.UpsertStock(r.Context(), caller(r), inventory.UpsertInput{
		SupplierID: req.SupplierID,
		ProductID:  req.ProductID,
		Quantity:   qty,
		Threshold:  threshold,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) setInventoryQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	qty, err := validation.NonNegativeInt("quantity", string(req.Quantity))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	threshold, err := optionalInt("threshold", req.Threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.Inventory.SetQuantity(r.Context(), caller(r), chi.URLParam(r, "id"), qty, threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) adjustInventory(w http.ResponseWriter, r *http.Request) {
	var req adjustReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	delta, err := validation.Int("delta", string(req.Delta))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.Inventory.AdjustQuantity(r.Context(), caller(r), chi.URLParam(r, "id"), delta)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteInventory(w http.ResponseWriter, r *http.Request) {
	if err := s.Inventory.Delete(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "inventory deleted"})
}
