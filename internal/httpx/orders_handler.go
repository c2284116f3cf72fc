package httpx

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"github.com/ariefcatur/go-stockflow/internal/validation"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"strings"
	"time"
)

type orderLineReq struct {
	InventoryID string `json:"inventoryId"`
	Quantity    number `json:"quantity"`
}

type placeOrderReq struct {
	CustomerID    string         `json:"customerId"`
	OrderProducts []orderLineReq `json:"orderProducts"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := caller(r)
	customerID := req.CustomerID
	if customerID == "" && !id.IsAdmin() {
		customerID = id.SubjectID
	}
	// before the idempotency key is touched, so nobody can hold another customer's key
	if !id.CanActFor(customerID) {
		s.fail(w, r, apperr.Forbidden("access denied"))
		return
	}
	lines := make([]orders.LineInput, 0, len(req.OrderProducts))
	for i, p := range req.OrderProducts {
		qty, err := validation.PositiveInt("quantity", string(p.Quantity))
		if err != nil {
			s.fail(w, r, apperr.InvalidArgument("order product index %d: %s", i, apperr.Message(err)))
			return
		}
		lines = append(lines, orders.LineInput{InventoryID: p.InventoryID, Quantity: qty})
	}

	// Idempotency-Key: a retried POST gets the first order back (fast path, Redis)
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && s.Idempotency != nil {
		prior, claimed, err := s.Idempotency.Begin(r.Context(), customerID, key)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !claimed {
			o, err := s.Orders.Get(r.Context(), id, prior)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, o)
			return
		}
	}

	o, err := s.Orders.PlaceOrder(r.Context(), id, customerID, lines)
	if key != "" && s.Idempotency != nil {
		s.finishIdempotent(customerID, key, o.ID, err)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/orders/%s", o.ID))
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) finishIdempotent(customerID, key, orderID string, placeErr error) {
	// request ctx may be done already; the marker must still be settled
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if placeErr != nil {
		err = s.Idempotency.Abort(ctx, customerID, key)
	} else {
		err = s.Idempotency.Complete(ctx, customerID, key, orderID)
	}
	if err != nil {
		s.log().Warn("settle idempotency key", zap.String("customer_id", customerID), zap.Error(err))
	}
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Orders.List(r.Context(), caller(r), orders.Filter{
		CustomerID: q.Get("customerId"),
		OrderID:    q.Get("orderId"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Get(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.Orders.UpdateStatus(r.Context(), caller(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Cancel(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.Orders.Delete(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "order deleted"})
}
