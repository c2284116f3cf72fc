package httpx

import (
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/go-chi/chi/v5"
	"net/http"
)

type generateReq struct {
	CustomerIDs []string `json:"customerIds"`
}

type approveReq struct {
	Draft *bool `json:"draft"`
}

type paymentReq struct {
	PaymentMethod   string `json:"paymentMethod"`
	TransactionID   string `json:"transactionId"`
	TransactionDate string `json:"transactionDate"`
}

func (s *Server) generateInvoices(w http.ResponseWriter, r *http.Request) {
	var req generateReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.Invoices.Generate(r.Context(), caller(r), req.CustomerIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Invoices.List(r.Context(), caller(r), invoicing.Filter{
		CustomerID: q.Get("customerId"),
		InvoiceID:  q.Get("invoiceId"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.Invoices.Get(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) approveInvoice(w http.ResponseWriter, r *http.Request) {
	var req approveReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Draft == nil {
		s.fail(w, r, apperr.InvalidArgument("draft is required"))
		return
	}
	inv, err := s.Invoices.Approve(r.Context(), caller(r), chi.URLParam(r, "id"), *req.Draft)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) updatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	inv, err := s.Invoices.UpdatePaymentDetails(r.Context(), caller(r), chi.URLParam(r, "id"), invoicing.PaymentInput{
		Method:          req.PaymentMethod,
		TransactionID:   req.TransactionID,
		TransactionDate: req.TransactionDate,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) markPaid(w http.ResponseWriter, r *http.Request) {
	inv, err := s.Invoices.MarkPaid(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
