package httpx

import (
	"context"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/ariefcatur/go-stockflow/internal/inventory"
	"github.com/ariefcatur/go-stockflow/internal/invoicing"
	"github.com/ariefcatur/go-stockflow/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"net/http"
	"time"
)

// Idempotency is satisfied by redisx.Idempotency.
type Idempotency interface {
	Begin(ctx context.Context, customerID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, customerID, key, orderID string) error
	Abort(ctx context.Context, customerID, key string) error
}

type Server struct {
	Inventory   *inventory.Ledger
	Orders      *orders.Engine
	Invoices    *invoicing.Generator
	Verifier    *auth.Verifier
	Idempotency Idempotency // optional
	// Checks are run by /healthz, keyed by dependency name.
	Checks  map[string]func(context.Context) error
	Log     *zap.Logger
	Timeout time.Duration
}

func (s *Server) Router() *chi.Mux {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.tracing, s.requestLogger, middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", s.listInventory)
			r.Post("/", s.upsertInventory)
			r.Get("/{id}", s.getInventory)
			r.Patch("/{id}", s.setInventoryQuantity)
			r.Post("/{id}/adjust", s.adjustInventory)
			r.Delete("/{id}", s.deleteInventory)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.listOrders)
			r.Post("/", s.placeOrder)
			r.Patch("/cancel/{id}", s.cancelOrder)
			r.Get("/{id}", s.getOrder)
			r.Patch("/{id}", s.updateOrderStatus)
			r.Delete("/{id}", s.deleteOrder)
		})
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", s.listInvoices)
			r.Post("/", s.generateInvoices)
			r.Get("/{id}", s.getInvoice)
			r.Patch("/{id}", s.approveInvoice)
			r.Patch("/{id}/payment", s.updatePayment)
			r.Patch("/{id}/paid", s.markPaid)
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

// authenticate resolves the bearer token into the caller identity.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Verifier.Verify(auth.BearerToken(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(
			attribute.String("enduser.id", id.SubjectID),
			attribute.String("enduser.role", string(id.Role)))
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

var tracer = otel.Tracer("stockflow/httpx")

func (s *Server) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			span.SetName(r.Method + " " + rc.RoutePattern())
		}
		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log().Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
