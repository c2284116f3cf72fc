package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/ariefcatur/go-stockflow/internal/auth"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"io"
	"net/http"
	"strings"
)

type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps err onto {message, statusCode}. Internal causes are logged and
// never sent to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.log().Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		span := trace.SpanFromContext(r.Context())
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
	}
	writeJSON(w, code, errorBody{Message: apperr.Message(err), StatusCode: code})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidArgument("request body is required")
		}
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) && ute.Field != "" {
			return apperr.InvalidArgument("invalid value for %s", ute.Field)
		}
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return apperr.InvalidArgument("%s", strings.TrimPrefix(err.Error(), "json: "))
		}
		return apperr.InvalidArgument("invalid json")
	}
	return nil
}

func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// number accepts a JSON number or a numeric string; clients send both.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = number(s)
		return nil
	}
	*n = number(b)
	return nil
}
