package orders

import (
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Generic status updates may move an open order to any other status.
// delivered and cancelled are terminal: delivered orders are what invoices
// claim, and cancelled ones have already had their stock restored.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusShipped: true, StatusDelivered: true, StatusCancelled: true},
	StatusConfirmed: {StatusPending: true, StatusShipped: true, StatusDelivered: true, StatusCancelled: true},
	StatusShipped:   {StatusPending: true, StatusConfirmed: true, StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func ParseStatus(raw string) (Status, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperr.InvalidArgument("status is required")
	}
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validNext[s]; !ok {
		return "", apperr.InvalidArgument("invalid status: %s", raw)
	}
	return s, nil
}
