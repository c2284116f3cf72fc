package validation

import (
	"errors"
	"fmt"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/google/uuid"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Err folds the violations into one InvalidArgument error, fields in
// alphabetical order so messages are stable.
func (v Violations) Err() error {
	if v.Empty() {
		return nil
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, v[k])
	}
	return apperr.InvalidArgument("%s", strings.Join(parts, "; "))
}

type rule struct {
	re  *regexp.Regexp
	msg string
}

var rules = map[string]rule{
	"name":          {regexp.MustCompile(`^[a-zA-Z0-9 .&'-]{2,80}$`), "name must be 2-80 letters, digits or spaces"},
	"category":      {regexp.MustCompile(`^[a-z ]+$`), "category must be lowercase letters and spaces"},
	"price":         {regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`), "price must be a number with up to 2 decimal places"},
	"transactionId": {regexp.MustCompile(`^[A-Za-z0-9_-]{4,64}$`), "transactionId must be 4-64 letters, digits, '-' or '_'"},
}

// Field checks value against the named rule and records a readable reason.
// Unknown fields are only checked for presence.
func Field(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = field + " is required"
		return
	}
	if r, ok := rules[field]; ok && !r.re.MatchString(value) {
		v[field] = r.msg
	}
}

func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = field + " is required"
	}
}

// ID checks that value is a well-formed entity id.
func ID(field, value string, v Violations) {
	if _, err := uuid.Parse(value); err != nil {
		v[field] = fmt.Sprintf("invalid %s", field)
	}
}

func ParseID(field, value string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", apperr.InvalidArgument("invalid %s", field)
	}
	return u.String(), nil
}

// MaxQuantity is the largest value the integer quantity columns hold.
const MaxQuantity = math.MaxInt32

// Int parses a whole number sent as a JSON number or string. Values outside
// ±MaxQuantity are rejected.
func Int(field, raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, apperr.InvalidArgument("%s is required", field)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return 0, apperr.InvalidArgument("%s must be at most %d", field, MaxQuantity)
		}
		return 0, apperr.InvalidArgument("%s must be a number", field)
	}
	if n > MaxQuantity || n < -MaxQuantity {
		return 0, apperr.InvalidArgument("%s must be at most %d", field, MaxQuantity)
	}
	return n, nil
}

// NonNegativeInt parses a quantity-like field sent as a number or string.
func NonNegativeInt(field, raw string) (int, error) {
	n, err := Int(field, raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, apperr.InvalidArgument("%s must not be negative", field)
	}
	return n, nil
}

func PositiveInt(field, raw string) (int, error) {
	n, err := NonNegativeInt(field, raw)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperr.InvalidArgument("%s must be positive", field)
	}
	return n, nil
}

// Date accepts RFC3339 or a plain YYYY-MM-DD.
func Date(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.InvalidArgument("%s must be a date (YYYY-MM-DD or RFC3339)", field)
}
