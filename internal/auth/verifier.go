package auth

import (
	"errors"
	"github.com/ariefcatur/go-stockflow/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"net/http"
	"strings"
	"time"
)

// Claims mirror the tokens issued by the login service: subject is the
// admin or customer id, isAdmin selects which principal collection it names.
type Claims struct {
	IsAdmin bool `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Verifier turns a bearer credential into an Identity.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, apperr.Unauthenticated("no token provided")
	}
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Unauthenticated("session expired, please login again")
		}
		return Identity{}, apperr.Unauthenticated("invalid token, please login again")
	}
	if c.Subject == "" {
		return Identity{}, apperr.Unauthenticated("token has no subject")
	}
	if c.IsAdmin {
		return Admin(c.Subject), nil
	}
	return Customer(c.Subject), nil
}

// Issue signs a token for id. Login lives elsewhere; this is used by tests
// and local tooling.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		IsAdmin: id.IsAdmin(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
