package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware validates bearer tokens issued by the upstream identity service
// and attaches the resulting Principal to the request context.
type Middleware struct {
	Secret []byte
}

// RequirePrincipal enforces that a valid token for an active employee is
// present before executing the next handler.
func (m Middleware) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.principalFromRequest(r)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
			return
		}
		if !principal.Active() {
			common.JSONError(w, http.StatusForbidden, common.CodeForbidden, "employee account is not active", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRole additionally demands one of the provided roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequirePrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := PrincipalFrom(r.Context())
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			common.JSONError(w, http.StatusForbidden, common.CodeForbidden, "insufficient permissions", nil)
		}))
	}
}

func (m Middleware) principalFromRequest(r *http.Request) (Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return Principal{}, errNoToken
	}
	raw := strings.TrimSpace(header[len("bearer "):])
	if raw == "" {
		return Principal{}, errNoToken
	}
	token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, m.Secret), jwt.WithValidate(true))
	if err != nil {
		return Principal{}, err
	}
	employeeID, err := uuid.Parse(token.Subject())
	if err != nil {
		return Principal{}, errors.New("auth: subject is not an employee id")
	}
	principal := Principal{
		EmployeeID: employeeID,
		Role:       stringClaim(token, "role"),
		Status:     stringClaim(token, "status"),
	}
	if principal.Status == "" {
		principal.Status = "active"
	}
	principal.DiscountCeiling = decimalClaim(token, "discountCeiling")
	return principal, nil
}

func stringClaim(token jwt.Token, name string) string {
	v, ok := token.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func decimalClaim(token jwt.Token, name string) decimal.Decimal {
	v, ok := token.Get(name)
	if !ok {
		return decimal.Zero
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int64:
		return decimal.NewFromInt(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
