package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const customerIDKey contextKey = "customer_id"

// Claims are issued by the booking platform. Service tokens carry no
// customer and may act for any customer.
type Claims struct {
	CustomerID string `json:"customer_id,omitempty"`
	jwt.RegisteredClaims
}

// RequireAuth validates an HS256 bearer token. An empty secret disables
// authentication, which config only allows outside production.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if jwtSecret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header", "auth_required")
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "invalid token", "auth_invalid")
				return
			}

			ctx := r.Context()
			if claims.CustomerID != "" {
				ctx = context.WithValue(ctx, customerIDKey, claims.CustomerID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CustomerID returns the customer the caller is authenticated as, if any.
func CustomerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerIDKey).(string)
	return id, ok
}

func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
