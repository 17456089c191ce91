package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-access-secret"

func accessToken(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": exp.Unix()}
	if sub != "" {
		claims["sub"] = sub
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		header   func() string
		wantCode int
		wantUser string
	}{
		{name: "valid", header: func() string { return "Bearer " + accessToken(t, testJWTSecret, "user-1", time.Now().Add(time.Hour)) }, wantCode: http.StatusOK, wantUser: "user-1"},
		{name: "missing header", header: func() string { return "" }, wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: func() string { return "Basic abc" }, wantCode: http.StatusUnauthorized},
		{name: "wrong secret", header: func() string { return "Bearer " + accessToken(t, "other", "user-1", time.Now().Add(time.Hour)) }, wantCode: http.StatusUnauthorized},
		{name: "expired", header: func() string { return "Bearer " + accessToken(t, testJWTSecret, "user-1", time.Now().Add(-time.Hour)) }, wantCode: http.StatusUnauthorized},
		{name: "no subject", header: func() string { return "Bearer " + accessToken(t, testJWTSecret, "", time.Now().Add(time.Hour)) }, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				u, ok := UserFromContext(r.Context())
				require.True(t, ok)
				gotUser = u.ID
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if h := tt.header(); h != "" {
				req.Header.Set("Authorization", h)
			}
			rr := httptest.NewRecorder()
			JWTAuthMiddleware(testJWTSecret, discardLogger())(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantUser, gotUser)
		})
	}
}
