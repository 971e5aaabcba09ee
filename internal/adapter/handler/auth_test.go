package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/registration/internal/core/domain"
)

const testSecret = "test-secret"

func TestAuthenticator_RoundTrip(t *testing.T) {
	auth := NewAuthenticator(testSecret, "registration-test")
	caller := domain.Caller{Subject: "alice", SupplierID: uuid.New()}

	token, err := auth.Issue(caller, time.Minute)
	require.NoError(t, err)

	got, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, caller, got)
}

func TestAuthenticator_Rejects(t *testing.T) {
	auth := NewAuthenticator(testSecret, "registration-test")
	supplier := domain.Caller{Subject: "alice", SupplierID: uuid.New()}

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewAuthenticator("other", "registration-test").Issue(supplier, time.Minute)
		require.NoError(t, err)
		_, err = auth.Authenticate(token)
		require.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewAuthenticator(testSecret, "someone-else").Issue(supplier, time.Minute)
		require.NoError(t, err)
		_, err = auth.Authenticate(token)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := auth.Issue(supplier, -time.Minute)
		require.NoError(t, err)
		_, err = auth.Authenticate(token)
		require.Error(t, err)
	})

	t.Run("no supplier", func(t *testing.T) {
		token, err := auth.Issue(domain.Caller{Subject: "bob"}, time.Minute)
		require.NoError(t, err)
		_, err = auth.Authenticate(token)
		require.Error(t, err)
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			SupplierID:       supplier.SupplierID.String(),
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "registration-test"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = auth.Authenticate(token)
		require.Error(t, err)
	})
}

func TestAuthenticator_Admin(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")
	token, err := auth.Issue(domain.Caller{Subject: "ops", Admin: true}, time.Minute)
	require.NoError(t, err)

	got, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.True(t, got.Admin)
	assert.True(t, got.CanActFor(uuid.New()))
}

func TestMiddleware(t *testing.T) {
	auth := NewAuthenticator(testSecret, "")
	supplier := domain.Caller{Subject: "alice", SupplierID: uuid.New()}

	var seen domain.Caller
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/parts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/parts", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.Issue(supplier, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/parts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, supplier, seen)
}
