package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/registration/internal/core/domain"
)

var errMissingToken = errors.New("missing bearer token")

type contextKey string

const contextKeyCaller contextKey = "caller"

// Claims are the registration-specific JWT claims.
type Claims struct {
	SupplierID string `json:"supplierId,omitempty"`
	Admin      bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and turns them into callers.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Authenticate validates the token and returns the caller it names.
func (a *Authenticator) Authenticate(token string) (domain.Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return domain.Caller{}, fmt.Errorf("token validation failed: %w", err)
	}

	caller := domain.Caller{Subject: claims.Subject, Admin: claims.Admin}
	if claims.SupplierID != "" {
		id, err := uuid.Parse(claims.SupplierID)
		if err != nil {
			return domain.Caller{}, fmt.Errorf("invalid supplierId claim: %w", err)
		}
		caller.SupplierID = id
	}
	if caller.SupplierID == uuid.Nil && !caller.Admin {
		return domain.Caller{}, errors.New("token names neither a supplier nor an admin")
	}
	return caller, nil
}

// Issue signs a token for caller. Used by the token command and tests.
func (a *Authenticator) Issue(caller domain.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Admin: caller.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.Subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if caller.SupplierID != uuid.Nil {
		claims.SupplierID = caller.SupplierID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.fromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// UnaryInterceptor reads the bearer token from the "authorization" metadata.
func (a *Authenticator) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			header = v[0]
		}
	}
	caller, err := a.fromHeader(header)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return handler(WithCaller(ctx, caller), req)
}

func (a *Authenticator) fromHeader(header string) (domain.Caller, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return domain.Caller{}, errMissingToken
	}
	return a.Authenticate(token)
}

func WithCaller(ctx context.Context, c domain.Caller) context.Context {
	return context.WithValue(ctx, contextKeyCaller, c)
}

// CallerFromContext returns the authenticated caller. The zero Caller can
// act for nobody.
func CallerFromContext(ctx context.Context) domain.Caller {
	c, _ := ctx.Value(contextKeyCaller).(domain.Caller)
	return c
}
