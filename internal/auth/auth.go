package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type ctxkey string

const (
	userkey ctxkey = "autheduser"
)

type AuthedUser struct {
	ID string
}

func StoreUserInContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userkey, &AuthedUser{ID: id})
}

func UserFromContext(ctx context.Context) *AuthedUser {
	au, ok := ctx.Value(userkey).(*AuthedUser)
	if ok {
		return au
	}
	return nil
}

// Authenticator verifies and issues HMAC-signed bearer tokens. The subject
// claim is the tenant's user id.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// IssueToken signs a token for userID that expires after the configured TTL.
func (a *Authenticator) IssueToken(userID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate parses a bearer Authorization header value and returns the
// user it names.
func (a *Authenticator) Authenticate(header string) (*AuthedUser, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: no auth method", ErrUnauthenticated)
	}
	userToken := strings.TrimPrefix(header, "Bearer ")

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(userToken, claims, func(token *jwt.Token) (interface{}, error) {
		// Ensure the signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse token: %w", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	return &AuthedUser{ID: claims.Subject}, nil
}

// Middleware rejects requests without a valid token and stores the user in
// the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			log.Ctx(r.Context()).Debug().Err(err).Msg("auth-failed")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthenticated"}` + "\n"))
			return
		}
		ctx := StoreUserInContext(r.Context(), user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
