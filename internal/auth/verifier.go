package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/touchlink/gateway/internal/config"
	apperrors "github.com/touchlink/gateway/internal/errors"
)

// Claims carries the identity the gateway cares about. Subject is the
// user ID; UserID is accepted as an alternative claim for older tokens.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks handshake credentials and resolves them to a user ID.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier builds a Verifier from the auth configuration.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
	}
}

// ExtractToken pulls the credential from an upgrade request. The
// Authorization header takes precedence over the token query parameter.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return h
	}
	return r.URL.Query().Get("token")
}

// Verify validates the token and returns the user ID it identifies.
// An empty token yields an UNAUTHENTICATED error; any verification
// failure yields INVALID_TOKEN.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperrors.UnauthenticatedError()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", apperrors.InvalidTokenError(err)
	}
	if !token.Valid {
		return "", apperrors.InvalidTokenError(fmt.Errorf("token is not valid"))
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return "", apperrors.InvalidTokenError(fmt.Errorf("token carries no subject"))
	}
	return userID, nil
}
