package auth

import (
	"errors"
	"time"

	"github.com/MicahParks/keyfunc"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/config"
)

const jwksRefreshInterval = time.Hour

// Claims describes the Keycloak access-token payload this service reads.
type Claims struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens issued by the identity provider
// against its published JWKS.
type Verifier struct {
	jwks     *keyfunc.JWKS
	parser   *jwt.Parser
	issuer   string
	audience string
}

// NewVerifier fetches the realm JWKS and prepares an RS256 parser.
func NewVerifier(cfg config.KeycloakConfig, logger *zap.Logger) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("KEYCLOAK_JWKS_URL not configured")
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		RefreshInterval: jwksRefreshInterval,
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", zap.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}

	return &Verifier{
		jwks:     jwks,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Verify parses and validates the token, returning its claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, v.jwks.Keyfunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, errors.New("unexpected issuer")
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, errors.New("unexpected audience")
	}
	return claims, nil
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}
