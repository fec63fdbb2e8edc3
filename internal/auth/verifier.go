package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/alleato/procore-api/internal/common"
)

// Claims is the subset of the hosted auth provider's access token we rely on.
type Claims struct {
	Subject string
	Email   string
	Role    string
}

// Verifier validates HS256 access tokens issued by the hosted auth provider.
// Sessions and sign-in live with the provider; this service only verifies.
type Verifier struct {
	secret    []byte
	issuer    string
	audience  string
	clockSkew time.Duration
	algorithm jwa.SignatureAlgorithm
	now       func() time.Time
}

// VerifierConfig configures NewVerifier.
type VerifierConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewVerifier builds a Verifier for the shared project JWT secret.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		secret:    []byte(cfg.Secret),
		issuer:    strings.TrimSpace(cfg.Issuer),
		audience:  strings.TrimSpace(cfg.Audience),
		clockSkew: cfg.ClockSkew,
		algorithm: jwa.HS256,
		now:       now,
	}, nil
}

// Verify checks signature, algorithm, expiry and the optional issuer and
// audience, returning the token claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, unauthorized(errNoToken)
	}
	alg, err := tokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if alg != v.algorithm {
		return Claims{}, unauthorized(fmt.Errorf("auth: unexpected token algorithm %s", alg))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(alg, v.secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, unauthorized(err)
	}
	if err := jwt.Validate(parsed, v.validateOptions()...); err != nil {
		return Claims{}, unauthorized(err)
	}
	if parsed.Subject() == "" {
		return Claims{}, unauthorized(errors.New("auth: token has no subject"))
	}
	claims := Claims{Subject: parsed.Subject()}
	if email, ok := parsed.Get("email"); ok {
		claims.Email, _ = email.(string)
	}
	if role, ok := parsed.Get("role"); ok {
		claims.Role, _ = role.(string)
	}
	return claims, nil
}

func (v *Verifier) validateOptions() []jwt.ValidateOption {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(v.now)),
	}
	if v.clockSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(v.clockSkew))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return opts
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil || headers.Algorithm() == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	if headers.Algorithm() == jwa.NoSignature {
		return "", errors.New("auth: unsigned token")
	}
	return headers.Algorithm(), nil
}

func unauthorized(err error) *common.AppError {
	return common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, err)
}
