package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/errs"
)

// Claims is the expected JWT payload.
type Claims struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// ValidatorConfig selects the verification key and optional issuer/audience
// checks. Exactly one of Secret or PublicKeyPEM must be set.
type ValidatorConfig struct {
	Secret       string
	PublicKeyPEM string
	Issuer       string
	Audience     string
}

// Validator verifies bearer JWTs (HS256 or RS256) and produces UserContexts.
type Validator struct {
	key        any
	methods    []string
	parserOpts []jwt.ParserOption
}

// NewValidator creates a Validator from config.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	v := &Validator{}

	switch {
	case cfg.Secret != "" && cfg.PublicKeyPEM != "":
		return nil, fmt.Errorf("cannot specify both secret and RSA key")
	case cfg.Secret != "":
		v.key = []byte(cfg.Secret)
		v.methods = []string{"HS256"}
	case cfg.PublicKeyPEM != "":
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing RSA public key: %w", err)
		}
		v.key = pub
		v.methods = []string{"RS256"}
	default:
		return nil, fmt.Errorf("must specify either secret or RSA key")
	}

	v.parserOpts = []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		v.parserOpts = append(v.parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.parserOpts = append(v.parserOpts, jwt.WithAudience(cfg.Audience))
	}

	return v, nil
}

// ValidateToken parses and verifies a raw token and returns the user context.
func (v *Validator) ValidateToken(token string) (UserContext, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.keyFor(t)
	}, v.parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Anonymous(), errs.Authentication("token is expired").WithCode("TOKEN_EXPIRED")
		}
		return Anonymous(), errs.Authentication(fmt.Sprintf("invalid token: %v", err)).WithCode("INVALID_TOKEN")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Anonymous(), errs.Authentication("token subject is not a valid user id").WithCode("INVALID_TOKEN")
	}

	return UserContext{
		UserID:        userID,
		Name:          claims.Name,
		Email:         claims.Email,
		Roles:         claims.Roles,
		Authenticated: true,
	}, nil
}

func (v *Validator) keyFor(t *jwt.Token) (any, error) {
	switch v.key.(type) {
	case []byte:
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	case *rsa.PublicKey:
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	}
	return v.key, nil
}

// ValidateAuthHeader extracts the bearer token from an Authorization header
// value and validates it.
func (v *Validator) ValidateAuthHeader(header string) (UserContext, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Anonymous(), errs.Authentication("authorization header must use the Bearer scheme").WithCode("INVALID_TOKEN")
	}
	if token == "" {
		return Anonymous(), errs.Authentication("token is empty").WithCode("INVALID_TOKEN")
	}
	return v.ValidateToken(token)
}
