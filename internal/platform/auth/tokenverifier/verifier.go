package tokenverifier

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
)

// Claims is the only supported token claims shape for this service.
// Subject is the identity-provider subject; the member record is resolved
// from it at request time, never trusted from the token.
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}

// Identity is what a verified token asserts about the caller.
type Identity struct {
	Subject domain.SubjectID
	Role    domain.Role
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(secret, issuer, audience string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify parses and validates a compact token and returns the identity it
// asserts. Issuer and audience checks apply only when configured.
func (v *Verifier) Verify(tokenString string, now time.Time) (Identity, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if err := jwt.NewValidator(opts...).Validate(claims.RegisteredClaims); err != nil {
		return Identity{}, err
	}

	if claims.Subject == "" {
		return Identity{}, errors.New("sub missing")
	}
	role, err := parseRole(claims.Role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Subject: domain.SubjectID(claims.Subject),
		Role:    role,
	}, nil
}

func parseRole(s string) (domain.Role, error) {
	switch domain.Role(s) {
	case domain.RoleAdventurer, domain.RoleAgent, domain.RoleAdmin:
		return domain.Role(s), nil
	case "":
		return "", errors.New("role missing")
	default:
		return "", errors.New("unknown role")
	}
}
