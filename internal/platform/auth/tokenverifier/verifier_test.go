package tokenverifier

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, mutate func(*Claims)) string {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"call-scheduler"},
			Subject:   "auth0|abc123",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: string(domain.RoleAgent),
	}
	if mutate != nil {
		mutate(&claims)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestVerify_ValidToken(t *testing.T) {
	t.Parallel()
	v, err := NewVerifier(testSecret, "https://auth.example.com", "call-scheduler")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	id, err := v.Verify(mintToken(t, testSecret, nil), now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "auth0|abc123" {
		t.Errorf("Subject = %q", id.Subject)
	}
	if id.Role != domain.RoleAgent {
		t.Errorf("Role = %q", id.Role)
	}
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()
	v, err := NewVerifier(testSecret, "https://auth.example.com", "call-scheduler")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		token string
		at    time.Time
	}{
		{"wrong secret", mintToken(t, "other-secret", nil), now},
		{"expired", mintToken(t, testSecret, nil), now.Add(2 * time.Hour)},
		{"wrong issuer", mintToken(t, testSecret, func(c *Claims) {
			c.Issuer = "https://evil.example.com"
		}), now},
		{"wrong audience", mintToken(t, testSecret, func(c *Claims) {
			c.Audience = jwt.ClaimStrings{"other-api"}
		}), now},
		{"missing subject", mintToken(t, testSecret, func(c *Claims) {
			c.Subject = ""
		}), now},
		{"missing role", mintToken(t, testSecret, func(c *Claims) {
			c.Role = ""
		}), now},
		{"unknown role", mintToken(t, testSecret, func(c *Claims) {
			c.Role = "SUPERUSER"
		}), now},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.token, tc.at); err == nil {
				t.Error("Verify succeeded, want error")
			}
		})
	}
}

func TestVerify_UnconfiguredIssuerAndAudienceSkipped(t *testing.T) {
	t.Parallel()
	v, err := NewVerifier(testSecret, "", "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	tok := mintToken(t, testSecret, func(c *Claims) {
		c.Issuer = "https://anything.example.com"
		c.Audience = nil
	})
	if _, err := v.Verify(tok, now); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	t.Parallel()
	if _, err := NewVerifier("", "iss", "aud"); err == nil {
		t.Error("NewVerifier accepted empty secret")
	} else if errors.Is(err, jwt.ErrTokenMalformed) {
		t.Errorf("unexpected error type: %v", err)
	}
}
