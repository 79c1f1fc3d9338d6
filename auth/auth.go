/*
auth.go - Token issuance and verification

PURPOSE:
  Two token audiences share one HS256 secret, separated by a role claim:

  device: issued at register/login, subject is the account id
  admin:  issued after a bcrypt credential check, subject is the username

  Device auth is deliberately thin (device id = account id, no password):
  the threat model for an idle game is abuse of the coin endpoints, which
  the ledger's validation handles, not account takeover.

SEE ALSO:
  - auth/middleware.go: request guards and context accessors
*/
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Roles carried in the token.
const (
	RoleDevice = "device"
	RoleAdmin  = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload for both audiences.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens.
type Manager struct {
	secret    []byte
	deviceTTL time.Duration
	adminTTL  time.Duration
	now       func() time.Time
}

func NewManager(secret string, deviceTTL, adminTTL time.Duration) *Manager {
	return &Manager{
		secret:    []byte(secret),
		deviceTTL: deviceTTL,
		adminTTL:  adminTTL,
		now:       time.Now,
	}
}

// WithClock overrides the clock. Intended for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// IssueDevice mints a device token for an account id.
func (m *Manager) IssueDevice(accountID string) (string, error) {
	return m.issue(accountID, RoleDevice, m.deviceTTL)
}

// IssueAdmin mints an admin token for a username.
func (m *Manager) IssueAdmin(username string) (string, error) {
	return m.issue(username, RoleAdmin, m.adminTTL)
}

func (m *Manager) issue(subject, role string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and checks its signature, expiry and role.
func (m *Manager) Verify(tokenString, wantRole string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != wantRole || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// =============================================================================
// PASSWORD HASHING (admin credentials)
// =============================================================================

// HashPassword bcrypt-hashes an admin password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
