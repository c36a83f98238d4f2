package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL applies when Issue is called without a lifetime.
const DefaultTTL = 15 * time.Minute

// ErrInvalidToken is the only error Validate returns. Which check failed is
// deliberately not exposed.
var ErrInvalidToken = errors.New("invalid token")

// ErrEmptySecret is returned by Issue when the manager has no signing key.
var ErrEmptySecret = errors.New("token signing secret is empty")

type Manager struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &Manager{
		secret:     []byte(secret),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Issue signs an HS256 token for subject that expires after ttl.
func (m *Manager) Issue(subject string, ttl time.Duration) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrEmptySecret
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is empty")
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.now().UTC()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate returns the subject of a well-signed, unexpired token.
func (m *Manager) Validate(tokenStr string) (string, error) {
	// an empty key would accept tokens anyone can sign
	if len(m.secret) == 0 {
		return "", ErrInvalidToken
	}

	parser := jwt.NewParser(
		// Enforce HS256
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	claims := &jwt.RegisteredClaims{}

	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// GenerateSecret returns a random 256-bit signing key. Tokens signed with it
// do not survive a restart.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
