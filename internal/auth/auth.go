// Package auth guards the admin view with a bcrypt-hashed password and
// short-lived HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const (
	adminSubject = "admin"
	issuer       = "veincheck"
	minSecretLen = 16
)

type Config struct {
	PasswordHash string
	Secret       string
	TokenTTL     time.Duration
}

type Authenticator struct {
	hash   []byte
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(cfg Config) (*Authenticator, error) {
	if cfg.PasswordHash == "" {
		return nil, fmt.Errorf("admin password hash is required")
	}
	if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
		return nil, fmt.Errorf("admin password hash: %w", err)
	}
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("JWT secret must be at least %d characters", minSecretLen)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Authenticator{
		hash:   []byte(cfg.PasswordHash),
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}, nil
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Login checks the password and issues a token.
func (a *Authenticator) Login(password string) (token string, expiresAt time.Time, err error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	now := a.now()
	expiresAt = now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (a *Authenticator) Verify(tokenString string) error {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithSubject(adminSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
