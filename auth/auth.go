package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const revokedPrefix = "auth:revoked:"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthModule issues and checks admin tokens for the management API. There is
// one admin account, configured by username and bcrypt hash.
type AuthModule struct {
	redis        *redis.Client
	username     string
	passwordHash string
	JWTSecret    string
	ttl          time.Duration
	now          func() time.Time
}

// NewAuthModule creates the module. redis may be nil, in which case logout
// cannot revoke tokens before they expire.
func NewAuthModule(redis *redis.Client, username, passwordHash, JWTSecret string, ttl time.Duration) *AuthModule {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthModule{
		redis:        redis,
		username:     username,
		passwordHash: passwordHash,
		JWTSecret:    JWTSecret,
		ttl:          ttl,
		now:          time.Now,
	}
}

// HashPassword returns the bcrypt hash to put in the admin config
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(h), err
}

func (a *AuthModule) authenticateUser(username, password string) error {
	if a.passwordHash == "" || username != a.username {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (a *AuthModule) generateJWT(username string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

// LoginWithJWT checks the credentials and returns a signed token
func (a *AuthModule) LoginWithJWT(ctx context.Context, username, password string) (string, error) {
	if err := a.authenticateUser(username, password); err != nil {
		return "", err
	}
	return a.generateJWT(username)
}

func (a *AuthModule) parse(token string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateTokenJWT returns the username a token was issued to. The token may
// carry a "Bearer " prefix.
func (a *AuthModule) ValidateTokenJWT(ctx context.Context, token string) (string, error) {
	claims, err := a.parse(token)
	if err != nil {
		return "", err
	}
	if a.redis != nil && claims.ID != "" {
		n, err := a.redis.Exists(ctx, revokedPrefix+claims.ID).Result()
		if err != nil {
			return "", err
		}
		if n > 0 {
			return "", ErrInvalidToken
		}
	}
	return claims.Subject, nil
}

// LogoutJWT revokes a token until it would have expired
func (a *AuthModule) LogoutJWT(ctx context.Context, token string) error {
	claims, err := a.parse(token)
	if err != nil {
		return err
	}
	if a.redis == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(a.now())
	if ttl <= 0 {
		return nil
	}
	return a.redis.Set(ctx, revokedPrefix+claims.ID, claims.Subject, ttl).Err()
}
