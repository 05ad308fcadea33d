package authz

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lumavet.pet/lumavet/internal/domain"
)

// Token kinds
const (
	KindSession    = "session"
	KindActivation = "activation"
)

const issuer = "lumavet"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenUsed    = errors.New("token no longer valid for this account")
)

// Claims carried by every token
type Claims struct {
	jwt.RegisteredClaims
	Kind        string `json:"kind"`
	Role        string `json:"role,omitempty"`
	Fingerprint string `json:"fp,omitempty"`
}

// TokenManager issues and verifies HMAC-signed tokens
type TokenManager struct {
	secret        []byte
	sessionTTL    time.Duration
	activationTTL time.Duration
	now           func() time.Time
}

// NewTokenManager creates a manager. The secret must be at least 32 bytes.
func NewTokenManager(secret string, sessionTTL, activationTTL time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes")
	}
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	if activationTTL <= 0 {
		activationTTL = 72 * time.Hour
	}
	return &TokenManager{
		secret:        []byte(secret),
		sessionTTL:    sessionTTL,
		activationTTL: activationTTL,
		now:           time.Now,
	}, nil
}

// SessionTTL is the lifetime of session tokens
func (tm *TokenManager) SessionTTL() time.Duration {
	return tm.sessionTTL
}

// IssueSession signs a session token for u and returns it with its expiry
func (tm *TokenManager) IssueSession(u *domain.User) (string, time.Time, error) {
	exp := tm.now().Add(tm.sessionTTL)
	tok, err := tm.sign(Claims{
		RegisteredClaims: tm.registered(u.ID, exp),
		Kind:             KindSession,
		Role:             string(u.Role),
		Fingerprint:      passwordFingerprint(u),
	})
	return tok, exp, err
}

// ParseSession verifies a session token and returns its claims
func (tm *TokenManager) ParseSession(token string) (*Claims, error) {
	return tm.parse(token, KindSession)
}

// SessionStillValid reports whether claims were issued for u's current
// password, so a password change by someone else ends older sessions
func SessionStillValid(c *Claims, u *domain.User) bool {
	return c.Fingerprint == passwordFingerprint(u)
}

// IssueActivation signs a single-use activation token bound to the account's
// current password hash, last login and email
func (tm *TokenManager) IssueActivation(u *domain.User) (string, error) {
	return tm.sign(Claims{
		RegisteredClaims: tm.registered(u.ID, tm.now().Add(tm.activationTTL)),
		Kind:             KindActivation,
		Fingerprint:      activationFingerprint(u),
	})
}

// VerifyActivation checks that token was issued for u in its current state
func (tm *TokenManager) VerifyActivation(u *domain.User, token string) error {
	c, err := tm.parse(token, KindActivation)
	if err != nil {
		return err
	}
	if c.Subject != u.ID {
		return ErrInvalidToken
	}
	if c.Fingerprint != activationFingerprint(u) {
		return ErrTokenUsed
	}
	return nil
}

func (tm *TokenManager) registered(subject string, exp time.Time) jwt.RegisteredClaims {
	now := tm.now()
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (tm *TokenManager) sign(c Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (tm *TokenManager) parse(token, kind string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(tm.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != kind || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func passwordFingerprint(u *domain.User) string {
	sum := sha256.Sum256([]byte(u.PasswordHash))
	return hex.EncodeToString(sum[:8])
}

func activationFingerprint(u *domain.User) string {
	login := ""
	if u.LastLoginAt != nil {
		login = strconv.FormatInt(u.LastLoginAt.UTC().Unix(), 10)
	}
	sum := sha256.Sum256([]byte(u.PasswordHash + "|" + login + "|" + u.Email + "|" + strconv.FormatBool(u.Active)))
	return hex.EncodeToString(sum[:16])
}

// EncodeUID is the URL-safe, unpadded base64 form of a user id used in links
func EncodeUID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeUID reverses EncodeUID
func DecodeUID(uidb64 string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(uidb64)
	if err != nil || len(b) == 0 {
		return "", ErrInvalidToken
	}
	return string(b), nil
}
