// Package signature authenticates execution callbacks. The broker signs each
// callback with a short-lived HS256 JWT whose "body" claim is the base64url
// SHA-256 of the request body.
package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HeaderName carries the token on callbacks.
const HeaderName = "Upstash-Signature"

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBodyMismatch     = errors.New("body hash does not match signature")
	ErrNoSigningKeys    = errors.New("no signing keys configured")
)

// Claims carried by a callback token.
type Claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Config holds the signing material shared with the broker. NextKey is
// accepted alongside CurrentKey during key rotation.
type Config struct {
	CurrentKey string
	NextKey    string
	Issuer     string
	// Subject is the callback URL the broker was asked to call. Empty skips the check.
	Subject string
	Leeway  time.Duration
}

type Verifier struct {
	keys   [][]byte
	cfg    Config
	logger *slog.Logger
}

func NewVerifier(cfg Config, logger *slog.Logger) (*Verifier, error) {
	var keys [][]byte
	for _, k := range []string{cfg.CurrentKey, cfg.NextKey} {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoSigningKeys
	}
	return &Verifier{keys: keys, cfg: cfg, logger: logger.With("component", "signature_verifier")}, nil
}

// Verify reports whether token authenticates body.
func (v *Verifier) Verify(body []byte, token string) bool {
	return v.VerifyDetailed(body, token) == nil
}

// VerifyDetailed returns nil if token authenticates body, otherwise the
// reason it was rejected.
func (v *Verifier) VerifyDetailed(body []byte, token string) error {
	if token == "" {
		return ErrMissingSignature
	}

	var err error
	for _, key := range v.keys {
		err = v.verifyWithKey(body, token, key)
		if err == nil {
			return nil
		}
		// Only a key mismatch moves on to the next key.
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	v.logger.Debug("Signature rejected", "error", err)
	return err
}

func (v *Verifier) verifyWithKey(body []byte, token string, key []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Subject != "" {
		opts = append(opts, jwt.WithSubject(v.cfg.Subject))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("invalid signature token: %w", err)
	}

	want := bodyHash(body)
	got := strings.TrimRight(claims.Body, "=")
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrBodyMismatch
	}
	return nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Signer produces tokens the Verifier accepts. The broker holds the same key;
// this is used by tests and local tooling that stand in for it.
type Signer struct {
	Key     string
	Issuer  string
	Subject string
	TTL     time.Duration
	Now     func() time.Time
}

func (s Signer) Sign(body []byte) (string, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	ttl := s.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	claims := Claims{
		Body: bodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   s.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Key))
}
