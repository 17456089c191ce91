package signature

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackURL = "https://app.example.com/api/v1/callbacks/execute"

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		CurrentKey: "current-key",
		NextKey:    "next-key",
		Issuer:     "Upstash",
		Subject:    callbackURL,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func sign(t *testing.T, s Signer, body []byte) string {
	t.Helper()
	token, err := s.Sign(body)
	require.NoError(t, err)
	return token
}

func TestVerifier_Verify(t *testing.T) {
	body := []byte(`{"jobId":"6f1c","ownerId":"u1","platform":"twitter"}`)
	valid := Signer{Key: "current-key", Issuer: "Upstash", Subject: callbackURL}

	tests := []struct {
		name  string
		token func() string
		body  []byte
		want  bool
	}{
		{name: "current key", token: func() string { return sign(t, valid, body) }, body: body, want: true},
		{name: "next key during rotation", token: func() string {
			s := valid
			s.Key = "next-key"
			return sign(t, s, body)
		}, body: body, want: true},
		{name: "unknown key", token: func() string {
			s := valid
			s.Key = "attacker-key"
			return sign(t, s, body)
		}, body: body, want: false},
		{name: "tampered body", token: func() string { return sign(t, valid, body) }, body: []byte(`{"jobId":"other"}`), want: false},
		{name: "wrong issuer", token: func() string {
			s := valid
			s.Issuer = "someone-else"
			return sign(t, s, body)
		}, body: body, want: false},
		{name: "wrong subject", token: func() string {
			s := valid
			s.Subject = "https://evil.example.com/hook"
			return sign(t, s, body)
		}, body: body, want: false},
		{name: "expired", token: func() string {
			s := valid
			s.Now = func() time.Time { return time.Now().Add(-time.Hour) }
			return sign(t, s, body)
		}, body: body, want: false},
		{name: "empty token", token: func() string { return "" }, body: body, want: false},
		{name: "garbage token", token: func() string { return "not.a.jwt" }, body: body, want: false},
	}

	v := newVerifier(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Verify(tt.body, tt.token()))
		})
	}
}

func TestVerifier_RejectsNoneAlgorithm(t *testing.T) {
	body := []byte(`{}`)
	claims := Claims{
		Body: bodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Upstash",
			Subject:   callbackURL,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	assert.False(t, newVerifier(t).Verify(body, token))
}

func TestVerifier_DetailedReasons(t *testing.T) {
	v := newVerifier(t)
	body := []byte(`{"jobId":"1"}`)

	assert.ErrorIs(t, v.VerifyDetailed(body, ""), ErrMissingSignature)

	token := sign(t, Signer{Key: "current-key", Issuer: "Upstash", Subject: callbackURL}, body)
	assert.ErrorIs(t, v.VerifyDetailed([]byte(`{"jobId":"2"}`), token), ErrBodyMismatch)
}

func TestNewVerifier_RequiresKey(t *testing.T) {
	_, err := NewVerifier(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, ErrNoSigningKeys)
}
