package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return iss
}

func TestNewIssuer_RejectsShortSecret(t *testing.T) {
	_, err := NewIssuer([]byte("short"))
	assert.Error(t, err)
}

func TestIssueAndVerify(t *testing.T) {
	iss := testIssuer(t)

	raw, err := iss.Issue("admin", "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := iss.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username())
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.NotEmpty(t, claims.ID, "each token carries a unique JTI")
	assert.WithinDuration(t, time.Now().Add(TokenTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestVerify_RejectsGarbage(t *testing.T) {
	iss := testIssuer(t)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, err := iss.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "input %q", raw)
	}
}

func TestVerify_RejectsTamperedToken(t *testing.T) {
	iss := testIssuer(t)

	raw, err := iss.Issue("admin", "sess-1")
	require.NoError(t, err)

	// Flip a character in the payload segment.
	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = iss.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsForeignSignature(t *testing.T) {
	iss := testIssuer(t)
	other, err := NewIssuer([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	raw, err := other.Issue("admin", "sess-1")
	require.NoError(t, err)

	_, err = iss.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	iss := testIssuer(t)

	// Issue in the past, verify in the present.
	iss.now = func() time.Time { return time.Now().Add(-TokenTTL - time.Hour) }
	raw, err := iss.Issue("admin", "sess-1")
	require.NoError(t, err)

	iss.now = time.Now
	_, err = iss.Verify(raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "short", Fingerprint("short"))

	fp := Fingerprint("eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.payload.sig")
	assert.Equal(t, "eyJhbGciOiJI...", fp)
	assert.Len(t, fp, 15)
}
