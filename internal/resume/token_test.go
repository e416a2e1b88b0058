package resume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtcerrors "github.com/streamspace/rtcmesh/internal/errors"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := Generate("secret", "bob", 42, now)

	clientID, offset, err := Verify("secret", tok, DefaultTTLSec, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "bob", clientID)
	assert.Equal(t, int64(42), offset)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := Generate("secret", "bob", 42, now)

	_, _, err := Verify("other-secret", tok, DefaultTTLSec, now)
	assert.ErrorIs(t, err, rtcerrors.ErrTokenMismatch)
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok := Generate("secret", "bob", 42, now)

	_, _, err := Verify("secret", tok, 60, now.Add(time.Hour))
	assert.ErrorIs(t, err, rtcerrors.ErrTokenExpired)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	_, _, err := Verify("secret", "not-base64!!", DefaultTTLSec, time.Now())
	assert.ErrorIs(t, err, rtcerrors.ErrTokenMalformed)
}
