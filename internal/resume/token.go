// Package resume implements the optional, orthogonal resume token
// (spec.md §4.3). The token only carries an authenticated copy of a
// client's resume offset for callers that want one; session resume does
// not read it.
package resume

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	rtcerrors "github.com/streamspace/rtcmesh/internal/errors"
)

// DefaultTTLSec is the default resume token validity window.
const DefaultTTLSec = 3600

// Generate builds a token of the form
// base64url(clientId ":" offset ":" epochSec ":" hmac).
func Generate(secret, clientID string, offset int64, now time.Time) string {
	epoch := now.Unix()
	mac := sign(secret, clientID, offset, epoch)
	raw := fmt.Sprintf("%s:%d:%d:%s", clientID, offset, epoch, mac)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Verify decodes and checks a token against secret and ttlSec, returning
// the encoded clientID/offset iff the HMAC matches and the token has not
// expired.
func Verify(secret, token string, ttlSec int, now time.Time) (clientID string, offset int64, err error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, rtcerrors.ErrTokenMalformed
	}

	parts := strings.SplitN(string(decoded), ":", 4)
	if len(parts) != 4 {
		return "", 0, rtcerrors.ErrTokenMalformed
	}
	clientID = parts[0]
	offset, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, rtcerrors.ErrTokenMalformed
	}
	epoch, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, rtcerrors.ErrTokenMalformed
	}
	mac := parts[3]

	expected := sign(secret, clientID, offset, epoch)
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return "", 0, rtcerrors.ErrTokenMismatch
	}

	if ttlSec <= 0 {
		ttlSec = DefaultTTLSec
	}
	if now.Unix()-epoch > int64(ttlSec) {
		return "", 0, rtcerrors.ErrTokenExpired
	}

	return clientID, offset, nil
}

func sign(secret, clientID string, offset, epoch int64) string {
	msg := fmt.Sprintf("%s:%d:%d", clientID, offset, epoch)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}
