package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const stateMaxAge = 10 * time.Minute

var (
	ErrStateExpired   = errors.New("state expired")
	ErrStateMalformed = errors.New("invalid state format")
	ErrStateSignature = errors.New("invalid state signature")
)

// NewStateToken builds an anti-forgery state token of the form
// nonce:timestamp:signature where the signature is an HMAC-SHA256 over
// nonce:timestamp.
func NewStateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := base64.RawURLEncoding.EncodeToString(buf)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	return fmt.Sprintf("%s:%s:%s", nonce, timestamp, signState(nonce, timestamp)), nil
}

// VerifyStateToken rejects tampered or stale state tokens. It performs no
// network calls, so a bad state fails before any token exchange is
// attempted. The signature is checked before the age so a forged token is
// always reported as forged, never as merely expired.
func VerifyStateToken(state string) error {
	parts := strings.Split(state, ":")
	if len(parts) != 3 {
		return ErrStateMalformed
	}
	nonce, timestampStr, providedSig := parts[0], parts[1], parts[2]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return ErrStateMalformed
	}

	expected := signState(nonce, timestampStr)
	if !hmac.Equal([]byte(providedSig), []byte(expected)) {
		return ErrStateSignature
	}

	if time.Since(time.Unix(timestamp, 0)) > stateMaxAge {
		return ErrStateExpired
	}
	return nil
}

func signState(nonce, timestamp string) string {
	mac := hmac.New(sha256.New, jwtSecret())
	mac.Write([]byte(nonce + ":" + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}
