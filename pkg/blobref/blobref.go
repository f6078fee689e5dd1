// Package blobref issues signed, time-boxed references to stored session
// blobs. A reference proves the holder got it from this service recently;
// it carries no blob contents.
package blobref

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verification failures. Expired and tampered references are distinct so
// callers can tell a slow client from an attack.
var (
	ErrExpired   = errors.New("blob reference expired")
	ErrTampered  = errors.New("blob reference signature mismatch")
	ErrMalformed = errors.New("blob reference malformed")
)

// Ref is a parsed, verified blob reference.
type Ref struct {
	RequestID string
	SessionID string
	ExpiresAt time.Time
}

// Issuer mints and verifies references with a shared HMAC-SHA256 key.
type Issuer struct {
	key      []byte
	lifetime time.Duration
}

// NewIssuer creates an issuer. The key must be secret and stable across
// restarts; lifetime bounds how long an issued reference verifies.
func NewIssuer(key []byte, lifetime time.Duration) (*Issuer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("signing key too short: %d bytes", len(key))
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("lifetime must be positive, got %s", lifetime)
	}
	return &Issuer{key: key, lifetime: lifetime}, nil
}

// Issue mints a reference for a request's current session. Format:
// requestID.sessionID.expiresUnix.signature, all fields base64url.
func (i *Issuer) Issue(requestID, sessionID string) string {
	return i.issueAt(requestID, sessionID, time.Now().Add(i.lifetime))
}

func (i *Issuer) issueAt(requestID, sessionID string, expiresAt time.Time) string {
	parts := []string{
		base64.RawURLEncoding.EncodeToString([]byte(requestID)),
		base64.RawURLEncoding.EncodeToString([]byte(sessionID)),
		strconv.FormatInt(expiresAt.Unix(), 10),
	}
	payload := strings.Join(parts, ".")
	return payload + "." + i.sign(payload)
}

// Verify parses a reference, checks its signature, then its expiry. The
// signature check runs first so expiry can't be probed with forged refs.
func (i *Issuer) Verify(ref string) (*Ref, error) {
	parts := strings.Split(ref, ".")
	if len(parts) != 4 {
		return nil, ErrMalformed
	}
	payload := strings.Join(parts[:3], ".")

	expected := i.sign(payload)
	if !hmac.Equal([]byte(expected), []byte(parts[3])) {
		return nil, ErrTampered
	}

	requestID, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	sessionID, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}
	expiresUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}

	expiresAt := time.Unix(expiresUnix, 0)
	if time.Now().After(expiresAt) {
		return nil, ErrExpired
	}

	return &Ref{
		RequestID: string(requestID),
		SessionID: string(sessionID),
		ExpiresAt: expiresAt,
	}, nil
}

func (i *Issuer) sign(payload string) string {
	mac := hmac.New(sha256.New, i.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
