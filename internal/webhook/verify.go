// Package webhook verifies Loops.so webhook signatures before any event
// payload is trusted. The scheme is svix-style: the signing secret is
// "whsec_<base64 key>", the signed content is "<id>.<timestamp>.<raw body>",
// and the signature header carries space-separated "v1,<base64 mac>" entries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingHeader is returned when a required header is absent.
	ErrMissingHeader = errors.New("missing required webhook header")
	// ErrBadSecret is returned when the stored secret cannot be decoded.
	ErrBadSecret = errors.New("malformed signing secret")
	// ErrBadSignature is returned when no header entry matches the computed
	// signature.
	ErrBadSignature = errors.New("invalid signature")
)

// Verify checks the signature header against the payload. eventID and
// timestamp come from the webhook-id and webhook-timestamp headers; body is
// the raw request body as received.
func Verify(secret, eventID, timestamp string, body []byte, signatureHeader string) error {
	if eventID == "" || timestamp == "" || signatureHeader == "" {
		return ErrMissingHeader
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", eventID, timestamp)
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// The header lists one or more "<version>,<signature>" entries.
	for _, entry := range strings.Fields(signatureHeader) {
		_, sig, ok := strings.Cut(entry, ",")
		if !ok {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(want)) {
			return nil
		}
	}
	return ErrBadSignature
}

// Sign computes the signature header entry for a payload. Used by tests and
// by anyone replaying stored events.
func Sign(secret, eventID, timestamp string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", eventID, timestamp)
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodeSecret(secret string) ([]byte, error) {
	_, encoded, ok := strings.Cut(secret, "_")
	if !ok || encoded == "" {
		return nil, ErrBadSecret
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSecret, err)
	}
	return key, nil
}
