package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names sent on signed venue requests.
const (
	HeaderAPIKey    = "X-FA-API-KEY"
	HeaderTimestamp = "X-FA-TIMESTAMP"
	HeaderSignature = "X-FA-SIGNATURE"
	HeaderUnit      = "X-FA-UNIT"
)

// HMACAuth holds the credentials for HMAC-authenticated venue requests.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, base64 or raw
}

// Headers returns the signed headers for a request bound to an execution
// unit. The signature is HMAC-SHA256(secret, timestamp+method+path+unit+body)
// encoded as base64. unit may be empty for read-only requests.
func (h *HMACAuth) Headers(method, path, unit, body string) map[string]string {
	return h.HeadersAt(method, path, unit, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, unit, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64(h.secretBytes(), ts+method+path+unit+body)

	out := map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}
	if unit != "" {
		out[HeaderUnit] = unit
	}
	return out
}

// Verify checks a signature produced by HeadersAt. It is used by the
// in-process venue and loan simulators.
func (h *HMACAuth) Verify(method, path, unit, body, ts, signature string) bool {
	want := hmacSHA256Base64(h.secretBytes(), ts+method+path+unit+body)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (h *HMACAuth) secretBytes() []byte {
	if b, err := base64.StdEncoding.DecodeString(h.Secret); err == nil && len(b) > 0 {
		return b
	}
	return []byte(h.Secret)
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
