package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// Signer attaches a signature, timestamp/nonce, and authentication headers
// to an outgoing request. The canonical string each implementation signs is
// exchange-specific but must be deterministic: re-signing an identical
// request at the same timestamp yields a byte-identical signature.
//
// Credentials are borrowed by the signer for the duration of each Sign
// call; implementations must not copy them anywhere else.
type Signer interface {
	Sign(req *Request, at time.Time) error
}

// HMACSHA256Hex computes the hex-encoded HMAC-SHA256 of payload, the
// signature form used by Binance-style query signing.
func HMACSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256Base64 computes the base64-encoded HMAC-SHA256 of payload, the
// signature form used by KuCoin-style header signing.
func HMACSHA256Base64(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
