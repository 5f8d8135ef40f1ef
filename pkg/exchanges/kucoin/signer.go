package kucoin

import (
	"strconv"
	"time"

	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/rest"
)

// Signer signs KuCoin REST requests. The canonical string is
// timestamp + METHOD + path(+encoded query) + body, HMAC-SHA256 signed
// and base64 encoded into the KC-API-SIGN header. The passphrase itself
// is HMAC-signed with the secret, as API key version 2 requires.
type Signer struct {
	creds interfaces.Credentials
}

// NewSigner creates a signer borrowing the given credentials.
func NewSigner(creds interfaces.Credentials) *Signer {
	return &Signer{creds: creds}
}

// Sign implements rest.Signer. url.Values.Encode sorts keys, so the
// canonical string is deterministic for identical input.
func (s *Signer) Sign(req *rest.Request, at time.Time) error {
	timestamp := strconv.FormatInt(at.UnixMilli(), 10)

	pathWithQuery := req.Path
	if len(req.Query) > 0 {
		pathWithQuery += "?" + req.Query.Encode()
	}
	payload := timestamp + req.Method + pathWithQuery + string(req.Body)

	req.Header.Set("KC-API-KEY", s.creds.Key)
	req.Header.Set("KC-API-SIGN", rest.HMACSHA256Base64(s.creds.Secret, payload))
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", rest.HMACSHA256Base64(s.creds.Secret, s.creds.Passphrase))
	req.Header.Set("KC-API-KEY-VERSION", "2")
	return nil
}
