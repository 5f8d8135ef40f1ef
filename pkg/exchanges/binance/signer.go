package binance

import (
	"strconv"
	"time"

	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/rest"
)

// recvWindow is the tolerance Binance allows between the signed timestamp
// and server receipt.
const recvWindow = "10000"

// Signer signs Binance REST requests: timestamp and recvWindow join the
// query, and an HMAC-SHA256 over the encoded query string is appended as
// the signature parameter. url.Values.Encode sorts keys, so re-signing
// identical input yields an identical signature.
type Signer struct {
	creds interfaces.Credentials
}

// NewSigner creates a signer borrowing the given credentials.
func NewSigner(creds interfaces.Credentials) *Signer {
	return &Signer{creds: creds}
}

// listen-key endpoints authenticate with the API key header alone.
var keyOnlyPaths = map[string]bool{
	"/api/v3/userDataStream": true,
}

// Sign implements rest.Signer.
func (s *Signer) Sign(req *rest.Request, at time.Time) error {
	req.Header.Set("X-MBX-APIKEY", s.creds.Key)
	if keyOnlyPaths[req.Path] {
		return nil
	}

	req.Query.Set("timestamp", strconv.FormatInt(at.UnixMilli(), 10))
	req.Query.Set("recvWindow", recvWindow)
	req.Query.Set("signature", rest.HMACSHA256Hex(s.creds.Secret, req.Query.Encode()))
	return nil
}
