package kucoin

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/rest"
)

var signAt = time.UnixMilli(1700000000000)

func testSigner() *Signer {
	return NewSigner(interfaces.Credentials{
		Key:        "test-key",
		Secret:     "test-secret",
		Passphrase: "test-pass",
	})
}

func TestSignSetsAllHeaders(t *testing.T) {
	s := testSigner()

	req := rest.NewRequest(http.MethodGet, "/api/v1/accounts")
	req.Query.Set("type", "trade")
	require.NoError(t, s.Sign(&req, signAt))

	assert.Equal(t, "test-key", req.Header.Get("KC-API-KEY"))
	assert.Equal(t, "1700000000000", req.Header.Get("KC-API-TIMESTAMP"))
	assert.Equal(t, "2", req.Header.Get("KC-API-KEY-VERSION"))

	// HMAC over 1700000000000GET/api/v1/accounts?type=trade, base64.
	assert.Equal(t, "YnvHeuAjq1hbyB36wzxrdRShgNT2V4cE42wl8GrTT6Q=", req.Header.Get("KC-API-SIGN"))
	// Version 2 keys sign the passphrase itself with the secret.
	assert.Equal(t, "+KGfNXdTCAFagUD1lg/kgwlqIgMFeba97YWwVk6avzw=", req.Header.Get("KC-API-PASSPHRASE"))
}

func TestSignIncludesBody(t *testing.T) {
	s := testSigner()

	withBody := rest.NewRequest(http.MethodPost, "/api/v1/orders")
	withBody.Body = []byte(`{"side":"buy"}`)
	require.NoError(t, s.Sign(&withBody, signAt))

	withoutBody := rest.NewRequest(http.MethodPost, "/api/v1/orders")
	require.NoError(t, s.Sign(&withoutBody, signAt))

	assert.NotEqual(t, withBody.Header.Get("KC-API-SIGN"), withoutBody.Header.Get("KC-API-SIGN"))
}

func TestSignIsDeterministic(t *testing.T) {
	s := testSigner()

	sign := func() string {
		req := rest.NewRequest(http.MethodDelete, "/api/v1/orders")
		req.Query.Set("symbol", "BTC-USDT")
		require.NoError(t, s.Sign(&req, signAt))
		return req.Header.Get("KC-API-SIGN")
	}
	assert.Equal(t, sign(), sign())
}

func TestSignQueryAffectsSignature(t *testing.T) {
	s := testSigner()

	plain := rest.NewRequest(http.MethodGet, "/api/v1/orders")
	require.NoError(t, s.Sign(&plain, signAt))

	withQuery := rest.NewRequest(http.MethodGet, "/api/v1/orders")
	withQuery.Query.Set("status", "active")
	require.NoError(t, s.Sign(&withQuery, signAt))

	assert.NotEqual(t, plain.Header.Get("KC-API-SIGN"), withQuery.Header.Get("KC-API-SIGN"))
}
