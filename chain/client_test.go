package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rpcURL = "https://rpc.test"

func newTestClient(t *testing.T, commitment string) *Client {
	t.Helper()
	c := NewClient(config.LedgerConfig{RPCURL: rpcURL, Commitment: commitment})
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func respondWith(t *testing.T, body string) {
	httpmock.RegisterResponder(http.MethodPost, rpcURL, func(req *http.Request) (*http.Response, error) {
		var r rpcRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&r))
		assert.Equal(t, "getSignatureStatuses", r.Method)
		assert.Equal(t, "2.0", r.JSONRPC)
		return httpmock.NewStringResponse(200, body), nil
	})
}

func TestConfirmSignature(t *testing.T) {
	tests := []struct {
		name       string
		commitment string
		body       string
		expected   SignatureStatus
		landed     bool
	}{
		{
			name:     "finalized",
			body:     `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":10,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]}}`,
			expected: SignatureFinalized,
			landed:   true,
		},
		{
			name:     "confirmed",
			body:     `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":10,"confirmations":3,"err":null,"confirmationStatus":"confirmed"}]}}`,
			expected: SignatureConfirmed,
			landed:   true,
		},
		{
			name:       "confirmed below required commitment",
			commitment: "finalized",
			body:       `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":10,"confirmations":3,"err":null,"confirmationStatus":"confirmed"}]}}`,
			expected:   SignatureNotFound,
		},
		{
			name:     "processed only",
			body:     `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":10,"confirmations":0,"err":null,"confirmationStatus":"processed"}]}}`,
			expected: SignatureNotFound,
		},
		{
			name:     "unknown signature",
			body:     `{"jsonrpc":"2.0","id":1,"result":{"value":[null]}}`,
			expected: SignatureNotFound,
		},
		{
			name:     "transaction failed",
			body:     `{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":10,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"finalized"}]}}`,
			expected: SignatureFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.commitment)
			respondWith(t, tt.body)

			confirmation, err := c.ConfirmSignature(context.Background(), "sig")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, confirmation.Status)
			assert.Equal(t, tt.landed, confirmation.Status.Landed())
		})
	}
}

func TestConfirmSignature_Errors(t *testing.T) {
	c := newTestClient(t, "")

	respondWith(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`)
	_, err := c.ConfirmSignature(context.Background(), "sig")
	assert.ErrorContains(t, err, "node is behind")

	httpmock.RegisterResponder(http.MethodPost, rpcURL, httpmock.NewStringResponder(503, "down"))
	_, err = c.ConfirmSignature(context.Background(), "sig")
	assert.ErrorContains(t, err, "unexpected status 503")
}
