package mpc

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/jarcoal/httpmock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(config.MPCConfig{GatewayURL: "https://mpc.test/", APIKey: "gw-key"})
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestGetComputationStatus(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		name     string
		offset   string
		status   int
		body     string
		expected ComputationStatus
	}{
		{name: "finalized", offset: "101", status: 200, body: `{"status":"finalized","ledgerSignature":"sig-101"}`, expected: StatusFinalized},
		{name: "status byte", offset: "102", status: 200, body: `{"statusByte":1}`, expected: StatusProcessing},
		{name: "unknown offset", offset: "103", status: 404, body: `{"error":"not found"}`, expected: StatusNotFound},
		{name: "reported not found", offset: "104", status: 200, body: `{"status":"not_found"}`, expected: StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.RegisterResponder(http.MethodGet, "https://mpc.test/computations/"+tt.offset,
				func(req *http.Request) (*http.Response, error) {
					assert.Equal(t, "Bearer gw-key", req.Header.Get("Authorization"))
					return httpmock.NewStringResponse(tt.status, tt.body), nil
				})

			computation, err := c.GetComputationStatus(context.Background(), tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, computation.Status)
		})
	}
}

func TestGetComputationStatus_Errors(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, "https://mpc.test/computations/500",
		httpmock.NewStringResponder(502, "bad gateway"))
	httpmock.RegisterResponder(http.MethodGet, "https://mpc.test/computations/bogus",
		httpmock.NewStringResponder(200, `{"status":"exploded"}`))

	_, err := c.GetComputationStatus(context.Background(), "500")
	var statusErr *request.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 502, statusErr.StatusCode)

	_, err = c.GetComputationStatus(context.Background(), "bogus")
	assert.ErrorContains(t, err, "unknown status")
}

func TestPrepareTransfer(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://mpc.test/transfers/prepare",
		func(req *http.Request) (*http.Response, error) {
			var body PrepareRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "pay_1", body.PaymentID)
			assert.True(t, body.Amount.Equal(decimal.RequireFromString("2.5")))
			return httpmock.NewJsonResponse(200, map[string]string{
				"txSignature":       "sig",
				"ciphertext":        "ct",
				"nonce":             "n",
				"ephemeralPubKey":   "epk",
				"computationOffset": "900",
			})
		})

	transfer, err := c.PrepareTransfer(context.Background(), PrepareRequest{
		PaymentID: "pay_1",
		Amount:    decimal.RequireFromString("2.5"),
		Token:     model.TokenVPAY,
	})
	require.NoError(t, err)
	assert.Equal(t, "900", transfer.ComputationOffset)
	assert.Equal(t, model.TransferModeConfidential, transfer.ResolvedMode())
	assert.False(t, transfer.IsPlaintext())
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, StatusPending, StatusFromByte(0))
	assert.Equal(t, StatusFinalized, StatusFromByte(2))
	assert.Equal(t, StatusFailed, StatusFromByte(3))
	assert.Equal(t, StatusPending, StatusFromByte(9))

	assert.Equal(t, model.MPCStatusPending, StatusNotFound.MPCStatus())
	assert.Equal(t, model.MPCStatusFinalized, StatusFinalized.MPCStatus())
	assert.Equal(t, model.MPCStatusFailed, StatusFailed.MPCStatus())
}
