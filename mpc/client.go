/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package mpc talks to the MPC network gateway that tracks confidential transfer
// computations.
package mpc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

// ComputationStatus is the gateway view of a computation.
type ComputationStatus string

const (
	StatusPending    ComputationStatus = "pending"
	StatusQueued     ComputationStatus = "queued"
	StatusProcessing ComputationStatus = "processing"
	StatusFinalized  ComputationStatus = "finalized"
	StatusFailed     ComputationStatus = "failed"
	StatusNotFound   ComputationStatus = "not_found"
)

// StatusFromByte maps the status byte stored in a computation account.
func StatusFromByte(b int) ComputationStatus {
	switch b {
	case 1:
		return StatusProcessing
	case 2:
		return StatusFinalized
	case 3:
		return StatusFailed
	default:
		return StatusPending
	}
}

// MPCStatus maps a gateway status onto the payment's MPC status. A computation the
// gateway has not seen yet is still pending.
func (s ComputationStatus) MPCStatus() model.MPCStatus {
	switch s {
	case StatusQueued:
		return model.MPCStatusQueued
	case StatusProcessing:
		return model.MPCStatusProcessing
	case StatusFinalized:
		return model.MPCStatusFinalized
	case StatusFailed:
		return model.MPCStatusFailed
	default:
		return model.MPCStatusPending
	}
}

// Computation is returned by GetComputationStatus.
type Computation struct {
	Status          ComputationStatus `json:"status"`
	StatusByte      *int              `json:"statusByte,omitempty"`
	ComputationPDA  string            `json:"computationPda,omitempty"`
	LedgerSignature string            `json:"ledgerSignature,omitempty"`
}

// PrepareRequest asks the gateway to produce transfer material for one payment.
type PrepareRequest struct {
	PaymentID string          `json:"paymentId"`
	OrgID     string          `json:"orgId"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
}

type prepareResponse struct {
	TxSignature       string `json:"txSignature"`
	Ciphertext        string `json:"ciphertext"`
	Nonce             string `json:"nonce"`
	EphemeralPubKey   string `json:"ephemeralPubKey"`
	ComputationOffset string `json:"computationOffset"`
}

// Gateway is the MPC network as seen by the settlement engine.
type Gateway interface {
	GetComputationStatus(ctx context.Context, offset string) (*Computation, error)
	PrepareTransfer(ctx context.Context, req PrepareRequest) (*model.Transfer, error)
}

// Client is the HTTP Gateway implementation.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var tracer = otel.Tracer("vaultpay.mpc")

func NewClient(cfg config.MPCConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.GatewayURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		payload, mErr := request.ToJsonReq(body)
		if mErr != nil {
			return nil, mErr
		}
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// GetComputationStatus queries the gateway for a computation. An unknown offset is
// reported as StatusNotFound rather than an error.
func (c *Client) GetComputationStatus(ctx context.Context, offset string) (*Computation, error) {
	ctx, span := tracer.Start(ctx, "GetComputationStatus")
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodGet, "/computations/"+url.PathEscape(offset), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create computation status request")
	}

	var computation Computation
	if _, err := request.Do(c.httpClient, req, &computation); err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return &Computation{Status: StatusNotFound}, nil
		}
		span.RecordError(err)
		return nil, errors.Wrapf(err, "computation %s status", offset)
	}

	if computation.Status == "" && computation.StatusByte != nil {
		computation.Status = StatusFromByte(*computation.StatusByte)
	}
	switch computation.Status {
	case StatusPending, StatusQueued, StatusProcessing, StatusFinalized, StatusFailed, StatusNotFound:
	default:
		return nil, fmt.Errorf("computation %s: unknown status %q", offset, computation.Status)
	}
	return &computation, nil
}

// PrepareTransfer obtains confidential transfer material for a payment.
func (c *Client) PrepareTransfer(ctx context.Context, prepare PrepareRequest) (*model.Transfer, error) {
	ctx, span := tracer.Start(ctx, "PrepareTransfer")
	defer span.End()

	req, err := c.newRequest(ctx, http.MethodPost, "/transfers/prepare", prepare)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create prepare transfer request")
	}

	var resp prepareResponse
	if _, err := request.Do(c.httpClient, req, &resp); err != nil {
		span.RecordError(err)
		return nil, errors.Wrapf(err, "prepare transfer for payment %s", prepare.PaymentID)
	}

	confidential := true
	return &model.Transfer{
		Confidential:      &confidential,
		Mode:              model.TransferModeConfidential,
		TxSignature:       resp.TxSignature,
		Ciphertext:        resp.Ciphertext,
		Nonce:             resp.Nonce,
		EphemeralPubKey:   resp.EphemeralPubKey,
		ComputationOffset: resp.ComputationOffset,
	}, nil
}
