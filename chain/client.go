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

// Package chain confirms transaction signatures against a Solana JSON-RPC node.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

// SignatureStatus is the ledger's view of a submitted transaction.
type SignatureStatus string

const (
	SignatureConfirmed SignatureStatus = "confirmed"
	SignatureFinalized SignatureStatus = "finalized"
	SignatureFailed    SignatureStatus = "failed"
	SignatureNotFound  SignatureStatus = "not_found"
)

// Landed reports whether the transaction is confirmed at the client's commitment.
func (s SignatureStatus) Landed() bool {
	return s == SignatureConfirmed || s == SignatureFinalized
}

// Confirmation is the result of a signature lookup.
type Confirmation struct {
	Signature string
	Status    SignatureStatus
	Slot      uint64
	Err       string
}

// Ledger confirms signatures.
type Ledger interface {
	ConfirmSignature(ctx context.Context, signature string) (*Confirmation, error)
}

type Client struct {
	rpcURL     string
	commitment string
	httpClient *http.Client
	nextID     atomic.Int64
}

var tracer = otel.Tracer("vaultpay.chain")

func NewClient(cfg config.LedgerConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Client{
		rpcURL:     cfg.RPCURL,
		commitment: commitment,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type signatureStatusValue struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

type signatureStatusesResponse struct {
	Result *struct {
		Value []*signatureStatusValue `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// ConfirmSignature looks the signature up with getSignatureStatuses. A transaction
// the node has not seen, or has only processed when the client needs confirmed,
// is SignatureNotFound.
func (c *Client) ConfirmSignature(ctx context.Context, signature string) (*Confirmation, error) {
	ctx, span := tracer.Start(ctx, "ConfirmSignature")
	defer span.End()

	payload, err := request.ToJsonReq(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "getSignatureStatuses",
		Params: []interface{}{
			[]string{signature},
			map[string]bool{"searchTransactionHistory": true},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rpc request")
	}

	var resp signatureStatusesResponse
	if _, err := request.Do(c.httpClient, req, &resp); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "getSignatureStatuses")
	}
	if resp.Error != nil {
		return nil, errors.Wrap(resp.Error, "getSignatureStatuses")
	}

	confirmation := &Confirmation{Signature: signature, Status: SignatureNotFound}
	if resp.Result == nil || len(resp.Result.Value) == 0 || resp.Result.Value[0] == nil {
		return confirmation, nil
	}

	v := resp.Result.Value[0]
	confirmation.Slot = v.Slot
	if len(v.Err) > 0 && string(v.Err) != "null" {
		confirmation.Status = SignatureFailed
		confirmation.Err = string(v.Err)
		return confirmation, nil
	}

	switch v.ConfirmationStatus {
	case "finalized":
		confirmation.Status = SignatureFinalized
	case "confirmed":
		if c.commitment != "finalized" {
			confirmation.Status = SignatureConfirmed
		}
	}
	return confirmation, nil
}
