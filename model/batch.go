package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is the caller-produced material for dispatching one payment. The engine
// never generates any of these values.
type Transfer struct {
	Confidential      *bool        `json:"confidential,omitempty"`
	Mode              TransferMode `json:"mode,omitempty"`
	TxSignature       string       `json:"tx_signature"`
	Ciphertext        string       `json:"ciphertext"`
	Nonce             string       `json:"nonce"`
	EphemeralPubKey   string       `json:"ephemeral_pub_key"`
	ComputationOffset string       `json:"computation_offset"`
}

// IsPlaintext reports whether the caller explicitly asked for a plaintext transfer.
func (t Transfer) IsPlaintext() bool {
	return t.Confidential != nil && !*t.Confidential
}

// ResolvedMode returns the dispatch mode, defaulting to confidential.
func (t Transfer) ResolvedMode() TransferMode {
	if t.Mode == TransferModeLegacy {
		return TransferModeLegacy
	}
	return TransferModeConfidential
}

// BatchItem is one entry of a batch creation request.
type BatchItem struct {
	PayeeID string          `json:"payee_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// BatchCreateResult is returned by CreateBatch.
type BatchCreateResult struct {
	Payments    []Payment       `json:"payments"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Count       int             `json:"count"`
}

// ExecutionResult is the per-payment outcome of a dispatch.
type ExecutionResult struct {
	PaymentID         string        `json:"payment_id"`
	Success           bool          `json:"success"`
	Status            PaymentStatus `json:"status,omitempty"`
	MPCStatus         MPCStatus     `json:"mpc_status,omitempty"`
	TxSignature       string        `json:"tx_signature,omitempty"`
	ComputationOffset string        `json:"computation_offset,omitempty"`
	Ciphertext        string        `json:"ciphertext,omitempty"`
	Nonce             string        `json:"nonce,omitempty"`
	EphemeralPubKey   string        `json:"ephemeral_pub_key,omitempty"`
	ErrorCode         string        `json:"error_code,omitempty"`
	ErrorMessage      string        `json:"error_message,omitempty"`
}

// BatchResult aggregates per-item outcomes of ExecuteBatch.
type BatchResult struct {
	Successful     []ExecutionResult `json:"successful"`
	Failed         []ExecutionResult `json:"failed"`
	TotalProcessed int               `json:"total_processed"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
}

// MPCStatusView is the reconciled MPC state of one payment.
type MPCStatusView struct {
	PaymentID         string        `json:"payment_id"`
	MPCUsed           bool          `json:"mpc_used"`
	Status            PaymentStatus `json:"status"`
	MPCStatus         MPCStatus     `json:"mpc_status,omitempty"`
	ComputationOffset string        `json:"computation_offset,omitempty"`
	MPCTxSignature    string        `json:"mpc_tx_signature,omitempty"`
	MPCFinalizedAt    *time.Time    `json:"mpc_finalized_at,omitempty"`
	Changed           bool          `json:"changed"`
}

// FinalizationResult is returned from AwaitFinalization.
type FinalizationResult struct {
	PaymentID      string        `json:"payment_id"`
	Success        bool          `json:"success"`
	Status         PaymentStatus `json:"status"`
	MPCStatus      MPCStatus     `json:"mpc_status,omitempty"`
	MPCTxSignature string        `json:"mpc_tx_signature,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}
