package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle status of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRejected   PaymentStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed out of the status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusRejected
}

// MPCStatus tracks the off-chain computation attached to a payment.
type MPCStatus string

const (
	MPCStatusPending    MPCStatus = "pending"
	MPCStatusQueued     MPCStatus = "queued"
	MPCStatusProcessing MPCStatus = "processing"
	MPCStatusFinalized  MPCStatus = "finalized"
	MPCStatusFailed     MPCStatus = "failed"
)

func (s MPCStatus) IsTerminal() bool {
	return s == MPCStatusFinalized || s == MPCStatusFailed
}

// TransferMode records how a payment was dispatched.
type TransferMode string

const (
	TransferModeConfidential TransferMode = "confidential"
	TransferModeLegacy       TransferMode = "legacy"
)

// Supported token symbols.
const (
	TokenSOL  = "SOL"
	TokenUSDC = "USDC"
	TokenVPAY = "VPAY"
)

var SupportedTokens = []interface{}{TokenSOL, TokenUSDC, TokenVPAY}

// Payment is a payment intent and its settlement lifecycle.
type Payment struct {
	PaymentID           string                 `json:"payment_id"`
	OrgID               string                 `json:"org_id"`
	PayeeID             string                 `json:"payee_id"`
	Amount              decimal.Decimal        `json:"amount"`
	Token               string                 `json:"token"`
	Status              PaymentStatus          `json:"status"`
	TransferMode        TransferMode           `json:"transfer_mode,omitempty"`
	ComputationOffset   *string                `json:"computation_offset,omitempty"`
	MPCStatus           *MPCStatus             `json:"mpc_status,omitempty"`
	TxSignature         *string                `json:"tx_signature,omitempty"`
	MPCTxSignature      *string                `json:"mpc_tx_signature,omitempty"`
	Ciphertext          *string                `json:"ciphertext,omitempty"`
	Nonce               *string                `json:"nonce,omitempty"`
	EphemeralPubKey     *string                `json:"ephemeral_pub_key,omitempty"`
	ErrorMessage        *string                `json:"error_message,omitempty"`
	RecurringTemplateID *string                `json:"recurring_template_id,omitempty"`
	PeriodKey           *string                `json:"period_key,omitempty"`
	MetaData            map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	ExecutedAt          *time.Time             `json:"executed_at,omitempty"`
	MPCFinalizedAt      *time.Time             `json:"mpc_finalized_at,omitempty"`
}

// IsMPCBacked reports whether a computation handle is attached.
func (p *Payment) IsMPCBacked() bool {
	return p.ComputationOffset != nil && *p.ComputationOffset != ""
}

// CurrentMPCStatus returns the stored MPC status or an empty value.
func (p *Payment) CurrentMPCStatus() MPCStatus {
	if p.MPCStatus == nil {
		return ""
	}
	return *p.MPCStatus
}

// Execution carries what MarkExecuting attaches to a record.
type Execution struct {
	Mode              TransferMode
	TxSignature       string
	Ciphertext        string
	Nonce             string
	EphemeralPubKey   string
	ComputationOffset string
}

// Outcome is the terminal result recorded by FinalizePayment. Exactly one of
// Success or Failure is meaningful, selected by Succeeded.
type Outcome struct {
	Succeeded      bool
	TxSignature    string
	MPCTxSignature string
	ErrorMessage   string
	MPCFinalized   bool
	MPCFailed      bool
}

// Success builds a successful outcome.
func Success(txSignature string) Outcome {
	return Outcome{Succeeded: true, TxSignature: txSignature}
}

// Failure builds a failed outcome.
func Failure(message string) Outcome {
	return Outcome{Succeeded: false, ErrorMessage: message}
}

// MPCSuccess is a success observed on a finalized computation.
func MPCSuccess(mpcTxSignature string) Outcome {
	return Outcome{Succeeded: true, MPCTxSignature: mpcTxSignature, MPCFinalized: true}
}

// MPCFailure is a failure that also marks the attached computation failed.
func MPCFailure(message string) Outcome {
	return Outcome{Succeeded: false, ErrorMessage: message, MPCFailed: true}
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	OrgID  string
	Status PaymentStatus
	Limit  int
	Offset int
}

// PaymentList is a page of payments.
type PaymentList struct {
	Payments []Payment `json:"payments"`
	Total    int64     `json:"total"`
	HasMore  bool      `json:"has_more"`
}
