package model

import "time"

// Verdict is the outcome of a compliance screen. Unknown means the screening
// service could not be reached and no cached result was available.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictFlagged  Verdict = "flagged"
	VerdictRejected Verdict = "rejected"
	VerdictUnknown  Verdict = "unknown"
)

// ScreeningResult is the decision for one wallet address.
type ScreeningResult struct {
	Address        string    `json:"address"`
	Verdict        Verdict   `json:"verdict"`
	Approved       bool      `json:"approved"`
	RiskScore      *float64  `json:"risk_score,omitempty"`
	RiskLevel      RiskLevel `json:"risk_level,omitempty"`
	Flags          []string  `json:"flags"`
	SanctionsMatch bool      `json:"sanctions_match"`
	Stale          bool      `json:"stale,omitempty"`
	ScreenedAt     time.Time `json:"screened_at"`
	Err            error     `json:"-"`
}

// RangeStatus maps a verdict onto the status stored on a payee. Unknown is mapped
// to pending, never approved.
func (r *ScreeningResult) RangeStatus() RangeStatus {
	switch r.Verdict {
	case VerdictApproved:
		return RangeStatusApproved
	case VerdictFlagged:
		return RangeStatusFlagged
	case VerdictRejected:
		return RangeStatusRejected
	default:
		return RangeStatusPending
	}
}
