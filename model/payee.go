package model

import "time"

// RangeStatus is the compliance status stored on a payee.
type RangeStatus string

const (
	RangeStatusPending  RangeStatus = "pending"
	RangeStatusApproved RangeStatus = "approved"
	RangeStatusFlagged  RangeStatus = "flagged"
	RangeStatusRejected RangeStatus = "rejected"
)

// RiskLevel buckets a screening risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Payee is a recipient on an organization's roster.
type Payee struct {
	PayeeID        string      `json:"payee_id"`
	OrgID          string      `json:"org_id"`
	Name           string      `json:"name"`
	Email          string      `json:"email"`
	WalletAddress  string      `json:"wallet_address"`
	RangeStatus    RangeStatus `json:"range_status"`
	RangeRiskScore *float64    `json:"range_risk_score,omitempty"`
	RiskLevel      RiskLevel   `json:"risk_level,omitempty"`
	ScreenedAt     *time.Time  `json:"screened_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Organization owns payees, payments and recurring templates.
type Organization struct {
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	AdminWallet string    `json:"admin_wallet"`
	CreatedAt   time.Time `json:"created_at"`
}
