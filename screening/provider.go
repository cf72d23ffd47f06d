package screening

import (
	"context"
	"time"

	"github.com/blnkfinance/vaultpay/model"
)

// DefaultRiskThreshold is the score at or above which an address is flagged.
const DefaultRiskThreshold = 0.7

// Screener screens one wallet address against a risk provider. An error means no
// decision could be obtained; it is never returned together with a result.
type Screener interface {
	Name() string
	Screen(ctx context.Context, address string) (*model.ScreeningResult, error)
}

// RiskLevelFor buckets a risk score.
func RiskLevelFor(score float64) model.RiskLevel {
	switch {
	case score < 0.3:
		return model.RiskLevelLow
	case score < 0.5:
		return model.RiskLevelMedium
	case score < 0.7:
		return model.RiskLevelHigh
	default:
		return model.RiskLevelCritical
	}
}

// Decide turns raw provider output into a verdict. A sanctions match always rejects.
func Decide(address string, score float64, sanctionsMatch bool, flags []string, threshold float64) *model.ScreeningResult {
	if threshold <= 0 {
		threshold = DefaultRiskThreshold
	}
	if flags == nil {
		flags = []string{}
	}

	verdict := model.VerdictApproved
	switch {
	case sanctionsMatch:
		verdict = model.VerdictRejected
	case score >= threshold:
		verdict = model.VerdictFlagged
	}

	return &model.ScreeningResult{
		Address:        address,
		Verdict:        verdict,
		Approved:       verdict == model.VerdictApproved,
		RiskScore:      &score,
		RiskLevel:      RiskLevelFor(score),
		Flags:          flags,
		SanctionsMatch: sanctionsMatch,
		ScreenedAt:     time.Now().UTC(),
	}
}
