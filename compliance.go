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

package vaultpay

import (
	"context"
	"fmt"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/database"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/blnkfinance/vaultpay/screening"
	"github.com/blnkfinance/vaultpay/screening/adapters"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewScreener picks the screening adapter. A provider file wins, then an API key
// against the default provider mapping. Without either the engine runs in demo mode.
func NewScreener(cfg config.ScreeningConfig) (screening.Screener, error) {
	if cfg.ProviderConfig != "" {
		providers, err := screening.LoadConfig(cfg.ProviderConfig)
		if err != nil {
			return nil, err
		}
		provider, err := providers.FirstEnabled()
		if err != nil {
			return nil, err
		}
		logrus.Infof("screening with provider %s", provider.Name)
		return screening.NewConfigurableScreener(provider, cfg.Timeout, cfg.RiskThreshold), nil
	}

	if cfg.APIKey != "" {
		return screening.NewConfigurableScreener(screening.DefaultProviderConfig(cfg.BaseURL, cfg.APIKey), cfg.Timeout, cfg.RiskThreshold), nil
	}

	logrus.Warn("no screening API key configured, running compliance screening in demo mode")
	return adapters.NewMockScreener(), nil
}

func (v *VaultPay) blocksFlagged() bool {
	return v.cfg.Screening.FlaggedPolicy == config.FlaggedPolicyBlock
}

// checkPayable applies the compliance policy to a payee's stored status. Pending
// payees are payable.
func (v *VaultPay) checkPayable(payee *model.Payee) error {
	switch payee.RangeStatus {
	case model.RangeStatusRejected:
		return apierror.NewAPIError(apierror.ErrComplianceBlocked, fmt.Sprintf("Payee %s failed compliance screening", payee.PayeeID), nil)
	case model.RangeStatusFlagged:
		if v.blocksFlagged() {
			return apierror.NewAPIError(apierror.ErrComplianceBlocked, fmt.Sprintf("Payee %s is flagged for compliance review", payee.PayeeID), nil)
		}
	}
	return nil
}

// recheckPayee screens the payee again before funds move. A stored rejection is
// final; otherwise a known verdict replaces the stored status and Unknown keeps it.
func (v *VaultPay) recheckPayee(ctx context.Context, payee *model.Payee) error {
	ctx, span := tracer.Start(ctx, "RecheckPayee")
	defer span.End()

	if payee.RangeStatus == model.RangeStatusRejected {
		return v.checkPayable(payee)
	}

	result := v.gate.Screen(ctx, payee.WalletAddress)
	span.SetAttributes(attribute.String("screening.verdict", string(result.Verdict)))
	if result.Verdict != model.VerdictUnknown {
		if err := v.applyScreening(ctx, payee, result); err != nil {
			span.RecordError(err)
			return err
		}
	} else if result.Err != nil {
		logrus.WithField("payee_id", payee.PayeeID).Warnf("screening unavailable, using stored status %s: %v", payee.RangeStatus, result.Err)
	}
	return v.checkPayable(payee)
}

// applyScreening writes a known verdict back onto the payee when it changed.
func (v *VaultPay) applyScreening(ctx context.Context, payee *model.Payee, result *model.ScreeningResult) error {
	if result.Verdict == model.VerdictUnknown {
		return nil
	}
	status := result.RangeStatus()
	if status == payee.RangeStatus && sameScore(payee.RangeRiskScore, result.RiskScore) {
		return nil
	}

	screenedAt := result.ScreenedAt
	update := database.ScreeningUpdate{
		Status:     status,
		RiskScore:  result.RiskScore,
		RiskLevel:  result.RiskLevel,
		ScreenedAt: screenedAt,
	}
	if err := v.datasource.UpdatePayeeScreening(ctx, payee.PayeeID, update); err != nil {
		return err
	}
	if status != payee.RangeStatus {
		trace.SpanFromContext(ctx).AddEvent("Payee status changed", trace.WithAttributes(
			attribute.String("payee.id", payee.PayeeID),
			attribute.String("payee.from", string(payee.RangeStatus)),
			attribute.String("payee.to", string(status)),
		))
		logrus.WithFields(logrus.Fields{"payee_id": payee.PayeeID, "from": payee.RangeStatus, "to": status}).Info("payee compliance status changed")
	}
	payee.RangeStatus = status
	payee.RangeRiskScore = result.RiskScore
	payee.RiskLevel = result.RiskLevel
	payee.ScreenedAt = &screenedAt
	return nil
}

func sameScore(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
