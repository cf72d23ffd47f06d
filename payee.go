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
	"strings"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/internal/auth"
	"github.com/blnkfinance/vaultpay/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PayeeInput holds the caller-editable fields of a payee.
type PayeeInput struct {
	Name          string
	Email         string
	WalletAddress string
}

// CreatePayee adds a payee to the organization roster and screens its wallet. A
// payee whose screen is inconclusive is stored as pending.
func (v *VaultPay) CreatePayee(ctx context.Context, actor model.Actor, orgID string, input PayeeInput) (*model.Payee, error) {
	ctx, span := tracer.Start(ctx, "CreatePayee")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, orgID); err != nil {
		return nil, err
	}
	if err := validatePayeeInput(input); err != nil {
		return nil, err
	}

	payee := &model.Payee{
		PayeeID:       model.GenerateUUIDWithSuffix("pye"),
		OrgID:         orgID,
		Name:          strings.TrimSpace(input.Name),
		Email:         strings.TrimSpace(input.Email),
		WalletAddress: input.WalletAddress,
		RangeStatus:   model.RangeStatusPending,
		CreatedAt:     v.timestamp(),
	}

	result := v.gate.Screen(ctx, payee.WalletAddress)
	if result.Verdict != model.VerdictUnknown {
		screenedAt := result.ScreenedAt
		payee.RangeStatus = result.RangeStatus()
		payee.RangeRiskScore = result.RiskScore
		payee.RiskLevel = result.RiskLevel
		payee.ScreenedAt = &screenedAt
	}

	if err := v.datasource.CreatePayee(ctx, payee); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.AddEvent("Payee created", trace.WithAttributes(
		attribute.String("payee.id", payee.PayeeID),
		attribute.String("payee.range_status", string(payee.RangeStatus)),
	))
	return payee, nil
}

// GetPayee returns a payee of an organization the actor administers.
func (v *VaultPay) GetPayee(ctx context.Context, actor model.Actor, payeeID string) (*model.Payee, error) {
	ctx, span := tracer.Start(ctx, "GetPayee")
	defer span.End()

	payee, err := v.datasource.GetPayeeByID(ctx, payeeID)
	if err != nil {
		return nil, err
	}
	if _, err := v.authorizeOrg(ctx, actor, payee.OrgID); err != nil {
		return nil, err
	}
	return payee, nil
}

func (v *VaultPay) ListPayees(ctx context.Context, actor model.Actor, orgID string) ([]model.Payee, error) {
	ctx, span := tracer.Start(ctx, "ListPayees")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, orgID); err != nil {
		return nil, err
	}
	return v.datasource.ListPayees(ctx, orgID)
}

// UpdatePayee edits a payee's contact fields. Changing the wallet address screens
// the new address; an inconclusive screen leaves the stored status unchanged.
func (v *VaultPay) UpdatePayee(ctx context.Context, actor model.Actor, payeeID string, input PayeeInput) (*model.Payee, error) {
	ctx, span := tracer.Start(ctx, "UpdatePayee")
	defer span.End()

	payee, err := v.GetPayee(ctx, actor, payeeID)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		payee.Name = strings.TrimSpace(input.Name)
	}
	if input.Email != "" {
		payee.Email = strings.TrimSpace(input.Email)
	}
	walletChanged := input.WalletAddress != "" && input.WalletAddress != payee.WalletAddress
	if walletChanged {
		if !auth.ValidWallet(input.WalletAddress) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "wallet_address is not a valid address", nil)
		}
		payee.WalletAddress = input.WalletAddress
	}

	if err := v.datasource.UpdatePayee(ctx, payee); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if walletChanged {
		if err := v.applyScreening(ctx, payee, v.gate.Rescreen(ctx, payee.WalletAddress)); err != nil {
			return nil, err
		}
	}
	return payee, nil
}

// RescreenPayee forces a fresh compliance screen of the payee's wallet.
func (v *VaultPay) RescreenPayee(ctx context.Context, actor model.Actor, payeeID string) (*model.Payee, *model.ScreeningResult, error) {
	ctx, span := tracer.Start(ctx, "RescreenPayee")
	defer span.End()

	payee, err := v.GetPayee(ctx, actor, payeeID)
	if err != nil {
		return nil, nil, err
	}
	result := v.gate.Rescreen(ctx, payee.WalletAddress)
	if err := v.applyScreening(ctx, payee, result); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return payee, result, nil
}

func validatePayeeInput(input PayeeInput) error {
	var missing []string
	if strings.TrimSpace(input.Name) == "" {
		missing = append(missing, "name")
	}
	if input.WalletAddress == "" {
		missing = append(missing, "wallet_address")
	}
	if len(missing) > 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), nil)
	}
	if !auth.ValidWallet(input.WalletAddress) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "wallet_address is not a valid address", nil)
	}
	return nil
}
