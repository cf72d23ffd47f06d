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

	"github.com/blnkfinance/vaultpay/database"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// StatusUpdate carries the optional fields of a requested status change.
type StatusUpdate struct {
	Status            model.PaymentStatus
	TxSignature       string
	ComputationOffset string
	ErrorMessage      string
}

func invalidState(payment *model.Payment, message string) error {
	return apierror.NewAPIError(apierror.ErrInvalidState,
		fmt.Sprintf("%s: payment %s is %s", message, payment.PaymentID, payment.Status),
		map[string]interface{}{"payment_id": payment.PaymentID, "current_status": payment.Status})
}

// resolveToken defaults an empty token to SOL and rejects unsupported symbols.
func resolveToken(token string) (string, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return model.TokenSOL, nil
	}
	for _, supported := range model.SupportedTokens {
		if token == supported {
			return token, nil
		}
	}
	return "", apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unsupported token %s", token), nil)
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be greater than zero", nil)
	}
	return nil
}

// newPayment builds a pending record for payee.
func (v *VaultPay) newPayment(orgID string, payee *model.Payee, amount decimal.Decimal, token string) *model.Payment {
	return &model.Payment{
		PaymentID: model.GenerateUUIDWithSuffix("pay"),
		OrgID:     orgID,
		PayeeID:   payee.PayeeID,
		Amount:    amount,
		Token:     token,
		Status:    model.PaymentStatusPending,
		CreatedAt: v.timestamp(),
	}
}

// CreatePayment records a pending payment for a payee of the organization. Nothing is
// persisted when the payee fails the compliance policy.
func (v *VaultPay) CreatePayment(ctx context.Context, actor model.Actor, orgID, payeeID string, amount decimal.Decimal, token string) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "CreatePayment")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, orgID); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	token, err := resolveToken(token)
	if err != nil {
		return nil, err
	}

	payee, err := v.datasource.GetPayeeByID(ctx, payeeID)
	if err != nil {
		return nil, err
	}
	if payee.OrgID != orgID {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Payee %s does not belong to organization %s", payeeID, orgID), nil)
	}
	if err := v.checkPayable(payee); err != nil {
		span.RecordError(err)
		return nil, err
	}

	payment := v.newPayment(orgID, payee, amount, token)
	if err := v.datasource.InsertPayment(ctx, payment); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.AddEvent("Payment created", trace.WithAttributes(
		attribute.String("payment.id", payment.PaymentID),
		attribute.String("payment.amount", payment.Amount.String()),
	))
	v.publish(ctx, payment, EventPaymentCreated)
	return payment, nil
}

// GetPayment returns a payment of an organization the actor administers.
func (v *VaultPay) GetPayment(ctx context.Context, actor model.Actor, paymentID string) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "GetPayment")
	defer span.End()

	payment, err := v.datasource.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := v.authorizeOrg(ctx, actor, payment.OrgID); err != nil {
		return nil, err
	}
	return payment, nil
}

// ListPayments pages through an organization's payments, newest first.
func (v *VaultPay) ListPayments(ctx context.Context, actor model.Actor, filter model.PaymentFilter) (*model.PaymentList, error) {
	ctx, span := tracer.Start(ctx, "ListPayments")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, filter.OrgID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	payments, total, err := v.datasource.ListPayments(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &model.PaymentList{
		Payments: payments,
		Total:    total,
		HasMore:  int64(filter.Offset+len(payments)) < total,
	}, nil
}

// CancelPayment deletes a payment that has not started executing.
func (v *VaultPay) CancelPayment(ctx context.Context, actor model.Actor, paymentID string) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "CancelPayment")
	defer span.End()

	payment, err := v.GetPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentStatusPending {
		return nil, invalidState(payment, "only pending payments can be cancelled")
	}

	deleted, err := v.datasource.DeletePendingPayment(ctx, paymentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !deleted {
		current, err := v.datasource.GetPaymentByID(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		return nil, invalidState(current, "only pending payments can be cancelled")
	}

	span.AddEvent("Payment cancelled", trace.WithAttributes(attribute.String("payment.id", paymentID)))
	v.publish(ctx, payment, EventPaymentCancelled)
	return payment, nil
}

// MarkExecuting moves a pending payment to processing and attaches the dispatch
// material. A computation offset, when present, starts MPC tracking.
func (v *VaultPay) MarkExecuting(ctx context.Context, paymentID string, exec model.Execution) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "MarkExecuting")
	defer span.End()

	ok, err := v.datasource.MarkPaymentExecuting(ctx, paymentID, exec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	payment, err := v.datasource.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalidState(payment, "only pending payments can be executed")
	}

	span.AddEvent("Payment processing", trace.WithAttributes(
		attribute.String("payment.id", paymentID),
		attribute.Bool("payment.mpc", payment.IsMPCBacked()),
	))
	v.publish(ctx, payment, EventPaymentProcessing)
	return payment, nil
}

// FinalizePayment records the terminal outcome of a processing payment. It is
// idempotent: a payment that is already terminal is returned unchanged.
func (v *VaultPay) FinalizePayment(ctx context.Context, paymentID string, outcome model.Outcome) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "FinalizePayment")
	defer span.End()

	payment, err := v.datasource.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return payment, nil
	}
	if payment.Status != model.PaymentStatusProcessing {
		return nil, invalidState(payment, "only processing payments can be finalized")
	}

	var ok bool
	if outcome.Succeeded {
		if payment.IsMPCBacked() && payment.CurrentMPCStatus() != model.MPCStatusFinalized && !outcome.MPCFinalized {
			return nil, invalidState(payment, "MPC computation is not finalized")
		}
		ok, err = v.datasource.CompletePayment(ctx, paymentID, database.Completion{
			TxSignature:    outcome.TxSignature,
			MPCTxSignature: outcome.MPCTxSignature,
			MPCFinalized:   outcome.MPCFinalized,
			At:             v.timestamp(),
		})
	} else {
		ok, err = v.datasource.FailPayment(ctx, paymentID, outcome.ErrorMessage, outcome.MPCFailed)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	current, err := v.datasource.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost the race to another terminal write
		if current.Status.IsTerminal() {
			return current, nil
		}
		return nil, invalidState(current, "payment could not be finalized")
	}

	fields := logrus.Fields{"payment_id": paymentID, "status": current.Status}
	if current.ErrorMessage != nil {
		fields["error"] = *current.ErrorMessage
	}
	logrus.WithFields(fields).Info("payment finalized")
	span.AddEvent("Payment finalized", trace.WithAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("payment.status", string(current.Status)),
	))
	v.publish(ctx, current, "")
	return current, nil
}

// RejectPayment short-circuits a pending payment whose payee failed compliance.
func (v *VaultPay) RejectPayment(ctx context.Context, paymentID, reason string) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "RejectPayment")
	defer span.End()

	ok, err := v.datasource.RejectPendingPayment(ctx, paymentID, reason)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	payment, err := v.datasource.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if payment.Status == model.PaymentStatusRejected {
			return payment, nil
		}
		return nil, invalidState(payment, "only pending payments can be rejected")
	}

	v.publish(ctx, payment, EventPaymentRejected)
	return payment, nil
}

// UpdatePaymentStatus routes a requested status through the transition functions.
func (v *VaultPay) UpdatePaymentStatus(ctx context.Context, actor model.Actor, paymentID string, update StatusUpdate) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "UpdatePaymentStatus")
	defer span.End()

	payment, err := v.GetPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}

	switch update.Status {
	case model.PaymentStatusProcessing:
		mode := model.TransferModeLegacy
		if update.ComputationOffset != "" {
			mode = model.TransferModeConfidential
		}
		return v.MarkExecuting(ctx, paymentID, model.Execution{
			Mode:              mode,
			TxSignature:       update.TxSignature,
			ComputationOffset: update.ComputationOffset,
		})
	case model.PaymentStatusCompleted:
		return v.FinalizePayment(ctx, paymentID, model.Success(update.TxSignature))
	case model.PaymentStatusFailed:
		message := update.ErrorMessage
		if message == "" {
			message = "marked failed"
		}
		return v.FinalizePayment(ctx, paymentID, model.Failure(message))
	default:
		return nil, invalidState(payment, fmt.Sprintf("cannot transition to %q", update.Status))
	}
}
