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
	"time"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	timeoutReason   = "timeout"
	mpcFailedReason = "MPC computation failed"
)

func mpcView(payment *model.Payment, changed bool) *model.MPCStatusView {
	view := &model.MPCStatusView{
		PaymentID:      payment.PaymentID,
		MPCUsed:        payment.IsMPCBacked(),
		Status:         payment.Status,
		MPCStatus:      payment.CurrentMPCStatus(),
		MPCFinalizedAt: payment.MPCFinalizedAt,
		Changed:        changed,
	}
	if payment.ComputationOffset != nil {
		view.ComputationOffset = *payment.ComputationOffset
	}
	if payment.MPCTxSignature != nil {
		view.MPCTxSignature = *payment.MPCTxSignature
	}
	return view
}

func finalizationResult(payment *model.Payment) *model.FinalizationResult {
	result := &model.FinalizationResult{
		PaymentID: payment.PaymentID,
		Success:   payment.Status == model.PaymentStatusCompleted,
		Status:    payment.Status,
		MPCStatus: payment.CurrentMPCStatus(),
	}
	if payment.MPCTxSignature != nil {
		result.MPCTxSignature = *payment.MPCTxSignature
	}
	if payment.Status == model.PaymentStatusFailed && payment.ErrorMessage != nil {
		result.ErrorMessage = *payment.ErrorMessage
		result.ErrorCode = string(failureCode(result.ErrorMessage))
	}
	return result
}

// PollOnce reconciles a payment with the MPC gateway. Payments without a computation
// offset and payments already terminal are returned as they are.
func (v *VaultPay) PollOnce(ctx context.Context, paymentID string) (*model.MPCStatusView, error) {
	ctx, span := tracer.Start(ctx, "PollOnce")
	defer span.End()

	payment, err := v.datasource.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsMPCBacked() || payment.Status != model.PaymentStatusProcessing {
		return mpcView(payment, false), nil
	}

	computation, err := v.mpc.GetComputationStatus(ctx, *payment.ComputationOffset)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrExternalUnavailable, "MPC gateway unavailable", err)
	}
	observed := computation.Status.MPCStatus()
	span.SetAttributes(attribute.String("mpc.observed", string(observed)))

	stored := payment.CurrentMPCStatus()
	switch {
	case observed == model.MPCStatusFinalized:
		payment, err = v.FinalizePayment(ctx, paymentID, model.MPCSuccess(computation.LedgerSignature))
	case observed == model.MPCStatusFailed:
		payment, err = v.FinalizePayment(ctx, paymentID, model.MPCFailure(mpcFailedReason))
	case observed != stored:
		var ok bool
		ok, err = v.datasource.UpdatePaymentMPCStatus(ctx, paymentID, stored, observed)
		if err != nil {
			break
		}
		if payment, err = v.datasource.GetPaymentByID(ctx, paymentID); err != nil {
			break
		}
		if ok {
			v.publish(ctx, payment, EventPaymentMPCUpdated)
		}
	default:
		return mpcView(payment, false), nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	changed := payment.CurrentMPCStatus() != stored
	if changed {
		logrus.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"from":       stored,
			"to":         payment.CurrentMPCStatus(),
			"status":     payment.Status,
		}).Info("mpc status reconciled")
	}
	return mpcView(payment, changed), nil
}

// AwaitFinalization waits until the payment is terminal or the timeout elapses. On
// expiry the payment is failed with reason "timeout"; a timeout of zero checks once.
// The wait is driven by the payment's notifier subscription and a poll ticker.
func (v *VaultPay) AwaitFinalization(ctx context.Context, paymentID string, timeout time.Duration) (*model.FinalizationResult, error) {
	ctx, span := tracer.Start(ctx, "AwaitFinalization")
	defer span.End()
	span.SetAttributes(attribute.Int64("mpc.timeout_ms", timeout.Milliseconds()))

	updates, cancel := v.notifier.Subscribe(paymentID)
	defer cancel()

	payment, err := v.datasource.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.IsMPCBacked() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "payment has no MPC computation to await", nil)
	}

	payment, err = v.pollAndLoad(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return finalizationResult(payment), nil
	}
	if timeout <= 0 {
		return v.expire(ctx, paymentID)
	}

	interval := v.cfg.MPC.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case update := <-updates:
			if update.Status.IsTerminal() {
				return finalizationResult(update), nil
			}
		case <-ticker.C:
			payment, err = v.pollAndLoad(ctx, paymentID)
			if err != nil {
				return nil, err
			}
			if payment.Status.IsTerminal() {
				return finalizationResult(payment), nil
			}
		case <-deadline.C:
			return v.expire(ctx, paymentID)
		}
	}
}

// pollAndLoad polls the gateway and returns the stored record. Gateway outages are
// tolerated while waiting.
func (v *VaultPay) pollAndLoad(ctx context.Context, paymentID string) (*model.Payment, error) {
	if _, err := v.PollOnce(ctx, paymentID); err != nil {
		if !apierror.Is(err, apierror.ErrExternalUnavailable) {
			return nil, err
		}
		logrus.WithField("payment_id", paymentID).Warnf("poll failed while awaiting finalization: %v", err)
	}
	return v.datasource.GetPaymentByID(ctx, paymentID)
}

// expire fails the payment with reason "timeout". If another writer got there first
// its outcome is reported instead.
func (v *VaultPay) expire(ctx context.Context, paymentID string) (*model.FinalizationResult, error) {
	payment, err := v.FinalizePayment(ctx, paymentID, model.MPCFailure(timeoutReason))
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"payment_id": paymentID, "status": payment.Status}).Warn("finalization await expired")
	return finalizationResult(payment), nil
}

// GetMPCStatus returns the reconciled MPC view of a payment.
func (v *VaultPay) GetMPCStatus(ctx context.Context, actor model.Actor, paymentID string) (*model.MPCStatusView, error) {
	ctx, span := tracer.Start(ctx, "GetMPCStatus")
	defer span.End()

	if _, err := v.GetPayment(ctx, actor, paymentID); err != nil {
		return nil, err
	}
	return v.PollOnce(ctx, paymentID)
}

// FinalizeMPC drives finalization of a payment on request, either by a single poll
// or by awaiting. finalized reports a payment that was already finalized.
func (v *VaultPay) FinalizeMPC(ctx context.Context, actor model.Actor, paymentID string, await bool, timeout time.Duration) (result *model.FinalizationResult, finalized bool, err error) {
	ctx, span := tracer.Start(ctx, "FinalizeMPC")
	defer span.End()

	payment, err := v.GetPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, false, err
	}
	if !payment.IsMPCBacked() {
		return nil, false, apierror.NewAPIError(apierror.ErrInvalidInput, "payment has no MPC computation", nil)
	}
	if payment.CurrentMPCStatus() == model.MPCStatusFinalized {
		return finalizationResult(payment), true, nil
	}

	if await {
		result, err = v.AwaitFinalization(ctx, paymentID, timeout)
		return result, false, err
	}
	payment, err = v.pollAndLoad(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	return finalizationResult(payment), false, nil
}
