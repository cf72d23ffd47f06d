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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/vaultpay/chain"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	redlock "github.com/blnkfinance/vaultpay/internal/lock"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	dispatchLockTTL         = 2 * time.Minute
	ledgerUnavailablePrefix = "ledger unavailable"
)

// ExecutePayment dispatches one pending payment with caller-produced transfer material.
func (v *VaultPay) ExecutePayment(ctx context.Context, actor model.Actor, paymentID string, transfer model.Transfer) (*model.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "ExecutePayment")
	defer span.End()

	payment, err := v.GetPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}
	result, err := v.dispatch(ctx, payment, transfer)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// validateTransfer refuses plaintext transfers and names any missing field.
func validateTransfer(transfer model.Transfer) error {
	if transfer.IsPlaintext() {
		return apierror.NewAPIError(apierror.ErrPrivacyPolicyViolation, "plaintext transfers are not allowed; amounts must stay confidential", nil)
	}

	required := []struct {
		name  string
		value string
	}{
		{"tx_signature", transfer.TxSignature},
		{"ciphertext", transfer.Ciphertext},
		{"nonce", transfer.Nonce},
		{"ephemeral_pub_key", transfer.EphemeralPubKey},
	}
	if transfer.ResolvedMode() == model.TransferModeConfidential {
		required = append(required, struct {
			name  string
			value string
		}{"computation_offset", transfer.ComputationOffset})
	}

	var missing []string
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("missing transfer fields: %s", strings.Join(missing, ", ")),
			map[string]interface{}{"missing_fields": missing})
	}
	return nil
}

// dispatch runs the execute path for one loaded payment. Validation and compliance
// errors leave the record pending or rejected; anything after MarkExecuting is
// recorded on the payment.
func (v *VaultPay) dispatch(ctx context.Context, payment *model.Payment, transfer model.Transfer) (*model.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", payment.PaymentID), attribute.String("transfer.mode", string(transfer.ResolvedMode())))

	if err := validateTransfer(transfer); err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentStatusPending {
		return nil, invalidState(payment, "only pending payments can be executed")
	}

	if v.redis != nil {
		locker := redlock.NewLocker(v.redis, redlock.PaymentKey(payment.PaymentID), uuid.NewString())
		if err := locker.Lock(ctx, dispatchLockTTL); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				return nil, invalidState(payment, "payment is already being executed")
			}
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to acquire payment lock", err)
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithField("payment_id", payment.PaymentID).Warnf("failed to release payment lock: %v", err)
			}
		}()
	}

	payee, err := v.datasource.GetPayeeByID(ctx, payment.PayeeID)
	if err != nil {
		return nil, err
	}
	if err := v.recheckPayee(ctx, payee); err != nil {
		if apierror.Is(err, apierror.ErrComplianceBlocked) {
			if _, rejectErr := v.RejectPayment(ctx, payment.PaymentID, messageOf(err)); rejectErr != nil {
				logrus.WithField("payment_id", payment.PaymentID).Errorf("failed to reject payment: %v", rejectErr)
			}
		}
		return nil, err
	}

	mode := transfer.ResolvedMode()
	exec := model.Execution{
		Mode:            mode,
		TxSignature:     transfer.TxSignature,
		Ciphertext:      transfer.Ciphertext,
		Nonce:           transfer.Nonce,
		EphemeralPubKey: transfer.EphemeralPubKey,
	}
	if mode == model.TransferModeConfidential {
		exec.ComputationOffset = transfer.ComputationOffset
	}
	current, err := v.MarkExecuting(ctx, payment.PaymentID, exec)
	if err != nil {
		return nil, err
	}

	current, err = v.confirmOnLedger(ctx, current)
	if err != nil {
		return nil, err
	}

	if current.Status == model.PaymentStatusProcessing && current.IsMPCBacked() {
		if _, err := v.PollOnce(ctx, current.PaymentID); err != nil {
			logrus.WithField("payment_id", current.PaymentID).Warnf("initial MPC reconciliation failed: %v", err)
		}
		if current, err = v.datasource.GetPaymentByID(ctx, current.PaymentID); err != nil {
			return nil, err
		}
		if current.Status == model.PaymentStatusProcessing {
			v.scheduleFinalization(ctx, current.PaymentID)
		}
	}

	return executionResult(current), nil
}

// scheduleFinalization hands the wait for MPC finalization to the workers.
func (v *VaultPay) scheduleFinalization(ctx context.Context, paymentID string) {
	if v.queue == nil {
		return
	}
	timeout := v.cfg.MPC.FinalizationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if err := v.queue.EnqueueFinalization(ctx, paymentID, timeout); err != nil {
		logrus.WithField("payment_id", paymentID).Warnf("failed to enqueue finalization await: %v", err)
	}
}

// confirmOnLedger checks the submitted signature. Transport errors and failed
// transactions fail the payment; a signature not yet seen leaves it processing.
func (v *VaultPay) confirmOnLedger(ctx context.Context, payment *model.Payment) (*model.Payment, error) {
	if v.ledger == nil || payment.TxSignature == nil {
		return payment, nil
	}
	signature := *payment.TxSignature

	confirmation, err := v.ledger.ConfirmSignature(ctx, signature)
	if err != nil {
		logrus.WithField("payment_id", payment.PaymentID).Errorf("ledger confirmation failed: %v", err)
		return v.FinalizePayment(ctx, payment.PaymentID, model.MPCFailure(fmt.Sprintf("%s: %v", ledgerUnavailablePrefix, err)))
	}

	switch confirmation.Status {
	case chain.SignatureFailed:
		return v.FinalizePayment(ctx, payment.PaymentID, model.MPCFailure(fmt.Sprintf("transaction failed on ledger: %s", confirmation.Err)))
	case chain.SignatureNotFound:
		logrus.WithField("payment_id", payment.PaymentID).Info("signature not yet visible on ledger")
		return payment, nil
	}

	if !payment.IsMPCBacked() {
		return v.FinalizePayment(ctx, payment.PaymentID, model.Success(signature))
	}
	return payment, nil
}

func executionResult(payment *model.Payment) *model.ExecutionResult {
	result := &model.ExecutionResult{
		PaymentID: payment.PaymentID,
		Success:   payment.Status == model.PaymentStatusProcessing || payment.Status == model.PaymentStatusCompleted,
		Status:    payment.Status,
		MPCStatus: payment.CurrentMPCStatus(),
	}
	if payment.TxSignature != nil {
		result.TxSignature = *payment.TxSignature
	}
	if payment.ComputationOffset != nil {
		result.ComputationOffset = *payment.ComputationOffset
	}
	if payment.Ciphertext != nil {
		result.Ciphertext = *payment.Ciphertext
	}
	if payment.Nonce != nil {
		result.Nonce = *payment.Nonce
	}
	if payment.EphemeralPubKey != nil {
		result.EphemeralPubKey = *payment.EphemeralPubKey
	}
	if payment.Status == model.PaymentStatusFailed && payment.ErrorMessage != nil {
		result.ErrorMessage = *payment.ErrorMessage
		result.ErrorCode = string(failureCode(result.ErrorMessage))
	}
	return result
}

// failureCode classifies the error message recorded on a failed payment.
func failureCode(message string) apierror.ErrorCode {
	switch {
	case message == timeoutReason:
		return apierror.ErrTimeout
	case strings.HasPrefix(message, ledgerUnavailablePrefix):
		return apierror.ErrExternalUnavailable
	default:
		return apierror.ErrInvalidState
	}
}

func messageOf(err error) string {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
