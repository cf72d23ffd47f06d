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
	"sort"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

func (v *VaultPay) maxBatchItems() int {
	if v.cfg.Batch.MaxItems > 0 {
		return v.cfg.Batch.MaxItems
	}
	return 100
}

// CreateBatch creates one pending payment per item in a single transaction. If any
// payee is missing, belongs to another organization or fails the compliance policy,
// nothing is created and the offending payee ids are reported.
func (v *VaultPay) CreateBatch(ctx context.Context, actor model.Actor, orgID string, items []model.BatchItem, token string) (*model.BatchCreateResult, error) {
	ctx, span := tracer.Start(ctx, "CreateBatch")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, orgID); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "batch must contain at least one item", nil)
	}
	if len(items) > v.maxBatchItems() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("batch exceeds %d items", v.maxBatchItems()), nil)
	}
	token, err := resolveToken(token)
	if err != nil {
		return nil, err
	}

	payeeIDs := make([]string, 0, len(items))
	seen := make(map[string]bool)
	for i, item := range items {
		if err := validateAmount(item.Amount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("item %d: amount must be greater than zero", i), nil)
		}
		if !seen[item.PayeeID] {
			seen[item.PayeeID] = true
			payeeIDs = append(payeeIDs, item.PayeeID)
		}
	}

	found, err := v.datasource.GetPayeesByIDs(ctx, payeeIDs)
	if err != nil {
		return nil, err
	}
	payees := make(map[string]*model.Payee, len(found))
	for i := range found {
		if found[i].OrgID == orgID {
			payees[found[i].PayeeID] = &found[i]
		}
	}

	missing := []string{}
	rejected := []string{}
	for _, id := range payeeIDs {
		payee, ok := payees[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if v.checkPayable(payee) != nil {
			rejected = append(rejected, id)
		}
	}
	if len(missing) > 0 || len(rejected) > 0 {
		span.AddEvent("Batch validation failed", trace.WithAttributes(
			attribute.Int("batch.missing", len(missing)),
			attribute.Int("batch.rejected", len(rejected)),
		))
		return nil, apierror.NewAPIError(apierror.ErrPartialValidationFailure, "batch validation failed; no payments were created",
			map[string]interface{}{"missingPayees": missing, "rejectedPayees": rejected})
	}

	payments := make([]*model.Payment, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		payments = append(payments, v.newPayment(orgID, payees[item.PayeeID], item.Amount, token))
		total = total.Add(item.Amount)
	}
	if err := v.datasource.InsertPayments(ctx, payments); err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &model.BatchCreateResult{TotalAmount: total, Count: len(payments), Payments: make([]model.Payment, 0, len(payments))}
	for _, p := range payments {
		result.Payments = append(result.Payments, *p)
		v.publish(ctx, p, EventPaymentCreated)
	}
	span.AddEvent("Batch created", trace.WithAttributes(attribute.Int("batch.count", result.Count)))
	return result, nil
}

// ExecuteBatch dispatches payments of one organization in parallel. Per-item failures
// are reported in Failed and never abort siblings; only the up-front checks fail the
// call as a whole.
func (v *VaultPay) ExecuteBatch(ctx context.Context, actor model.Actor, paymentIDs []string, senderWallet string, transfers map[string]model.Transfer) (*model.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "ExecuteBatch")
	defer span.End()

	if len(paymentIDs) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "payment_ids must not be empty", nil)
	}
	if len(paymentIDs) > v.maxBatchItems() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("batch exceeds %d items", v.maxBatchItems()), nil)
	}
	if !actor.System && senderWallet != actor.Wallet {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "sender_wallet must match the authenticated wallet", nil)
	}

	unique := uniqueIDs(paymentIDs)
	found, err := v.datasource.GetPaymentsByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	payments := make(map[string]*model.Payment, len(found))
	orgs := make(map[string]bool)
	for i := range found {
		payments[found[i].PaymentID] = &found[i]
		orgs[found[i].OrgID] = true
	}

	var missing []string
	for _, id := range unique {
		if _, ok := payments[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "one or more payments were not found", map[string]interface{}{"missingPayments": missing})
	}
	if len(orgs) > 1 {
		orgIDs := make([]string, 0, len(orgs))
		for id := range orgs {
			orgIDs = append(orgIDs, id)
		}
		sort.Strings(orgIDs)
		return nil, apierror.NewAPIError(apierror.ErrCrossOrgBatch, "all payments in a batch must belong to one organization", map[string]interface{}{"organizations": orgIDs})
	}

	org, err := v.authorizeOrg(ctx, actor, found[0].OrgID)
	if err != nil {
		return nil, err
	}
	if senderWallet != org.AdminWallet {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "sender_wallet is not the organization admin", nil)
	}

	results := make([]model.ExecutionResult, len(paymentIDs))
	var g errgroup.Group
	g.SetLimit(v.batchConcurrency())
	for i, id := range paymentIDs {
		i, payment := i, payments[id]
		g.Go(func() error {
			results[i] = v.executeItem(ctx, payment, transfers)
			return nil
		})
	}
	_ = g.Wait()

	batch := &model.BatchResult{
		Successful:     []model.ExecutionResult{},
		Failed:         []model.ExecutionResult{},
		TotalProcessed: len(results),
		TotalAmount:    decimal.Zero,
	}
	for _, r := range results {
		if r.Success {
			batch.Successful = append(batch.Successful, r)
			batch.TotalAmount = batch.TotalAmount.Add(payments[r.PaymentID].Amount)
			continue
		}
		batch.Failed = append(batch.Failed, r)
	}

	logrus.WithFields(logrus.Fields{
		"org_id":     org.OrgID,
		"successful": len(batch.Successful),
		"failed":     len(batch.Failed),
	}).Info("batch executed")
	span.SetAttributes(attribute.Int("batch.successful", len(batch.Successful)), attribute.Int("batch.failed", len(batch.Failed)))
	return batch, nil
}

// executeItem runs one batch item. It never returns an error; failures are folded
// into the result with the code and current status of the record.
func (v *VaultPay) executeItem(ctx context.Context, payment *model.Payment, transfers map[string]model.Transfer) model.ExecutionResult {
	transfer, ok := transfers[payment.PaymentID]
	if !ok {
		return model.ExecutionResult{
			PaymentID:    payment.PaymentID,
			Status:       payment.Status,
			ErrorCode:    string(apierror.ErrInvalidInput),
			ErrorMessage: "no transfer material supplied for payment",
		}
	}

	result, err := v.dispatch(ctx, payment, transfer)
	if err == nil {
		return *result
	}

	failed := model.ExecutionResult{
		PaymentID:    payment.PaymentID,
		Status:       payment.Status,
		ErrorCode:    string(apierror.CodeOf(err)),
		ErrorMessage: messageOf(err),
	}
	if current, getErr := v.datasource.GetPaymentByID(ctx, payment.PaymentID); getErr == nil {
		failed.Status = current.Status
		failed.MPCStatus = current.CurrentMPCStatus()
	}
	return failed
}

func (v *VaultPay) batchConcurrency() int {
	if v.cfg.Batch.Concurrency > 0 {
		return v.cfg.Batch.Concurrency
	}
	return 4
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
