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
	"sort"
	"time"

	"github.com/blnkfinance/vaultpay/database"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	redlock "github.com/blnkfinance/vaultpay/internal/lock"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/blnkfinance/vaultpay/mpc"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	dueTemplateLimit     = 500
	defaultUpcomingDays  = 7
	recurringRunLockTTL  = 10 * time.Minute
	templateLockTimeout  = 10 * time.Second
	templateLockWaitTime = 5 * time.Second
)

// TemplateInput describes a new recurring template.
type TemplateInput struct {
	PayeeID     string
	Amount      decimal.Decimal
	Token       string
	Schedule    model.Schedule
	StartDate   *time.Time
	AutoExecute bool
}

// CreateTemplate registers a standing payment instruction for a payee.
func (v *VaultPay) CreateTemplate(ctx context.Context, actor model.Actor, orgID string, input TemplateInput) (*model.RecurringTemplate, error) {
	ctx, span := tracer.Start(ctx, "CreateTemplate")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, orgID); err != nil {
		return nil, err
	}
	if err := validateAmount(input.Amount); err != nil {
		return nil, err
	}
	token, err := resolveToken(input.Token)
	if err != nil {
		return nil, err
	}
	next, anchor, err := FirstDue(v.timestamp(), input.StartDate, input.Schedule)
	if err != nil {
		return nil, err
	}

	payee, err := v.datasource.GetPayeeByID(ctx, input.PayeeID)
	if err != nil {
		return nil, err
	}
	if payee.OrgID != orgID {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Payee %s does not belong to organization %s", payee.PayeeID, orgID), nil)
	}
	if err := v.checkPayable(payee); err != nil {
		return nil, err
	}

	template := &model.RecurringTemplate{
		TemplateID:  model.GenerateUUIDWithSuffix("rec"),
		OrgID:       orgID,
		PayeeID:     payee.PayeeID,
		Amount:      input.Amount,
		Token:       token,
		Schedule:    input.Schedule,
		IsActive:    true,
		AutoExecute: input.AutoExecute,
		AnchorDay:   anchor,
		NextRunDate: next,
		CreatedAt:   v.timestamp(),
	}
	if err := v.datasource.CreateTemplate(ctx, template); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.AddEvent("Recurring template created", trace.WithAttributes(
		attribute.String("template.id", template.TemplateID),
		attribute.String("template.schedule", string(template.Schedule)),
	))
	return template, nil
}

func (v *VaultPay) GetTemplate(ctx context.Context, actor model.Actor, templateID string) (*model.RecurringTemplate, error) {
	ctx, span := tracer.Start(ctx, "GetTemplate")
	defer span.End()

	template, err := v.datasource.GetTemplateByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if _, err := v.authorizeOrg(ctx, actor, template.OrgID); err != nil {
		return nil, err
	}
	return template, nil
}

func (v *VaultPay) ListTemplates(ctx context.Context, actor model.Actor, orgID string) ([]model.RecurringTemplate, error) {
	ctx, span := tracer.Start(ctx, "ListTemplates")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, orgID); err != nil {
		return nil, err
	}
	return v.datasource.ListTemplates(ctx, orgID)
}

// UpcomingTemplates lists active templates due within the next days (default 7).
func (v *VaultPay) UpcomingTemplates(ctx context.Context, actor model.Actor, orgID string, days int) ([]model.RecurringTemplate, error) {
	ctx, span := tracer.Start(ctx, "UpcomingTemplates")
	defer span.End()

	if _, err := v.authorizeOrg(ctx, actor, orgID); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = defaultUpcomingDays
	}
	return v.datasource.ListUpcomingTemplates(ctx, orgID, v.timestamp().AddDate(0, 0, days))
}

// UpdateTemplate edits a template. A schedule change recomputes the next due date
// from the last run, or from now when the template never ran.
func (v *VaultPay) UpdateTemplate(ctx context.Context, actor model.Actor, templateID string, update model.TemplateUpdate) (*model.RecurringTemplate, error) {
	ctx, span := tracer.Start(ctx, "UpdateTemplate")
	defer span.End()

	unlock, err := v.lockTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	template, err := v.GetTemplate(ctx, actor, templateID)
	if err != nil {
		return nil, err
	}

	if update.Amount != nil {
		if err := validateAmount(*update.Amount); err != nil {
			return nil, err
		}
		template.Amount = *update.Amount
	}
	if update.Schedule != nil && *update.Schedule != template.Schedule {
		if err := validateSchedule(*update.Schedule); err != nil {
			return nil, err
		}
		base := v.timestamp()
		if template.LastRunDate != nil {
			base = *template.LastRunDate
		}
		next, err := NextDue(base, *update.Schedule, template.AnchorDay)
		if err != nil {
			return nil, err
		}
		template.Schedule = *update.Schedule
		template.NextRunDate = next
	}
	if update.IsActive != nil {
		template.IsActive = *update.IsActive
	}
	if update.AutoExecute != nil {
		template.AutoExecute = *update.AutoExecute
	}

	if err := v.datasource.UpdateTemplate(ctx, template); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return template, nil
}

// CancelTemplate deactivates a template. Its history is kept.
func (v *VaultPay) CancelTemplate(ctx context.Context, actor model.Actor, templateID string) (*model.RecurringTemplate, error) {
	inactive := false
	return v.UpdateTemplate(ctx, actor, templateID, model.TemplateUpdate{IsActive: &inactive})
}

func (v *VaultPay) lockTemplate(ctx context.Context, templateID string) (func(), error) {
	if v.redis == nil {
		return func() {}, nil
	}
	locker := redlock.NewLocker(v.redis, redlock.TemplateKey(templateID), uuid.NewString())
	if err := locker.WaitLock(ctx, templateLockTimeout, templateLockWaitTime); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "recurring template is being modified", err)
	}
	return func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release template lock %s: %v", templateID, err)
		}
	}, nil
}

// materializeBuilder produces the payment for a locked, due template. A payee that
// is no longer payable skips the template without advancing it.
func (v *VaultPay) materializeBuilder(template *model.RecurringTemplate, payee *model.Payee) (*model.Payment, time.Time, error) {
	if err := v.checkPayable(payee); err != nil {
		return nil, time.Time{}, err
	}
	next, err := NextDue(template.NextRunDate, template.Schedule, template.AnchorDay)
	if err != nil {
		return nil, time.Time{}, err
	}
	return v.newPayment(template.OrgID, payee, template.Amount, template.Token), next, nil
}

// MaterializeDue creates one pending payment per due template and period. Errors are
// collected per template and never abort the run.
func (v *VaultPay) MaterializeDue(ctx context.Context, now time.Time) (*model.MaterializeResult, error) {
	ctx, span := tracer.Start(ctx, "MaterializeDue")
	defer span.End()

	ids, err := v.datasource.ListDueTemplateIDs(ctx, now, dueTemplateLimit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &model.MaterializeResult{Errors: []string{}}
	for _, id := range ids {
		outcome, payment, err := v.datasource.MaterializeRecurringPayment(ctx, id, now, v.materializeBuilder)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("template %s: %s", id, messageOf(err)))
			logrus.WithField("template_id", id).Warnf("recurring template skipped: %v", err)
			continue
		}
		switch outcome {
		case database.MaterializeCreated:
			result.Created++
			v.publish(ctx, payment, EventPaymentCreated)
		case database.MaterializeDuplicate:
			result.Skipped++
		}
	}

	span.SetAttributes(attribute.Int("recurring.created", result.Created), attribute.Int("recurring.skipped", result.Skipped))
	return result, nil
}

// ExecuteDueBatch optionally executes pending recurring payments. Without
// autoExecute it only counts them. With it, transfer material is prepared on the MPC
// gateway and each organization's payments are executed as one batch.
func (v *VaultPay) ExecuteDueBatch(ctx context.Context, autoExecute bool) (*model.DueExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "ExecuteDueBatch")
	defer span.End()

	result := &model.DueExecutionResult{Errors: []string{}}
	pending, err := v.datasource.ListPendingRecurringPayments(ctx, autoExecute)
	if err != nil {
		return nil, err
	}
	if !autoExecute {
		result.Pending = len(pending)
		return result, nil
	}

	byOrg := make(map[string][]model.Payment)
	for _, p := range pending {
		byOrg[p.OrgID] = append(byOrg[p.OrgID], p)
	}
	orgIDs := make([]string, 0, len(byOrg))
	for orgID := range byOrg {
		orgIDs = append(orgIDs, orgID)
	}
	sort.Strings(orgIDs)

	for _, orgID := range orgIDs {
		payments := byOrg[orgID]
		org, err := v.datasource.GetOrganizationByID(ctx, orgID)
		if err != nil {
			result.Pending += len(payments)
			result.Errors = append(result.Errors, fmt.Sprintf("organization %s: %s", orgID, messageOf(err)))
			continue
		}

		ids := make([]string, 0, len(payments))
		transfers := make(map[string]model.Transfer, len(payments))
		for i := range payments {
			transfer, err := v.prepareTransfer(ctx, org, &payments[i])
			if err != nil {
				result.Pending++
				result.Errors = append(result.Errors, fmt.Sprintf("payment %s: %s", payments[i].PaymentID, messageOf(err)))
				continue
			}
			ids = append(ids, payments[i].PaymentID)
			transfers[payments[i].PaymentID] = *transfer
		}
		if len(ids) == 0 {
			continue
		}

		batch, err := v.ExecuteBatch(ctx, model.SystemActor(), ids, org.AdminWallet, transfers)
		if err != nil {
			result.Pending += len(ids)
			result.Errors = append(result.Errors, fmt.Sprintf("organization %s: %s", orgID, messageOf(err)))
			continue
		}
		result.Executed += len(batch.Successful)
		for _, failed := range batch.Failed {
			if failed.Status == model.PaymentStatusPending {
				result.Pending++
			}
			result.Errors = append(result.Errors, fmt.Sprintf("payment %s: %s", failed.PaymentID, failed.ErrorMessage))
		}
	}
	return result, nil
}

func (v *VaultPay) prepareTransfer(ctx context.Context, org *model.Organization, payment *model.Payment) (*model.Transfer, error) {
	if v.mpc == nil {
		return nil, errors.New("no MPC gateway configured")
	}
	payee, err := v.datasource.GetPayeeByID(ctx, payment.PayeeID)
	if err != nil {
		return nil, err
	}
	return v.mpc.PrepareTransfer(ctx, mpc.PrepareRequest{
		PaymentID: payment.PaymentID,
		OrgID:     org.OrgID,
		Sender:    org.AdminWallet,
		Recipient: payee.WalletAddress,
		Amount:    payment.Amount,
		Token:     payment.Token,
	})
}

// RunRecurringCron materializes due templates and optionally executes them. The
// configured auto-execute flag overrides the requested one. Overlapping runs are
// refused with CONFLICT.
func (v *VaultPay) RunRecurringCron(ctx context.Context, autoExecute bool) (*model.CronResult, error) {
	ctx, span := tracer.Start(ctx, "RunRecurringCron")
	defer span.End()

	now := v.timestamp()
	result := &model.CronResult{Success: true, Timestamp: now, Errors: []string{}}
	if !v.cfg.Recurring.Enabled {
		logrus.Info("recurring payments are disabled, skipping run")
		return result, nil
	}
	autoExecute = v.cfg.RecurringAutoExecute(autoExecute)

	if v.redis != nil {
		locker := redlock.NewLocker(v.redis, redlock.RecurringRunKey, uuid.NewString())
		if err := locker.Lock(ctx, recurringRunLockTTL); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				return nil, apierror.NewAPIError(apierror.ErrConflict, "a recurring run is already in progress", nil)
			}
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to acquire recurring run lock", err)
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.Warnf("failed to release recurring run lock: %v", err)
			}
		}()
	}

	materialized, err := v.MaterializeDue(ctx, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result.Created = materialized.Created
	result.Skipped = materialized.Skipped
	result.Errors = append(result.Errors, materialized.Errors...)

	executed, err := v.ExecuteDueBatch(ctx, autoExecute)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result.Executed = executed.Executed
	result.Pending = executed.Pending
	result.Errors = append(result.Errors, executed.Errors...)

	logrus.WithFields(logrus.Fields{
		"created":      result.Created,
		"skipped":      result.Skipped,
		"executed":     result.Executed,
		"pending":      result.Pending,
		"auto_execute": autoExecute,
	}).Info("recurring run complete")
	return result, nil
}
