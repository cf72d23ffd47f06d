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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"go.opentelemetry.io/otel"
)

const templateColumns = `template_id, org_id, payee_id, amount, token, schedule, is_active, auto_execute, anchor_day,
	next_run_date, last_run_date, last_period_key, created_at`

var recurringTracer = otel.Tracer("vaultpay.database.recurring")

func scanTemplate(row rowScanner) (*model.RecurringTemplate, error) {
	t := &model.RecurringTemplate{}
	err := row.Scan(&t.TemplateID, &t.OrgID, &t.PayeeID, &t.Amount, &t.Token, &t.Schedule, &t.IsActive, &t.AutoExecute, &t.AnchorDay,
		&t.NextRunDate, &t.LastRunDate, &t.LastPeriodKey, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d Datasource) CreateTemplate(ctx context.Context, t *model.RecurringTemplate) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO vaultpay.recurring_templates (template_id, org_id, payee_id, amount, token, schedule, is_active, auto_execute, anchor_day, next_run_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.TemplateID, t.OrgID, t.PayeeID, t.Amount, t.Token, string(t.Schedule), t.IsActive, t.AutoExecute, t.AnchorDay, t.NextRunDate, t.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown organization or payee", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create recurring template", err)
	}
	return nil
}

func (d Datasource) GetTemplateByID(ctx context.Context, templateID string) (*model.RecurringTemplate, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM vaultpay.recurring_templates WHERE template_id = $1`, templateID)
	t, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Recurring template with ID '%s' not found", templateID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recurring template", err)
	}
	return t, nil
}

func (d Datasource) ListTemplates(ctx context.Context, orgID string) ([]model.RecurringTemplate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+templateColumns+` FROM vaultpay.recurring_templates
		WHERE org_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recurring templates", err)
	}
	return collectTemplates(rows)
}

// ListUpcomingTemplates returns active templates due on or before until, soonest first.
func (d Datasource) ListUpcomingTemplates(ctx context.Context, orgID string, until time.Time) ([]model.RecurringTemplate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+templateColumns+` FROM vaultpay.recurring_templates
		WHERE org_id = $1 AND is_active AND next_run_date <= $2
		ORDER BY next_run_date ASC
	`, orgID, until)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve upcoming templates", err)
	}
	return collectTemplates(rows)
}

func collectTemplates(rows *sql.Rows) ([]model.RecurringTemplate, error) {
	defer rows.Close()
	templates := []model.RecurringTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan recurring template", err)
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over recurring templates", err)
	}
	return templates, nil
}

func (d Datasource) UpdateTemplate(ctx context.Context, t *model.RecurringTemplate) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.recurring_templates
		SET amount = $2, schedule = $3, is_active = $4, auto_execute = $5, anchor_day = $6, next_run_date = $7
		WHERE template_id = $1
	`, t.TemplateID, t.Amount, string(t.Schedule), t.IsActive, t.AutoExecute, t.AnchorDay, t.NextRunDate)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update recurring template", err)
	}
	ok, err := affected(result)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update recurring template", err)
	}
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Recurring template with ID '%s' not found", t.TemplateID), nil)
	}
	return nil
}

// ListDueTemplateIDs returns active templates due at now, oldest due date first.
func (d Datasource) ListDueTemplateIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT template_id FROM vaultpay.recurring_templates
		WHERE is_active AND next_run_date <= $1
		ORDER BY next_run_date ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due templates", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan template id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MaterializeRecurringPayment creates at most one payment for the template's current
// period. The template row stays locked for the whole transaction so concurrent runs
// serialize on it, and the (template, period) unique index rejects any duplicate that
// slips through.
func (d Datasource) MaterializeRecurringPayment(ctx context.Context, templateID string, now time.Time, build PaymentBuilder) (MaterializeOutcome, *model.Payment, error) {
	ctx, span := recurringTracer.Start(ctx, "MaterializeRecurringPayment")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanTemplate(tx.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM vaultpay.recurring_templates
		WHERE template_id = $1
		FOR UPDATE
	`, templateID))
	if err != nil {
		if err == sql.ErrNoRows {
			return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Recurring template with ID '%s' not found", templateID), nil)
		}
		return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock recurring template", err)
	}

	if !t.IsActive || t.NextRunDate.After(now) {
		return MaterializeNotDue, nil, nil
	}

	periodKey := t.PeriodKey()
	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM vaultpay.payments WHERE recurring_template_id = $1 AND period_key = $2)
	`, t.TemplateID, periodKey).Scan(&exists)
	if err != nil {
		return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check period", err)
	}

	payee, err := scanPayee(tx.QueryRowContext(ctx, `SELECT `+payeeColumns+` FROM vaultpay.payees WHERE payee_id = $1`, t.PayeeID))
	if err != nil {
		return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve template payee", err)
	}

	payment, next, err := build(t, payee)
	if err != nil {
		return MaterializeSkipped, nil, err
	}

	outcome := MaterializeDuplicate
	if !exists {
		payment.RecurringTemplateID = &t.TemplateID
		payment.PeriodKey = &periodKey
		args, err := insertArgs(payment)
		if err != nil {
			return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
		}
		result, err := tx.ExecContext(ctx, insertPaymentQuery+`
			ON CONFLICT (recurring_template_id, period_key) WHERE recurring_template_id IS NOT NULL DO NOTHING
		`, args...)
		if err != nil {
			span.RecordError(err)
			return MaterializeSkipped, nil, insertError(err)
		}
		inserted, err := affected(result)
		if err != nil {
			return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert recurring payment", err)
		}
		if inserted {
			outcome = MaterializeCreated
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE vaultpay.recurring_templates
		SET next_run_date = $2, last_run_date = $3, last_period_key = $4
		WHERE template_id = $1
	`, t.TemplateID, next, now, periodKey)
	if err != nil {
		return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to advance recurring template", err)
	}

	if err := tx.Commit(); err != nil {
		return MaterializeSkipped, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit recurring payment", err)
	}

	if outcome != MaterializeCreated {
		return outcome, nil, nil
	}
	return outcome, payment, nil
}
