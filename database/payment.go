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
	"encoding/json"
	"fmt"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

// selectPaymentColumns lists the scanned payment columns, optionally qualified by a
// table alias.
func selectPaymentColumns(alias string) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	return fmt.Sprintf(`%[1]spayment_id, %[1]sorg_id, %[1]spayee_id, %[1]samount, %[1]stoken, %[1]sstatus, COALESCE(%[1]stransfer_mode, ''),
	%[1]scomputation_offset, %[1]smpc_status, %[1]stx_signature, %[1]smpc_tx_signature, %[1]sciphertext, %[1]snonce, %[1]sephemeral_pub_key,
	%[1]serror_message, %[1]srecurring_template_id, %[1]speriod_key, %[1]smeta_data, %[1]screated_at, %[1]sexecuted_at, %[1]smpc_finalized_at`, prefix)
}

var paymentColumns = selectPaymentColumns("")

const insertPaymentQuery = `
	INSERT INTO vaultpay.payments (payment_id, org_id, payee_id, amount, token, status, recurring_template_id, period_key, meta_data, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

var paymentTracer = otel.Tracer("vaultpay.database.payments")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	p := &model.Payment{}
	var transferMode string
	var metaDataJSON []byte
	err := row.Scan(
		&p.PaymentID, &p.OrgID, &p.PayeeID, &p.Amount, &p.Token, &p.Status, &transferMode,
		&p.ComputationOffset, &p.MPCStatus, &p.TxSignature, &p.MPCTxSignature, &p.Ciphertext, &p.Nonce, &p.EphemeralPubKey,
		&p.ErrorMessage, &p.RecurringTemplateID, &p.PeriodKey, &metaDataJSON, &p.CreatedAt, &p.ExecutedAt, &p.MPCFinalizedAt,
	)
	if err != nil {
		return nil, err
	}
	p.TransferMode = model.TransferMode(transferMode)
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &p.MetaData); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// marshalMetaData returns nil for absent metadata so the column is stored as NULL.
func marshalMetaData(meta map[string]interface{}) (interface{}, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}

func insertArgs(p *model.Payment) ([]interface{}, error) {
	metaDataJSON, err := marshalMetaData(p.MetaData)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		p.PaymentID, p.OrgID, p.PayeeID, p.Amount, p.Token, p.Status, p.RecurringTemplateID, p.PeriodKey, metaDataJSON, p.CreatedAt,
	}, nil
}

func (d Datasource) InsertPayment(ctx context.Context, payment *model.Payment) error {
	ctx, span := paymentTracer.Start(ctx, "InsertPayment")
	defer span.End()

	args, err := insertArgs(payment)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, insertPaymentQuery, args...)
	if err != nil {
		span.RecordError(err)
		return insertError(err)
	}
	return nil
}

// InsertPayments writes every payment in one transaction; either all rows land or none.
func (d Datasource) InsertPayments(ctx context.Context, payments []*model.Payment) error {
	ctx, span := paymentTracer.Start(ctx, "InsertPayments")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertPaymentQuery)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to prepare payment insert", err)
	}
	defer stmt.Close()

	for _, p := range payments {
		args, err := insertArgs(p)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			span.RecordError(err)
			return insertError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit batch", err)
	}
	return nil
}

func insertError(err error) error {
	switch {
	case isUniqueViolation(err):
		return apierror.NewAPIError(apierror.ErrConflict, "Payment already exists", err)
	case isForeignKeyViolation(err):
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown organization or payee", err)
	default:
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payment", err)
	}
}

func (d Datasource) GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	ctx, span := paymentTracer.Start(ctx, "GetPaymentByID")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM vaultpay.payments WHERE payment_id = $1`, paymentID)
	p, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payment with ID '%s' not found", paymentID), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment", err)
	}
	return p, nil
}

func (d Datasource) GetPaymentsByIDs(ctx context.Context, paymentIDs []string) ([]model.Payment, error) {
	ctx, span := paymentTracer.Start(ctx, "GetPaymentsByIDs")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `SELECT `+paymentColumns+` FROM vaultpay.payments WHERE payment_id = ANY($1)`, pq.Array(paymentIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payments", err)
	}
	return collectPayments(rows)
}

func collectPayments(rows *sql.Rows) ([]model.Payment, error) {
	defer rows.Close()

	payments := []model.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payments", err)
	}
	return payments, nil
}

func (d Datasource) ListPayments(ctx context.Context, filter model.PaymentFilter) ([]model.Payment, int64, error) {
	ctx, span := paymentTracer.Start(ctx, "ListPayments")
	defer span.End()

	var total int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vaultpay.payments
		WHERE org_id = $1 AND ($2 = '' OR status = $2)
	`, filter.OrgID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count payments", err)
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM vaultpay.payments
		WHERE org_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, filter.OrgID, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payments", err)
	}
	payments, err := collectPayments(rows)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

// ListProcessingPayments returns in-flight payments, oldest first, for reconciliation.
func (d Datasource) ListProcessingPayments(ctx context.Context, limit int) ([]model.Payment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM vaultpay.payments
		WHERE status = 'processing'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve processing payments", err)
	}
	return collectPayments(rows)
}

func (d Datasource) ListPendingRecurringPayments(ctx context.Context, autoExecuteOnly bool) ([]model.Payment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+selectPaymentColumns("p")+`
		FROM vaultpay.payments p
		JOIN vaultpay.recurring_templates t ON t.template_id = p.recurring_template_id
		WHERE p.status = 'pending' AND (NOT $1 OR t.auto_execute)
		ORDER BY p.created_at ASC
	`, autoExecuteOnly)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending recurring payments", err)
	}
	return collectPayments(rows)
}

// DeletePendingPayment removes a payment only while it is still pending.
func (d Datasource) DeletePendingPayment(ctx context.Context, paymentID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		DELETE FROM vaultpay.payments WHERE payment_id = $1 AND status = 'pending'
	`, paymentID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete payment", err)
	}
	return affected(result)
}

// MarkPaymentExecuting moves pending to processing. A computation offset, when
// given, is attached together with mpc_status = pending and never overwritten.
func (d Datasource) MarkPaymentExecuting(ctx context.Context, paymentID string, exec model.Execution) (bool, error) {
	ctx, span := paymentTracer.Start(ctx, "MarkPaymentExecuting")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.payments
		SET status = 'processing',
			transfer_mode = $2,
			tx_signature = COALESCE(NULLIF($3, ''), tx_signature),
			ciphertext = COALESCE(NULLIF($4, ''), ciphertext),
			nonce = COALESCE(NULLIF($5, ''), nonce),
			ephemeral_pub_key = COALESCE(NULLIF($6, ''), ephemeral_pub_key),
			computation_offset = COALESCE(computation_offset, NULLIF($7, '')),
			mpc_status = CASE WHEN NULLIF($7, '') IS NULL THEN mpc_status ELSE 'pending' END
		WHERE payment_id = $1 AND status = 'pending'
	`, paymentID, string(exec.Mode), exec.TxSignature, exec.Ciphertext, exec.Nonce, exec.EphemeralPubKey, exec.ComputationOffset)
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payment executing", err)
	}
	return affected(result)
}

// CompletePayment moves processing to completed. An MPC-backed payment completes
// only together with, or after, its finalization.
func (d Datasource) CompletePayment(ctx context.Context, paymentID string, c Completion) (bool, error) {
	ctx, span := paymentTracer.Start(ctx, "CompletePayment")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.payments
		SET status = 'completed',
			tx_signature = COALESCE(NULLIF($2, ''), tx_signature),
			mpc_tx_signature = COALESCE(NULLIF($3, ''), mpc_tx_signature),
			executed_at = $5,
			mpc_status = CASE WHEN $4 THEN 'finalized' ELSE mpc_status END,
			mpc_finalized_at = CASE WHEN $4 THEN COALESCE(mpc_finalized_at, $5) ELSE mpc_finalized_at END
		WHERE payment_id = $1 AND status = 'processing'
			AND (computation_offset IS NULL OR $4 OR mpc_status = 'finalized')
	`, paymentID, c.TxSignature, c.MPCTxSignature, c.MPCFinalized, c.At)
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete payment", err)
	}
	return affected(result)
}

// FailPayment moves processing to failed. mpcFailed also marks an attached
// computation failed; a finalized computation is never overwritten.
func (d Datasource) FailPayment(ctx context.Context, paymentID string, message string, mpcFailed bool) (bool, error) {
	ctx, span := paymentTracer.Start(ctx, "FailPayment")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.payments
		SET status = 'failed',
			error_message = $2,
			mpc_status = CASE WHEN $3 AND computation_offset IS NOT NULL THEN 'failed' ELSE mpc_status END
		WHERE payment_id = $1 AND status = 'processing'
			AND mpc_status IS DISTINCT FROM 'finalized'
	`, paymentID, message, mpcFailed)
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail payment", err)
	}
	return affected(result)
}

func (d Datasource) RejectPendingPayment(ctx context.Context, paymentID string, reason string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.payments
		SET status = 'rejected', error_message = $2
		WHERE payment_id = $1 AND status = 'pending'
	`, paymentID, reason)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reject payment", err)
	}
	return affected(result)
}

// UpdatePaymentMPCStatus records a non-terminal MPC progress change. Terminal MPC
// states are written by CompletePayment and FailPayment only.
func (d Datasource) UpdatePaymentMPCStatus(ctx context.Context, paymentID string, from, to model.MPCStatus) (bool, error) {
	if to.IsTerminal() {
		return false, apierror.NewAPIError(apierror.ErrInvalidState, fmt.Sprintf("mpc status %s is terminal", to), nil)
	}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.payments
		SET mpc_status = $3
		WHERE payment_id = $1 AND status = 'processing' AND mpc_status = $2
	`, paymentID, string(from), string(to))
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update mpc status", err)
	}
	return affected(result)
}
