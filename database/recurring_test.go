package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var templateRowColumns = []string{
	"template_id", "org_id", "payee_id", "amount", "token", "schedule", "is_active", "auto_execute", "anchor_day",
	"next_run_date", "last_run_date", "last_period_key", "created_at",
}

var payeeRowColumns = []string{
	"payee_id", "org_id", "name", "email", "wallet_address", "range_status", "range_risk_score", "risk_level", "screened_at", "created_at",
}

func templateRow(active bool, due time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(templateRowColumns).AddRow(
		"rec_1", "org_1", "pye_1", "100", "USDC", "monthly", active, false, 31,
		due, nil, nil, due.AddDate(0, -1, 0),
	)
}

func payeeRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows(payeeRowColumns).AddRow(
		"pye_1", "org_1", "Ada", "ada@example.com", "wallet-1", status, 0.1, "low", nil, time.Now(),
	)
}

func buildFixed(next time.Time) PaymentBuilder {
	return func(t *model.RecurringTemplate, payee *model.Payee) (*model.Payment, time.Time, error) {
		return &model.Payment{
			PaymentID: "pay_rec", OrgID: t.OrgID, PayeeID: t.PayeeID, Amount: t.Amount, Token: t.Token,
			Status: model.PaymentStatusPending, CreatedAt: due,
		}, next, nil
	}
}

var due = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

func TestMaterializeRecurringPayment_Created(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := due.Add(time.Hour)
	next := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)FROM vaultpay.recurring_templates\s+WHERE template_id = \$1\s+FOR UPDATE`).
		WithArgs("rec_1").
		WillReturnRows(templateRow(true, due))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM vaultpay.payments WHERE recurring_template_id = $1 AND period_key = $2)")).
		WithArgs("rec_1", "2024-01-31").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("FROM vaultpay.payees WHERE payee_id = $1")).
		WithArgs("pye_1").
		WillReturnRows(payeeRow("approved"))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (recurring_template_id, period_key)")).
		WithArgs("pay_rec", "org_1", "pye_1", "100", "USDC", "pending", "rec_1", "2024-01-31", nil, due).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET next_run_date = $2, last_run_date = $3, last_period_key = $4")).
		WithArgs("rec_1", next, now, "2024-01-31").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, payment, err := ds.MaterializeRecurringPayment(context.Background(), "rec_1", now, buildFixed(next))
	require.NoError(t, err)
	assert.Equal(t, MaterializeCreated, outcome)
	require.NotNil(t, payment)
	assert.Equal(t, "2024-01-31", *payment.PeriodKey)
	assert.Equal(t, "rec_1", *payment.RecurringTemplateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterializeRecurringPayment_DuplicatePeriod(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := due.Add(time.Hour)
	next := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(templateRow(true, due))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`FROM vaultpay.payees`).WillReturnRows(payeeRow("approved"))
	mock.ExpectExec(regexp.QuoteMeta("SET next_run_date = $2")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, payment, err := ds.MaterializeRecurringPayment(context.Background(), "rec_1", now, buildFixed(next))
	require.NoError(t, err)
	assert.Equal(t, MaterializeDuplicate, outcome)
	assert.Nil(t, payment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterializeRecurringPayment_ConflictOnInsert(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := due.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(templateRow(true, due))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`FROM vaultpay.payees`).WillReturnRows(payeeRow("approved"))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET next_run_date = $2")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, _, err := ds.MaterializeRecurringPayment(context.Background(), "rec_1", now, buildFixed(due.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Equal(t, MaterializeDuplicate, outcome)
}

func TestMaterializeRecurringPayment_NotDue(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(templateRow(true, due))
	mock.ExpectRollback()

	outcome, _, err := ds.MaterializeRecurringPayment(context.Background(), "rec_1", due.Add(-time.Hour), buildFixed(due))
	require.NoError(t, err)
	assert.Equal(t, MaterializeNotDue, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterializeRecurringPayment_BuilderRefuses(t *testing.T) {
	ds, mock := newMockDatasource(t)
	refused := errors.New("payee rejected")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(templateRow(true, due))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`FROM vaultpay.payees`).WillReturnRows(payeeRow("rejected"))
	mock.ExpectRollback()

	var seen model.RangeStatus
	outcome, _, err := ds.MaterializeRecurringPayment(context.Background(), "rec_1", due, func(tpl *model.RecurringTemplate, payee *model.Payee) (*model.Payment, time.Time, error) {
		seen = payee.RangeStatus
		return nil, time.Time{}, refused
	})
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, MaterializeSkipped, outcome)
	assert.Equal(t, model.RangeStatusRejected, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTemplate(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	tpl := &model.RecurringTemplate{
		TemplateID: "rec_1", OrgID: "org_1", PayeeID: "pye_1", Amount: decimal.NewFromInt(100), Token: "USDC",
		Schedule: model.ScheduleWeekly, IsActive: true, AnchorDay: 5, NextRunDate: now, CreatedAt: now,
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vaultpay.recurring_templates")).
		WithArgs("rec_1", "org_1", "pye_1", "100", "USDC", "weekly", true, false, 5, now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ds.CreateTemplate(context.Background(), tpl))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueTemplateIDs(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY next_run_date ASC")).
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows([]string{"template_id"}).AddRow("rec_1").AddRow("rec_2"))

	ids, err := ds.ListDueTemplateIDs(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec_1", "rec_2"}, ids)
}
