package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/lib/pq"
)

const payeeColumns = `payee_id, org_id, name, COALESCE(email, ''), wallet_address, range_status, range_risk_score, COALESCE(risk_level, ''), screened_at, created_at`

func scanPayee(row rowScanner) (*model.Payee, error) {
	p := &model.Payee{}
	var riskLevel string
	err := row.Scan(&p.PayeeID, &p.OrgID, &p.Name, &p.Email, &p.WalletAddress, &p.RangeStatus, &p.RangeRiskScore, &riskLevel, &p.ScreenedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.RiskLevel = model.RiskLevel(riskLevel)
	return p, nil
}

func (d Datasource) CreatePayee(ctx context.Context, payee *model.Payee) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO vaultpay.payees (payee_id, org_id, name, email, wallet_address, range_status, range_risk_score, risk_level, screened_at, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)
	`, payee.PayeeID, payee.OrgID, payee.Name, payee.Email, payee.WalletAddress, string(payee.RangeStatus), payee.RangeRiskScore, string(payee.RiskLevel), payee.ScreenedAt, payee.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown organization", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payee", err)
	}
	return nil
}

func (d Datasource) GetPayeeByID(ctx context.Context, payeeID string) (*model.Payee, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+payeeColumns+` FROM vaultpay.payees WHERE payee_id = $1`, payeeID)
	p, err := scanPayee(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payee with ID '%s' not found", payeeID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payee", err)
	}
	return p, nil
}

func (d Datasource) GetPayeesByIDs(ctx context.Context, payeeIDs []string) ([]model.Payee, error) {
	rows, err := d.Conn.QueryContext(ctx, `SELECT `+payeeColumns+` FROM vaultpay.payees WHERE payee_id = ANY($1)`, pq.Array(payeeIDs))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payees", err)
	}
	return collectPayees(rows)
}

func (d Datasource) ListPayees(ctx context.Context, orgID string) ([]model.Payee, error) {
	rows, err := d.Conn.QueryContext(ctx, `SELECT `+payeeColumns+` FROM vaultpay.payees WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payees", err)
	}
	return collectPayees(rows)
}

func collectPayees(rows *sql.Rows) ([]model.Payee, error) {
	defer rows.Close()
	payees := []model.Payee{}
	for rows.Next() {
		p, err := scanPayee(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payee", err)
		}
		payees = append(payees, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payees", err)
	}
	return payees, nil
}

// UpdatePayee writes the editable contact fields.
func (d Datasource) UpdatePayee(ctx context.Context, payee *model.Payee) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.payees SET name = $2, email = NULLIF($3, ''), wallet_address = $4
		WHERE payee_id = $1
	`, payee.PayeeID, payee.Name, payee.Email, payee.WalletAddress)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payee", err)
	}
	ok, err := affected(result)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payee", err)
	}
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payee with ID '%s' not found", payee.PayeeID), nil)
	}
	return nil
}

func (d Datasource) UpdatePayeeScreening(ctx context.Context, payeeID string, u ScreeningUpdate) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE vaultpay.payees
		SET range_status = $2, range_risk_score = $3, risk_level = NULLIF($4, ''), screened_at = $5
		WHERE payee_id = $1
	`, payeeID, string(u.Status), u.RiskScore, string(u.RiskLevel), u.ScreenedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payee screening", err)
	}
	ok, err := affected(result)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payee screening", err)
	}
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payee with ID '%s' not found", payeeID), nil)
	}
	return nil
}
