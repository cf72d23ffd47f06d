package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
)

const organizationCacheTTL = 10 * time.Minute

func organizationCacheKey(orgID string) string {
	return fmt.Sprintf("vaultpay:organization:%s", orgID)
}

func (d Datasource) CreateOrganization(ctx context.Context, org *model.Organization) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO vaultpay.organizations (org_id, name, admin_wallet, created_at)
		VALUES ($1, $2, $3, $4)
	`, org.OrgID, org.Name, org.AdminWallet, org.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict, "Organization already exists for this wallet", nil)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create organization", err)
	}
	return nil
}

// GetOrganizationByID reads through the datasource cache when one is configured.
// Organizations are immutable once created.
func (d Datasource) GetOrganizationByID(ctx context.Context, orgID string) (*model.Organization, error) {
	if d.Cache != nil {
		var cached model.Organization
		if err := d.Cache.Get(ctx, organizationCacheKey(orgID), &cached); err == nil && cached.OrgID == orgID {
			return &cached, nil
		}
	}

	org, err := d.getOrganization(ctx, `WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	if d.Cache != nil {
		_ = d.Cache.Set(ctx, organizationCacheKey(orgID), org, organizationCacheTTL)
	}
	return org, nil
}

func (d Datasource) GetOrganizationByAdminWallet(ctx context.Context, wallet string) (*model.Organization, error) {
	return d.getOrganization(ctx, `WHERE admin_wallet = $1`, wallet)
}

func (d Datasource) getOrganization(ctx context.Context, where string, arg string) (*model.Organization, error) {
	org := &model.Organization{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT org_id, name, admin_wallet, created_at FROM vaultpay.organizations `+where, arg,
	).Scan(&org.OrgID, &org.Name, &org.AdminWallet, &org.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Organization not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve organization", err)
	}
	return org, nil
}
