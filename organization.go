package vaultpay

import (
	"context"
	"strings"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateOrganization registers an organization administered by the actor's wallet.
// A wallet administers at most one organization.
func (v *VaultPay) CreateOrganization(ctx context.Context, actor model.Actor, name, adminWallet string) (*model.Organization, error) {
	ctx, span := tracer.Start(ctx, "CreateOrganization")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" || adminWallet == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "name and admin_wallet are required", nil)
	}
	if actor.System || actor.Wallet != adminWallet {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "admin_wallet must match the authenticated wallet", nil)
	}

	if _, err := v.datasource.GetOrganizationByAdminWallet(ctx, adminWallet); err == nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Organization already exists for this wallet", nil)
	} else if !apierror.Is(err, apierror.ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}

	org := &model.Organization{
		OrgID:       model.GenerateUUIDWithSuffix("org"),
		Name:        name,
		AdminWallet: adminWallet,
		CreatedAt:   v.timestamp(),
	}
	if err := v.datasource.CreateOrganization(ctx, org); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.AddEvent("Organization created", trace.WithAttributes(attribute.String("org.id", org.OrgID)))
	return org, nil
}

// GetOrganization returns an organization the actor administers.
func (v *VaultPay) GetOrganization(ctx context.Context, actor model.Actor, orgID string) (*model.Organization, error) {
	ctx, span := tracer.Start(ctx, "GetOrganization")
	defer span.End()
	return v.authorizeOrg(ctx, actor, orgID)
}

// GetMyOrganization returns the organization administered by the actor's wallet.
func (v *VaultPay) GetMyOrganization(ctx context.Context, actor model.Actor) (*model.Organization, error) {
	ctx, span := tracer.Start(ctx, "GetMyOrganization")
	defer span.End()

	if actor.Wallet == "" {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "wallet session required", nil)
	}
	return v.datasource.GetOrganizationByAdminWallet(ctx, actor.Wallet)
}
