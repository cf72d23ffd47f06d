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
	"time"

	"github.com/blnkfinance/vaultpay/model"
)

// IDataSource groups the persistence operations of the settlement engine.
type IDataSource interface {
	organization
	payee
	payment
	recurring
}

type organization interface {
	CreateOrganization(ctx context.Context, org *model.Organization) error
	GetOrganizationByID(ctx context.Context, orgID string) (*model.Organization, error)
	GetOrganizationByAdminWallet(ctx context.Context, wallet string) (*model.Organization, error)
}

type payee interface {
	CreatePayee(ctx context.Context, payee *model.Payee) error
	GetPayeeByID(ctx context.Context, payeeID string) (*model.Payee, error)
	GetPayeesByIDs(ctx context.Context, payeeIDs []string) ([]model.Payee, error)
	ListPayees(ctx context.Context, orgID string) ([]model.Payee, error)
	UpdatePayee(ctx context.Context, payee *model.Payee) error
	UpdatePayeeScreening(ctx context.Context, payeeID string, result ScreeningUpdate) error
}

// ScreeningUpdate is the compliance outcome written back onto a payee.
type ScreeningUpdate struct {
	Status     model.RangeStatus
	RiskScore  *float64
	RiskLevel  model.RiskLevel
	ScreenedAt time.Time
}

// The transition methods are compare-and-set writes: they return false, with a nil
// error, when the row exists but was not in the expected state.
type payment interface {
	InsertPayment(ctx context.Context, payment *model.Payment) error
	InsertPayments(ctx context.Context, payments []*model.Payment) error
	GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error)
	GetPaymentsByIDs(ctx context.Context, paymentIDs []string) ([]model.Payment, error)
	ListPayments(ctx context.Context, filter model.PaymentFilter) ([]model.Payment, int64, error)
	ListProcessingPayments(ctx context.Context, limit int) ([]model.Payment, error)
	ListPendingRecurringPayments(ctx context.Context, autoExecuteOnly bool) ([]model.Payment, error)

	DeletePendingPayment(ctx context.Context, paymentID string) (bool, error)
	MarkPaymentExecuting(ctx context.Context, paymentID string, exec model.Execution) (bool, error)
	CompletePayment(ctx context.Context, paymentID string, completion Completion) (bool, error)
	FailPayment(ctx context.Context, paymentID string, message string, mpcFailed bool) (bool, error)
	RejectPendingPayment(ctx context.Context, paymentID string, reason string) (bool, error)
	UpdatePaymentMPCStatus(ctx context.Context, paymentID string, from, to model.MPCStatus) (bool, error)
}

// Completion carries the fields written when a processing payment completes.
type Completion struct {
	TxSignature    string
	MPCTxSignature string
	MPCFinalized   bool
	At             time.Time
}

// MaterializeOutcome reports what a materialization attempt did to a template.
type MaterializeOutcome int

const (
	// MaterializeCreated means a payment was inserted and the template advanced.
	MaterializeCreated MaterializeOutcome = iota
	// MaterializeDuplicate means the period already had a payment; the template was advanced.
	MaterializeDuplicate
	// MaterializeNotDue means the template was inactive or not yet due when locked.
	MaterializeNotDue
	// MaterializeSkipped means the builder refused; nothing changed.
	MaterializeSkipped
)

// PaymentBuilder produces the payment for a locked, due template and the next due
// date to advance to. A non-nil error skips the template without advancing it.
type PaymentBuilder func(template *model.RecurringTemplate, payee *model.Payee) (*model.Payment, time.Time, error)

type recurring interface {
	CreateTemplate(ctx context.Context, template *model.RecurringTemplate) error
	GetTemplateByID(ctx context.Context, templateID string) (*model.RecurringTemplate, error)
	ListTemplates(ctx context.Context, orgID string) ([]model.RecurringTemplate, error)
	ListUpcomingTemplates(ctx context.Context, orgID string, until time.Time) ([]model.RecurringTemplate, error)
	UpdateTemplate(ctx context.Context, template *model.RecurringTemplate) error
	ListDueTemplateIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	MaterializeRecurringPayment(ctx context.Context, templateID string, now time.Time, build PaymentBuilder) (MaterializeOutcome, *model.Payment, error)
}
