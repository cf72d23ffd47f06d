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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/vaultpay/database"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

// Organization methods

func (m *MockDataSource) CreateOrganization(ctx context.Context, org *model.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *MockDataSource) GetOrganizationByID(ctx context.Context, orgID string) (*model.Organization, error) {
	args := m.Called(ctx, orgID)
	org, _ := args.Get(0).(*model.Organization)
	return org, args.Error(1)
}

func (m *MockDataSource) GetOrganizationByAdminWallet(ctx context.Context, wallet string) (*model.Organization, error) {
	args := m.Called(ctx, wallet)
	org, _ := args.Get(0).(*model.Organization)
	return org, args.Error(1)
}

// Payee methods

func (m *MockDataSource) CreatePayee(ctx context.Context, payee *model.Payee) error {
	args := m.Called(ctx, payee)
	return args.Error(0)
}

func (m *MockDataSource) GetPayeeByID(ctx context.Context, payeeID string) (*model.Payee, error) {
	args := m.Called(ctx, payeeID)
	payee, _ := args.Get(0).(*model.Payee)
	return payee, args.Error(1)
}

func (m *MockDataSource) GetPayeesByIDs(ctx context.Context, payeeIDs []string) ([]model.Payee, error) {
	args := m.Called(ctx, payeeIDs)
	payees, _ := args.Get(0).([]model.Payee)
	return payees, args.Error(1)
}

func (m *MockDataSource) ListPayees(ctx context.Context, orgID string) ([]model.Payee, error) {
	args := m.Called(ctx, orgID)
	payees, _ := args.Get(0).([]model.Payee)
	return payees, args.Error(1)
}

func (m *MockDataSource) UpdatePayee(ctx context.Context, payee *model.Payee) error {
	args := m.Called(ctx, payee)
	return args.Error(0)
}

func (m *MockDataSource) UpdatePayeeScreening(ctx context.Context, payeeID string, result database.ScreeningUpdate) error {
	args := m.Called(ctx, payeeID, result)
	return args.Error(0)
}

// Payment methods

func (m *MockDataSource) InsertPayment(ctx context.Context, payment *model.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockDataSource) InsertPayments(ctx context.Context, payments []*model.Payment) error {
	args := m.Called(ctx, payments)
	return args.Error(0)
}

func (m *MockDataSource) GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	args := m.Called(ctx, paymentID)
	payment, _ := args.Get(0).(*model.Payment)
	return payment, args.Error(1)
}

func (m *MockDataSource) GetPaymentsByIDs(ctx context.Context, paymentIDs []string) ([]model.Payment, error) {
	args := m.Called(ctx, paymentIDs)
	payments, _ := args.Get(0).([]model.Payment)
	return payments, args.Error(1)
}

func (m *MockDataSource) ListPayments(ctx context.Context, filter model.PaymentFilter) ([]model.Payment, int64, error) {
	args := m.Called(ctx, filter)
	payments, _ := args.Get(0).([]model.Payment)
	return payments, args.Get(1).(int64), args.Error(2)
}

func (m *MockDataSource) ListProcessingPayments(ctx context.Context, limit int) ([]model.Payment, error) {
	args := m.Called(ctx, limit)
	payments, _ := args.Get(0).([]model.Payment)
	return payments, args.Error(1)
}

func (m *MockDataSource) ListPendingRecurringPayments(ctx context.Context, autoExecuteOnly bool) ([]model.Payment, error) {
	args := m.Called(ctx, autoExecuteOnly)
	payments, _ := args.Get(0).([]model.Payment)
	return payments, args.Error(1)
}

func (m *MockDataSource) DeletePendingPayment(ctx context.Context, paymentID string) (bool, error) {
	args := m.Called(ctx, paymentID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkPaymentExecuting(ctx context.Context, paymentID string, exec model.Execution) (bool, error) {
	args := m.Called(ctx, paymentID, exec)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) CompletePayment(ctx context.Context, paymentID string, completion database.Completion) (bool, error) {
	args := m.Called(ctx, paymentID, completion)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) FailPayment(ctx context.Context, paymentID string, message string, mpcFailed bool) (bool, error) {
	args := m.Called(ctx, paymentID, message, mpcFailed)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) RejectPendingPayment(ctx context.Context, paymentID string, reason string) (bool, error) {
	args := m.Called(ctx, paymentID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) UpdatePaymentMPCStatus(ctx context.Context, paymentID string, from, to model.MPCStatus) (bool, error) {
	args := m.Called(ctx, paymentID, from, to)
	return args.Bool(0), args.Error(1)
}

// Recurring template methods

func (m *MockDataSource) CreateTemplate(ctx context.Context, template *model.RecurringTemplate) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockDataSource) GetTemplateByID(ctx context.Context, templateID string) (*model.RecurringTemplate, error) {
	args := m.Called(ctx, templateID)
	template, _ := args.Get(0).(*model.RecurringTemplate)
	return template, args.Error(1)
}

func (m *MockDataSource) ListTemplates(ctx context.Context, orgID string) ([]model.RecurringTemplate, error) {
	args := m.Called(ctx, orgID)
	templates, _ := args.Get(0).([]model.RecurringTemplate)
	return templates, args.Error(1)
}

func (m *MockDataSource) ListUpcomingTemplates(ctx context.Context, orgID string, until time.Time) ([]model.RecurringTemplate, error) {
	args := m.Called(ctx, orgID, until)
	templates, _ := args.Get(0).([]model.RecurringTemplate)
	return templates, args.Error(1)
}

func (m *MockDataSource) UpdateTemplate(ctx context.Context, template *model.RecurringTemplate) error {
	args := m.Called(ctx, template)
	return args.Error(0)
}

func (m *MockDataSource) ListDueTemplateIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, now, limit)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockDataSource) MaterializeRecurringPayment(ctx context.Context, templateID string, now time.Time, build database.PaymentBuilder) (database.MaterializeOutcome, *model.Payment, error) {
	args := m.Called(ctx, templateID, now, build)
	payment, _ := args.Get(1).(*model.Payment)
	return args.Get(0).(database.MaterializeOutcome), payment, args.Error(2)
}
