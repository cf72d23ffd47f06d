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
package model

import (
	"errors"
	"time"

	"github.com/blnkfinance/vaultpay"
	"github.com/blnkfinance/vaultpay/internal/auth"
	"github.com/blnkfinance/vaultpay/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

const DefaultFinalizationTimeoutMs = 30000

func walletAddress(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !auth.ValidWallet(s) {
		return errors.New("must be a valid wallet address")
	}
	return nil
}

func positiveAmount(value interface{}) error {
	switch amount := value.(type) {
	case decimal.Decimal:
		if !amount.IsPositive() {
			return errors.New("must be greater than 0")
		}
	case *decimal.Decimal:
		if amount != nil && !amount.IsPositive() {
			return errors.New("must be greater than 0")
		}
	}
	return nil
}

var schedules = []interface{}{model.ScheduleWeekly, model.ScheduleBiweekly, model.ScheduleMonthly}

type CreateOrganization struct {
	Name        string `json:"name"`
	AdminWallet string `json:"admin_wallet"`
}

func (o *CreateOrganization) ValidateCreateOrganization() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&o.AdminWallet, validation.Required, validation.By(walletAddress)),
	)
}

type CreatePayee struct {
	OrgID         string `json:"org_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address"`
}

func (p *CreatePayee) ValidateCreatePayee() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.OrgID, validation.Required),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.WalletAddress, validation.Required, validation.By(walletAddress)),
	)
}

func (p *CreatePayee) ToPayeeInput() vaultpay.PayeeInput {
	return vaultpay.PayeeInput{Name: p.Name, Email: p.Email, WalletAddress: p.WalletAddress}
}

// UpdatePayee carries the editable fields of a payee. Empty fields are left unchanged.
type UpdatePayee struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address"`
}

func (p *UpdatePayee) ValidateUpdatePayee() error {
	if p.Name == "" && p.Email == "" && p.WalletAddress == "" {
		return errors.New("at least one of name, email or wallet_address is required")
	}
	return validation.ValidateStruct(p,
		validation.Field(&p.Name, validation.Length(0, 200)),
		validation.Field(&p.WalletAddress, validation.By(walletAddress)),
	)
}

func (p *UpdatePayee) ToPayeeInput() vaultpay.PayeeInput {
	return vaultpay.PayeeInput{Name: p.Name, Email: p.Email, WalletAddress: p.WalletAddress}
}

type CreatePayment struct {
	OrgID   string          `json:"org_id"`
	PayeeID string          `json:"payee_id"`
	Amount  decimal.Decimal `json:"amount"`
	Token   string          `json:"token"`
}

func (p *CreatePayment) ValidateCreatePayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.OrgID, validation.Required),
		validation.Field(&p.PayeeID, validation.Required),
		validation.Field(&p.Amount, validation.By(positiveAmount)),
		validation.Field(&p.Token, validation.In(model.SupportedTokens...)),
	)
}

type UpdatePaymentStatus struct {
	Status            model.PaymentStatus `json:"status"`
	TxSignature       string              `json:"tx_signature"`
	ComputationOffset string              `json:"computation_offset"`
	ErrorMessage      string              `json:"error_message"`
}

func (u *UpdatePaymentStatus) ValidateUpdatePaymentStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Status, validation.Required, validation.In(
			model.PaymentStatusProcessing,
			model.PaymentStatusCompleted,
			model.PaymentStatusFailed,
		)),
	)
}

func (u *UpdatePaymentStatus) ToStatusUpdate() vaultpay.StatusUpdate {
	return vaultpay.StatusUpdate{
		Status:            u.Status,
		TxSignature:       u.TxSignature,
		ComputationOffset: u.ComputationOffset,
		ErrorMessage:      u.ErrorMessage,
	}
}

// ExecutePayment dispatches either one payment or, when PaymentIDs is set, a batch.
type ExecutePayment struct {
	PaymentID       string                    `json:"payment_id"`
	PaymentIDs      []string                  `json:"payment_ids"`
	SenderPublicKey string                    `json:"sender_public_key"`
	Transfer        model.Transfer            `json:"transfer"`
	Transfers       map[string]model.Transfer `json:"transfers"`
}

func (e *ExecutePayment) IsBatch() bool {
	return len(e.PaymentIDs) > 0
}

func (e *ExecutePayment) ValidateExecutePayment() error {
	err := validation.ValidateStruct(e,
		validation.Field(&e.SenderPublicKey, validation.Required),
	)
	if err != nil {
		return err
	}
	if !e.IsBatch() && e.PaymentID == "" {
		return errors.New("payment_id or payment_ids is required")
	}
	return nil
}

type BatchPayment struct {
	PayeeID string          `json:"payee_id"`
	Amount  decimal.Decimal `json:"amount"`
}

func (b BatchPayment) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.PayeeID, validation.Required),
		validation.Field(&b.Amount, validation.By(positiveAmount)),
	)
}

type CreateBatch struct {
	OrgID    string         `json:"org_id"`
	Token    string         `json:"token"`
	Payments []BatchPayment `json:"payments"`
}

func (b *CreateBatch) ValidateCreateBatch() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.OrgID, validation.Required),
		validation.Field(&b.Token, validation.In(model.SupportedTokens...)),
		validation.Field(&b.Payments, validation.Required),
	)
}

func (b *CreateBatch) ToBatchItems() []model.BatchItem {
	items := make([]model.BatchItem, 0, len(b.Payments))
	for _, p := range b.Payments {
		items = append(items, model.BatchItem{PayeeID: p.PayeeID, Amount: p.Amount})
	}
	return items
}

type ExecuteBatch struct {
	PaymentIDs      []string                  `json:"payment_ids"`
	SenderPublicKey string                    `json:"sender_public_key"`
	Transfers       map[string]model.Transfer `json:"transfers"`
}

func (b *ExecuteBatch) ValidateExecuteBatch() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.PaymentIDs, validation.Required),
		validation.Field(&b.SenderPublicKey, validation.Required),
	)
}

type FinalizeMPC struct {
	AwaitFinalization bool `json:"await_finalization"`
	TimeoutMs         *int `json:"timeout_ms"`
}

func (f *FinalizeMPC) ValidateFinalizeMPC() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.TimeoutMs, validation.Min(0), validation.Max(300000)),
	)
}

func (f *FinalizeMPC) Timeout() time.Duration {
	if f.TimeoutMs == nil {
		return DefaultFinalizationTimeoutMs * time.Millisecond
	}
	return time.Duration(*f.TimeoutMs) * time.Millisecond
}

type CreateRecurring struct {
	OrgID       string          `json:"org_id"`
	PayeeID     string          `json:"payee_id"`
	Amount      decimal.Decimal `json:"amount"`
	Token       string          `json:"token"`
	Schedule    model.Schedule  `json:"schedule"`
	StartDate   *time.Time      `json:"start_date"`
	AutoExecute bool            `json:"auto_execute"`
}

func (r *CreateRecurring) ValidateCreateRecurring() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OrgID, validation.Required),
		validation.Field(&r.PayeeID, validation.Required),
		validation.Field(&r.Amount, validation.By(positiveAmount)),
		validation.Field(&r.Token, validation.In(model.SupportedTokens...)),
		validation.Field(&r.Schedule, validation.Required, validation.In(schedules...)),
	)
}

func (r *CreateRecurring) ToTemplateInput() vaultpay.TemplateInput {
	return vaultpay.TemplateInput{
		PayeeID:     r.PayeeID,
		Amount:      r.Amount,
		Token:       r.Token,
		Schedule:    r.Schedule,
		StartDate:   r.StartDate,
		AutoExecute: r.AutoExecute,
	}
}

type UpdateRecurring struct {
	Amount      *decimal.Decimal `json:"amount"`
	Schedule    *model.Schedule  `json:"schedule"`
	IsActive    *bool            `json:"is_active"`
	AutoExecute *bool            `json:"auto_execute"`
}

func (r *UpdateRecurring) ValidateUpdateRecurring() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount, validation.By(positiveAmount)),
		validation.Field(&r.Schedule, validation.In(schedules...)),
	)
}

func (r *UpdateRecurring) ToTemplateUpdate() model.TemplateUpdate {
	return model.TemplateUpdate{
		Amount:      r.Amount,
		Schedule:    r.Schedule,
		IsActive:    r.IsActive,
		AutoExecute: r.AutoExecute,
	}
}

type RecurringRun struct {
	AutoExecute bool `json:"auto_execute"`
}
