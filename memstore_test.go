package vaultpay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/vaultpay/database"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
)

// memStore is an in-memory IDataSource with the same conditional-write semantics
// as the postgres datasource.
type memStore struct {
	mu        sync.Mutex
	orgs      map[string]model.Organization
	payees    map[string]model.Payee
	payments  map[string]model.Payment
	templates map[string]model.RecurringTemplate
}

var _ database.IDataSource = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		orgs:      make(map[string]model.Organization),
		payees:    make(map[string]model.Payee),
		payments:  make(map[string]model.Payment),
		templates: make(map[string]model.RecurringTemplate),
	}
}

func strPtr(s string) *string { return &s }

func notFound(kind, id string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("%s with ID '%s' not found", kind, id), nil)
}

func (m *memStore) CreateOrganization(_ context.Context, org *model.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orgs {
		if o.AdminWallet == org.AdminWallet {
			return apierror.NewAPIError(apierror.ErrConflict, "Organization already exists for this wallet", nil)
		}
	}
	m.orgs[org.OrgID] = *org
	return nil
}

func (m *memStore) GetOrganizationByID(_ context.Context, orgID string) (*model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[orgID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Organization not found", nil)
	}
	return &o, nil
}

func (m *memStore) GetOrganizationByAdminWallet(_ context.Context, wallet string) (*model.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orgs {
		if o.AdminWallet == wallet {
			o := o
			return &o, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "Organization not found", nil)
}

func (m *memStore) CreatePayee(_ context.Context, payee *model.Payee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[payee.OrgID]; !ok {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown organization", nil)
	}
	m.payees[payee.PayeeID] = *payee
	return nil
}

func (m *memStore) GetPayeeByID(_ context.Context, payeeID string) (*model.Payee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payees[payeeID]
	if !ok {
		return nil, notFound("Payee", payeeID)
	}
	return &p, nil
}

func (m *memStore) GetPayeesByIDs(_ context.Context, payeeIDs []string) ([]model.Payee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Payee{}
	for _, id := range payeeIDs {
		if p, ok := m.payees[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListPayees(_ context.Context, orgID string) ([]model.Payee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Payee{}
	for _, p := range m.payees {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdatePayee(_ context.Context, payee *model.Payee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payees[payee.PayeeID]
	if !ok {
		return notFound("Payee", payee.PayeeID)
	}
	p.Name, p.Email, p.WalletAddress = payee.Name, payee.Email, payee.WalletAddress
	m.payees[p.PayeeID] = p
	return nil
}

func (m *memStore) UpdatePayeeScreening(_ context.Context, payeeID string, u database.ScreeningUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payees[payeeID]
	if !ok {
		return notFound("Payee", payeeID)
	}
	at := u.ScreenedAt
	p.RangeStatus, p.RangeRiskScore, p.RiskLevel, p.ScreenedAt = u.Status, u.RiskScore, u.RiskLevel, &at
	m.payees[payeeID] = p
	return nil
}

// setPayeeStatus changes a payee's stored status directly.
func (m *memStore) setPayeeStatus(payeeID string, status model.RangeStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.payees[payeeID]
	p.RangeStatus = status
	m.payees[payeeID] = p
}

func (m *memStore) insertLocked(p *model.Payment) error {
	if _, ok := m.orgs[p.OrgID]; !ok {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown organization or payee", nil)
	}
	if _, ok := m.payees[p.PayeeID]; !ok {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown organization or payee", nil)
	}
	if _, ok := m.payments[p.PaymentID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "Payment already exists", nil)
	}
	m.payments[p.PaymentID] = *p
	return nil
}

func (m *memStore) InsertPayment(_ context.Context, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(payment)
}

func (m *memStore) InsertPayments(_ context.Context, payments []*model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := []string{}
	for _, p := range payments {
		if err := m.insertLocked(p); err != nil {
			for _, id := range inserted {
				delete(m.payments, id)
			}
			return err
		}
		inserted = append(inserted, p.PaymentID)
	}
	return nil
}

func (m *memStore) GetPaymentByID(_ context.Context, paymentID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, notFound("Payment", paymentID)
	}
	return &p, nil
}

func (m *memStore) GetPaymentsByIDs(_ context.Context, paymentIDs []string) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Payment{}
	for _, id := range paymentIDs {
		if p, ok := m.payments[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) sortedPayments(keep func(model.Payment) bool) []model.Payment {
	out := []model.Payment{}
	for _, p := range m.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListPayments(_ context.Context, filter model.PaymentFilter) ([]model.Payment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedPayments(func(p model.Payment) bool {
		return p.OrgID == filter.OrgID && (filter.Status == "" || p.Status == filter.Status)
	})
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := int64(len(all))
	if filter.Offset >= len(all) {
		return []model.Payment{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[filter.Offset:end], total, nil
}

func (m *memStore) ListProcessingPayments(_ context.Context, limit int) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedPayments(func(p model.Payment) bool { return p.Status == model.PaymentStatusProcessing })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListPendingRecurringPayments(_ context.Context, autoExecuteOnly bool) ([]model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedPayments(func(p model.Payment) bool {
		if p.Status != model.PaymentStatusPending || p.RecurringTemplateID == nil {
			return false
		}
		t, ok := m.templates[*p.RecurringTemplateID]
		return ok && (!autoExecuteOnly || t.AutoExecute)
	}), nil
}

func (m *memStore) DeletePendingPayment(_ context.Context, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	delete(m.payments, paymentID)
	return true, nil
}

func (m *memStore) MarkPaymentExecuting(_ context.Context, paymentID string, exec model.Execution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusProcessing
	p.TransferMode = exec.Mode
	if exec.TxSignature != "" {
		p.TxSignature = strPtr(exec.TxSignature)
	}
	if exec.Ciphertext != "" {
		p.Ciphertext = strPtr(exec.Ciphertext)
	}
	if exec.Nonce != "" {
		p.Nonce = strPtr(exec.Nonce)
	}
	if exec.EphemeralPubKey != "" {
		p.EphemeralPubKey = strPtr(exec.EphemeralPubKey)
	}
	if exec.ComputationOffset != "" {
		if p.ComputationOffset == nil {
			p.ComputationOffset = strPtr(exec.ComputationOffset)
		}
		pending := model.MPCStatusPending
		p.MPCStatus = &pending
	}
	m.payments[paymentID] = p
	return true, nil
}

func (m *memStore) CompletePayment(_ context.Context, paymentID string, c database.Completion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusProcessing {
		return false, nil
	}
	if p.ComputationOffset != nil && !c.MPCFinalized && p.CurrentMPCStatus() != model.MPCStatusFinalized {
		return false, nil
	}
	p.Status = model.PaymentStatusCompleted
	if c.TxSignature != "" {
		p.TxSignature = strPtr(c.TxSignature)
	}
	if c.MPCTxSignature != "" {
		p.MPCTxSignature = strPtr(c.MPCTxSignature)
	}
	at := c.At
	p.ExecutedAt = &at
	if c.MPCFinalized {
		finalized := model.MPCStatusFinalized
		p.MPCStatus = &finalized
		if p.MPCFinalizedAt == nil {
			p.MPCFinalizedAt = &at
		}
	}
	m.payments[paymentID] = p
	return true, nil
}

func (m *memStore) FailPayment(_ context.Context, paymentID string, message string, mpcFailed bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusProcessing || p.CurrentMPCStatus() == model.MPCStatusFinalized {
		return false, nil
	}
	p.Status = model.PaymentStatusFailed
	p.ErrorMessage = strPtr(message)
	if mpcFailed && p.ComputationOffset != nil {
		failed := model.MPCStatusFailed
		p.MPCStatus = &failed
	}
	m.payments[paymentID] = p
	return true, nil
}

func (m *memStore) RejectPendingPayment(_ context.Context, paymentID string, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusRejected
	p.ErrorMessage = strPtr(reason)
	m.payments[paymentID] = p
	return true, nil
}

func (m *memStore) UpdatePaymentMPCStatus(_ context.Context, paymentID string, from, to model.MPCStatus) (bool, error) {
	if to.IsTerminal() {
		return false, apierror.NewAPIError(apierror.ErrInvalidState, fmt.Sprintf("mpc status %s is terminal", to), nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusProcessing || p.CurrentMPCStatus() != from {
		return false, nil
	}
	p.MPCStatus = &to
	m.payments[paymentID] = p
	return true, nil
}

func (m *memStore) CreateTemplate(_ context.Context, t *model.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.TemplateID] = *t
	return nil
}

func (m *memStore) GetTemplateByID(_ context.Context, templateID string) (*model.RecurringTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[templateID]
	if !ok {
		return nil, notFound("Recurring template", templateID)
	}
	return &t, nil
}

func (m *memStore) ListTemplates(_ context.Context, orgID string) ([]model.RecurringTemplate, error) {
	return m.templatesWhere(func(t model.RecurringTemplate) bool { return t.OrgID == orgID }), nil
}

func (m *memStore) ListUpcomingTemplates(_ context.Context, orgID string, until time.Time) ([]model.RecurringTemplate, error) {
	return m.templatesWhere(func(t model.RecurringTemplate) bool {
		return t.OrgID == orgID && t.IsActive && !t.NextRunDate.After(until)
	}), nil
}

func (m *memStore) templatesWhere(keep func(model.RecurringTemplate) bool) []model.RecurringTemplate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.RecurringTemplate{}
	for _, t := range m.templates {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunDate.Before(out[j].NextRunDate) })
	return out
}

func (m *memStore) UpdateTemplate(_ context.Context, t *model.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.TemplateID]; !ok {
		return notFound("Recurring template", t.TemplateID)
	}
	m.templates[t.TemplateID] = *t
	return nil
}

func (m *memStore) ListDueTemplateIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	due := m.templatesWhere(func(t model.RecurringTemplate) bool { return t.IsActive && !t.NextRunDate.After(now) })
	ids := []string{}
	for _, t := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, t.TemplateID)
	}
	return ids, nil
}

func (m *memStore) MaterializeRecurringPayment(_ context.Context, templateID string, now time.Time, build database.PaymentBuilder) (database.MaterializeOutcome, *model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[templateID]
	if !ok {
		return database.MaterializeSkipped, nil, notFound("Recurring template", templateID)
	}
	if !t.IsActive || t.NextRunDate.After(now) {
		return database.MaterializeNotDue, nil, nil
	}
	periodKey := t.PeriodKey()
	exists := false
	for _, p := range m.payments {
		if p.RecurringTemplateID != nil && *p.RecurringTemplateID == templateID && p.PeriodKey != nil && *p.PeriodKey == periodKey {
			exists = true
		}
	}
	payee := m.payees[t.PayeeID]
	payment, next, err := build(&t, &payee)
	if err != nil {
		return database.MaterializeSkipped, nil, err
	}

	outcome := database.MaterializeDuplicate
	if !exists {
		payment.RecurringTemplateID = strPtr(templateID)
		payment.PeriodKey = strPtr(periodKey)
		if err := m.insertLocked(payment); err != nil {
			return database.MaterializeSkipped, nil, err
		}
		outcome = database.MaterializeCreated
	}
	t.NextRunDate = next
	ran := now
	t.LastRunDate = &ran
	t.LastPeriodKey = strPtr(periodKey)
	m.templates[templateID] = t

	if outcome != database.MaterializeCreated {
		return outcome, nil, nil
	}
	return outcome, payment, nil
}

// paymentCount returns the number of stored payments.
func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}
