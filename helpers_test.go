package vaultpay

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/vaultpay/chain"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/blnkfinance/vaultpay/mpc"
	"github.com/blnkfinance/vaultpay/screening/adapters"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/mr-tron/base58"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

type fakeMPC struct {
	mu         sync.Mutex
	statuses   map[string]mpc.Computation
	err        error
	prepareErr map[string]error
	polls      int
}

func newFakeMPC() *fakeMPC {
	return &fakeMPC{statuses: make(map[string]mpc.Computation), prepareErr: make(map[string]error)}
}

func (f *fakeMPC) set(offset string, status mpc.ComputationStatus, signature string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[offset] = mpc.Computation{Status: status, LedgerSignature: signature}
}

func (f *fakeMPC) GetComputationStatus(_ context.Context, offset string) (*mpc.Computation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.statuses[offset]
	if !ok {
		return &mpc.Computation{Status: mpc.StatusNotFound}, nil
	}
	return &c, nil
}

func (f *fakeMPC) PrepareTransfer(_ context.Context, req mpc.PrepareRequest) (*model.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.prepareErr[req.PaymentID]; err != nil {
		return nil, err
	}
	t := confidentialTransfer(req.PaymentID)
	return &t, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	results map[string]chain.Confirmation
	err     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{results: make(map[string]chain.Confirmation)}
}

func (f *fakeLedger) set(signature string, status chain.SignatureStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[signature] = chain.Confirmation{Signature: signature, Status: status}
}

// ConfirmSignature reports every unknown signature as confirmed.
func (f *fakeLedger) ConfirmSignature(_ context.Context, signature string) (*chain.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.results[signature]; ok {
		return &c, nil
	}
	return &chain.Confirmation{Signature: signature, Status: chain.SignatureConfirmed}, nil
}

type testEnv struct {
	vp       *VaultPay
	store    *memStore
	screener *adapters.MockScreener
	mpc      *fakeMPC
	ledger   *fakeLedger
	redis    *miniredis.Miniredis
	org      *model.Organization
	admin    model.Actor
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Screening: config.ScreeningConfig{
			CacheTTL:      time.Hour,
			MaxAttempts:   1,
			RiskThreshold: 0.7,
			FlaggedPolicy: config.FlaggedPolicyAllow,
		},
		MPC:       config.MPCConfig{PollInterval: 10 * time.Millisecond, FinalizationTimeout: time.Second},
		Batch:     config.BatchConfig{Concurrency: 4, MaxItems: 100},
		Recurring: config.RecurringConfig{Enabled: true},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store:    newMemStore(),
		screener: adapters.NewMockScreener(),
		mpc:      newFakeMPC(),
		ledger:   newFakeLedger(),
		redis:    mr,
	}
	env.vp = New(env.store, testConfig(), Dependencies{
		Redis:    client,
		Screener: env.screener,
		MPC:      env.mpc,
		Ledger:   env.ledger,
	})
	env.org, env.admin = env.addOrg(t)
	return env
}

func randomWallet(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	return base58.Encode(raw)
}

func (e *testEnv) addOrg(t *testing.T) (*model.Organization, model.Actor) {
	t.Helper()
	wallet := randomWallet(t)
	org := &model.Organization{
		OrgID:       model.GenerateUUIDWithSuffix("org"),
		Name:        gofakeit.Company(),
		AdminWallet: wallet,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateOrganization(context.Background(), org))
	return org, model.WalletActor(wallet)
}

// addPayee stores a payee with the given compliance status without screening it.
func (e *testEnv) addPayee(t *testing.T, orgID string, status model.RangeStatus) *model.Payee {
	t.Helper()
	payee := &model.Payee{
		PayeeID:       model.GenerateUUIDWithSuffix("pye"),
		OrgID:         orgID,
		Name:          gofakeit.Name(),
		Email:         gofakeit.Email(),
		WalletAddress: randomWallet(t),
		RangeStatus:   status,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, e.store.CreatePayee(context.Background(), payee))
	return payee
}

func (e *testEnv) createPayment(t *testing.T, payee *model.Payee, amount string) *model.Payment {
	t.Helper()
	payment, err := e.vp.CreatePayment(context.Background(), e.admin, payee.OrgID, payee.PayeeID, decimal.RequireFromString(amount), model.TokenVPAY)
	require.NoError(t, err)
	return payment
}

func (e *testEnv) payment(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := e.store.GetPaymentByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func offsetFor(paymentID string) string {
	return "cmp_" + paymentID
}

func confidentialTransfer(paymentID string) model.Transfer {
	return model.Transfer{
		Confidential:      ptr.Bool(true),
		TxSignature:       "sig_" + paymentID,
		Ciphertext:        "ct_" + paymentID,
		Nonce:             "nonce_" + paymentID,
		EphemeralPubKey:   "epk_" + paymentID,
		ComputationOffset: offsetFor(paymentID),
	}
}
