package vaultpay

import (
	"context"
	"testing"
	"time"

	pg_listener "github.com/blnkfinance/vaultpay/internal/pg-listener"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_KeepsLatest(t *testing.T) {
	n := NewNotifier()
	updates, cancel := n.Subscribe("pay_1")
	defer cancel()

	n.Publish(&model.Payment{PaymentID: "pay_1", Status: model.PaymentStatusProcessing})
	n.Publish(&model.Payment{PaymentID: "pay_1", Status: model.PaymentStatusCompleted})
	n.Publish(&model.Payment{PaymentID: "pay_2", Status: model.PaymentStatusFailed})

	select {
	case p := <-updates:
		assert.Equal(t, model.PaymentStatusCompleted, p.Status)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	select {
	case p := <-updates:
		t.Fatalf("unexpected update %v", p)
	default:
	}
}

func TestNotifier_Cancel(t *testing.T) {
	n := NewNotifier()
	_, cancel := n.Subscribe("pay_1")
	_, other := n.Subscribe("pay_1")
	assert.Equal(t, 2, n.Subscribers("pay_1"))

	cancel()
	cancel()
	assert.Equal(t, 1, n.Subscribers("pay_1"))
	other()
	assert.Equal(t, 0, n.Subscribers("pay_1"))
}

func TestHandleNotification(t *testing.T) {
	env := newTestEnv(t)
	payment := dispatched(t, env)

	// ignored without subscribers
	require.NoError(t, env.vp.HandleNotification(pg_listener.ChangeEvent{PaymentID: "pay_missing"}))

	updates, cancel := env.vp.Notifier().Subscribe(payment.PaymentID)
	defer cancel()

	require.NoError(t, env.vp.HandleNotification(pg_listener.ChangeEvent{
		Table:     "payments",
		Operation: "UPDATE",
		PaymentID: payment.PaymentID,
		Status:    string(model.PaymentStatusProcessing),
	}))

	select {
	case p := <-updates:
		assert.Equal(t, payment.PaymentID, p.PaymentID)
	case <-time.After(time.Second):
		t.Fatal("no update relayed")
	}
}

func TestPublishOnTransitions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	payee := env.addPayee(t, env.org.OrgID, model.RangeStatusApproved)
	payment := env.createPayment(t, payee, "1")

	updates, cancel := env.vp.Notifier().Subscribe(payment.PaymentID)
	defer cancel()

	_, err := env.vp.MarkExecuting(ctx, payment.PaymentID, model.Execution{Mode: model.TransferModeLegacy, TxSignature: "sig"})
	require.NoError(t, err)
	p := <-updates
	assert.Equal(t, model.PaymentStatusProcessing, p.Status)

	_, err = env.vp.FinalizePayment(ctx, payment.PaymentID, model.Success("sig"))
	require.NoError(t, err)
	p = <-updates
	assert.Equal(t, model.PaymentStatusCompleted, p.Status)
}
