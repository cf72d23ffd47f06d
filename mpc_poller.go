package vaultpay

import (
	"context"
	"sync"
	"time"

	"github.com/blnkfinance/vaultpay/chain"
	"github.com/blnkfinance/vaultpay/internal/notification"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/sirupsen/logrus"
)

const reconcileBatchSize = 200

// Reconciler periodically reconciles every processing payment: MPC-backed payments
// are polled on the gateway and legacy transfers are confirmed on the ledger.
type Reconciler struct {
	vp       *VaultPay
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReconciler(vp *VaultPay, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		vp:       vp,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		logrus.Infof("MPC reconciler started with interval: %v", r.interval)

		r.ReconcileOnce(ctx)

		for {
			select {
			case <-ticker.C:
				r.ReconcileOnce(ctx)
			case <-ctx.Done():
				logrus.Info("MPC reconciler stopping...")
				return
			case <-r.stopCh:
				logrus.Info("MPC reconciler stopping...")
				return
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	logrus.Info("MPC reconciler stopped")
}

// ReconcileOnce runs a single reconciliation pass and returns how many payments
// changed.
func (r *Reconciler) ReconcileOnce(ctx context.Context) int {
	payments, err := r.vp.datasource.ListProcessingPayments(ctx, reconcileBatchSize)
	if err != nil {
		logrus.Errorf("Reconciler: failed to fetch processing payments: %v", err)
		notification.NotifyError(err)
		return 0
	}
	if len(payments) == 0 {
		logrus.Debug("Reconciler: no processing payments")
		return 0
	}

	logrus.Infof("Reconciler: checking %d processing payments", len(payments))

	changed := 0
	for i := range payments {
		if r.reconcile(ctx, &payments[i]) {
			changed++
		}
	}
	return changed
}

func (r *Reconciler) reconcile(ctx context.Context, payment *model.Payment) bool {
	if payment.IsMPCBacked() {
		view, err := r.vp.PollOnce(ctx, payment.PaymentID)
		if err != nil {
			logrus.Errorf("Reconciler: poll failed for payment %s: %v", payment.PaymentID, err)
			return false
		}
		return view.Changed
	}

	if payment.TxSignature == nil || r.vp.ledger == nil {
		logrus.Warnf("Reconciler: payment %s has nothing to reconcile against, skipping", payment.PaymentID)
		return false
	}

	confirmation, err := r.vp.ledger.ConfirmSignature(ctx, *payment.TxSignature)
	if err != nil {
		logrus.Errorf("Reconciler: ledger check failed for payment %s: %v", payment.PaymentID, err)
		return false
	}

	var outcome model.Outcome
	switch {
	case confirmation.Status == chain.SignatureFailed:
		outcome = model.Failure("transaction failed on ledger: " + confirmation.Err)
	case confirmation.Status.Landed():
		outcome = model.Success(*payment.TxSignature)
	default:
		logrus.Debugf("Reconciler: payment %s still unconfirmed", payment.PaymentID)
		return false
	}

	if _, err := r.vp.FinalizePayment(ctx, payment.PaymentID, outcome); err != nil {
		logrus.Errorf("Reconciler: failed to finalize payment %s: %v", payment.PaymentID, err)
		return false
	}
	return true
}
