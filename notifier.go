package vaultpay

import (
	"context"
	"sync"

	pg_listener "github.com/blnkfinance/vaultpay/internal/pg-listener"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/sirupsen/logrus"
)

// Notifier fans payment transitions out to per-payment subscribers. Delivery is
// best effort: a subscriber that is not reading only ever sees the latest record.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan *model.Payment
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[int]chan *model.Payment)}
}

// Subscribe returns a channel receiving every published version of the payment and
// a cancel func that must be called to release it.
func (n *Notifier) Subscribe(paymentID string) (<-chan *model.Payment, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	ch := make(chan *model.Payment, 1)
	if n.subs[paymentID] == nil {
		n.subs[paymentID] = make(map[int]chan *model.Payment)
	}
	n.subs[paymentID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[paymentID], id)
			if len(n.subs[paymentID]) == 0 {
				delete(n.subs, paymentID)
			}
		})
	}
	return ch, cancel
}

// Publish delivers payment to its subscribers without blocking.
func (n *Notifier) Publish(payment *model.Payment) {
	if payment == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs[payment.PaymentID] {
		select {
		case ch <- payment:
		default:
			// replace the unread value with the newer one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- payment:
			default:
			}
		}
	}
}

// Subscribers returns the number of live subscriptions for a payment.
func (n *Notifier) Subscribers(paymentID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[paymentID])
}

// HandleNotification relays a change made by another process to local subscribers.
func (v *VaultPay) HandleNotification(event pg_listener.ChangeEvent) error {
	if v.notifier.Subscribers(event.PaymentID) == 0 {
		return nil
	}
	payment, err := v.datasource.GetPaymentByID(context.Background(), event.PaymentID)
	if err != nil {
		logrus.WithField("payment_id", event.PaymentID).Warnf("failed to load payment for change event: %v", err)
		return err
	}
	v.notifier.Publish(payment)
	return nil
}
