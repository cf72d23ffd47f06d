/*
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
package vaultpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Payment events delivered to the outbound webhook.
const (
	EventPaymentCreated    = "payment.created"
	EventPaymentProcessing = "payment.processing"
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRejected   = "payment.rejected"
	EventPaymentCancelled  = "payment.cancelled"
	EventPaymentMPCUpdated = "payment.mpc_updated"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// getEventFromStatus maps a payment status to its webhook event.
func getEventFromStatus(status model.PaymentStatus) string {
	switch status {
	case model.PaymentStatusPending:
		return EventPaymentCreated
	case model.PaymentStatusProcessing:
		return EventPaymentProcessing
	case model.PaymentStatusCompleted:
		return EventPaymentCompleted
	case model.PaymentStatusFailed:
		return EventPaymentFailed
	case model.PaymentStatusRejected:
		return EventPaymentRejected
	default:
		return "payment.unknown"
	}
}

// processHTTP posts a webhook notification to the configured URL. Non-2xx answers
// are returned as errors so the task is retried.
func processHTTP(ctx context.Context, data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	if _, err := request.Call(req, nil); err != nil {
		logrus.Errorf("webhook %s delivery failed: %v", data.Event, err)
		return err
	}
	logrus.Infof("Webhook notification sent successfully: %s", data.Event)
	return nil
}

// SendWebhook enqueues a webhook notification task.
func (q *Queue) SendWebhook(ctx context.Context, newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.config.WebhookQueue, payload, asynq.Queue(q.config.WebhookQueue))
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return err
	}
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return processHTTP(ctx, payload)
}

// publish announces a payment transition to local subscribers and the webhook.
func (v *VaultPay) publish(ctx context.Context, payment *model.Payment, event string) {
	v.notifier.Publish(payment)
	if v.queue == nil {
		return
	}
	if event == "" {
		event = getEventFromStatus(payment.Status)
	}
	if err := v.queue.SendWebhook(ctx, NewWebhook{Event: event, Payload: payment}); err != nil {
		logrus.WithField("payment_id", payment.PaymentID).Warnf("failed to enqueue %s webhook: %v", event, err)
	}
}
