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

package vaultpay

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/request"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookURL = "https://hooks.example.com/vaultpay"

func webhookConfig(redisAddr string) *config.Configuration {
	cfg := testConfig()
	cfg.Redis = config.RedisConfig{Dns: redisAddr}
	cfg.Queue = config.QueueConfig{
		WebhookQueue:   "vaultpay_webhook_queue",
		MPCQueue:       "vaultpay_mpc_queue",
		RecurringQueue: "vaultpay_recurring_queue",
	}
	cfg.Notification.Webhook.Url = testWebhookURL
	cfg.Notification.Webhook.Headers = map[string]string{"X-Signature": "secret"}
	return cfg
}

func TestSendWebhook(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := webhookConfig(mr.Addr())
	config.MockConfig(cfg)

	q := NewQueue(cfg)
	defer q.Client.Close()

	err := q.SendWebhook(context.Background(), NewWebhook{
		Event:   EventPaymentCreated,
		Payload: model.Payment{PaymentID: "pay_1", Status: model.PaymentStatusPending},
	})
	require.NoError(t, err)
	assert.Contains(t, mr.Keys(), "asynq:{vaultpay_webhook_queue}:pending")
}

func TestSendWebhook_NoURLConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := webhookConfig(mr.Addr())
	cfg.Notification.Webhook.Url = ""
	config.MockConfig(cfg)

	q := NewQueue(cfg)
	defer q.Client.Close()

	require.NoError(t, q.SendWebhook(context.Background(), NewWebhook{Event: EventPaymentCreated}))
	assert.Empty(t, mr.Keys())
}

func TestProcessWebhook(t *testing.T) {
	httpmock.ActivateNonDefault(request.DefaultClient)
	defer httpmock.DeactivateAndReset()

	cfg := webhookConfig("localhost:6379")
	config.MockConfig(cfg)

	var received NewWebhook
	httpmock.RegisterResponder(http.MethodPost, testWebhookURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "secret", req.Header.Get("X-Signature"))
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	payload, err := json.Marshal(NewWebhook{Event: EventPaymentCompleted, Payload: map[string]string{"payment_id": "pay_1"}})
	require.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask(cfg.Queue.WebhookQueue, payload))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentCompleted, received.Event)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestProcessWebhook_ReceiverError(t *testing.T) {
	httpmock.ActivateNonDefault(request.DefaultClient)
	defer httpmock.DeactivateAndReset()

	cfg := webhookConfig("localhost:6379")
	config.MockConfig(cfg)
	httpmock.RegisterResponder(http.MethodPost, testWebhookURL, httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	payload, err := json.Marshal(NewWebhook{Event: EventPaymentFailed})
	require.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask(cfg.Queue.WebhookQueue, payload))
	require.Error(t, err)
	var statusErr *request.StatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestProcessWebhook_BadPayloadSkipsRetry(t *testing.T) {
	cfg := webhookConfig("localhost:6379")
	config.MockConfig(cfg)

	err := ProcessWebhook(context.Background(), asynq.NewTask(cfg.Queue.WebhookQueue, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestGetEventFromStatus(t *testing.T) {
	assert.Equal(t, EventPaymentProcessing, getEventFromStatus(model.PaymentStatusProcessing))
	assert.Equal(t, EventPaymentCompleted, getEventFromStatus(model.PaymentStatusCompleted))
	assert.Equal(t, EventPaymentRejected, getEventFromStatus(model.PaymentStatusRejected))
}
