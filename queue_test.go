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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClientOpt(t *testing.T) {
	cfg := &config.Configuration{Redis: config.RedisConfig{Dns: "redis://:secret@cache.internal:6380/2"}}

	opt, err := RedisClientOpt(cfg)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)

	_, err = RedisClientOpt(&config.Configuration{})
	assert.Error(t, err)
}

func TestEnqueueFinalization(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := webhookConfig(mr.Addr())
	q := NewQueue(cfg)
	defer q.Client.Close()

	require.NoError(t, q.EnqueueFinalization(context.Background(), "pay_1", 30*time.Second))
	assert.Contains(t, mr.Keys(), "asynq:{vaultpay_mpc_queue}:pending")

	// the same payment is only awaited once
	require.NoError(t, q.EnqueueFinalization(context.Background(), "pay_1", 30*time.Second))
	assert.Contains(t, mr.Keys(), "asynq:{vaultpay_mpc_queue}:t:await_pay_1")
}

func TestRecurringTask(t *testing.T) {
	q := &Queue{config: config.QueueConfig{RecurringQueue: "vaultpay_recurring_queue"}}

	task, err := q.RecurringTask(true)
	require.NoError(t, err)
	assert.Equal(t, "vaultpay_recurring_queue", task.Type())

	var payload RecurringRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.True(t, payload.AutoExecute)
}

func TestProcessFinalizationTask(t *testing.T) {
	env := newTestEnv(t)
	payment := dispatched(t, env)

	payload, err := json.Marshal(FinalizationPayload{PaymentID: payment.PaymentID, TimeoutMs: 0})
	require.NoError(t, err)
	require.NoError(t, env.vp.ProcessFinalizationTask(context.Background(), asynq.NewTask("vaultpay_mpc_queue", payload)))

	assert.Equal(t, model.PaymentStatusFailed, env.payment(t, payment.PaymentID).Status)

	err = env.vp.ProcessFinalizationTask(context.Background(), asynq.NewTask("vaultpay_mpc_queue", []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessRecurringTask(t *testing.T) {
	env := newTestEnv(t)
	payee := env.addPayee(t, env.org.OrgID, model.RangeStatusApproved)
	env.dueTemplate(t, payee, false)

	require.NoError(t, env.vp.ProcessRecurringTask(context.Background(), asynq.NewTask("vaultpay_recurring_queue", nil)))
	assert.Equal(t, 1, env.store.paymentCount())
}
