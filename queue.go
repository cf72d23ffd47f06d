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
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/blnkfinance/vaultpay/config"
	redis_db "github.com/blnkfinance/vaultpay/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Queue enqueues background work for the workers process.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	config    config.QueueConfig
}

// FinalizationPayload asks a worker to await MPC finalization of a payment.
type FinalizationPayload struct {
	PaymentID string `json:"payment_id"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// RecurringRunPayload triggers one recurring run.
type RecurringRunPayload struct {
	AutoExecute bool `json:"auto_execute"`
}

// RedisClientOpt converts the configured redis DSN into asynq options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func NewQueue(conf *config.Configuration) *Queue {
	queueOptions, err := RedisClientOpt(conf)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		config:    conf.Queue,
	}
}

// EnqueueFinalization schedules AwaitFinalization for a payment in the workers. A
// payment already awaiting finalization is not enqueued twice.
func (q *Queue) EnqueueFinalization(ctx context.Context, paymentID string, timeout time.Duration) error {
	payload, err := json.Marshal(FinalizationPayload{PaymentID: paymentID, TimeoutMs: timeout.Milliseconds()})
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.config.MPCQueue, payload,
		asynq.TaskID(fmt.Sprintf("await_%s", paymentID)),
		asynq.Queue(q.config.MPCQueue),
		asynq.MaxRetry(3),
		asynq.Timeout(timeout+30*time.Second),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}
	logrus.Infof(" [*] Successfully enqueued finalization await: %s (%s)", paymentID, info.ID)
	return nil
}

// RecurringTask is the periodic task registered with the asynq scheduler.
func (q *Queue) RecurringTask(autoExecute bool) (*asynq.Task, error) {
	payload, err := json.Marshal(RecurringRunPayload{AutoExecute: autoExecute})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(q.config.RecurringQueue, payload, asynq.Queue(q.config.RecurringQueue), asynq.MaxRetry(0)), nil
}

// ProcessFinalizationTask handles a task enqueued by EnqueueFinalization.
func (v *VaultPay) ProcessFinalizationTask(ctx context.Context, task *asynq.Task) error {
	var payload FinalizationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	result, err := v.AwaitFinalization(ctx, payload.PaymentID, time.Duration(payload.TimeoutMs)*time.Millisecond)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"payment_id": result.PaymentID,
		"status":     result.Status,
		"mpc_status": result.MPCStatus,
	}).Info("finalization await finished")
	return nil
}

// ProcessRecurringTask handles the scheduled recurring run.
func (v *VaultPay) ProcessRecurringTask(ctx context.Context, task *asynq.Task) error {
	var payload RecurringRunPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}
	result, err := v.RunRecurringCron(ctx, payload.AutoExecute)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"created":  result.Created,
		"skipped":  result.Skipped,
		"executed": result.Executed,
		"pending":  result.Pending,
		"errors":   len(result.Errors),
	}).Info("recurring run finished")
	return nil
}
