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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blnkfinance/vaultpay"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues weights the worker queues. Finalization waits are long running,
// so they share the pool with webhooks but never starve the recurring run.
func initializeQueues(cfg *config.Configuration) map[string]int {
	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.MPCQueue] = 2
	queues[cfg.Queue.RecurringQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := vaultpay.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      queues,
	}), nil
}

func initializeTaskHandlers(app *vaultpayInstance, mux *asynq.ServeMux) {
	cfg := app.cnf
	mux.HandleFunc(cfg.Queue.WebhookQueue, vaultpay.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.MPCQueue, app.vp.ProcessFinalizationTask)
	mux.HandleFunc(cfg.Queue.RecurringQueue, app.vp.ProcessRecurringTask)
}

// initializeScheduler registers the periodic recurring run on the configured cron spec.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	if !conf.Recurring.Enabled {
		return nil, nil
	}
	redisOption, err := vaultpay.RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	queue := vaultpay.NewQueue(conf)
	defer queue.Client.Close()
	defer queue.Inspector.Close()
	task, err := queue.RecurringTask(conf.RecurringAutoExecute(false))
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(redisOption, &asynq.SchedulerOpts{})
	entryID, err := scheduler.Register(conf.Recurring.CronSpec, task)
	if err != nil {
		return nil, fmt.Errorf("error registering recurring run: %v", err)
	}
	logrus.Infof("recurring run scheduled (%s) with entry %s", conf.Recurring.CronSpec, entryID)
	return scheduler, nil
}

func startMonitoring(conf *config.Configuration) *http.Server {
	redisOption, err := vaultpay.RedisClientOpt(conf)
	if err != nil {
		logrus.WithError(err).Warn("asynqmon disabled")
		return nil
	}
	server := &http.Server{
		Addr: fmt.Sprintf(":%s", conf.Queue.MonitoringPort),
		Handler: asynqmon.New(asynqmon.Options{
			RootPath:     "/monitoring",
			RedisConnOpt: redisOption,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("asynqmon listening on %s/monitoring", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("asynqmon stopped")
		}
	}()
	return server
}

// workerCommands defines the "workers" command. Workers deliver webhooks, await MPC
// finalization, run the recurring scheduler and reconcile processing payments.
func workerCommands(app *vaultpayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "start vaultpay workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			conf := app.cnf

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				return err
			}
			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				return err
			}
			if scheduler != nil {
				if err := scheduler.Start(); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				defer scheduler.Shutdown()
			}

			// await tasks wake up on transitions made by the api process too
			startChangeListener(ctx, app)

			reconciler := vaultpay.NewReconciler(app.vp, conf.MPC.ReconcileInterval)
			reconciler.Start(ctx)
			defer reconciler.Stop()

			if monitor := startMonitoring(conf); monitor != nil {
				defer monitor.Close()
			}

			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("start worker server: %w", err)
			}
			<-ctx.Done()
			logrus.Info("shutting down workers")
			srv.Shutdown()
			return nil
		},
	}
}
