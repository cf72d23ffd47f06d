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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blnkfinance/vaultpay/api"
	"github.com/blnkfinance/vaultpay/config"
	pg_listener "github.com/blnkfinance/vaultpay/internal/pg-listener"
	trace "github.com/blnkfinance/vaultpay/internal/traces"
	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	defaultPostHogEndpoint = "https://us.i.posthog.com"
	heartbeatInterval      = 5 * time.Minute
	shutdownGrace          = 15 * time.Second
)

// newHTTPServer builds the API server. With server.ssl set, certificates for
// server.domain (localhost when empty) are obtained and renewed by certmagic.
func newHTTPServer(ctx context.Context, r *gin.Engine, conf config.ServerConfig) (*http.Server, error) {
	server := &http.Server{Addr: ":" + conf.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if !conf.SSL {
		return server, nil
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	magic := certmagic.NewDefault()
	magic.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domain := conf.Domain
	if domain == "" {
		logrus.Warn("server.domain not set, requesting a certificate for localhost")
		domain = "localhost"
	}
	if err := magic.ManageSync(ctx, []string{domain}); err != nil {
		return nil, pkgerrors.Wrapf(err, "manage certificate for %s", domain)
	}
	server.TLSConfig = magic.TLSConfig()
	return server, nil
}

// runHTTPServer serves until ctx is cancelled, then drains in-flight requests.
func runHTTPServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			logrus.Infof("vaultpay listening on https://0.0.0.0%s", server.Addr)
			err = server.ListenAndServeTLS("", "")
		} else {
			logrus.Infof("vaultpay listening on http://0.0.0.0%s", server.Addr)
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down api server")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(drainCtx)
}

// sendHeartbeat reports the instance to PostHog until ctx ends.
func sendHeartbeat(ctx context.Context, client posthog.Client, instanceID string) {
	ticker := time.NewTicker(heartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := client.Enqueue(posthog.Capture{
				DistinctId: instanceID,
				Event:      "server_heartbeat",
				Properties: posthog.NewProperties().Set("service", "vaultpay").Set("timestamp", time.Now().UTC()),
			})
			if err != nil {
				logrus.WithError(err).Warn("posthog heartbeat failed")
			}
		}
	}()
}

func initializePostHog(ctx context.Context, cfg config.TelemetryConfig) posthog.Client {
	if cfg.PostHogKey == "" {
		return nil
	}
	endpoint := cfg.PostHogEndpoint
	if endpoint == "" {
		endpoint = defaultPostHogEndpoint
	}
	client, err := posthog.NewWithConfig(cfg.PostHogKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		logrus.WithError(err).Warn("posthog disabled")
		return nil
	}
	sendHeartbeat(ctx, client, uuid.NewString())
	return client
}

// initializeObservability starts tracing and telemetry when enable_telemetry is set.
// The returned func flushes whatever was started.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context), error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) {}, nil
	}

	shutdownTracing, err := trace.SetupOTelSDK(ctx, "VAULTPAY")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "set up otel sdk")
	}
	ph := initializePostHog(ctx, cfg.Telemetry)

	return func(ctx context.Context) {
		if err := shutdownTracing(ctx); err != nil {
			logrus.WithError(err).Warn("otel shutdown")
		}
		if ph != nil {
			_ = ph.Close()
		}
	}, nil
}

// startChangeListener relays payment changes written by other processes (workers,
// the reconciler) to finalization waiters in this one.
func startChangeListener(ctx context.Context, app *vaultpayInstance) {
	listener := pg_listener.NewDBListener(pg_listener.ListenerConfig{
		PgConnStr: app.cnf.DataSource.Dns,
	}, app.vp)

	go func() {
		if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
			logrus.Errorf("payment change listener stopped: %v", err)
		}
	}()
}

// serverCommands returns the command that starts the VaultPay API server.
func serverCommands(app *vaultpayInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start vaultpay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			startChangeListener(ctx, app)

			server, err := newHTTPServer(ctx, api.NewAPI(app.vp, app.auth).Router(), app.cnf.Server)
			if err != nil {
				return err
			}
			return runHTTPServer(ctx, server)
		},
	}
}
