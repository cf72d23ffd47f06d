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
	"embed"
	"fmt"
	"time"

	"github.com/blnkfinance/vaultpay/chain"
	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/database"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/internal/cache"
	redis_db "github.com/blnkfinance/vaultpay/internal/redis-db"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/blnkfinance/vaultpay/mpc"
	"github.com/blnkfinance/vaultpay/screening"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("vaultpay")

// VaultPay is the payment settlement engine.
type VaultPay struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	queue      *Queue
	gate       *screening.Gate
	mpc        mpc.Gateway
	ledger     chain.Ledger
	notifier   *Notifier
	cfg        *config.Configuration
	now        func() time.Time
}

// Dependencies are the collaborators of the engine. Queue may be nil, in which case
// no outbound webhooks are enqueued.
type Dependencies struct {
	Redis    redis.UniversalClient
	Queue    *Queue
	Screener screening.Screener
	Cache    cache.Cache
	MPC      mpc.Gateway
	Ledger   chain.Ledger
}

// New assembles an engine from explicit dependencies.
func New(db database.IDataSource, cfg *config.Configuration, deps Dependencies) *VaultPay {
	return &VaultPay{
		datasource: db,
		redis:      deps.Redis,
		queue:      deps.Queue,
		gate:       screening.NewGate(deps.Screener, deps.Cache, cfg.Screening),
		mpc:        deps.MPC,
		ledger:     deps.Ledger,
		notifier:   NewNotifier(),
		cfg:        cfg,
		now:        time.Now,
	}
}

// NewVaultPay builds the engine from the loaded configuration.
func NewVaultPay(db database.IDataSource) (*VaultPay, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	screener, err := NewScreener(cfg.Screening)
	if err != nil {
		return nil, err
	}

	return New(db, cfg, Dependencies{
		Redis:    redisClient.Client(),
		Queue:    NewQueue(cfg),
		Screener: screener,
		Cache:    cache.NewRedisCache(redisClient.Client()),
		MPC:      mpc.NewClient(cfg.MPC),
		Ledger:   chain.NewClient(cfg.Ledger),
	}), nil
}

// Notifier exposes the payment event channel, for relaying events from other processes.
func (v *VaultPay) Notifier() *Notifier {
	return v.notifier
}

func (v *VaultPay) Config() *config.Configuration {
	return v.cfg
}

// Redis returns the engine's redis client.
func (v *VaultPay) Redis() redis.UniversalClient {
	return v.redis
}

// authorizeOrg loads an organization and checks the actor administers it.
func (v *VaultPay) authorizeOrg(ctx context.Context, actor model.Actor, orgID string) (*model.Organization, error) {
	org, err := v.datasource.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAdminister(org.AdminWallet) {
		logrus.WithFields(logrus.Fields{"org_id": orgID, "actor": actor.String()}).Warn("actor is not the organization admin")
		return nil, apierror.NewAPIError(apierror.ErrForbidden, fmt.Sprintf("Wallet is not the admin of organization %s", orgID), nil)
	}
	return org, nil
}

func (v *VaultPay) timestamp() time.Time {
	return v.now().UTC()
}
