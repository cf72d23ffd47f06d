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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	FlaggedPolicyAllow = "allow"
	FlaggedPolicyBlock = "block"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"VAULTPAY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"VAULTPAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"VAULTPAY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"VAULTPAY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"VAULTPAY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"VAULTPAY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"VAULTPAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"VAULTPAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"VAULTPAY_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"VAULTPAY_QUEUE_WEBHOOK"`
	MPCQueue       string `json:"mpc_queue" envconfig:"VAULTPAY_QUEUE_MPC"`
	RecurringQueue string `json:"recurring_queue" envconfig:"VAULTPAY_QUEUE_RECURRING"`
	MonitoringPort string `json:"monitoring_port" envconfig:"VAULTPAY_QUEUE_MONITORING_PORT"`
	Concurrency    int    `json:"concurrency" envconfig:"VAULTPAY_QUEUE_CONCURRENCY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"VAULTPAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"VAULTPAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"VAULTPAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"VAULTPAY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"VAULTPAY_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

// AuthConfig configures wallet sign-in sessions.
type AuthConfig struct {
	JWTSecret     string        `json:"jwt_secret" envconfig:"VAULTPAY_AUTH_JWT_SECRET"`
	TokenTTL      time.Duration `json:"token_ttl" envconfig:"VAULTPAY_AUTH_TOKEN_TTL"`
	NonceTTL      time.Duration `json:"nonce_ttl" envconfig:"VAULTPAY_AUTH_NONCE_TTL"`
	MaxClockSkew  time.Duration `json:"max_clock_skew" envconfig:"VAULTPAY_AUTH_MAX_CLOCK_SKEW"`
	SessionIssuer string        `json:"session_issuer" envconfig:"VAULTPAY_AUTH_ISSUER"`
}

// ScreeningConfig configures the address-risk screening collaborator.
type ScreeningConfig struct {
	ProviderConfig string        `json:"provider_config" envconfig:"VAULTPAY_SCREENING_PROVIDER_CONFIG"`
	BaseURL        string        `json:"base_url" envconfig:"VAULTPAY_SCREENING_BASE_URL"`
	APIKey         string        `json:"api_key" envconfig:"VAULTPAY_SCREENING_API_KEY"`
	Timeout        time.Duration `json:"timeout" envconfig:"VAULTPAY_SCREENING_TIMEOUT"`
	CacheTTL       time.Duration `json:"cache_ttl" envconfig:"VAULTPAY_SCREENING_CACHE_TTL"`
	MaxAttempts    int           `json:"max_attempts" envconfig:"VAULTPAY_SCREENING_MAX_ATTEMPTS"`
	RetryDelay     time.Duration `json:"retry_delay" envconfig:"VAULTPAY_SCREENING_RETRY_DELAY"`
	RiskThreshold  float64       `json:"risk_threshold" envconfig:"VAULTPAY_SCREENING_RISK_THRESHOLD"`
	FlaggedPolicy  string        `json:"flagged_policy" envconfig:"VAULTPAY_SCREENING_FLAGGED_POLICY"`
}

// MPCConfig configures the MPC network gateway.
type MPCConfig struct {
	GatewayURL          string        `json:"gateway_url" envconfig:"VAULTPAY_MPC_GATEWAY_URL"`
	APIKey              string        `json:"api_key" envconfig:"VAULTPAY_MPC_API_KEY"`
	Timeout             time.Duration `json:"timeout" envconfig:"VAULTPAY_MPC_TIMEOUT"`
	PollInterval        time.Duration `json:"poll_interval" envconfig:"VAULTPAY_MPC_POLL_INTERVAL"`
	FinalizationTimeout time.Duration `json:"finalization_timeout" envconfig:"VAULTPAY_MPC_FINALIZATION_TIMEOUT"`
	ReconcileInterval   time.Duration `json:"reconcile_interval" envconfig:"VAULTPAY_MPC_RECONCILE_INTERVAL"`
}

// LedgerConfig configures the blockchain RPC endpoint.
type LedgerConfig struct {
	RPCURL     string        `json:"rpc_url" envconfig:"VAULTPAY_LEDGER_RPC_URL"`
	Timeout    time.Duration `json:"timeout" envconfig:"VAULTPAY_LEDGER_TIMEOUT"`
	Commitment string        `json:"commitment" envconfig:"VAULTPAY_LEDGER_COMMITMENT"`
}

// RecurringConfig configures the recurring payment scheduler.
type RecurringConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"VAULTPAY_RECURRING_ENABLED"`
	AutoExecute *bool  `json:"auto_execute" envconfig:"VAULTPAY_RECURRING_AUTO_EXECUTE"`
	CronSecret  string `json:"cron_secret" envconfig:"VAULTPAY_CRON_SECRET"`
	CronSpec    string `json:"cron_spec" envconfig:"VAULTPAY_RECURRING_CRON_SPEC"`
}

type BatchConfig struct {
	Concurrency int `json:"concurrency" envconfig:"VAULTPAY_BATCH_CONCURRENCY"`
	MaxItems    int `json:"max_items" envconfig:"VAULTPAY_BATCH_MAX_ITEMS"`
}

type TelemetryConfig struct {
	PostHogKey      string `json:"posthog_key" envconfig:"VAULTPAY_POSTHOG_KEY"`
	PostHogEndpoint string `json:"posthog_endpoint" envconfig:"VAULTPAY_POSTHOG_ENDPOINT"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"VAULTPAY_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"VAULTPAY_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Auth            AuthConfig       `json:"auth"`
	Screening       ScreeningConfig  `json:"screening"`
	MPC             MPCConfig        `json:"mpc"`
	Ledger          LedgerConfig     `json:"ledger"`
	Recurring       RecurringConfig  `json:"recurring"`
	Batch           BatchConfig      `json:"batch"`
	Telemetry       TelemetryConfig  `json:"telemetry"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("vaultpay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called vaultpay.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "VaultPay Settlement"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	cnf.Queue.setDefaults()
	cnf.Auth.setDefaults()
	cnf.MPC.setDefaults()
	cnf.Ledger.setDefaults()
	cnf.Batch.setDefaults()
	if cnf.Recurring.CronSpec == "" {
		cnf.Recurring.CronSpec = "0 * * * *"
	}
	return cnf.Screening.validateAndAddDefaults()
}

func (q *QueueConfig) setDefaults() {
	if q.WebhookQueue == "" {
		q.WebhookQueue = "vaultpay_webhook_queue"
	}
	if q.MPCQueue == "" {
		q.MPCQueue = "vaultpay_mpc_queue"
	}
	if q.RecurringQueue == "" {
		q.RecurringQueue = "vaultpay_recurring_queue"
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5004"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 10
	}
}

func (a *AuthConfig) setDefaults() {
	if a.TokenTTL == 0 {
		a.TokenTTL = 24 * time.Hour
	}
	if a.NonceTTL == 0 {
		a.NonceTTL = 5 * time.Minute
	}
	if a.MaxClockSkew == 0 {
		a.MaxClockSkew = 5 * time.Minute
	}
	if a.SessionIssuer == "" {
		a.SessionIssuer = "vaultpay"
	}
}

func (s *ScreeningConfig) validateAndAddDefaults() error {
	if s.Timeout == 0 {
		s.Timeout = 15 * time.Second
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = 24 * time.Hour
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = time.Second
	}
	if s.RiskThreshold == 0 {
		s.RiskThreshold = 0.7
	}
	s.FlaggedPolicy = strings.ToLower(strings.TrimSpace(s.FlaggedPolicy))
	switch s.FlaggedPolicy {
	case "":
		s.FlaggedPolicy = FlaggedPolicyAllow
	case FlaggedPolicyAllow, FlaggedPolicyBlock:
	default:
		return errors.New("screening flagged_policy must be one of allow, block")
	}
	return nil
}

func (m *MPCConfig) setDefaults() {
	if m.Timeout == 0 {
		m.Timeout = 15 * time.Second
	}
	if m.PollInterval == 0 {
		m.PollInterval = 2 * time.Second
	}
	if m.FinalizationTimeout == 0 {
		m.FinalizationTimeout = 60 * time.Second
	}
	if m.ReconcileInterval == 0 {
		m.ReconcileInterval = 30 * time.Second
	}
}

func (l *LedgerConfig) setDefaults() {
	if l.Timeout == 0 {
		l.Timeout = 10 * time.Second
	}
	if l.Commitment == "" {
		l.Commitment = "confirmed"
	}
}

func (b *BatchConfig) setDefaults() {
	if b.Concurrency <= 0 {
		b.Concurrency = 4
	}
	if b.MaxItems <= 0 {
		b.MaxItems = 100
	}
}

// RecurringAutoExecute resolves the auto-execute flag. The configured value wins
// over the value supplied by the cron caller.
func (cnf *Configuration) RecurringAutoExecute(requested bool) bool {
	if cnf.Recurring.AutoExecute != nil {
		return *cnf.Recurring.AutoExecute
	}
	return requested
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
