package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Configuration {
	return Configuration{
		ProjectName: "Test Project",
		DataSource:  DataSourceConfig{Dns: "postgres://localhost:5432/vaultpay"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
}

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{Redis: RedisConfig{Dns: "localhost:6379"}}
	err := cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "data source DNS is required")

	cnf = Configuration{DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"}}
	err = cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "redis DNS is required")

	cnf = validConfig()
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, 24*time.Hour, cnf.Screening.CacheTTL)
	assert.Equal(t, 15*time.Second, cnf.Screening.Timeout)
	assert.Equal(t, 3, cnf.Screening.MaxAttempts)
	assert.Equal(t, 0.7, cnf.Screening.RiskThreshold)
	assert.Equal(t, FlaggedPolicyAllow, cnf.Screening.FlaggedPolicy)
	assert.Equal(t, 60*time.Second, cnf.MPC.FinalizationTimeout)
	assert.Equal(t, 2*time.Second, cnf.MPC.PollInterval)
	assert.Equal(t, 24*time.Hour, cnf.Auth.TokenTTL)
	assert.Equal(t, 5*time.Minute, cnf.Auth.NonceTTL)
	assert.Equal(t, 4, cnf.Batch.Concurrency)
	assert.Equal(t, "vaultpay_webhook_queue", cnf.Queue.WebhookQueue)
}

func TestValidateFlaggedPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  string
		want    string
		wantErr bool
	}{
		{name: "default", policy: "", want: FlaggedPolicyAllow},
		{name: "block", policy: "BLOCK", want: FlaggedPolicyBlock},
		{name: "allow with spaces", policy: " allow ", want: FlaggedPolicyAllow},
		{name: "unknown", policy: "warn", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cnf := validConfig()
			cnf.Screening.FlaggedPolicy = tt.policy
			err := cnf.validateAndAddDefaults()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cnf.Screening.FlaggedPolicy)
		})
	}
}

func TestRateLimitDefaults(t *testing.T) {
	cnf := validConfig()
	rps := 10.0
	cnf.RateLimit.RequestsPerSecond = &rps
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)
}

func TestRecurringAutoExecute(t *testing.T) {
	cnf := validConfig()
	assert.True(t, cnf.RecurringAutoExecute(true))
	assert.False(t, cnf.RecurringAutoExecute(false))

	off := false
	cnf.Recurring.AutoExecute = &off
	assert.False(t, cnf.RecurringAutoExecute(true))
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "vaultpay.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
	}
	require.NoError(t, json.NewEncoder(tmpFile).Encode(sampleConfig))
	tmpFile.Close()

	os.Setenv("VAULTPAY_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("VAULTPAY_PROJECT_NAME")

	require.NoError(t, loadConfigFromFile(tmpFile.Name()))

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
}

func TestInitConfigWithoutFileUsesEnv(t *testing.T) {
	os.Setenv("VAULTPAY_DATA_SOURCE_DNS", "env-dns")
	os.Setenv("VAULTPAY_REDIS_DNS", "env-redis:6379")
	defer os.Unsetenv("VAULTPAY_DATA_SOURCE_DNS")
	defer os.Unsetenv("VAULTPAY_REDIS_DNS")

	require.NoError(t, InitConfig("does-not-exist.json"))

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "env-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, "env-redis:6379", loadedConfig.Redis.Dns)
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{ProjectName: "mocked"})
	c, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "mocked", c.ProjectName)
}
