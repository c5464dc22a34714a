package config

import (
	"math/big"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"poolflow/pool"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("POOLFLOW_DATABASE_URL", "postgres://localhost/poolflow")
	t.Setenv("POOLFLOW_JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(8080), cfg.Port)
	require.Equal(t, int(log.InfoLevel), cfg.LogLevel)
	require.Equal(t, 24*time.Hour, cfg.TokenTTL)
	require.Equal(t, int32(16), cfg.DBMaxConns)

	policy := cfg.Policy()
	require.Zero(t, policy.MinimumStake.Cmp(pool.DefaultMinimumStake))
	require.True(t, policy.FreezePayoutOnDispute)
	require.Zero(t, policy.ResolutionAmount.Sign())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("POOLFLOW_DATABASE_URL", "postgres://localhost/poolflow")
	t.Setenv("POOLFLOW_JWT_SECRET", "secret")
	t.Setenv("POOLFLOW_PORT", "9090")
	t.Setenv("POOLFLOW_TOKEN_TTL", "90m")
	t.Setenv("POOLFLOW_MIN_STAKE_WEI", "5")
	t.Setenv("POOLFLOW_FREEZE_PAYOUT_ON_DISPUTE", "false")
	t.Setenv("POOLFLOW_RESOLUTION_AMOUNT_WEI", "1000000000000000000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(9090), cfg.Port)
	require.Equal(t, 90*time.Minute, cfg.TokenTTL)

	policy := cfg.Policy()
	require.Zero(t, policy.MinimumStake.Cmp(big.NewInt(5)))
	require.False(t, policy.FreezePayoutOnDispute)
	require.Equal(t, "1000000000000000000", policy.ResolutionAmount.String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("POOLFLOW_JWT_SECRET", "secret")
	_, err := LoadConfig()
	require.ErrorContains(t, err, DatabaseURL)

	t.Setenv("POOLFLOW_DATABASE_URL", "postgres://localhost/poolflow")
	t.Setenv("POOLFLOW_MIN_STAKE_WEI", "-1")
	_, err = LoadConfig()
	require.ErrorContains(t, err, MinStakeWei)
}
