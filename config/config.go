package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"poolflow/pool"
)

var (
	DatabaseURL           = "DATABASE_URL"
	Port                  = "PORT"
	LogLevel              = "LOG_LEVEL"
	JWTSecret             = "JWT_SECRET"
	TokenTTL              = "TOKEN_TTL"
	MinStakeWei           = "MIN_STAKE_WEI"
	FreezePayoutOnDispute = "FREEZE_PAYOUT_ON_DISPUTE"
	ResolutionAmountWei   = "RESOLUTION_AMOUNT_WEI"
	DBMaxConns            = "DB_MAX_CONNS"

	defaultPort                  = 8080
	defaultLogLevel              = int(log.InfoLevel)
	defaultTokenTTL              = 24 * time.Hour
	defaultFreezePayoutOnDispute = true
	defaultResolutionAmountWei   = "0"
	defaultDBMaxConns            = 16
)

// Config is the runtime configuration of the pool service, read from
// POOLFLOW_* environment variables.
type Config struct {
	DatabaseURL string
	Port        uint32
	LogLevel    int
	JWTSecret   string
	TokenTTL    time.Duration
	DBMaxConns  int32

	MinStake              *big.Int
	FreezePayoutOnDispute bool
	ResolutionAmount      *big.Int
}

func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLFLOW")
	v.AutomaticEnv()

	v.SetDefault(Port, defaultPort)
	v.SetDefault(LogLevel, defaultLogLevel)
	v.SetDefault(TokenTTL, defaultTokenTTL)
	v.SetDefault(MinStakeWei, pool.DefaultMinimumStake.String())
	v.SetDefault(FreezePayoutOnDispute, defaultFreezePayoutOnDispute)
	v.SetDefault(ResolutionAmountWei, defaultResolutionAmountWei)
	v.SetDefault(DBMaxConns, defaultDBMaxConns)

	minStake, err := parseWei(v.GetString(MinStakeWei))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", MinStakeWei, err)
	}
	resolution, err := parseWei(v.GetString(ResolutionAmountWei))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ResolutionAmountWei, err)
	}

	cfg := &Config{
		DatabaseURL:           v.GetString(DatabaseURL),
		Port:                  v.GetUint32(Port),
		LogLevel:              v.GetInt(LogLevel),
		JWTSecret:             v.GetString(JWTSecret),
		TokenTTL:              v.GetDuration(TokenTTL),
		DBMaxConns:            v.GetInt32(DBMaxConns),
		MinStake:              minStake,
		FreezePayoutOnDispute: v.GetBool(FreezePayoutOnDispute),
		ResolutionAmount:      resolution,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing %s", DatabaseURL)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing %s", JWTSecret)
	}
	if cfg.LogLevel < int(log.PanicLevel) || cfg.LogLevel > int(log.TraceLevel) {
		return nil, fmt.Errorf("invalid %s %d", LogLevel, cfg.LogLevel)
	}

	return cfg, nil
}

// Policy returns the pool rules selected by the configuration.
func (c *Config) Policy() pool.Policy {
	return pool.Policy{
		MinimumStake:          new(big.Int).Set(c.MinStake),
		FreezePayoutOnDispute: c.FreezePayoutOnDispute,
		ResolutionAmount:      new(big.Int).Set(c.ResolutionAmount),
	}
}

func parseWei(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a non-negative integer", s)
	}
	return n, nil
}
