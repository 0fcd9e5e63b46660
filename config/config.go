package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"derivbot/internal/adapters/logger"
	"derivbot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Deriv API
	Token    string
	AppID    string
	Endpoint string

	// Instruments
	Symbols       []string
	Granularities []int // Candle period lengths in seconds, shared by all symbols

	// Trading Parameters
	BaseStake            float64
	MartingaleMultiplier float64
	StakeMode            domain.StakeMode
	Cooldown             time.Duration
	Currency             string
	ContractDuration     int
	ContractDurationUnit string

	// Strategy Parameters
	EnableReversal          bool
	EnableSupportResistance bool
	UseVolumeGate           bool
	VolumeThreshold         float64
	SRLookback              int
	SRProximity             float64
	SRVolumeRatio           float64

	// History / retention
	CandleHistoryCount int

	// Connection Settings
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	// Persistence
	StatePath string
	DBPath    string

	// Logging
	LogLevel logger.LogLevel
	LogFile  string // optional rotating file sink, empty disables
}

// Load reads configuration from environment variables (.env file).
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.Token = getEnv("DERIV_TOKEN", "")
	if cfg.Token == "" {
		errs = append(errs, "DERIV_TOKEN must be set")
	}
	cfg.AppID = getEnv("DERIV_APP_ID", "")
	if cfg.AppID == "" {
		errs = append(errs, "DERIV_APP_ID must be set")
	}
	cfg.Endpoint = getEnv("DERIV_ENDPOINT", "wss://ws.derivws.com/websockets/v3")

	cfg.Symbols = getEnvAsList("SYMBOLS", []string{"R_10", "R_25", "R_50", "R_75", "R_100"})
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one instrument")
	}

	granularities, err := getEnvAsIntList("GRANULARITIES", []int{120})
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid GRANULARITIES: %v", err))
	} else {
		for _, g := range granularities {
			if g <= 0 {
				errs = append(errs, "GRANULARITIES entries must be positive")
				break
			}
		}
		cfg.Granularities = granularities
	}

	cfg.BaseStake = getEnvAsFloat("BASE_STAKE", 0.35)
	if cfg.BaseStake <= 0 {
		errs = append(errs, "BASE_STAKE must be positive")
	}
	cfg.MartingaleMultiplier = getEnvAsFloat("MARTINGALE_MULTIPLIER", 3.0)
	if cfg.MartingaleMultiplier < 1.0 {
		errs = append(errs, "MARTINGALE_MULTIPLIER must be at least 1")
	}

	switch mode := domain.StakeMode(getEnv("STAKE_MODE", string(domain.StakeModeReset))); mode {
	case domain.StakeModeReset, domain.StakeModeAccumulate:
		cfg.StakeMode = mode
	default:
		errs = append(errs, fmt.Sprintf("STAKE_MODE must be %q or %q", domain.StakeModeReset, domain.StakeModeAccumulate))
	}

	cooldownSeconds := getEnvAsInt("COOLDOWN_SECONDS", 0)
	if cooldownSeconds < 0 {
		errs = append(errs, "COOLDOWN_SECONDS cannot be negative")
	}
	cfg.Cooldown = time.Duration(cooldownSeconds) * time.Second

	cfg.Currency = getEnv("CURRENCY", "USD")
	cfg.ContractDuration = getEnvAsInt("CONTRACT_DURATION", 2)
	if cfg.ContractDuration <= 0 {
		errs = append(errs, "CONTRACT_DURATION must be positive")
	}
	cfg.ContractDurationUnit = getEnv("CONTRACT_DURATION_UNIT", "m")
	switch cfg.ContractDurationUnit {
	case "t", "s", "m", "h", "d":
	default:
		errs = append(errs, "CONTRACT_DURATION_UNIT must be one of t, s, m, h, d")
	}

	cfg.EnableReversal = getEnvAsBool("ENABLE_REVERSAL", true)
	cfg.EnableSupportResistance = getEnvAsBool("ENABLE_SUPPORT_RESISTANCE", false)
	if !cfg.EnableReversal && !cfg.EnableSupportResistance {
		errs = append(errs, "at least one strategy must be enabled")
	}

	cfg.UseVolumeGate = getEnvAsBool("USE_VOLUME_GATE", true)
	cfg.VolumeThreshold = getEnvAsFloat("VOLUME_THRESHOLD", 0.5)
	if cfg.VolumeThreshold <= 0 {
		errs = append(errs, "VOLUME_THRESHOLD must be positive")
	}

	cfg.SRLookback = getEnvAsInt("SR_LOOKBACK", 20)
	if cfg.SRLookback < 2 {
		errs = append(errs, "SR_LOOKBACK must be at least 2")
	}
	cfg.SRProximity = getEnvAsFloat("SR_PROXIMITY", 0.002)
	if cfg.SRProximity <= 0 {
		errs = append(errs, "SR_PROXIMITY must be positive")
	}
	cfg.SRVolumeRatio = getEnvAsFloat("SR_VOLUME_RATIO", 1.2)
	if cfg.SRVolumeRatio <= 0 {
		errs = append(errs, "SR_VOLUME_RATIO must be positive")
	}

	cfg.CandleHistoryCount = getEnvAsInt("CANDLE_HISTORY_COUNT", 100)
	if cfg.CandleHistoryCount < 5 {
		errs = append(errs, "CANDLE_HISTORY_COUNT must be at least 5")
	}

	reconnectBase := getEnvAsInt("RECONNECT_BASE_SECONDS", 5)
	if reconnectBase <= 0 {
		errs = append(errs, "RECONNECT_BASE_SECONDS must be positive")
	}
	cfg.ReconnectBase = time.Duration(reconnectBase) * time.Second

	reconnectCap := getEnvAsInt("RECONNECT_MAX_SECONDS", 60)
	if reconnectCap < reconnectBase {
		errs = append(errs, "RECONNECT_MAX_SECONDS must be >= RECONNECT_BASE_SECONDS")
	}
	cfg.ReconnectCap = time.Duration(reconnectCap) * time.Second

	cfg.StatePath = getEnv("STATE_PATH", "./data/positions.json")
	if cfg.StatePath == "" {
		errs = append(errs, "STATE_PATH must be set")
	}
	cfg.DBPath = getEnv("DB_PATH", "./data/trades.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFile = getEnv("LOG_FILE", "")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsIntList(key string, defaultValue []int) ([]int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	parts := strings.Split(valueStr, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		value, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid integer value '%s' for key %s: %w", trimmed, key, err)
		}
		out = append(out, value)
	}
	return out, nil
}
