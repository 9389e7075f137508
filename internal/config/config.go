// Package config loads service configuration from an optional YAML file and
// LOTTO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/dailydraw/lottery-engine/internal/draw"
	"github.com/dailydraw/lottery-engine/internal/game"
	"github.com/dailydraw/lottery-engine/internal/scheduler"
)

// EnvPrefix prefixes every environment override: schedule.draw_time is
// read from LOTTO_SCHEDULE_DRAW_TIME.
const EnvPrefix = "LOTTO"

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Log         LogConfig         `mapstructure:"log"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Game        GameConfig        `mapstructure:"game"`
	Stake       StakeConfig       `mapstructure:"stake"`
	Payout      PayoutConfig      `mapstructure:"payout"`
	CreditRetry CreditRetryConfig `mapstructure:"credit_retry"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the store. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig enables the read-through period cache when URL is set.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// NATSConfig enables JetStream event publishing when URL is set.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DrawTime string `mapstructure:"draw_time"`
	Timezone string `mapstructure:"timezone"`
	CatchUp  bool   `mapstructure:"catch_up"`
}

type GameConfig struct {
	Picks     int `mapstructure:"picks"`
	MaxNumber int `mapstructure:"max_number"`
}

// StakeConfig holds decimal strings. A positive Fixed wins over Min/Max;
// set it to "0" for variable stakes.
type StakeConfig struct {
	Fixed string `mapstructure:"fixed"`
	Min   string `mapstructure:"min"`
	Max   string `mapstructure:"max"`
}

type PayoutConfig struct {
	Ratio           string `mapstructure:"ratio"`
	FixedPrize      string `mapstructure:"fixed_prize"`
	UnclaimedPolicy string `mapstructure:"unclaimed_policy"`
}

type CreditRetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// AdminConfig guards the admin routes. An empty token disables them.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 30*time.Second)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "lottery.draws")

	v.SetDefault("log.level", "info")

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.draw_time", "20:00")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.catch_up", true)

	v.SetDefault("game.picks", 1)
	v.SetDefault("game.max_number", 500)

	v.SetDefault("stake.fixed", "2.00")
	v.SetDefault("stake.min", "")
	v.SetDefault("stake.max", "")

	v.SetDefault("payout.ratio", "0.9")
	v.SetDefault("payout.fixed_prize", "")
	v.SetDefault("payout.unclaimed_policy", string(draw.Retain))

	v.SetDefault("credit_retry.max_attempts", 5)
	v.SetDefault("credit_retry.initial_interval", 100*time.Millisecond)
	v.SetDefault("credit_retry.max_interval", 2*time.Second)

	v.SetDefault("admin.token", "")
}

// Load reads path (skipped when empty), applies LOTTO_* overrides and
// defaults, and validates the result. PORT, DATABASE_URL and REDIS_URL are
// honored as well.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"http.port":    "PORT",
		"database.url": "DATABASE_URL",
		"redis.url":    "REDIS_URL",
	} {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks every setting; errors name the offending key.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port: invalid port %d", c.HTTP.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if _, err := c.SchedulerConfig(); err != nil {
		return err
	}
	if _, err := c.DrawConfig(); err != nil {
		return err
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.New("nats.subject: required when nats.url is set")
	}
	return nil
}

// SlogLevel parses log.level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Location loads schedule.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// SchedulerConfig builds the scheduler settings.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	if _, _, err := scheduler.ParseDrawTime(c.Schedule.DrawTime); err != nil {
		return scheduler.Config{}, fmt.Errorf("schedule.draw_time: %w", err)
	}
	return scheduler.Config{
		DrawTime: c.Schedule.DrawTime,
		Location: loc,
		CatchUp:  c.Schedule.CatchUp,
	}, nil
}

// DrawConfig builds the engine rule set.
func (c *Config) DrawConfig() (draw.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return draw.Config{}, err
	}
	mode, err := game.NewMode(c.Game.Picks, c.Game.MaxNumber)
	if err != nil {
		return draw.Config{}, fmt.Errorf("game: %w", err)
	}

	var stake game.StakePolicy
	if stake.Fixed, err = parseMoney("stake.fixed", c.Stake.Fixed); err != nil {
		return draw.Config{}, err
	}
	if stake.Min, err = parseMoney("stake.min", c.Stake.Min); err != nil {
		return draw.Config{}, err
	}
	if stake.Max, err = parseMoney("stake.max", c.Stake.Max); err != nil {
		return draw.Config{}, err
	}

	var prize game.PrizePolicy
	if prize.Ratio, err = parseMoney("payout.ratio", c.Payout.Ratio); err != nil {
		return draw.Config{}, err
	}
	if prize.FixedPrize, err = parseMoney("payout.fixed_prize", c.Payout.FixedPrize); err != nil {
		return draw.Config{}, err
	}

	cfg := draw.Config{
		Mode:      mode,
		Stake:     stake,
		Prize:     prize,
		Unclaimed: draw.UnclaimedPolicy(c.Payout.UnclaimedPolicy),
		CreditRetry: draw.CreditRetry{
			MaxAttempts:     c.CreditRetry.MaxAttempts,
			InitialInterval: c.CreditRetry.InitialInterval,
			MaxInterval:     c.CreditRetry.MaxInterval,
		},
		Location: loc,
	}
	if err := cfg.Validate(); err != nil {
		switch {
		case errors.Is(err, game.ErrInvalidStake):
			return draw.Config{}, fmt.Errorf("stake: %w", err)
		case errors.Is(err, game.ErrInvalidPrize):
			return draw.Config{}, fmt.Errorf("payout: %w", err)
		case cfg.CreditRetry.MaxAttempts < 1:
			return draw.Config{}, fmt.Errorf("credit_retry.max_attempts: %w", err)
		default:
			return draw.Config{}, fmt.Errorf("payout.unclaimed_policy: %w", err)
		}
	}
	return cfg, nil
}

// parseMoney parses an optional decimal setting; empty means zero.
func parseMoney(key, v string) (decimal.Decimal, error) {
	if strings.TrimSpace(v) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a decimal", key, v)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
