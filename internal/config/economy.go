package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EconomySettings are the tunable token economy knobs. They are reloaded
// without a restart when economy.yaml changes.
type EconomySettings struct {
	GenerationCost          int64         `mapstructure:"generation_cost"`
	WelcomeBonus            int64         `mapstructure:"welcome_bonus"`
	FallbackPrice           int64         `mapstructure:"fallback_price"`
	OrderPrefix             string        `mapstructure:"order_prefix"`
	DefaultFormats          []string      `mapstructure:"default_formats"`
	GenerationRatePerMinute int           `mapstructure:"generation_rate_per_minute"`
	NotificationResendAfter time.Duration `mapstructure:"notification_resend_after"`
}

func DefaultEconomySettings() EconomySettings {
	return EconomySettings{
		GenerationCost:          2,
		WelcomeBonus:            50,
		FallbackPrice:           10,
		OrderPrefix:             "ORD",
		DefaultFormats:          []string{"dst", "pes", "jef"},
		GenerationRatePerMinute: 6,
		NotificationResendAfter: 10 * time.Minute,
	}
}

type economyFile struct {
	Economy EconomySettings `mapstructure:"economy"`
}

// EconomyHolder serves the latest valid EconomySettings snapshot.
type EconomyHolder struct {
	current atomic.Value // holds EconomySettings
}

func NewEconomyHolder(log *zap.Logger) (*EconomyHolder, error) {
	log = log.Named("config.economy")
	v := viper.New()

	v.SetConfigName("economy")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/stitchery")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STITCHERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEconomySettings()
	v.SetDefault("economy.generation_cost", defaults.GenerationCost)
	v.SetDefault("economy.welcome_bonus", defaults.WelcomeBonus)
	v.SetDefault("economy.fallback_price", defaults.FallbackPrice)
	v.SetDefault("economy.order_prefix", defaults.OrderPrefix)
	v.SetDefault("economy.default_formats", defaults.DefaultFormats)
	v.SetDefault("economy.generation_rate_per_minute", defaults.GenerationRatePerMinute)
	v.SetDefault("economy.notification_resend_after", defaults.NotificationResendAfter)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	settings, err := decodeEconomy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticEconomyHolder(settings)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeEconomy(v)
		if err != nil {
			log.Warn("economy reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("economy settings reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticEconomyHolder returns a holder that never reloads.
func NewStaticEconomyHolder(settings EconomySettings) *EconomyHolder {
	holder := &EconomyHolder{}
	holder.current.Store(settings)
	return holder
}

func (h *EconomyHolder) Get() EconomySettings {
	return h.current.Load().(EconomySettings)
}

func decodeEconomy(v *viper.Viper) (EconomySettings, error) {
	var file economyFile
	if err := v.Unmarshal(&file); err != nil {
		return EconomySettings{}, err
	}
	if err := ValidateEconomy(file.Economy); err != nil {
		return EconomySettings{}, err
	}
	return file.Economy, nil
}

func ValidateEconomy(s EconomySettings) error {
	if s.GenerationCost < 0 {
		return errors.New("economy.generation_cost must be >= 0")
	}
	if s.WelcomeBonus < 0 {
		return errors.New("economy.welcome_bonus must be >= 0")
	}
	if s.FallbackPrice < 0 {
		return errors.New("economy.fallback_price must be >= 0")
	}
	if strings.TrimSpace(s.OrderPrefix) == "" {
		return errors.New("economy.order_prefix cannot be empty")
	}
	if len(s.DefaultFormats) == 0 {
		return errors.New("economy.default_formats cannot be empty")
	}
	if s.GenerationRatePerMinute < 0 {
		return fmt.Errorf("economy.generation_rate_per_minute must be >= 0, got %d", s.GenerationRatePerMinute)
	}
	return nil
}
