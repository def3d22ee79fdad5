// Package config loads runtime configuration with viper and watches for
// live changes to the fields that are safe to hot-swap.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the fully resolved set of settings this system needs at
// startup. MetaNamespace is the only field expected to change after
// startup; everything else requires a restart to take effect (redialing a
// pool or DSN mid-run is out of scope here).
type Config struct {
	RedisURL            string
	RedisWaitTimeoutMS  int
	RedisMaxConnections int
	DatabaseURL         string

	metaNamespace atomic.Value // string
}

// MetaNamespace returns the current value, safe to call concurrently with
// a config reload.
func (c *Config) MetaNamespace() string {
	v, _ := c.metaNamespace.Load().(string)
	return v
}

func (c *Config) setMetaNamespace(v string) {
	c.metaNamespace.Store(v)
}

// Load reads configuration from the environment (and an optional config
// file). When a config file was found, it is watched and META_NAMESPACE is
// reloaded from it on change; environment changes after startup are not
// picked up.
func Load(log *zap.Logger) (*Config, error) {
	if log == nil {
		log = zap.NewNop()
	}

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("REDIS_WAIT_TIMEOUT_MS", 5000)
	v.SetDefault("REDIS_MAX_CONNECTIONS", 32)
	v.SetDefault("META_NAMESPACE", "")

	v.SetConfigName("cachelayer")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/cachelayer")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{
		RedisURL:            v.GetString("REDIS_URL"),
		RedisWaitTimeoutMS:  v.GetInt("REDIS_WAIT_TIMEOUT_MS"),
		RedisMaxConnections: v.GetInt("REDIS_MAX_CONNECTIONS"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
	}
	cfg.setMetaNamespace(v.GetString("META_NAMESPACE"))

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("config file changed, reloading meta namespace", zap.String("file", e.Name))
		cfg.setMetaNamespace(v.GetString("META_NAMESPACE"))
	})
	v.WatchConfig()

	return cfg, nil
}

// WaitTimeout is RedisWaitTimeoutMS as a time.Duration.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.RedisWaitTimeoutMS) * time.Millisecond
}
