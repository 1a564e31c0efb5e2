package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jmerrifield20/dlts/pkg/client"
)

// config is the resolved CLI configuration.
type config struct {
	AuthorityURL     string
	Origin           string
	AuthorityTimeout time.Duration
	PollInterval     time.Duration
	PollLifetime     time.Duration
	StorageURL       string

	RelayURL          string
	ProjectID         string
	VAPIDKey          string
	DeliveryEndpoint  string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string

	EventsRedisURL string
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dlts"
	}
	return filepath.Join(home, ".dlts")
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// loadConfig reads cfgFile (or ~/.dlts/config.yaml) plus DLTS_* env vars.
func loadConfig(v *viper.Viper, cfgFile string) (*config, error) {
	v.SetDefault("authority.base_url", client.DefaultBaseURL)
	v.SetDefault("authority.origin", client.DefaultOrigin)
	v.SetDefault("authority.timeout", "10s")
	v.SetDefault("poll.interval", "3s")
	v.SetDefault("poll.lifetime", "5m")
	v.SetDefault("storage.url", filepath.Join(stateDir(), "state.db"))
	v.SetDefault("push.relay_url", "")
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.vapid_key", "")
	v.SetDefault("push.endpoint", "http://localhost:8090/push")
	v.SetDefault("push.oauth.client_id", "")
	v.SetDefault("push.oauth.client_secret", "")
	v.SetDefault("push.oauth.token_url", "")
	v.SetDefault("events.redis_url", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(stateDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("dlts")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &config{
		AuthorityURL:      v.GetString("authority.base_url"),
		Origin:            v.GetString("authority.origin"),
		AuthorityTimeout:  v.GetDuration("authority.timeout"),
		PollInterval:      v.GetDuration("poll.interval"),
		PollLifetime:      v.GetDuration("poll.lifetime"),
		StorageURL:        expandHome(v.GetString("storage.url")),
		RelayURL:          v.GetString("push.relay_url"),
		ProjectID:         v.GetString("push.project_id"),
		VAPIDKey:          v.GetString("push.vapid_key"),
		DeliveryEndpoint:  v.GetString("push.endpoint"),
		OAuthClientID:     v.GetString("push.oauth.client_id"),
		OAuthClientSecret: v.GetString("push.oauth.client_secret"),
		OAuthTokenURL:     v.GetString("push.oauth.token_url"),
		EventsRedisURL:    v.GetString("events.redis_url"),
	}, nil
}

// newLogger builds a console logger that stays quiet unless verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}
