package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

const envPrefix = "KEYLEDGER"

type Config struct {
	Addr                string `mapstructure:"addr"`
	DBPath              string `mapstructure:"db_path"`
	KeyCodePattern      string `mapstructure:"key_code_pattern"`
	KeyCardCodePattern  string `mapstructure:"key_card_code_pattern"`
	RequireGiveEvidence bool   `mapstructure:"require_give_evidence"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"log"`

	Outbox struct {
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
		MaxRetry  int           `mapstructure:"max_retry"`
	} `mapstructure:"outbox"`

	Webhook struct {
		URL     string        `mapstructure:"url"`
		Secret  string        `mapstructure:"secret"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"webhook"`

	Kafka struct {
		Brokers     []string `mapstructure:"brokers"`
		TopicPrefix string   `mapstructure:"topic_prefix"`
		ClientID    string   `mapstructure:"client_id"`
	} `mapstructure:"kafka"`
}

// LoadConfig reads defaults, then the optional file, then KEYLEDGER_* env
// vars, then overrides. Override keys use the dotted config names; callers
// only pass values that were set explicitly.
func LoadConfig(file string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "./keyledger.sqlite")
	v.SetDefault("key_code_pattern", domain.DefaultKeyCodePattern)
	v.SetDefault("key_card_code_pattern", domain.DefaultKeyCardCodePattern)
	v.SetDefault("require_give_evidence", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("outbox.interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_retry", 5)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", 5*time.Second)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "keyledger")
	v.SetDefault("kafka.client_id", "keyledger")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path must not be empty")
	}
	if _, err := domain.NewCodeValidator(c.KeyCodePattern); err != nil {
		return fmt.Errorf("key_code_pattern: %w", err)
	}
	if _, err := domain.NewCodeValidator(c.KeyCardCodePattern); err != nil {
		return fmt.Errorf("key_card_code_pattern: %w", err)
	}
	if c.Outbox.Interval <= 0 {
		return errors.New("outbox.interval must be positive")
	}
	if c.Outbox.BatchSize <= 0 {
		return errors.New("outbox.batch_size must be positive")
	}
	if c.Webhook.Secret != "" && c.Webhook.URL == "" {
		return errors.New("webhook.secret is set without webhook.url")
	}
	return nil
}

// splitList accepts both a proper list and the comma separated form env
// vars produce.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
