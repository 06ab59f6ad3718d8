// Package config loads service configuration from defaults and REMEMBOT_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Twilio   TwilioConfig
	Mem0     Mem0Config
	OpenAI   OpenAIConfig
	Reminder ReminderConfig
	Timezone string
	LogLevel string
	// LocalUser is the channel id the REST routes and MCP tools act as.
	LocalUser string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type Mem0Config struct {
	APIKey string
}

// OpenAIConfig configures the language collaborator. APIKey may be empty;
// classification then runs in fallback mode and transcription is disabled.
type OpenAIConfig struct {
	APIKey string
	Model  string
}

type ReminderConfig struct {
	PollInterval time.Duration
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		OpenAI:  OpenAIConfig{Model: "gpt-4o-mini"},
		Reminder: ReminderConfig{
			PollInterval: 60 * time.Second,
		},
		Timezone:  "UTC",
		LogLevel:  "info",
		LocalUser: "local",
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "remembot-data"
		}
	}
	return filepath.Join(dir, "remembot")
}

// Load builds the configuration from defaults and environment overrides,
// then validates required keys. The returned error names every missing key
// at once.
func Load() (Config, error) {
	cfg := defaults()

	applyString(&cfg.Storage.DataDir, "REMEMBOT_DATA_DIR")
	applyString(&cfg.Twilio.AccountSID, "REMEMBOT_TWILIO_ACCOUNT_SID")
	applyString(&cfg.Twilio.AuthToken, "REMEMBOT_TWILIO_AUTH_TOKEN")
	applyString(&cfg.Twilio.FromNumber, "REMEMBOT_TWILIO_FROM_NUMBER")
	applyString(&cfg.Mem0.APIKey, "REMEMBOT_MEM0_API_KEY")
	applyString(&cfg.OpenAI.APIKey, "REMEMBOT_OPENAI_API_KEY")
	applyString(&cfg.OpenAI.Model, "REMEMBOT_OPENAI_MODEL")
	applyString(&cfg.Timezone, "REMEMBOT_TIMEZONE")
	applyString(&cfg.LogLevel, "REMEMBOT_LOG_LEVEL")
	applyString(&cfg.LocalUser, "REMEMBOT_LOCAL_USER")
	applyInt(&cfg.Server.Port, "REMEMBOT_PORT")
	applyDuration(&cfg.Reminder.PollInterval, "REMEMBOT_REMINDER_POLL_INTERVAL")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.Twilio.AccountSID == "" {
		missing = append(missing, "REMEMBOT_TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		missing = append(missing, "REMEMBOT_TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.FromNumber == "" {
		missing = append(missing, "REMEMBOT_TWILIO_FROM_NUMBER")
	}
	if c.Mem0.APIKey == "" {
		missing = append(missing, "REMEMBOT_MEM0_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid REMEMBOT_TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. Validation guarantees it
// loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func applyInt(dst *int, env string) {
	raw := os.Getenv(env)
	if raw == "" {
		return
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*dst = v
	} else {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", env, raw, err)
	}
}

func applyDuration(dst *time.Duration, env string) {
	raw := os.Getenv(env)
	if raw == "" {
		return
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*dst = v
	} else {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", env, raw, err)
	}
}
