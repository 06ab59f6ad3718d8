package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REMEMBOT_TWILIO_ACCOUNT_SID", "ACxxx")
	t.Setenv("REMEMBOT_TWILIO_AUTH_TOKEN", "token")
	t.Setenv("REMEMBOT_TWILIO_FROM_NUMBER", "+15550000000")
	t.Setenv("REMEMBOT_MEM0_API_KEY", "m0-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Reminder.PollInterval != 60*time.Second {
		t.Errorf("poll interval = %v", cfg.Reminder.PollInterval)
	}
	if cfg.Timezone != "UTC" || cfg.LogLevel != "info" || cfg.LocalUser != "local" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.OpenAI.APIKey != "" {
		t.Errorf("openai key = %q", cfg.OpenAI.APIKey)
	}
}

func TestLoadMissingRequiredNamesAllKeys(t *testing.T) {
	t.Setenv("REMEMBOT_TWILIO_ACCOUNT_SID", "ACxxx")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{
		"REMEMBOT_TWILIO_AUTH_TOKEN",
		"REMEMBOT_TWILIO_FROM_NUMBER",
		"REMEMBOT_MEM0_API_KEY",
	} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q missing %s", err, key)
		}
	}
	if strings.Contains(err.Error(), "REMEMBOT_TWILIO_ACCOUNT_SID") {
		t.Errorf("error names a key that was set: %q", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("REMEMBOT_PORT", "9090")
	t.Setenv("REMEMBOT_REMINDER_POLL_INTERVAL", "15s")
	t.Setenv("REMEMBOT_TIMEZONE", "America/New_York")
	t.Setenv("REMEMBOT_LOCAL_USER", "demo_user")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Reminder.PollInterval != 15*time.Second {
		t.Errorf("poll interval = %v", cfg.Reminder.PollInterval)
	}
	if cfg.Timezone != "America/New_York" || cfg.LocalUser != "demo_user" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Location().String() != "America/New_York" {
		t.Errorf("location = %v", cfg.Location())
	}
}

func TestLoadBadIntFallsBackToDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("REMEMBOT_PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadInvalidTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("REMEMBOT_TIMEZONE", "Mars/Olympus_Mons")

	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestDefaultDataDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	if got := defaultDataDir(); got != "/tmp/xdg/remembot" {
		t.Errorf("data dir = %q", got)
	}
}
