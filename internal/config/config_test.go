package config

import (
	"os"
	"testing"
)

func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	saved := make(map[string]*string, len(envs))
	for k, v := range envs {
		if old, ok := os.LookupEnv(k); ok {
			s := old
			saved[k] = &s
		} else {
			saved[k] = nil
		}
		os.Setenv(k, v)
	}
	return func() {
		for k, old := range saved {
			if old == nil {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, *old)
			}
		}
	}
}

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":    "postgres://localhost/test",
		"MQTT_BROKER_URL": "tcp://localhost:1883",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.MQTTClientID != "tessd" {
			t.Errorf("MQTTClientID = %q, want tessd", cfg.MQTTClientID)
		}
		if cfg.QueueSize != 1000 {
			t.Errorf("QueueSize = %d, want 1000", cfg.QueueSize)
		}
		if cfg.SecsResolution != 1 {
			t.Errorf("SecsResolution = %d, want 1", cfg.SecsResolution)
		}
		if !cfg.AuthFilter {
			t.Error("AuthFilter = false, want true")
		}
		if cfg.StatsMode != "condensed" {
			t.Errorf("StatsMode = %q, want condensed", cfg.StatsMode)
		}
		if len(cfg.TESSTopics) != 1 || cfg.TESSTopics[0] != "STARS4ALL/+/reading" {
			t.Errorf("TESSTopics = %v, want default reading topic", cfg.TESSTopics)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:       "nonexistent.env",
			LogLevel:      "debug",
			HTTPAddr:      ":9090",
			DatabaseURL:   "postgres://override/db",
			MQTTBrokerURL: "tcp://override:1883",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.MQTTBrokerURL != "tcp://override:1883" {
			t.Errorf("MQTTBrokerURL = %q, want override", cfg.MQTTBrokerURL)
		}
	})

	t.Run("topic_lists_split_on_comma", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{
			"TESS_TOPICS":    "STARS4ALL/+/reading,AZOTEA/+/reading",
			"TESS_BLACKLIST": "stars1,stars99",
		})
		defer cleanup()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(cfg.TESSTopics) != 2 {
			t.Fatalf("TESSTopics = %v, want 2 entries", cfg.TESSTopics)
		}
		if len(cfg.TESSBlacklist) != 2 || cfg.TESSBlacklist[1] != "stars99" {
			t.Errorf("TESSBlacklist = %v, want [stars1 stars99]", cfg.TESSBlacklist)
		}
	})

	t.Run("rejects_bad_resolution", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"SECS_RESOLUTION": "7"})
		defer cleanup()

		if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
			t.Fatal("expected error for SECS_RESOLUTION=7")
		}
	})

	t.Run("rejects_bad_stats_mode", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"STATS_MODE": "verbose"})
		defer cleanup()

		if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
			t.Fatal("expected error for STATS_MODE=verbose")
		}
	})

	t.Run("missing_required_env_fails", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"DATABASE_URL": ""})
		os.Unsetenv("DATABASE_URL")
		defer cleanup()

		if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
			t.Fatal("expected error for missing DATABASE_URL")
		}
	})
}

func TestValidResolution(t *testing.T) {
	for _, r := range SecsResolutions {
		if !validResolution(r) {
			t.Errorf("validResolution(%d) = false, want true", r)
		}
	}
	for _, r := range []int{0, 7, 45, 120, -1} {
		if validResolution(r) {
			t.Errorf("validResolution(%d) = true, want false", r)
		}
	}
}
