package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Studio    StudioConfig    `koanf:"studio"`
	Run       RunConfig       `koanf:"run"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// StudioConfig holds the remote agent-studio API settings. The credential is
// passed through as-is; there is no refresh handling.
type StudioConfig struct {
	URL        string        `koanf:"url"`
	Credential string        `koanf:"credential"`
	Timeout    time.Duration `koanf:"timeout"`
	User       string        `koanf:"user"`
}

// RunConfig controls use-case execution and result persistence.
type RunConfig struct {
	Attempts int           `koanf:"attempts"`
	Backoff  time.Duration `koanf:"backoff"`
	Save     bool          `koanf:"save"`
	Output   string        `koanf:"output"`
}

// LedgerConfig locates the local creation ledger.
type LedgerConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Exporter string `koanf:"exporter"` // stdout, otlp, none
	Endpoint string `koanf:"endpoint"`
}

func Load(path string) (*Config, error) {
	// Fresh instance per call so repeated loads never see stale keys.
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("studio.url", "https://agent-prod.studio.lyzr.ai")
	k.Set("studio.timeout", "60s")
	k.Set("studio.user", "demo-user")

	k.Set("run.attempts", 3)
	k.Set("run.backoff", "2s")
	k.Set("run.save", false)
	k.Set("run.output", "output")

	k.Set("ledger.path", "stagehand.db")

	k.Set("telemetry.exporter", "none")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (STAGEHAND_STUDIO_CREDENTIAL -> studio.credential)
	if err := k.Load(env.Provider("STAGEHAND_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "STAGEHAND_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
