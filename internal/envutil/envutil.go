package envutil

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// Settings holds process-level settings that are read from the environment
// rather than the config file.
type Settings struct {
	Mode      string `env:"HANDOFF_ENV" envDefault:"production"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses Settings from the environment. Malformed values fall back to
// the defaults, since logging is not configured yet when this runs.
func Load() Settings {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{Mode: "production", LogLevel: "info", LogFormat: "text"}
	}
	return s
}

// IsDev checks if we're running in development mode
// where security requirements can be relaxed for testing
func IsDev() bool {
	mode := strings.ToLower(Load().Mode)
	return mode == "development" || mode == "dev"
}
