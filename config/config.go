// Package config loads runtime configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the process needs. Values come from VOXGATE_*
// environment variables derived from the field names, so HttpAddr is set
// with VOXGATE_HTTP_ADDR.
type Config struct {
	HttpAddr   string `envDefault:":8080"`
	Dir        string `envDefault:"."`
	ApiVersion string `envDefault:"2010-04-01"`

	// ConsoleAddr serves the session inspection UI. Empty disables it.
	ConsoleAddr string

	// SessionExpiry bounds how long an idle call session and its message
	// correlations are kept.
	SessionExpiry time.Duration `envDefault:"1h"`

	// ClientUrl is where markup for inbound calls is fetched from.
	ClientUrl            string
	ClientMethod         string `envDefault:"POST"`
	StatusCallbackUrl    string
	StatusCallbackMethod string `envDefault:"POST"`

	WebhookTimeout time.Duration `envDefault:"10s"`
	// WebhookRate limits outbound webhook requests per second. Zero disables
	// the limiter.
	WebhookRate  float64 `envDefault:"0"`
	WebhookBurst int     `envDefault:"1"`

	LogLevel string `envDefault:"info"`
}

func Load() (Config, error) {
	return env.ParseAsWithOptions[Config](env.Options{
		Prefix:                "VOXGATE_",
		UseFieldNameByDefault: true,
	})
}
