package onboarding

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects a signup behaviour profile.
type Mode string

const (
	// ModeCurrent resumes open sessions and reuses open checkout sessions.
	ModeCurrent Mode = "current"
	// ModeEarly always starts a fresh session and a fresh checkout.
	ModeEarly Mode = "early"
)

const (
	defaultSessionTTL     = 24 * time.Hour
	defaultBillingTimeout = 15 * time.Second
	defaultMinSubdomain   = 3
)

// Config tunes the orchestrator.
type Config struct {
	// BaseURL is the public control plane URL used for checkout redirects.
	BaseURL string
	// SessionTTL is how long a signup session stays usable.
	SessionTTL time.Duration
	// MinSubdomainLength is the shortest accepted subdomain.
	MinSubdomainLength int
	// ReuseOpenSessions makes Start resume an unexpired session for the same email.
	ReuseOpenSessions bool
	// ReuseCheckoutSessions makes InitiateBilling hand back a still-open checkout.
	ReuseCheckoutSessions bool
	// BillingTimeout bounds every billing provider call.
	BillingTimeout time.Duration
}

// ConfigForMode returns the defaults for mode.
func ConfigForMode(mode Mode, baseURL string) (Config, error) {
	cfg := Config{
		BaseURL:            strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		SessionTTL:         defaultSessionTTL,
		MinSubdomainLength: defaultMinSubdomain,
		BillingTimeout:     defaultBillingTimeout,
	}
	switch mode {
	case "", ModeCurrent:
		cfg.ReuseOpenSessions = true
		cfg.ReuseCheckoutSessions = true
	case ModeEarly:
	default:
		return Config{}, fmt.Errorf("unknown signup mode %q", mode)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.MinSubdomainLength <= 0 {
		c.MinSubdomainLength = defaultMinSubdomain
	}
	if c.BillingTimeout <= 0 {
		c.BillingTimeout = defaultBillingTimeout
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}
