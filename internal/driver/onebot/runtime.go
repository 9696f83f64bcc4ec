package onebot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRuntimeRateLimit = 20
	defaultRuntimeRateBurst = 5
)

type runtimeConfig struct {
	URL              string   `json:"url"`
	AccessToken      string   `json:"access_token"`
	CallTimeout      string   `json:"call_timeout"`
	RateLimit        *float64 `json:"rate_limit"`
	RateBurst        int      `json:"rate_burst"`
	TriggerBuffer    int      `json:"trigger_buffer"`
	ReconnectInitial string   `json:"reconnect_initial"`
	ReconnectMax     string   `json:"reconnect_max"`
}

type parsedRuntimeConfig struct {
	url              string
	accessToken      string
	callTimeout      time.Duration
	rateLimit        float64
	rateBurst        int
	triggerBuffer    int
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// BuildRuntimeFromConfig builds one OneBot client from a driver config
// payload.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (*Client, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("parse onebot runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := NewClient(
		cfg.url,
		WithAccessToken(cfg.accessToken),
		WithCallTimeout(cfg.callTimeout),
		WithRateLimit(rate.Limit(cfg.rateLimit), cfg.rateBurst),
		WithTriggerBuffer(cfg.triggerBuffer),
		WithReconnectBackoff(cfg.reconnectInitial, cfg.reconnectMax),
		WithLogger(logger.With("driver", name)),
	)
	if err != nil {
		return nil, fmt.Errorf("new onebot client: %w", err)
	}

	return client, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		url:              strings.TrimSpace(parsed.URL),
		accessToken:      strings.TrimSpace(parsed.AccessToken),
		callTimeout:      defaultCallTimeout,
		rateLimit:        defaultRuntimeRateLimit,
		rateBurst:        parsed.RateBurst,
		triggerBuffer:    parsed.TriggerBuffer,
		reconnectInitial: defaultReconnectInitial,
		reconnectMax:     defaultReconnectMax,
	}
	if cfg.url == "" {
		return parsedRuntimeConfig{}, fmt.Errorf("url is required")
	}
	if parsed.RateLimit != nil {
		if *parsed.RateLimit < 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("rate_limit must be >= 0")
		}
		cfg.rateLimit = *parsed.RateLimit
	}
	if cfg.rateBurst <= 0 {
		cfg.rateBurst = defaultRuntimeRateBurst
	}
	if cfg.triggerBuffer <= 0 {
		cfg.triggerBuffer = defaultTriggerBuffer
	}

	durations := []struct {
		key    string
		value  string
		target *time.Duration
	}{
		{key: "call_timeout", value: parsed.CallTimeout, target: &cfg.callTimeout},
		{key: "reconnect_initial", value: parsed.ReconnectInitial, target: &cfg.reconnectInitial},
		{key: "reconnect_max", value: parsed.ReconnectMax, target: &cfg.reconnectMax},
	}
	for _, duration := range durations {
		trimmed := strings.TrimSpace(duration.value)
		if trimmed == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(trimmed)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: %w", duration.key, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: must be > 0", duration.key)
		}
		*duration.target = parsedDuration
	}
	if cfg.reconnectMax < cfg.reconnectInitial {
		return parsedRuntimeConfig{}, fmt.Errorf("reconnect_max must be >= reconnect_initial")
	}

	return cfg, nil
}
