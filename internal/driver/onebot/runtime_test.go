package onebot

import (
	"strings"
	"testing"
	"time"
)

func TestParseRuntimeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr string
		assert  func(t *testing.T, cfg parsedRuntimeConfig)
	}{
		{name: "empty payload", raw: ``, wantErr: "missing config"},
		{name: "missing url", raw: `{}`, wantErr: "url is required"},
		{name: "bad duration", raw: `{"url":"ws://x","call_timeout":"soon"}`, wantErr: "parse call_timeout"},
		{name: "non-positive duration", raw: `{"url":"ws://x","reconnect_initial":"0s"}`, wantErr: "parse reconnect_initial"},
		{name: "negative rate", raw: `{"url":"ws://x","rate_limit":-1}`, wantErr: "rate_limit"},
		{
			name:    "inverted reconnect bounds",
			raw:     `{"url":"ws://x","reconnect_initial":"10s","reconnect_max":"1s"}`,
			wantErr: "reconnect_max",
		},
		{
			name: "defaults",
			raw:  `{"url":" ws://127.0.0.1:3001 "}`,
			assert: func(t *testing.T, cfg parsedRuntimeConfig) {
				t.Helper()
				if cfg.url != "ws://127.0.0.1:3001" {
					t.Fatalf("url = %q", cfg.url)
				}
				if cfg.callTimeout != defaultCallTimeout {
					t.Fatalf("call timeout = %s, want %s", cfg.callTimeout, defaultCallTimeout)
				}
				if cfg.rateLimit != defaultRuntimeRateLimit || cfg.rateBurst != defaultRuntimeRateBurst {
					t.Fatalf("rate = %v/%d", cfg.rateLimit, cfg.rateBurst)
				}
				if cfg.triggerBuffer != defaultTriggerBuffer {
					t.Fatalf("trigger buffer = %d", cfg.triggerBuffer)
				}
			},
		},
		{
			name: "explicit values",
			raw: `{"url":"wss://bot","access_token":"secret","call_timeout":"3s","rate_limit":0,` +
				`"rate_burst":2,"trigger_buffer":8,"reconnect_initial":"2s","reconnect_max":"30s"}`,
			assert: func(t *testing.T, cfg parsedRuntimeConfig) {
				t.Helper()
				if cfg.accessToken != "secret" || cfg.callTimeout != 3*time.Second {
					t.Fatalf("token/timeout = %q/%s", cfg.accessToken, cfg.callTimeout)
				}
				if cfg.rateLimit != 0 || cfg.rateBurst != 2 || cfg.triggerBuffer != 8 {
					t.Fatalf("rate/buffer = %v/%d/%d", cfg.rateLimit, cfg.rateBurst, cfg.triggerBuffer)
				}
				if cfg.reconnectInitial != 2*time.Second || cfg.reconnectMax != 30*time.Second {
					t.Fatalf("reconnect = %s..%s", cfg.reconnectInitial, cfg.reconnectMax)
				}
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseRuntimeConfig([]byte(testCase.raw))
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("parseRuntimeConfig() error = %v, want containing %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRuntimeConfig() failed: %v", err)
			}
			testCase.assert(t, cfg)
		})
	}
}

func TestBuildRuntimeFromConfigRejectsHTTPURL(t *testing.T) {
	t.Parallel()

	if _, err := BuildRuntimeFromConfig("qq", nil, []byte(`{"url":"http://127.0.0.1"}`)); err == nil {
		t.Fatal("expected error for non-websocket url")
	}
	client, err := BuildRuntimeFromConfig("qq", nil, []byte(`{"url":"ws://127.0.0.1:3001"}`))
	if err != nil {
		t.Fatalf("BuildRuntimeFromConfig() failed: %v", err)
	}
	if client.Connected() {
		t.Fatal("client must not be connected before Run")
	}
}
