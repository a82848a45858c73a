package envconfig

import (
	"log/slog"
	"testing"
)

func TestHost(t *testing.T) {
	tests := []struct {
		name, value, expect string
	}{
		{"empty", "", "http://127.0.0.1:8080"},
		{"only address", "1.2.3.4", "http://1.2.3.4:8080"},
		{"only port", ":1234", "http://:1234"},
		{"address and port", "1.2.3.4:1234", "http://1.2.3.4:1234"},
		{"scheme http and address", "http://1.2.3.4", "http://1.2.3.4:80"},
		{"scheme https and address", "https://1.2.3.4", "https://1.2.3.4:443"},
		{"hostname", "example.com", "http://example.com:8080"},
		{"hostname and port", "example.com:1234", "http://example.com:1234"},
		{"zero port", ":0", "http://:0"},
		{"too large port", ":66000", "http://:8080"},
		{"trailing slash", "example.com/", "http://example.com:8080"},
		{"extra quotes", "\"example.com:1234\"", "http://example.com:1234"},
		{"leading whitespace", " example.com:1234", "http://example.com:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SNAKE_HOST", tt.value)
			if host := Host(); host.String() != tt.expect {
				t.Errorf("%s: expected %s, got %s", tt.name, tt.expect, host.String())
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name, value string
		expect      slog.Level
	}{
		{"unset", "", slog.LevelInfo},
		{"false", "false", slog.LevelInfo},
		{"true", "true", slog.LevelDebug},
		{"one", "1", slog.LevelDebug},
		{"two", "2", slog.Level(-8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SNAKE_DEBUG", tt.value)
			if level := LogLevel(); level != tt.expect {
				t.Errorf("%s: expected %d, got %d", tt.name, tt.expect, level)
			}
		})
	}
}

func TestVar(t *testing.T) {
	t.Setenv("SNAKE_RUNS", "  '/tmp/runs'  ")
	if v := Var("SNAKE_RUNS"); v != "/tmp/runs" {
		t.Errorf("expected /tmp/runs, got %q", v)
	}
}
