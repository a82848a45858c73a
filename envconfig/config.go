// Package envconfig reads process configuration from SNAKE_* environment
// variables. Everything here is optional; experiment hyperparameters live
// in the YAML config, not the environment.
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Host returns the scheme and host of the tracker dashboard.
// Configurable via SNAKE_HOST. Default: http://127.0.0.1:8080
func Host() *url.URL {
	defaultPort := "8080"

	s := strings.TrimSpace(Var("SNAKE_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns the origins allowed to reach the dashboard.
// Configurable via SNAKE_ORIGINS (comma separated), always includes
// localhost variants.
func AllowedOrigins() (origins []string) {
	if s := Var("SNAKE_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// Runs returns the directory where experiment runs are stored.
// Configurable via SNAKE_RUNS. Default: $HOME/.snake-search/runs
func Runs() string {
	if s := Var("SNAKE_RUNS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".snake-search", "runs")
}

// LogLevel returns the slog level.
// Configurable via SNAKE_DEBUG: 0/false = INFO (default), 1/true = DEBUG,
// 2 = TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("SNAKE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// NoProgress reports whether the terminal progress bar is disabled.
// Configurable via SNAKE_NOPROGRESS.
var NoProgress = Bool("SNAKE_NOPROGRESS")

// Threads returns the number of data loading workers, overriding
// data.num_workers from the config when set.
// Configurable via SNAKE_THREADS.
var Threads = Uint("SNAKE_THREADS", 0)

func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Var returns an environment variable stripped of surrounding quotes and
// whitespace.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"SNAKE_DEBUG":      {"SNAKE_DEBUG", LogLevel(), "Show additional debug information (e.g. SNAKE_DEBUG=1)"},
		"SNAKE_HOST":       {"SNAKE_HOST", Host(), "Host and scheme for the tracker dashboard"},
		"SNAKE_ORIGINS":    {"SNAKE_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"SNAKE_RUNS":       {"SNAKE_RUNS", Runs(), "The path to the experiment runs directory"},
		"SNAKE_NOPROGRESS": {"SNAKE_NOPROGRESS", NoProgress(), "Disable the training progress bar"},
		"SNAKE_THREADS":    {"SNAKE_THREADS", Threads(), "Number of data loading workers (overrides data.num_workers)"},
	}
}

// Values returns the current environment configuration for logging at
// startup.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
