package stubservice

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/tally/internal/config"
)

const (
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 8000
	DefaultMaxBodyBytes int64 = 16 << 20
	DefaultReadTimeout        = 15 * time.Second
	DefaultWriteTimeout       = 15 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
)

// Settings captures runtime configuration for the stub service.
type Settings struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Unavailable makes every upload fail with 503, like a service whose
	// model failed to load.
	Unavailable bool
	// IncludeOutside keeps tokens labelled O in responses.
	IncludeOutside bool
}

// SettingsFromConfig reads the stub section of the project config. Flag and
// TALLY_STUB_* environment overrides reach it through config.ApplyOverrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	var s Settings
	if cfg != nil {
		stub := cfg.Project.Stub
		s.Host = stub.Host
		s.Port = stub.Port
		s.Unavailable = stub.Unavailable
		s.IncludeOutside = stub.IncludeOutside
	}
	return s.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.Host = strings.TrimSpace(s.Host); s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port <= 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	return s
}

// WithAddress returns a copy of s bound to addr ("host:port"). An empty host
// keeps the current one.
func (s Settings) WithAddress(addr string) (Settings, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return s, err
	}
	parsed, err := strconv.Atoi(port)
	if err != nil {
		return s, err
	}
	if host != "" {
		s.Host = host
	}
	s.Port = parsed
	return s, nil
}

func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Settings) URL() string {
	return "http://" + s.Address()
}
