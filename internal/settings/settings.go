// Package settings holds the server's immutable, read-only tunables.
// Field shapes and defaults mirror waitress's adjustments.py; the
// loader is adapted from noisefs's infrastructure/config package,
// swapped from JSON to YAML (gopkg.in/yaml.v3) since nothing else in
// this module needs JSON.
package settings

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings are immutable once built and are read concurrently by every
// worker and channel; nothing here is mutated after Load returns.
type Settings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Threads is the fixed worker count the dispatcher starts with.
	// Default: 4
	Threads int `yaml:"threads"`

	// URLScheme is reported to the application as wsgi.url_scheme
	// unless a trusted proxy overrides it.
	// Default: http
	URLScheme string `yaml:"url_scheme"`

	// Ident is the server identity used for the Server/Via response
	// header (ResponseBuilder §4.3).
	// Default: waitress
	Ident string `yaml:"ident"`

	Backlog int `yaml:"backlog"`

	// RecvBytes/SendBytes size the channel's read/write buffers.
	RecvBytes int `yaml:"recv_bytes"`
	SendBytes int `yaml:"send_bytes"`

	OutbufOverflow int `yaml:"outbuf_overflow"`
	InbufOverflow  int `yaml:"inbuf_overflow"`

	ConnectionLimit int `yaml:"connection_limit"`
	CleanupInterval int `yaml:"cleanup_interval"`
	ChannelTimeout  int `yaml:"channel_timeout"`

	// LogSocketErrors gates whether a write_soon failure is re-raised
	// through service() for the dispatcher to log (task.go §4.1).
	// Default: true
	LogSocketErrors bool `yaml:"log_socket_errors"`

	MaxRequestHeaderSize int `yaml:"max_request_header_size"`
	MaxRequestBodySize   int `yaml:"max_request_body_size"`

	SocketOptions map[string]int `yaml:"socket_options"`

	// TrustedProxy is a peer host whose Forwarded/X-Forwarded-* headers
	// are accepted as authoritative (EnvironmentBuilder §4.6).
	TrustedProxy string `yaml:"trusted_proxy"`

	// URLPrefix is either empty or a leading-"/", no-trailing-"/" path
	// stripped from PATH_INFO and moved to SCRIPT_NAME.
	URLPrefix string `yaml:"url_prefix"`
}

// Default returns the baseline configuration, matching spec.md §6.
func Default() *Settings {
	return &Settings{
		Host:                 "127.0.0.1",
		Port:                 8080,
		Threads:              4,
		URLScheme:            "http",
		Ident:                "waitress",
		Backlog:              1024,
		RecvBytes:            8192,
		SendBytes:            9000,
		OutbufOverflow:       1 << 20,
		InbufOverflow:        512 << 10,
		ConnectionLimit:      1000,
		CleanupInterval:      30,
		ChannelTimeout:       60,
		LogSocketErrors:      true,
		MaxRequestHeaderSize: 512 << 10,
		MaxRequestBodySize:   1 << 30,
		SocketOptions:        map[string]int{"TCP_NODELAY": 1},
		URLPrefix:            "",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unmodified. On Windows the sentinel host "localhost" is
// rewritten to "" (INADDR_ANY), matching waitress's historical
// platform quirk.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("settings: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("settings: parsing %s: %w", path, err)
		}
	}
	if runtime.GOOS == "windows" && s.Host == "localhost" {
		s.Host = ""
	}
	if s.URLPrefix != "" {
		s.URLPrefix = strings.TrimSuffix(s.URLPrefix, "/")
	}
	return s, nil
}

// AsBool implements the spec's boolean coercion (§6): true iff x is a
// boolean true already, or its lower-cased, trimmed textual form is one
// of t/true/y/yes/on/1; everything else, including nil, is false.
func AsBool(x interface{}) bool {
	switch v := x.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "t", "true", "y", "yes", "on", "1":
			return true
		default:
			return false
		}
	default:
		return AsBool(fmt.Sprint(v))
	}
}
