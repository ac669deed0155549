// Package config loads, validates, and persists tool-server
// configuration. Files may be JSON, YAML, or TOML, selected by
// extension; ${VAR} references expand from the environment before
// parsing, and every format decodes through the same typed structs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Transport kinds a ServerDescriptor may name.
const (
	TransportProcess    = "process"
	TransportHTTPStream = "http-stream"
	TransportSocket     = "socket"
	TransportWebSocket  = "websocket"
)

// ServerDescriptor is the static configuration for one tool server.
// Immutable after load except through explicit configuration updates.
type ServerDescriptor struct {
	// Name uniquely identifies the server. It becomes a namespaced
	// tool-name segment, so it must not contain underscores.
	Name string `json:"name" yaml:"name" toml:"name"`

	// Transport selects the connection mechanism. When empty it is
	// inferred: a command implies process, a ws(s):// URL implies
	// websocket, an http(s):// URL implies http-stream, anything else
	// with a URL implies socket.
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty" toml:"transport,omitempty"`

	// Command, Args, and Env configure a process transport. Env entries
	// are merged over the host environment.
	Command string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// URL addresses stream transports: http(s):// for http-stream,
	// ws(s):// for websocket, unix:///tcp:// or a socket path for
	// socket.
	URL string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`

	// Headers are static request headers attached by the http-stream
	// and websocket transports, passed through as configured.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`

	// Enabled defaults to true when absent.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
}

// IsEnabled reports whether the descriptor should be connected.
func (d *ServerDescriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Config is a parsed configuration document: an ordered server list
// plus optional global settings. Server order is preserved from the
// file and fixes catalog ordering.
type Config struct {
	Servers []ServerDescriptor `json:"servers"`

	// Timeout bounds each in-flight request. Accepts a duration string
	// ("45s") or a bare number of seconds. Zero means the client
	// default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// RetryAttempts is the number of additional connect attempts after
	// a failure, with exponential backoff between attempts.
	RetryAttempts int `json:"retryAttempts,omitempty"`
}

// Normalize fills inferred fields in place. Runs before Validate.
func (c *Config) Normalize() {
	for i := range c.Servers {
		c.Servers[i].Normalize()
	}
}

// Normalize infers the transport from the populated fields when it is
// unset.
func (d *ServerDescriptor) Normalize() {
	if d.Transport != "" {
		return
	}
	switch {
	case d.Command != "":
		d.Transport = TransportProcess
	case strings.HasPrefix(d.URL, "ws://"), strings.HasPrefix(d.URL, "wss://"):
		d.Transport = TransportWebSocket
	case strings.HasPrefix(d.URL, "http://"), strings.HasPrefix(d.URL, "https://"):
		d.Transport = TransportHTTPStream
	case d.URL != "":
		d.Transport = TransportSocket
	}
}

// Validate checks every descriptor and rejects duplicate names.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		d := &c.Servers[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate server name %q", d.Name)
		}
		seen[d.Name] = true
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retryAttempts must not be negative")
	}
	return nil
}

// Validate checks that the descriptor names a known transport and
// carries the fields that transport requires. It fails before any I/O
// is attempted.
func (d *ServerDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if strings.Contains(d.Name, "_") {
		return fmt.Errorf("server name %q must not contain underscores", d.Name)
	}
	switch d.Transport {
	case TransportProcess:
		if d.Command == "" {
			return fmt.Errorf("server %q: process transport requires a command", d.Name)
		}
	case TransportHTTPStream:
		if !strings.HasPrefix(d.URL, "http://") && !strings.HasPrefix(d.URL, "https://") {
			return fmt.Errorf("server %q: http-stream transport requires an http(s):// url", d.Name)
		}
	case TransportWebSocket:
		if !strings.HasPrefix(d.URL, "ws://") && !strings.HasPrefix(d.URL, "wss://") {
			return fmt.Errorf("server %q: websocket transport requires a ws(s):// url", d.Name)
		}
	case TransportSocket:
		if d.URL == "" {
			return fmt.Errorf("server %q: socket transport requires a url or socket path", d.Name)
		}
	case "":
		return fmt.Errorf("server %q: transport could not be inferred, set one of process, http-stream, socket, websocket", d.Name)
	default:
		return fmt.Errorf("server %q: unknown transport %q", d.Name, d.Transport)
	}
	return nil
}

// Load reads a configuration file. A missing or unreadable file yields
// an empty configuration so the caller degrades to zero tool servers
// instead of failing startup. Malformed content is still an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Config{}, nil
	}
	return Parse(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// Parse decodes configuration bytes in the named format ("json",
// "yaml", "yml", or "toml"), expands ${VAR} environment references,
// normalizes, and validates.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var raw map[string]interface{}
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			secondsToDurationHook,
		),
		Result: &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration in the format implied by the path's
// extension.
func Save(path string, cfg *Config) error {
	out := fileConfig{
		Servers:       cfg.Servers,
		RetryAttempts: cfg.RetryAttempts,
	}
	if cfg.Timeout > 0 {
		out.Timeout = cfg.Timeout.String()
	}

	var data []byte
	var err error
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		data, err = json.MarshalIndent(out, "", "  ")
	case "toml":
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(out)
		data = []byte(sb.String())
	default:
		data, err = yaml.Marshal(out)
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// fileConfig is the serialized shape: durations persist as strings.
type fileConfig struct {
	Servers       []ServerDescriptor `json:"servers" yaml:"servers" toml:"servers"`
	Timeout       string             `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	RetryAttempts int                `json:"retryAttempts,omitempty" yaml:"retryAttempts,omitempty" toml:"retryAttempts,omitempty"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value; absent
// variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// secondsToDurationHook decodes bare numbers into seconds for duration
// fields, so "timeout: 45" and "timeout: 45s" mean the same thing.
func secondsToDurationHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) || from == reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	default:
		return data, nil
	}
}
