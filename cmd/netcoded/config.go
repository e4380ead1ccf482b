package main

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains the configuration for netcoded. The env struct tag
// contains the environment variable name and the default value if missing,
// or empty (if not ?=).
type Config struct {
	// The address to listen on and exchange connectionless packets. If the
	// port is 0, a random one is chosen.
	ListenAddr netip.AddrPort `env:"NETCODE_LISTEN_ADDR=:40000"`

	// The maximum number of concurrently connected clients.
	MaxClients int `env:"NETCODE_MAX_CLIENTS=64"`

	// The protocol id clients must present in their connect tokens.
	ProtocolID uint64 `env:"NETCODE_PROTOCOL_ID=1"`

	// Hex-encoded 32-byte private key used to open connect tokens. Required.
	PrivateKeyHex string `env:"NETCODE_PRIVATE_KEY"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"NETCODE_LOG_LEVEL=info"`

	// Whether to log to stdout.
	LogStdout bool `env:"NETCODE_LOG_STDOUT=true"`

	// Whether to use pretty logs.
	LogStdoutPretty bool `env:"NETCODE_LOG_STDOUT_PRETTY=true"`

	// If provided, an HTTP server exposing /metrics (VictoriaMetrics text
	// exposition format) is started on this address.
	MetricsAddr string `env:"NETCODE_METRICS_ADDR"`

	// The sqlite3 path for the audit event log, or ":memory:" for a
	// non-persistent log. If empty, the audit log is disabled.
	EventLogPath string `env:"NETCODE_EVENTLOG_PATH"`

	// How often the daemon loop drains buffered events to the audit log.
	EventLogFlushInterval time.Duration `env:"NETCODE_EVENTLOG_FLUSH_INTERVAL=5s"`

	// The path to an ip2location-format database for country-tagging
	// connect/reject metrics. If empty, geography tagging reports "unknown".
	IP2Location string `env:"NETCODE_IP2LOCATION"`

	// For sd-notify.
	NotifySocket string `env:"NOTIFY_SOCKET"`
}

// PrivateKey decodes PrivateKeyHex into a 32-byte array.
func (c *Config) PrivateKey() ([32]byte, error) {
	var key [32]byte
	b, err := hex.DecodeString(c.PrivateKeyHex)
	if err != nil {
		return key, fmt.Errorf("decode private key: %w", err)
	}
	if len(b) != len(key) {
		return key, fmt.Errorf("private key must be %d bytes, got %d", len(key), len(b))
	}
	copy(key[:], b)
	return key, nil
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values will
// not be set for missing env vars, but only for empty ones.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "NETCODE_") || strings.HasPrefix(e, "NOTIFY_SOCKET=") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case uint, uint8, uint16, uint32, uint64:
			if val == "" {
				cvf.SetUint(0)
			} else if v, err := strconv.ParseUint(val, 10, 64); err == nil {
				cvf.SetUint(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case netip.AddrPort:
			if val == "" {
				cvf.Set(reflect.ValueOf(netip.AddrPort{}))
			} else if v, err := netip.ParseAddrPort(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else if v, err1 := netip.ParseAddrPort("[::]" + val); val[0] == ':' && err1 == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	if c.PrivateKeyHex == "" {
		return fmt.Errorf("env NETCODE_PRIVATE_KEY: required")
	}
	return nil
}
