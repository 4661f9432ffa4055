// Package config defines the fabric's runtime configuration: environment
// variables (parsed from `env:"..."` struct tags by UnmarshalEnv) plus the
// two legacy on-disk conf file formats the original
// implementation read directly.
package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Mode selects which role(s) a process runs, replacing the original's
// compile-time device/remote-server flag with a runtime choice (spec §6).
type Mode string

const (
	ModeProducer Mode = "producer" // synthetic remote-server generators
	ModeRelay    Mode = "relay"    // pull-clients + park-listeners
	ModeIngest   Mode = "ingest"   // in-guest consumer servers
	ModeDevice   Mode = "device"   // aggregators + ingest, full in-guest stack
)

// Config contains the configuration for a sensorfab process. The env struct
// tag contains the environment variable name and the default value if
// missing, or empty (if not ?=).
type Config struct {
	// Mode selects which role(s) this process runs.
	Mode Mode `env:"SENSORFAB_MODE?=device"`

	// SourceAddr is the IP (and, ignored, port) of the relay's upstream
	// source, the runtime equivalent of dev_ip_port.conf /
	// remote_server_ip_port.conf. See Open Question 1 in DESIGN.md: the
	// port token is parsed but intentionally unused.
	SourceAddr string `env:"SENSORFAB_SOURCE_ADDR?=127.0.0.1"`

	// PollDelay is the sleep between poll() invocations, the runtime
	// equivalent of poll_delay.conf.
	PollDelay time.Duration `env:"SENSORFAB_POLL_DELAY=1ms"`

	// AddrConfPath and PollDelayConfPath name the legacy on-disk conf files
	// cmd/sensorfab falls back to reading (via ReadAddrConf /
	// ReadPollDelayConf) when SENSORFAB_SOURCE_ADDR / SENSORFAB_POLL_DELAY
	// are not set in the environment, matching the original's file-based
	// config surface (spec.md §6).
	AddrConfPath      string `env:"SENSORFAB_ADDR_CONF?=dev_ip_port.conf"`
	PollDelayConfPath string `env:"SENSORFAB_POLL_DELAY_CONF?=poll_delay.conf"`

	// MetricsAddr, if set, serves Prometheus metrics on this address.
	MetricsAddr string `env:"SENSORFAB_METRICS_ADDR"`

	// DiagDB, if set, names a sqlite3 file for best-effort diagnostic
	// reading capture (non-contractual, see db/diagdb).
	DiagDB string `env:"SENSORFAB_DIAG_DB"`

	LogLevel        zerolog.Level `env:"SENSORFAB_LOG_LEVEL=info"`
	LogStdout       bool          `env:"SENSORFAB_LOG_STDOUT=true"`
	LogStdoutPretty bool          `env:"SENSORFAB_LOG_STDOUT_PRETTY=true"`
	LogStdoutLevel  zerolog.Level `env:"SENSORFAB_LOG_STDOUT_LEVEL=trace"`
	LogFile         string        `env:"SENSORFAB_LOG_FILE"`
	LogFileLevel    zerolog.Level `env:"SENSORFAB_LOG_FILE_LEVEL=info"`
}

// UnmarshalEnv populates c's fields tagged with `env:"..."` from es, a list
// of "KEY=VALUE" strings (such as os.Environ()).
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
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
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case Mode:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		default:
			return fmt.Errorf("config: unhandled field type %T for %s", cvf.Interface(), ctf.Name)
		}
	}
	return nil
}

// ReadAddrConf reads a dev_ip_port.conf / remote_server_ip_port.conf style
// file: a single line, whitespace-separated, whose first token is the
// source IP. The port token (if present) is parsed but intentionally
// ignored (see DESIGN.md Open Question 1); the caller always derives the
// port from the sensor index. On any read or parse failure, the caller's
// configured default is kept rather than aborting the process (§9: "pick
// one and document it").
func ReadAddrConf(path, fallback string) string {
	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return fallback
	}
	fields := strings.Fields(sc.Text())
	if len(fields) == 0 {
		return fallback
	}
	return fields[0]
}

// ReadPollDelayConf reads a poll_delay.conf file: a single line containing a
// positive int64 microsecond value. If the file is absent or its contents
// are invalid, fallback is returned unchanged.
func ReadPollDelayConf(path string, fallback time.Duration) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return fallback
	}
	v, err := strconv.ParseInt(strings.TrimSpace(sc.Text()), 10, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Microsecond
}
