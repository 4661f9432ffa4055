// Command sensorfab runs one role (producer, relay, ingest, or device) of
// the sensor telemetry relay fabric, selected at runtime by SENSORFAB_MODE
// rather than the original's compile-time device/remote-server flag.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/config"
	"github.com/sensorfab/relay/pkg/fabric"
	"github.com/sensorfab/relay/pkg/logging"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		x, err := readEnv(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		e = x
	}

	dbg := http.NewServeMux()
	if dbgAddr, _ := getEnvList("SENSORFAB_DEBUG_SERVER_ADDR", e, os.Environ()); dbgAddr != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "warning: running insecure debug server on %q\n", dbgAddr)
			if err := http.ListenAndServe(dbgAddr, dbg); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to start debug server: %v\n", err)
			}
		}()
	}
	dbg.HandleFunc("/debug/pprof/", pprof.Index)
	dbg.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	dbg.HandleFunc("/debug/pprof/profile", pprof.Profile)
	dbg.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	dbg.HandleFunc("/debug/pprof/trace", pprof.Trace)

	var c config.Config
	if err := c.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	// Fall back to the legacy on-disk conf files when the corresponding env
	// var wasn't set at all, matching the original's file-based config
	// surface (spec.md §6) alongside the env-driven one.
	if _, ok := getEnvList("SENSORFAB_SOURCE_ADDR", e); !ok {
		c.SourceAddr = config.ReadAddrConf(c.AddrConfPath, c.SourceAddr)
	}
	if _, ok := getEnvList("SENSORFAB_POLL_DELAY", e); !ok {
		c.PollDelay = config.ReadPollDelayConf(c.PollDelayConfPath, c.PollDelay)
	}

	log, reopen, err := logging.New(logging.Options{
		Stdout:       c.LogStdout,
		StdoutPretty: c.LogStdoutPretty,
		StdoutLevel:  c.LogStdoutLevel,
		File:         c.LogFile,
		FileLevel:    c.LogFileLevel,
		Level:        c.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize logging: %v\n", err)
		os.Exit(1)
	}

	mx := fabricmetrics.New()
	sup := fabric.New(&c, log, mx)
	sup.AddReloadHook(func() error { reopen(); return nil })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hch := make(chan os.Signal, 1)
	signal.Notify(hch, syscall.SIGHUP)
	go func() {
		for range hch {
			sup.HandleSIGHUP()
		}
	}()

	log.Info().Str("mode", string(c.Mode)).Msg("starting sensorfab")

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: run fabric: %v\n", err)
		os.Exit(1)
	}
}

func getEnvList(k string, e ...[]string) (string, bool) {
	for _, l := range e {
		for _, x := range l {
			if xk, xv, ok := strings.Cut(x, "="); ok && xk == k {
				return xv, true
			}
		}
	}
	return "", false
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
