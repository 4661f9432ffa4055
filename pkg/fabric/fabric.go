// Package fabric wires the per-sensor producer, relay, ingest, and
// aggregator pipelines into one supervised process per spec.md §4.E, and
// implements its signal-driven lifecycle: SIGINT/SIGTERM for orderly
// shutdown, SIGHUP for log reopen, grounded on pkg/atlas/server.go's
// Run/HandleSIGHUP shape.
package fabric

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/db/diagdb"
	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/aggregator"
	"github.com/sensorfab/relay/pkg/config"
	"github.com/sensorfab/relay/pkg/ingest"
	"github.com/sensorfab/relay/pkg/producer"
	"github.com/sensorfab/relay/pkg/relay"
	"github.com/sensorfab/relay/pkg/sensor"

	"github.com/VictoriaMetrics/metrics"
)

// Supervisor owns every per-sensor worker for one process and its shared
// dependencies (logging, metrics, diagnostics).
type Supervisor struct {
	Cfg     *config.Config
	Log     zerolog.Logger
	Metrics *fabricmetrics.Metrics

	diag   *diagdb.Recorder
	diagDB *diagdb.DB

	reload []func() error
}

// New builds a Supervisor from cfg. log should already be configured with
// the desired level and sinks; mx is shared across every worker so metrics
// aggregate process-wide.
func New(cfg *config.Config, log zerolog.Logger, mx *fabricmetrics.Metrics) *Supervisor {
	return &Supervisor{Cfg: cfg, Log: log, Metrics: mx}
}

// AddReloadHook registers fn to run on SIGHUP, e.g. to reopen a rotated log
// file. Errors are logged, not propagated.
func (s *Supervisor) AddReloadHook(fn func() error) {
	s.reload = append(s.reload, fn)
}

// HandleSIGHUP runs every registered reload hook, matching
// pkg/atlas/server.go's HandleSIGHUP.
func (s *Supervisor) HandleSIGHUP() {
	for _, fn := range s.reload {
		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			s.Log.Error().Err(err).Msg("reload hook failed")
		}
	}
}

// Run starts every worker required by s.Cfg.Mode and blocks until ctx is
// canceled. It returns an error only for setup failures (diagnostic db,
// unknown mode). A worker that exits with an error (e.g. a listen failure)
// is logged and the other workers keep running; per-sensor transient errors
// never reach here, since each pipeline is self-healing (spec.md §7,
// "errors do not cross sensor boundaries").
func (s *Supervisor) Run(ctx context.Context) error {
	if s.Cfg.MetricsAddr != "" {
		go s.serveMetrics(ctx)
	}

	if s.Cfg.DiagDB != "" {
		db, err := diagdb.Open(s.Cfg.DiagDB)
		if err != nil {
			return fmt.Errorf("open diagnostic db: %w", err)
		}
		_, required, err := db.Version()
		if err != nil {
			return fmt.Errorf("diagnostic db version: %w", err)
		}
		if err := db.MigrateUp(ctx, required); err != nil {
			return fmt.Errorf("migrate diagnostic db: %w", err)
		}
		s.diagDB = db
		s.diag = diagdb.NewRecorder(db, s.Log, 4096, 500)
		go s.diag.Run(ctx)
		defer db.Close()
	}

	errch := make(chan error, sensor.NumSensors*4)
	spawn := func(fn func(context.Context) error) {
		go func() { errch <- fn(ctx) }()
	}

	switch s.Cfg.Mode {
	case config.ModeProducer:
		s.spawnProducers(spawn)
	case config.ModeRelay:
		s.spawnRelay(spawn)
	case config.ModeIngest:
		s.spawnIngest(ctx, spawn)
	case config.ModeDevice:
		s.spawnDevice(ctx, spawn)
	default:
		return fmt.Errorf("fabric: unknown mode %q", s.Cfg.Mode)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errch:
			if err != nil {
				s.Log.Error().Err(err).Msg("worker exited")
			}
		}
	}
}

func (s *Supervisor) spawnProducers(spawn func(func(context.Context) error)) {
	for i := 0; i < sensor.NumSensors; i++ {
		p := producer.New(sensor.Table[i], s.Log, s.Metrics)
		spawn(p.Run)
	}
}

func (s *Supervisor) spawnRelay(spawn func(func(context.Context) error)) {
	for i := 0; i < sensor.NumSensors; i++ {
		pair := relay.New(sensor.Table[i], s.Cfg.SourceAddr, s.Log, s.Metrics)
		park := relay.NewParkListener(sensor.Table[i], s.Log, s.Metrics)
		spawn(pair.RunPullClient)
		spawn(park.Run)
	}
}

func (s *Supervisor) spawnIngest(ctx context.Context, spawn func(func(context.Context) error)) {
	svc := ingest.NewService(s.Log, s.Metrics, s.Cfg.PollDelay)
	for i := 0; i < sensor.NumSensors; i++ {
		spawn(svc.Server(sensor.ID(i)).Run)
	}
	if s.diag != nil {
		spawn(func(ctx context.Context) error {
			return s.pollLoop(ctx, svc)
		})
	}
}

// pollLoop drives Service.Poll continuously and hands every harvested
// reading to the diagnostic recorder; this is the stand-in for the host OS
// sensor subsystem that would otherwise call poll() directly.
func (s *Supervisor) pollLoop(ctx context.Context, svc *ingest.Service) error {
	for {
		events := svc.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		for _, r := range events {
			s.diag.Record(r.Sensor, r)
		}
	}
}

// spawnDevice wires device mode: a synthetic driver feeds an
// aggregator.Dispatcher, and each sensor's Aggregator is paired directly
// with its ingest.Server over an in-process net.Pipe rather than each
// binding its own listener on the sensor's consumer port — the two would
// otherwise race to bind the same port, and whichever lost would mean the
// aggregator's output never reaches ingest at all.
func (s *Supervisor) spawnDevice(ctx context.Context, spawn func(func(context.Context) error)) {
	svc := ingest.NewService(s.Log, s.Metrics, s.Cfg.PollDelay)
	disp := aggregator.NewDispatcher()
	drv := newSynthDriver(0)

	for i := 0; i < sensor.NumSensors; i++ {
		m := sensor.Table[i]
		a := aggregator.New(m, disp, s.Log, s.Metrics)
		srv := svc.Server(sensor.ID(i))

		spawn(func(ctx context.Context) error {
			return runDevicePair(ctx, srv, a)
		})
		go drv.run(ctx, m, disp)
	}

	if s.diag != nil {
		spawn(func(ctx context.Context) error {
			return s.pollLoop(ctx, svc)
		})
	}
}

// runDevicePair re-pairs srv and a over a fresh net.Pipe every time the
// previous pairing tears down (same-frame tolerance, a write error), the
// same way a real accept loop re-accepts the next client after one
// disconnects. Each side's own serveConn loop observes ctx cancellation, so
// no separate close-on-cancel plumbing is needed here.
func runDevicePair(ctx context.Context, srv *ingest.Server, a *aggregator.Aggregator) error {
	for ctx.Err() == nil {
		ingestConn, aggConn := net.Pipe()
		done := make(chan struct{})
		go func() {
			a.HandleConn(ctx, aggConn)
			close(done)
		}()
		srv.HandleConn(ctx, ingestConn)
		<-done
	}
	return nil
}

func (s *Supervisor) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		var b bytes.Buffer
		metrics.WriteProcessMetrics(&b)
		b.WriteByte('\n')
		s.Metrics.Set().WritePrometheus(&b)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Header().Set("Content-Length", strconv.Itoa(b.Len()))
		b.WriteTo(w)
	})

	srv := &http.Server{Addr: s.Cfg.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.Log.Info().Str("addr", s.Cfg.MetricsAddr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
		s.Log.Error().Err(err).Msg("metrics server failed")
	}
}
