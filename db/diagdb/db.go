// Package diagdb implements best-effort sqlite3 storage of per-sensor
// diagnostic readings. It is explicitly non-contractual (spec.md §6,
// "Persisted state: none... diagnostic only and not part of the contract"):
// write failures are logged and dropped, never surfaced to the sensor
// pipelines that feed it.
package diagdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/pkg/sensor"
)

// DB stores recent sensor readings in a sqlite3 database: a single readings
// table keyed by sensor index, ring-buffered per sensor by Trim.
type DB struct {
	x *sqlx.DB
}

// Open opens a DB from the provided sqlite3 filename with WAL journaling, a
// 16000 KiB page cache and a 6s busy timeout.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-16000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	return &DB{x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Version gets the current and required database versions.
func (db *DB) Version() (current, required uint64, err error) {
	if err = db.x.Get(&current, `PRAGMA user_version`); err != nil {
		err = fmt.Errorf("get version: %w", err)
		return
	}
	for v := range migrations {
		if v > required {
			required = v
		}
	}
	return
}

// MigrateUp migrates the database to the provided version.
func (db *DB) MigrateUp(ctx context.Context, to uint64) error {
	tx, err := db.x.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cv uint64
	if err := tx.GetContext(ctx, &cv, `PRAGMA user_version`); err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if to < cv {
		return fmt.Errorf("target version %d is less than current version %d", to, cv)
	}

	var vs []uint64
	for v := range migrations {
		if v > cv && v <= to {
			vs = append(vs, v)
		}
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })

	for _, v := range vs {
		if err := migrations[v].Up(ctx, tx); err != nil {
			return fmt.Errorf("migrate up to %d: %w", v, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, to)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// Insert records one reading for the given sensor. Failures are returned to
// the caller (the Recorder goroutine is responsible for swallowing them).
func (db *DB) Insert(ctx context.Context, id sensor.ID, r sensor.Reading) error {
	_, err := db.x.ExecContext(ctx, `
		INSERT INTO readings (sensor, ts, v0, v1, v2, v3, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int(id), r.Timestamp, r.Values[0], r.Values[1], r.Values[2], r.Values[3], r.Status)
	return err
}

// Trim deletes all but the most recent keep rows for the given sensor,
// implementing the ring-buffer retention policy.
func (db *DB) Trim(ctx context.Context, id sensor.ID, keep int) error {
	_, err := db.x.ExecContext(ctx, `
		DELETE FROM readings
		WHERE sensor = ? AND rowid NOT IN (
			SELECT rowid FROM readings WHERE sensor = ? ORDER BY rowid DESC LIMIT ?
		)
	`, int(id), int(id), keep)
	return err
}

// Recorder consumes readings off a buffered channel and fire-and-forget
// inserts them into db, silently dropping anything it can't keep up with
// rather than applying backpressure to a sensor pipeline. Insert and trim
// failures are logged at debug level.
type Recorder struct {
	db     *DB
	log    zerolog.Logger
	ch     chan recordReq
	keep   int
	ticker int
}

type recordReq struct {
	id sensor.ID
	r  sensor.Reading
}

// NewRecorder returns a Recorder backed by db, buffering up to queueSize
// pending inserts. Every 256th successful insert (counted across all
// sensors) trims the rows of that insert's sensor down to keep.
func NewRecorder(db *DB, log zerolog.Logger, queueSize, keep int) *Recorder {
	return &Recorder{
		db:   db,
		log:  log.With().Str("component", "diagdb").Logger(),
		ch:   make(chan recordReq, queueSize),
		keep: keep,
	}
}

// Record enqueues a reading for recording. It never blocks: if the queue is
// full the reading is dropped, matching the non-contractual nature of this
// storage (spec.md §6).
func (r *Recorder) Record(id sensor.ID, reading sensor.Reading) {
	select {
	case r.ch <- recordReq{id, reading}:
	default:
	}
}

// Run drains the queue until ctx is canceled, inserting each reading and
// periodically trimming the affected sensor's table.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-r.ch:
			if err := r.db.Insert(ctx, req.id, req.r); err != nil {
				r.log.Debug().Err(err).Str("sensor", req.id.String()).Msg("insert reading failed")
				continue
			}
			r.ticker++
			if r.ticker%256 == 0 {
				if err := r.db.Trim(ctx, req.id, r.keep); err != nil {
					r.log.Debug().Err(err).Str("sensor", req.id.String()).Msg("trim readings failed")
				}
			}
		}
	}
}
