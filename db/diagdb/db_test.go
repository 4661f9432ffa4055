package diagdb

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/pkg/sensor"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "diag.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cur, tgt, err := db.Version()
	if err != nil {
		t.Fatal(err)
	}
	if cur != 0 {
		t.Fatalf("current version not 0, got %d", cur)
	}
	if err := db.MigrateUp(context.Background(), tgt); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestInsertAndTrim(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r := sensor.Reading{Sensor: sensor.Light, Values: [4]float64{float64(i)}, Timestamp: int64(i)}
		if err := db.Insert(ctx, sensor.Light, r); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.Trim(ctx, sensor.Light, 3); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.x.Get(&count, `SELECT COUNT(*) FROM readings WHERE sensor = ?`, int(sensor.Light)); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 rows after trim, got %d", count)
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	db := openTestDB(t)
	log := zerolog.Nop()
	rec := NewRecorder(db, log, 1, 100)

	// Fill the queue, then immediately enqueue more: Record must never block.
	rec.Record(sensor.Light, sensor.Reading{Sensor: sensor.Light})
	rec.Record(sensor.Light, sensor.Reading{Sensor: sensor.Light})
	rec.Record(sensor.Light, sensor.Reading{Sensor: sensor.Light})
}
