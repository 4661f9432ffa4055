package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorfab.log")

	log, reopen, err := New(Options{
		File:      path,
		FileLevel: zerolog.InfoLevel,
		Level:     zerolog.InfoLevel,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer reopen() // exercise the reopen path once more at teardown

	log.Info().Msg("hello")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Fatal("expected log file to contain the written record")
	}
}

func TestReopenRotatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorfab.log")

	log, reopen, err := New(Options{
		File:      path,
		FileLevel: zerolog.InfoLevel,
		Level:     zerolog.InfoLevel,
	})
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("before rotation")

	reopen()
	log.Info().Msg("after rotation")

	if _, err := os.Stat(path + ".1.gz"); err != nil {
		t.Fatalf("expected rotated gzip file to exist: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected a fresh log file after reopen: %v", err)
	}
}

func TestNewWithNoSinksProducesUsableLogger(t *testing.T) {
	log, reopen, err := New(Options{Level: zerolog.InfoLevel})
	if err != nil {
		t.Fatal(err)
	}
	defer reopen()
	log.Info().Msg("discarded, but must not panic")
}
