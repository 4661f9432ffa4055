// Package logging sets up the zerolog loggers shared by every fabric
// component: a stdout writer, and an optional rotated, gzip-compressed log
// file reopened on SIGHUP.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Stdout        bool
	StdoutPretty  bool
	StdoutLevel   zerolog.Level
	File          string
	FileLevel     zerolog.Level
	Level         zerolog.Level
}

// New builds a zerolog.Logger from opts and returns a reopen function that
// should be called on SIGHUP to rotate (gzip-compressing the prior contents
// of) the log file.
func New(opts Options) (zerolog.Logger, func(), error) {
	var outputs []io.Writer
	if opts.Stdout {
		if opts.StdoutPretty {
			outputs = append(outputs, newLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout}, opts.StdoutLevel))
		} else {
			outputs = append(outputs, newLevelWriter(os.Stdout, opts.StdoutLevel))
		}
	}

	var reopen func()
	if opts.File != "" {
		lw := newLevelWriter(nil, opts.FileLevel)
		reopen = func() {
			lw.Swap(func(old io.Writer) io.Writer {
				if c, ok := old.(io.Closer); ok {
					c.Close()
				}
				rotateGzip(opts.File)
				f, err := os.OpenFile(opts.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: open log file: %v\n", err)
					return nil
				}
				return f
			})
		}
		outputs = append(outputs, lw)
		reopen()
	} else {
		reopen = func() {}
	}

	l := zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(opts.Level).
		With().
		Timestamp().
		Logger()
	return l, reopen, nil
}

// rotateGzip moves any existing file at path aside and compresses it into
// path+".1.gz", discarding a previous rotation of the same name, so the
// caller can open a fresh, empty file at path afterwards. Best-effort:
// logging rotation failures are not fatal to the process.
func rotateGzip(path string) {
	tmp := path + ".rotating"
	if err := os.Rename(path, tmp); err != nil {
		return
	}
	defer os.Remove(tmp)

	in, err := os.Open(tmp)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".1.gz")
	if err != nil {
		return
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()

	io.Copy(gw, in)
}

// levelWriter adapts an io.Writer (or zerolog.LevelWriter) behind a mutex so
// it can be atomically swapped out from under concurrent writers (log
// rotation on SIGHUP).
type levelWriter struct {
	mu sync.Mutex
	w  io.Writer
	l  zerolog.Level
}

var _ zerolog.LevelWriter = (*levelWriter)(nil)

func newLevelWriter(w io.Writer, l zerolog.Level) *levelWriter {
	return &levelWriter{w: w, l: l}
}

func (lw *levelWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.w != nil {
		return lw.w.Write(p)
	}
	return len(p), nil
}

func (lw *levelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < lw.l {
		return len(p), nil
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.w == nil {
		return len(p), nil
	}
	if wl, ok := lw.w.(zerolog.LevelWriter); ok {
		return wl.WriteLevel(l, p)
	}
	return lw.w.Write(p)
}

func (lw *levelWriter) Swap(fn func(io.Writer) io.Writer) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.w = fn(lw.w)
}
