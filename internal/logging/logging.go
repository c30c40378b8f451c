// Package logging builds the per-component loggers used across twinsync.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File, if set, receives a copy of every line. It is rotated once it
	// grows past MaxSizeMB, keeping MaxBackups old files for MaxAgeDays.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet drops the stderr copy.
	Quiet bool
}

var (
	mu      sync.Mutex
	rotated = map[string]*lumberjack.Logger{}
)

// New returns a logger prefixed with "[component] ". Loggers created with
// the same File share one rotating writer.
func New(component string, opts Options) *log.Logger {
	return log.New(Writer(opts), "["+component+"] ", log.LstdFlags)
}

// Writer returns the destination described by opts.
func Writer(opts Options) io.Writer {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		writers = append(writers, fileWriter(opts))
	}
	switch len(writers) {
	case 0:
		return io.Discard
	case 1:
		return writers[0]
	}
	return io.MultiWriter(writers...)
}

func fileWriter(opts Options) *lumberjack.Logger {
	mu.Lock()
	defer mu.Unlock()

	if w, ok := rotated[opts.File]; ok {
		return w
	}
	_ = os.MkdirAll(filepath.Dir(opts.File), 0755)
	w := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	rotated[opts.File] = w
	return w
}

// Close closes every rotating log file opened by New.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	var first error
	for path, w := range rotated {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(rotated, path)
	}
	return first
}
