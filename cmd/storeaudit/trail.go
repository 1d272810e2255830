package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/storeaudit/storeaudit/internal/config"
	"github.com/storeaudit/storeaudit/internal/logging/loki"
	"github.com/storeaudit/storeaudit/internal/logging/trail"
)

// openTrail builds the action trail from the config. With no sinks configured
// the trail discards everything. The returned close func flushes every sink.
func openTrail(cfg config.TrailConfig, runID string) (*trail.Logger, func() error, error) {
	var (
		sinks   []io.Writer
		closers []io.Closer
	)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
			return nil, nil, fmt.Errorf("create trail dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open trail file: %w", err)
		}
		sinks = append(sinks, f)
		closers = append(closers, f)
	}

	if cfg.LokiURL != "" {
		w := loki.NewWriter(loki.Config{URL: cfg.LokiURL, Labels: cfg.Labels})
		sinks = append(sinks, w)
		closers = append(closers, w)
	}

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}

	if len(sinks) == 0 {
		return trail.Nop(), closeAll, nil
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Str("run_id", runID).
		Logger()
	return trail.NewLogger(logger), closeAll, nil
}
