// Package stream feeds market data into the shared store: it pulls
// candle history from the exchange, writes the rows to persistent
// storage and publishes encrypted snapshots for downstream consumers.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/perpdesk/perpdesk/internal/cache"
	"github.com/perpdesk/perpdesk/internal/metrics"
	"github.com/perpdesk/perpdesk/internal/types"
)

// CandleSource provides candle history for an (instrument, timeframe)
// pair, oldest first.
type CandleSource interface {
	GetCandles(ctx context.Context, instrument, timeframe string, limit int) ([]types.PriceRow, error)
}

// RowWriter persists candle rows to per-pair storage.
type RowWriter interface {
	WritePriceRows(ctx context.Context, instrument, timeframe string, rows []types.PriceRow) error
}

// SnapshotStore holds the latest published snapshot per pair and
// notifies subscribers of updates.
type SnapshotStore interface {
	Set(ctx context.Context, key string, value []byte) error
	Publish(ctx context.Context, channel string, value []byte) error
}

// Config holds streamer settings.
type Config struct {
	Instruments []string
	Timeframes  []string
	// Depth is how many candles each refresh requests.
	Depth int
	// Interval is the pause between refresh sweeps.
	Interval time.Duration
}

// Streamer periodically refreshes every instrument x timeframe pair.
type Streamer struct {
	cfg      Config
	source   CandleSource
	writer   RowWriter
	store    SnapshotStore
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// New creates a streamer.
func New(cfg Config, source CandleSource, writer RowWriter, store SnapshotStore, logger *slog.Logger) *Streamer {
	if cfg.Depth == 0 {
		cfg.Depth = 300
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		cfg:      cfg,
		source:   source,
		writer:   writer,
		store:    store,
		recorder: metrics.NewRecorder(),
		logger:   logger,
	}
}

// Run sweeps all pairs once immediately, then on every interval tick
// until ctx is cancelled. Per-pair failures are logged and do not stop
// the loop.
func (s *Streamer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.RefreshAll(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshAll refreshes every configured pair, continuing past
// individual failures.
func (s *Streamer) RefreshAll(ctx context.Context) {
	for _, inst := range s.cfg.Instruments {
		for _, tf := range s.cfg.Timeframes {
			if err := s.Refresh(ctx, inst, tf); err != nil {
				s.logger.Error("pair refresh failed",
					"instrument", inst, "timeframe", tf, "err", err)
			}
		}
	}
}

// Refresh pulls candle history for one pair, persists the rows and
// publishes the snapshot. The snapshot write and the pub/sub notify
// both happen even when persistence fails: downstream consumers prefer
// fresh prices over a complete archive.
func (s *Streamer) Refresh(ctx context.Context, instrument, timeframe string) error {
	rows, err := s.source.GetCandles(ctx, instrument, timeframe, s.cfg.Depth)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	var persistErr error
	if err := s.writer.WritePriceRows(ctx, instrument, timeframe, rows); err != nil {
		persistErr = fmt.Errorf("persist rows: %w", err)
		s.logger.Warn("price row persistence failed",
			"instrument", instrument, "timeframe", timeframe, "err", err)
	} else {
		s.recorder.RecordPriceRows(instrument, timeframe, len(rows))
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.store.Set(ctx, cache.SnapshotKey(instrument, timeframe), payload); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if err := s.store.Publish(ctx, cache.ChannelName(instrument, timeframe), payload); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	s.logger.Debug("pair refreshed",
		"instrument", instrument, "timeframe", timeframe, "rows", len(rows))
	return persistErr
}
