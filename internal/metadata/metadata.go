// Package metadata maintains the instrument -> contract value mapping.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/perpdesk/perpdesk/internal/exchange"
	"github.com/perpdesk/perpdesk/internal/metrics"
	"github.com/perpdesk/perpdesk/internal/types"
)

// Key is the fixed cache key holding the contract listing blob.
const Key = "contracts_prices"

// KeyValue is the slice of the cache store the metadata cache needs.
type KeyValue interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// InstrumentLister fetches the exchange's contract listing.
type InstrumentLister interface {
	GetInstruments(ctx context.Context) ([]exchange.Instrument, error)
}

// Cache reads and refreshes contract metadata through the shared
// encrypted cache. The blob is replaced wholesale on refresh, so
// readers see either the previous snapshot or the new one, never a
// torn write. Staleness is caller-managed: Lookup never refreshes.
type Cache struct {
	store    KeyValue
	exchange InstrumentLister
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// New creates a contract metadata cache.
func New(store KeyValue, ex InstrumentLister, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:    store,
		exchange: ex,
		recorder: metrics.NewRecorder(),
		logger:   logger,
	}
}

// Refresh fetches the full instrument list from the exchange and
// overwrites the cached blob under the fixed key.
func (c *Cache) Refresh(ctx context.Context) error {
	instruments, err := c.exchange.GetInstruments(ctx)
	if err != nil {
		return fmt.Errorf("fetch instruments: %w", err)
	}

	blob, err := json.Marshal(instruments)
	if err != nil {
		return fmt.Errorf("marshal instruments: %w", err)
	}

	if err := c.store.Set(ctx, Key, blob); err != nil {
		return fmt.Errorf("cache instruments: %w", err)
	}

	c.recorder.RecordMetadataRefresh()
	c.logger.Info("contract metadata refreshed", "instruments", len(instruments))
	return nil
}

// Lookup returns the contract value for an instrument from the cached
// blob. An empty cache is ErrCacheMiss; a malformed blob or an absent
// instrument both resolve to the same not-found taxonomy.
func (c *Cache) Lookup(ctx context.Context, instrument string) (decimal.Decimal, error) {
	blob, ok, err := c.store.Get(ctx, Key)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("contract metadata: %w", types.ErrCacheMiss)
	}

	var instruments []exchange.Instrument
	if err := json.Unmarshal(blob, &instruments); err != nil {
		return decimal.Zero, fmt.Errorf("contract metadata: %w", types.ErrInvalidFormat)
	}

	for _, inst := range instruments {
		if inst.InstrumentID == instrument {
			return inst.ContractValue, nil
		}
	}
	return decimal.Zero, fmt.Errorf("contract metadata for %q: %w", instrument, types.ErrNotFound)
}
