package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/perpdesk/perpdesk/internal/exchange"
	"github.com/perpdesk/perpdesk/internal/types"
)

// fakeStore is an in-memory KeyValue.
type fakeStore struct {
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte) error {
	f.data[key] = value
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

type fakeLister struct {
	instruments []exchange.Instrument
	err         error
}

func (f *fakeLister) GetInstruments(context.Context) ([]exchange.Instrument, error) {
	return f.instruments, f.err
}

func TestCache_RefreshAndLookup(t *testing.T) {
	store := newFakeStore()
	lister := &fakeLister{instruments: []exchange.Instrument{
		{InstrumentID: "BTC-USDT-SWAP", ContractValue: decimal.RequireFromString("0.01")},
		{InstrumentID: "ETH-USDT-SWAP", ContractValue: decimal.RequireFromString("0.1")},
	}}
	cache := New(store, lister, nil)

	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ctVal, err := cache.Lookup(ctx, "ETH-USDT-SWAP")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ctVal.String() != "0.1" {
		t.Errorf("contract value = %s, want 0.1", ctVal)
	}
}

func TestCache_LookupAbsentInstrument(t *testing.T) {
	store := newFakeStore()
	lister := &fakeLister{instruments: []exchange.Instrument{
		{InstrumentID: "BTC-USDT-SWAP", ContractValue: decimal.RequireFromString("0.01")},
	}}
	cache := New(store, lister, nil)

	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// A freshly refreshed blob without the instrument fails with
	// NotFound, never a crash or an empty value.
	_, err := cache.Lookup(ctx, "DOGE-USDT-SWAP")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCache_LookupEmptyCache(t *testing.T) {
	cache := New(newFakeStore(), &fakeLister{}, nil)

	_, err := cache.Lookup(context.Background(), "BTC-USDT-SWAP")
	if !errors.Is(err, types.ErrCacheMiss) {
		t.Fatalf("got %v, want ErrCacheMiss", err)
	}
}

func TestCache_LookupMalformedBlob(t *testing.T) {
	store := newFakeStore()
	store.data[Key] = []byte(`{"not":"a list"}`)
	cache := New(store, &fakeLister{}, nil)

	_, err := cache.Lookup(context.Background(), "BTC-USDT-SWAP")
	if !errors.Is(err, types.ErrInvalidFormat) {
		t.Fatalf("got %v, want ErrInvalidFormat", err)
	}
}

func TestCache_RefreshOverwrites(t *testing.T) {
	store := newFakeStore()
	lister := &fakeLister{instruments: []exchange.Instrument{
		{InstrumentID: "BTC-USDT-SWAP", ContractValue: decimal.RequireFromString("0.01")},
	}}
	cache := New(store, lister, nil)

	ctx := context.Background()
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	lister.instruments = []exchange.Instrument{
		{InstrumentID: "BTC-USDT-SWAP", ContractValue: decimal.RequireFromString("0.02")},
	}
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ctVal, err := cache.Lookup(ctx, "BTC-USDT-SWAP")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ctVal.String() != "0.02" {
		t.Errorf("contract value = %s, want 0.02 after refresh", ctVal)
	}
}

func TestCache_RefreshExchangeFailure(t *testing.T) {
	store := newFakeStore()
	lister := &fakeLister{err: &types.ExchangeError{Code: "50013", Message: "system busy"}}
	cache := New(store, lister, nil)

	if err := cache.Refresh(context.Background()); !types.IsExchangeRejected(err) {
		t.Fatalf("got %v, want exchange rejection", err)
	}
	if _, ok := store.data[Key]; ok {
		t.Error("failed refresh must not write to the cache")
	}
}
