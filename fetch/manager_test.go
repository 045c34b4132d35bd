package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
	"github.com/seanott/gapmon/shared"
)

// fakeFetcher serves a fixed bar set.
type fakeFetcher struct {
	bars  []shared.Candlestick
	calls int
}

func (f *fakeFetcher) FetchKlines(ctx context.Context, symbol string, timeframe shared.Timeframe, limit int) ([]shared.Candlestick, error) {
	f.calls++
	return f.bars, nil
}

func TestManagerRefresh(t *testing.T) {
	cache := setupCache(t)
	fetcher := &fakeFetcher{bars: []shared.Candlestick{bar(0, 50100), bar(1, 50150)}}

	mgr, err := NewManager(&ManagerConfig{
		Fetcher:       fetcher,
		Cache:         cache,
		Symbol:        "BTC_USDT",
		Timeframes:    []shared.Timeframe{shared.OneHour, shared.FourHour, shared.OneDay},
		DownloadLimit: 48,
		Logger:        &log.Logger,
	})
	assert.NoError(t, err)

	err = mgr.Refresh(context.Background(), shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, fetcher.calls, 1)

	bars, err := cache.LoadBars(shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(bars), 2)
}

func TestManagerRun(t *testing.T) {
	cache := setupCache(t)
	fetcher := &fakeFetcher{bars: []shared.Candlestick{bar(0, 50100)}}

	refreshed := make(chan shared.Timeframe, 1)
	mgr, err := NewManager(&ManagerConfig{
		Fetcher:       fetcher,
		Cache:         cache,
		Symbol:        "BTC_USDT",
		Timeframes:    []shared.Timeframe{shared.OneHour},
		DownloadLimit: 48,
		OnRefresh: func(timeframe shared.Timeframe) {
			refreshed <- timeframe
		},
		Logger: &log.Logger,
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	mgr.SendRefreshSignal(shared.OneHour)

	select {
	case timeframe := <-refreshed:
		assert.Equal(t, timeframe, shared.OneHour)
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for refresh")
	}

	bars, err := cache.LoadBars(shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(bars), 1)

	cancel()
	select {
	case <-done:
		// do nothing.
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for manager shutdown")
	}
}

func TestManagerUnknownTimeframeSchedule(t *testing.T) {
	cache := setupCache(t)

	_, err := NewManager(&ManagerConfig{
		Fetcher:    &fakeFetcher{},
		Cache:      cache,
		Symbol:     "BTC_USDT",
		Timeframes: []shared.Timeframe{shared.Timeframe(99)},
		Logger:     &log.Logger,
	})
	assert.Error(t, err)
}
