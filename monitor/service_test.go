package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
	"github.com/seanott/gapmon/fetch"
	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/shared"
	"github.com/seanott/gapmon/trade"
)

func TestServiceConfigValidate(t *testing.T) {
	cancel := func() {}

	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
	}{
		{
			name: "valid live config",
			cfg: ServiceConfig{
				Symbol:      "BTC_USDT",
				Timeframes:  []shared.Timeframe{shared.OneHour},
				GapsCSVPath: "gaps/gaps.csv",
				Size:        1,
				Lookback:    15,
				Cancel:      cancel,
			},
			wantErr: false,
		},
		{
			name: "valid backtest config",
			cfg: ServiceConfig{
				Symbol:               "BTC_USDT",
				Backtest:             true,
				BacktestDataFilepath: "data/bars.csv",
				Size:                 1,
				Lookback:             15,
				Cancel:               cancel,
			},
			wantErr: false,
		},
		{
			name: "missing symbol",
			cfg: ServiceConfig{
				Timeframes:  []shared.Timeframe{shared.OneHour},
				GapsCSVPath: "gaps/gaps.csv",
				Size:        1,
				Lookback:    15,
				Cancel:      cancel,
			},
			wantErr: true,
		},
		{
			name: "backtest without data filepath",
			cfg: ServiceConfig{
				Symbol:   "BTC_USDT",
				Backtest: true,
				Size:     1,
				Lookback: 15,
				Cancel:   cancel,
			},
			wantErr: true,
		},
		{
			name: "live without timeframes",
			cfg: ServiceConfig{
				Symbol:      "BTC_USDT",
				GapsCSVPath: "gaps/gaps.csv",
				Size:        1,
				Lookback:    15,
				Cancel:      cancel,
			},
			wantErr: true,
		},
		{
			name: "non-positive size",
			cfg: ServiceConfig{
				Symbol:      "BTC_USDT",
				Timeframes:  []shared.Timeframe{shared.OneHour},
				GapsCSVPath: "gaps/gaps.csv",
				Lookback:    15,
				Cancel:      cancel,
			},
			wantErr: true,
		},
		{
			name: "lookback below detection window",
			cfg: ServiceConfig{
				Symbol:      "BTC_USDT",
				Timeframes:  []shared.Timeframe{shared.OneHour},
				GapsCSVPath: "gaps/gaps.csv",
				Size:        1,
				Lookback:    2,
				Cancel:      cancel,
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		err := test.cfg.Validate()
		if (err != nil) != test.wantErr {
			t.Errorf("%s: expected error %v, got %v", test.name, test.wantErr, err)
		}
	}
}

func TestServiceBacktestShutdown(t *testing.T) {
	dir := t.TempDir()

	cache, err := fetch.NewBarCache(&fetch.CacheConfig{
		DataDir: dir,
		Symbol:  "BTC_USDT",
		Logger:  &log.Logger,
	})
	assert.NoError(t, err)
	assert.NoError(t, cache.Merge(shared.OneHour, downGapBars()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &ServiceConfig{
		Symbol:               "BTC_USDT",
		Timeframes:           []shared.Timeframe{shared.OneHour},
		DataDir:              dir,
		GapsCSVPath:          filepath.Join(dir, "gaps", "gaps.csv"),
		Mode:                 gap.Strict,
		EntryStyle:           trade.StopEntry,
		Size:                 1,
		Lookback:             15,
		DownloadLimit:        48,
		Backtest:             true,
		BacktestTimeframe:    shared.OneHour,
		BacktestDataFilepath: cache.FilePath(shared.OneHour),
		BacktestOutputPath:   filepath.Join(dir, "trades.csv"),
		Cancel:               cancel,
	}
	assert.NoError(t, cfg.Validate())

	service, err := NewService(ctx, cfg)
	assert.NoError(t, err)

	// Ensure the service runs the backtest and shuts itself down.
	done := make(chan struct{})
	go func() {
		service.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		// do nothing.
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for backtest shutdown")
	}

	select {
	case <-ctx.Done():
		// do nothing.
	default:
		t.Fatal("expected the service to cancel its context")
	}
}

func TestServiceSanitizeShutdown(t *testing.T) {
	dir := t.TempDir()

	cache, err := fetch.NewBarCache(&fetch.CacheConfig{
		DataDir: dir,
		Symbol:  "BTC_USDT",
		Logger:  &log.Logger,
	})
	assert.NoError(t, err)
	assert.NoError(t, cache.Merge(shared.OneHour, downGapBars()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &ServiceConfig{
		Symbol:             "BTC_USDT",
		Timeframes:         []shared.Timeframe{shared.OneHour},
		DataDir:            dir,
		GapsCSVPath:        filepath.Join(dir, "gaps", "gaps.csv"),
		Mode:               gap.Strict,
		EntryStyle:         trade.StopEntry,
		Size:               1,
		Lookback:           15,
		DownloadLimit:      48,
		EnvelopeLowFactor:  0.5,
		EnvelopeHighFactor: 1.5,
		PriceFloor:         1,
		Sanitize:           true,
		Cancel:             cancel,
	}
	assert.NoError(t, cfg.Validate())

	service, err := NewService(ctx, cfg)
	assert.NoError(t, err)

	// Seed the store with a duplicate record for the pass to remove.
	start := downGapBars()[2].Date
	_, err = service.ledger.Add(shared.OneHour, start, shared.GapDown, 97, 99)
	assert.NoError(t, err)
	_, err = service.ledger.Add(shared.OneHour, start, shared.GapDown, 97, 99)
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		service.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		// do nothing.
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for sanitize shutdown")
	}

	select {
	case <-ctx.Done():
		// do nothing.
	default:
		t.Fatal("expected the service to cancel its context")
	}

	// The duplicate row should be gone from the live store.
	records, err := service.ledger.OpenRecords(shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(records), 1)
}
