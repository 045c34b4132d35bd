package monitor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
	"github.com/seanott/gapmon/fetch"
	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/ledger"
	"github.com/seanott/gapmon/shared"
	"github.com/seanott/gapmon/trade"
)

var baseTime = time.Date(2025, 12, 21, 9, 0, 0, 0, time.UTC)

// fakeNotifier records delivered messages.
type fakeNotifier struct {
	mtx  sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Send(message string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.msgs = append(f.msgs, message)
}

func (f *fakeNotifier) messages() []string {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	msgs := make([]string, len(f.msgs))
	copy(msgs, f.msgs)
	return msgs
}

func candle(open, high, low, clos float64, offset int) shared.Candlestick {
	return shared.Candlestick{
		Open:      open,
		High:      high,
		Low:       low,
		Close:     clos,
		Volume:    1,
		Date:      baseTime.Add(time.Duration(offset) * time.Hour),
		Symbol:    "BTC_USDT",
		Timeframe: shared.OneHour,
	}
}

// downGapBars yields three bars forming a strict down gap bounded by
// 97 (b3 high) and 99 (b2 low).
func downGapBars() []shared.Candlestick {
	return []shared.Candlestick{
		candle(103, 108, 102, 107, 0),
		candle(100, 105, 99, 104, 1),
		candle(95, 97, 92, 96, 2),
	}
}

type monitorHarness struct {
	monitor  *Monitor
	cache    *fetch.BarCache
	ledger   *ledger.Ledger
	notifier *fakeNotifier
	sim      *trade.Simulator
	refreshc int
}

func setupMonitor(t *testing.T) *monitorHarness {
	t.Helper()

	h := &monitorHarness{notifier: &fakeNotifier{}}

	cache, err := fetch.NewBarCache(&fetch.CacheConfig{
		DataDir: filepath.Join(t.TempDir(), "data"),
		Symbol:  "BTC_USDT",
		Logger:  &log.Logger,
	})
	assert.NoError(t, err)
	h.cache = cache

	h.ledger, err = ledger.NewLedger(&ledger.Config{
		CSVPath:            filepath.Join(t.TempDir(), "gaps", "gaps.csv"),
		EnvelopeLowFactor:  0.5,
		EnvelopeHighFactor: 1.5,
		PriceFloor:         1,
		Envelope: func(timeframe shared.Timeframe) (ledger.Envelope, bool) {
			bars, err := cache.LoadBars(timeframe)
			if err != nil {
				return ledger.Envelope{}, false
			}
			return ledger.NewEnvelope(bars)
		},
		Logger: &log.Logger,
	})
	assert.NoError(t, err)

	h.sim = trade.NewSimulator(&trade.SimulatorConfig{
		Symbol:     "BTC_USDT",
		EntryStyle: trade.StopEntry,
		Size:       1,
		Logger:     &log.Logger,
	})

	h.monitor = NewMonitor(&Config{
		Symbol:   "BTC_USDT",
		Mode:     gap.Strict,
		Lookback: 15,
		Cache:    cache,
		Refresh: func(ctx context.Context, timeframe shared.Timeframe) error {
			h.refreshc++
			return nil
		},
		Ledger:     h.ledger,
		Notifier:   h.notifier,
		Simulators: map[shared.Timeframe]*trade.Simulator{shared.OneHour: h.sim},
		Logger:     &log.Logger,
	})

	return h
}

func TestProcessInterval(t *testing.T) {
	h := setupMonitor(t)
	ctx := context.Background()

	err := h.cache.Merge(shared.OneHour, downGapBars())
	assert.NoError(t, err)

	// First cycle detects the down gap, records it, alerts and arms the
	// simulator.
	err = h.monitor.ProcessInterval(ctx, shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, h.refreshc, 1)

	open, err := h.ledger.OpenRecords(shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(open), 1)
	assert.Equal(t, open[0].ID, "G00001")
	assert.Equal(t, open[0].Low, float64(97))
	assert.Equal(t, open[0].High, float64(99))

	msgs := h.notifier.messages()
	assert.Equal(t, len(msgs), 2)
	assert.Equal(t, msgs[0], "Gap found G00001 60M down 97 - 99")
	assert.True(t, strings.HasPrefix(msgs[1], "1 gaps in the last 15 bars for 60M:"))
	assert.Equal(t, h.sim.State(), trade.PendingEntry)

	// A re-run without fresh bars neither duplicates the record nor
	// re-alerts the gap.
	err = h.monitor.ProcessInterval(ctx, shared.OneHour)
	assert.NoError(t, err)

	open, err = h.ledger.OpenRecords(shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(open), 1)

	// The next bar trades back through the gap: the entry fills at its
	// trigger and the gap closes at the bar high.
	err = h.cache.Merge(shared.OneHour, []shared.Candlestick{candle(98, 100, 96, 99, 3)})
	assert.NoError(t, err)

	err = h.monitor.ProcessInterval(ctx, shared.OneHour)
	assert.NoError(t, err)

	open, err = h.ledger.OpenRecords(shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(open), 0)

	msgs = h.notifier.messages()
	var closedMsg bool
	for _, msg := range msgs {
		if msg == "Gap closed G00001 60M down gap filled at 100" {
			closedMsg = true
		}
	}
	assert.True(t, closedMsg)

	trades := h.sim.Trades()
	assert.Equal(t, len(trades), 1)
	assert.Equal(t, trades[0].Direction, shared.Long)
	assert.Equal(t, trades[0].EntryPrice, float64(97))
}

func TestProcessIntervalNotEnoughData(t *testing.T) {
	h := setupMonitor(t)

	// A thin cache is not an error, the cycle simply waits for more bars.
	err := h.cache.Merge(shared.OneHour, downGapBars()[:2])
	assert.NoError(t, err)

	err = h.monitor.ProcessInterval(context.Background(), shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(h.notifier.messages()), 0)
}

func TestRunScan(t *testing.T) {
	h := setupMonitor(t)
	ctx := context.Background()

	err := h.cache.Merge(shared.OneHour, downGapBars())
	assert.NoError(t, err)

	// Dry runs preview without recording or alerting.
	result, err := h.monitor.RunScan(ctx, shared.OneHour, &ScanOptions{
		Mode:   gap.Strict,
		DryRun: true,
	})
	assert.NoError(t, err)
	assert.Equal(t, result.Summary.Count, 1)
	assert.Equal(t, len(result.Actions), 1)
	assert.True(t, strings.HasPrefix(result.Actions[0], "DRY-RUN: Found gap 60M down 97 - 99"))

	open, err := h.ledger.OpenRecords(shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(open), 0)
	assert.Equal(t, len(h.notifier.messages()), 0)

	// A live scan records and alerts the gap.
	result, err = h.monitor.RunScan(ctx, shared.OneHour, &ScanOptions{
		Mode:           gap.Strict,
		DownloadLatest: true,
	})
	assert.NoError(t, err)
	assert.Equal(t, len(result.Actions), 2)
	assert.Equal(t, result.Actions[0], "downloaded_latest")
	assert.True(t, strings.HasPrefix(result.Actions[1], "RECORDED: Gap found G00001 60M down 97 - 99"))
	assert.Equal(t, len(h.notifier.messages()), 1)

	// Rescanning the same bars reports the gap as already recorded.
	result, err = h.monitor.RunScan(ctx, shared.OneHour, &ScanOptions{Mode: gap.Strict})
	assert.NoError(t, err)
	assert.Equal(t, len(result.Actions), 1)
	assert.True(t, strings.HasPrefix(result.Actions[0], "ALREADY_RECORDED: Found gap 60M down 97 - 99"))
}

func TestMonitorRun(t *testing.T) {
	h := setupMonitor(t)

	err := h.cache.Merge(shared.OneHour, downGapBars())
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.monitor.Run(ctx)
		close(done)
	}()

	h.monitor.SendProcessSignal(shared.OneHour)

	deadline := time.After(time.Second * 5)
	for {
		open, err := h.ledger.OpenRecords(shared.OneHour)
		assert.NoError(t, err)
		if len(open) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for scan cycle")
		case <-time.After(time.Millisecond * 50):
		}
	}

	cancel()
	select {
	case <-done:
		// do nothing.
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for monitor shutdown")
	}
}
