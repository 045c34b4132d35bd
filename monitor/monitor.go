package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/fetch"
	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/ledger"
	"github.com/seanott/gapmon/notify"
	"github.com/seanott/gapmon/shared"
	"github.com/seanott/gapmon/trade"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// maxWorkers is the maximum number of concurrent workers.
	maxWorkers = 8
)

// Config represents the gap monitor configuration.
type Config struct {
	// Symbol is the monitored market symbol.
	Symbol string
	// Mode selects the gap detection mode.
	Mode gap.Mode
	// Lookback is the recent bar window used for gap summaries.
	Lookback int
	// Cache represents the persistent bar cache.
	Cache *fetch.BarCache
	// Refresh downloads the latest bars for a timeframe into the cache.
	Refresh func(ctx context.Context, timeframe shared.Timeframe) error
	// Ledger represents the durable gap record store.
	Ledger *ledger.Ledger
	// Notifier delivers gap event messages.
	Notifier shared.Notifier
	// Simulators are the per timeframe trade simulators.
	Simulators map[shared.Timeframe]*trade.Simulator
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Monitor runs the scheduled gap scan cycle per timeframe: refresh bars,
// detect a fresh gap, track open gaps for closure and report a recent
// summary.
type Monitor struct {
	cfg            *Config
	processSignals chan shared.Timeframe
	workers        chan struct{}
	simMtx         sync.Mutex
}

// NewMonitor initializes a new gap monitor.
func NewMonitor(cfg *Config) *Monitor {
	return &Monitor{
		cfg:            cfg,
		processSignals: make(chan shared.Timeframe, bufferSize),
		workers:        make(chan struct{}, maxWorkers),
	}
}

// SendProcessSignal relays a scan request for the provided timeframe.
func (m *Monitor) SendProcessSignal(timeframe shared.Timeframe) {
	select {
	case m.processSignals <- timeframe:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("process signal channel at capacity: %d/%d",
			len(m.processSignals), bufferSize)
	}
}

// ProcessInterval runs one full scan cycle for the provided timeframe.
func (m *Monitor) ProcessInterval(ctx context.Context, timeframe shared.Timeframe) error {
	m.cfg.Logger.Info().Msgf("processing interval %s", timeframe.String())

	// Refresh the cache with the latest bars before detection and
	// monitoring, a stale cache is still scannable.
	if m.cfg.Refresh != nil {
		err := m.cfg.Refresh(ctx, timeframe)
		if err != nil {
			m.cfg.Logger.Warn().Msgf("refreshing %s bars: %v", timeframe.String(), err)
		}
	}

	window, err := m.cfg.Cache.LastBars(timeframe, gap.WindowSize)
	if err != nil {
		return err
	}
	if len(window) < gap.WindowSize {
		m.cfg.Logger.Debug().Msgf("not enough data for %s", timeframe.String())
		return nil
	}

	latest := window[len(window)-1]

	// Advance the simulator with the latest bar before signalling so a
	// gap's triggering bar cannot also fill its entry.
	sim := m.cfg.Simulators[timeframe]
	if sim != nil {
		m.simMtx.Lock()
		err = sim.Step(&latest)
		m.simMtx.Unlock()
		if err != nil {
			// Seeing the same bar again is normal when no fresh bar has
			// been published since the last cycle.
			m.cfg.Logger.Debug().Msgf("skipping simulator step for %s: %v", timeframe.String(), err)
		}
	}

	g, err := gap.Detect(window, m.cfg.Mode)
	if err != nil {
		return err
	}

	if g != nil {
		err = m.recordGap(timeframe, g, &latest, sim)
		if err != nil {
			return err
		}
	}

	err = m.monitorOpenGaps(timeframe, &latest)
	if err != nil {
		return err
	}

	return m.sendSummary(timeframe)
}

// recordGap records the provided gap if it is not already in the ledger
// and signals the simulator to fade it.
func (m *Monitor) recordGap(timeframe shared.Timeframe, g *gap.Gap, latest *shared.Candlestick, sim *trade.Simulator) error {
	_, recorded, err := m.cfg.Ledger.FindByStart(timeframe, g.StartTime)
	if err != nil {
		return err
	}
	if recorded {
		return nil
	}

	rec, err := m.cfg.Ledger.Add(timeframe, g.StartTime, g.Type, g.Low, g.High)
	switch {
	case errors.Is(err, ledger.ErrImplausibleGap):
		// Rejections are already logged by the ledger.
		return nil
	case err != nil:
		return err
	}

	m.cfg.Notifier.Send(notify.FormatGapFound(rec.ID, timeframe, g.Type, g.Low, g.High))

	if sim != nil {
		m.simMtx.Lock()
		sim.SignalGap(g, latest)
		m.simMtx.Unlock()
	}

	return nil
}

// monitorOpenGaps checks the open gaps for the timeframe against the
// provided bar and closes the filled ones.
func (m *Monitor) monitorOpenGaps(timeframe shared.Timeframe, bar *shared.Candlestick) error {
	open, err := m.cfg.Ledger.OpenRecords(timeframe)
	if err != nil {
		return err
	}

	for idx := range open {
		rec := open[idx]
		if !rec.Gap().ClosedBy(bar) {
			continue
		}

		var fillPrice float64
		switch rec.Type {
		case shared.GapUp:
			fillPrice = bar.Low
		case shared.GapDown:
			fillPrice = bar.High
		}

		err = m.cfg.Ledger.Close(rec.ID, time.Now().UTC(), fillPrice)
		if err != nil {
			return err
		}

		m.cfg.Notifier.Send(notify.FormatGapClosed(rec.ID, timeframe, rec.Type, fillPrice))
	}

	return nil
}

// sendSummary reports the gaps found over the recent lookback window.
func (m *Monitor) sendSummary(timeframe shared.Timeframe) error {
	bars, err := m.cfg.Cache.LastBars(timeframe, m.cfg.Lookback)
	if err != nil {
		return err
	}

	summary, err := gap.SummarizeRecent(bars, m.cfg.Lookback, m.cfg.Mode)
	if err != nil {
		return err
	}

	m.cfg.Notifier.Send(summary.String(timeframe, m.cfg.Lookback))
	return nil
}

// handleProcessSignal processes the provided scan signal.
func (m *Monitor) handleProcessSignal(ctx context.Context, timeframe shared.Timeframe) {
	err := m.ProcessInterval(ctx, timeframe)
	if err != nil {
		m.cfg.Logger.Error().Msgf("processing %s: %v", timeframe.String(), err)
	}
}

// Run manages the lifecycle processes of the gap monitor.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case timeframe := <-m.processSignals:
			m.workers <- struct{}{}
			go func(timeframe shared.Timeframe) {
				m.handleProcessSignal(ctx, timeframe)
				<-m.workers
			}(timeframe)
		}
	}
}
