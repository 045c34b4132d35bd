package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/shared"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// maxWorkers is the maximum number of concurrent workers.
	maxWorkers = 8
)

// Bar refreshes run a couple of minutes after each bar boundary so the
// exchange has the finalized bar available.
var refreshSchedules = map[shared.Timeframe]string{
	shared.OneHour:  "2 * * * *",
	shared.FourHour: "6 */4 * * *",
	shared.OneDay:   "12 0 * * *",
}

// ManagerConfig represents the fetch manager configuration.
type ManagerConfig struct {
	// Fetcher represents the market data source.
	Fetcher shared.MarketFetcher
	// Cache represents the persistent bar cache.
	Cache *BarCache
	// Symbol is the market symbol to fetch bars for.
	Symbol string
	// Timeframes are the timeframes to keep refreshed.
	Timeframes []shared.Timeframe
	// DownloadLimit is the number of latest bars fetched per refresh.
	DownloadLimit int
	// OnRefresh is invoked after a timeframe's cache is refreshed.
	OnRefresh func(timeframe shared.Timeframe)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Manager schedules periodic bar downloads per timeframe and merges them
// into the bar cache.
type Manager struct {
	cfg            *ManagerConfig
	jobScheduler   *gocron.Scheduler
	refreshSignals chan shared.Timeframe
	workers        chan struct{}
}

// NewManager initializes the fetch manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	mgr := &Manager{
		cfg:            cfg,
		jobScheduler:   gocron.NewScheduler(time.UTC),
		refreshSignals: make(chan shared.Timeframe, bufferSize),
		workers:        make(chan struct{}, maxWorkers),
	}

	for _, timeframe := range cfg.Timeframes {
		expr, ok := refreshSchedules[timeframe]
		if !ok {
			return nil, fmt.Errorf("no refresh schedule for timeframe: %s", timeframe.String())
		}

		tf := timeframe
		_, err := mgr.jobScheduler.Cron(expr).Do(func() {
			mgr.SendRefreshSignal(tf)
		})
		if err != nil {
			return nil, fmt.Errorf("scheduling %s refresh: %w", timeframe.String(), err)
		}
	}

	return mgr, nil
}

// SendRefreshSignal relays a refresh request for the provided timeframe.
func (m *Manager) SendRefreshSignal(timeframe shared.Timeframe) {
	select {
	case m.refreshSignals <- timeframe:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("refresh signal channel at capacity: %d/%d",
			len(m.refreshSignals), bufferSize)
	}
}

// Refresh downloads the latest bars for the provided timeframe and merges
// them into the cache.
func (m *Manager) Refresh(ctx context.Context, timeframe shared.Timeframe) error {
	bars, err := m.cfg.Fetcher.FetchKlines(ctx, m.cfg.Symbol, timeframe, m.cfg.DownloadLimit)
	if err != nil {
		return fmt.Errorf("refreshing %s bars for %s: %w", timeframe.String(), m.cfg.Symbol, err)
	}

	err = m.cfg.Cache.Merge(timeframe, bars)
	if err != nil {
		return fmt.Errorf("caching %s bars for %s: %w", timeframe.String(), m.cfg.Symbol, err)
	}

	return nil
}

// handleRefreshSignal processes the provided refresh signal.
func (m *Manager) handleRefreshSignal(ctx context.Context, timeframe shared.Timeframe) {
	err := m.Refresh(ctx, timeframe)
	if err != nil {
		m.cfg.Logger.Error().Msgf("refreshing %s: %v", timeframe.String(), err)
		return
	}

	if m.cfg.OnRefresh != nil {
		m.cfg.OnRefresh(timeframe)
	}
}

// Run manages the lifecycle processes of the fetch manager.
func (m *Manager) Run(ctx context.Context) {
	m.jobScheduler.StartAsync()
	defer m.jobScheduler.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case timeframe := <-m.refreshSignals:
			m.workers <- struct{}{}
			go func(timeframe shared.Timeframe) {
				m.handleRefreshSignal(ctx, timeframe)
				<-m.workers
			}(timeframe)
		}
	}
}
