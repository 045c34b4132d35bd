package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/seanott/gapmon/database"
	"github.com/seanott/gapmon/fetch"
	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/ledger"
	"github.com/seanott/gapmon/notify"
	"github.com/seanott/gapmon/shared"
	"github.com/seanott/gapmon/trade"
)

// ServiceConfig represents the configuration struct for the gap monitor
// service.
type ServiceConfig struct {
	// Symbol is the monitored market symbol.
	Symbol string
	// Timeframes are the monitored timeframes.
	Timeframes []shared.Timeframe
	// DataDir is the directory holding cached bar data.
	DataDir string
	// GapsCSVPath is the filepath of the persisted gap record store.
	GapsCSVPath string
	// Mode selects the gap detection mode.
	Mode gap.Mode
	// EntryStyle selects stop or market-next-bar entries for simulated trades.
	EntryStyle trade.EntryStyle
	// Size is the simulated position size.
	Size float64
	// Lookback is the recent bar window used for gap summaries.
	Lookback int
	// DownloadLimit is the number of latest bars fetched per refresh.
	DownloadLimit int
	// EnvelopeLowFactor scales the reference minimum for gap plausibility.
	EnvelopeLowFactor float64
	// EnvelopeHighFactor scales the reference maximum for gap plausibility.
	EnvelopeHighFactor float64
	// PriceFloor is the absolute minimum plausible gap price.
	PriceFloor float64
	// DedupeOnAdd rejects duplicate gap candidates at ledger write time.
	DedupeOnAdd bool
	// DiscordWebhookURL is the discord webhook messages are posted to.
	DiscordWebhookURL string
	// DBEndpoint is the trade database connection endpoint, empty disables
	// trade persistence.
	DBEndpoint string
	// DBUser is the trade database user.
	DBUser string
	// DBPass is the trade database user pass.
	DBPass string
	// Scan runs a single scan pass per timeframe and exits.
	Scan bool
	// Sanitize runs a single gap store sanitation pass and exits.
	Sanitize bool
	// DryRun previews scan or sanitize findings without mutating anything.
	DryRun bool
	// Backtest is the backtesting flag.
	Backtest bool
	// BacktestTimeframe is the timeframe of the backtest data.
	BacktestTimeframe shared.Timeframe
	// BacktestDataFilepath is the filepath to the backtest data.
	BacktestDataFilepath string
	// BacktestOutputPath is the filepath the backtest trade log is written to.
	BacktestOutputPath string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *ServiceConfig) Validate() error {
	var errs error

	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}
	switch cfg.Backtest {
	case true:
		if cfg.BacktestDataFilepath == "" {
			errs = errors.Join(errs, fmt.Errorf("backtest data filepath cannot be an empty string"))
		}
	case false:
		if len(cfg.Timeframes) == 0 {
			errs = errors.Join(errs, fmt.Errorf("no timeframes provided for gap monitor service"))
		}
		if cfg.GapsCSVPath == "" {
			errs = errors.Join(errs, fmt.Errorf("gaps csv path cannot be an empty string"))
		}
	}
	if cfg.Size <= 0 {
		errs = errors.Join(errs, fmt.Errorf("position size must be positive"))
	}
	if cfg.Lookback < gap.WindowSize {
		errs = errors.Join(errs, fmt.Errorf("lookback must be at least %d bars", gap.WindowSize))
	}

	return errs
}

// Service represents the gap monitor service.
type Service struct {
	cfg          *ServiceConfig
	fetchManager *fetch.Manager
	tradeManager *trade.Manager
	monitor      *Monitor
	ledger       *ledger.Ledger
	notifier     shared.Notifier
	logger       *zerolog.Logger
	wg           sync.WaitGroup
}

// NewService initializes a new gap monitor service.
func NewService(ctx context.Context, cfg *ServiceConfig) (*Service, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "gapmon").Logger()

	notifierLogger := logger.With().Str("component", "notifier").Logger()
	notifier := notify.NewDiscordNotifier(&notify.DiscordConfig{
		WebhookURL: cfg.DiscordWebhookURL,
		Logger:     &notifierLogger,
	})

	cacheLogger := logger.With().Str("component", "barcache").Logger()
	cache, err := fetch.NewBarCache(&fetch.CacheConfig{
		DataDir: cfg.DataDir,
		Symbol:  cfg.Symbol,
		Logger:  &cacheLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bar cache: %w", err)
	}

	ledgerLogger := logger.With().Str("component", "ledger").Logger()
	gapLedger, err := ledger.NewLedger(&ledger.Config{
		CSVPath:            cfg.GapsCSVPath,
		EnvelopeLowFactor:  cfg.EnvelopeLowFactor,
		EnvelopeHighFactor: cfg.EnvelopeHighFactor,
		PriceFloor:         cfg.PriceFloor,
		DedupeOnAdd:        cfg.DedupeOnAdd,
		Envelope: func(timeframe shared.Timeframe) (ledger.Envelope, bool) {
			bars, err := cache.LoadBars(timeframe)
			if err != nil {
				ledgerLogger.Warn().Msgf("loading reference bars for %s: %v", timeframe.String(), err)
				return ledger.Envelope{}, false
			}
			return ledger.NewEnvelope(bars)
		},
		Logger: &ledgerLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gap ledger: %w", err)
	}

	var db *database.Database
	if cfg.DBEndpoint != "" {
		dbLogger := logger.With().Str("component", "database").Logger()
		db, err = database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.DBEndpoint,
			User:     cfg.DBUser,
			Pass:     cfg.DBPass,
			Logger:   &dbLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating database: %w", err)
		}
	}

	tradeMgrLogger := logger.With().Str("component", "trademanager").Logger()
	tradeMgr := trade.NewManager(&trade.ManagerConfig{
		Notify: notifier.Send,
		PersistClosedTrade: func(tr *trade.Trade) error {
			if db == nil {
				return nil
			}
			return db.PersistClosedTrade(ctx, tr)
		},
		Logger: &tradeMgrLogger,
	})

	simulators := make(map[shared.Timeframe]*trade.Simulator, len(cfg.Timeframes))
	for _, timeframe := range cfg.Timeframes {
		simLogger := logger.With().Str("component", "simulator").
			Str("timeframe", timeframe.String()).Logger()
		simulators[timeframe] = trade.NewSimulator(&trade.SimulatorConfig{
			Symbol:     cfg.Symbol,
			EntryStyle: cfg.EntryStyle,
			Size:       cfg.Size,
			OnClose:    tradeMgr.SendClosedTrade,
			Logger:     &simLogger,
		})
	}

	pionex := fetch.NewPionexClient(&fetch.PionexConfig{})

	var monitor *Monitor

	fetchMgrLogger := logger.With().Str("component", "fetchmanager").Logger()
	fetchMgr, err := fetch.NewManager(&fetch.ManagerConfig{
		Fetcher:       pionex,
		Cache:         cache,
		Symbol:        cfg.Symbol,
		Timeframes:    cfg.Timeframes,
		DownloadLimit: cfg.DownloadLimit,
		OnRefresh: func(timeframe shared.Timeframe) {
			if monitor != nil {
				monitor.SendProcessSignal(timeframe)
			}
		},
		Logger: &fetchMgrLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fetch manager: %w", err)
	}

	monitorLogger := logger.With().Str("component", "monitor").Logger()
	monitor = NewMonitor(&Config{
		Symbol:     cfg.Symbol,
		Mode:       cfg.Mode,
		Lookback:   cfg.Lookback,
		Cache:      cache,
		Refresh:    fetchMgr.Refresh,
		Ledger:     gapLedger,
		Notifier:   notifier,
		Simulators: simulators,
		Logger:     &monitorLogger,
	})

	service := &Service{
		cfg:          cfg,
		fetchManager: fetchMgr,
		tradeManager: tradeMgr,
		monitor:      monitor,
		ledger:       gapLedger,
		notifier:     notifier,
		logger:       &logger,
	}

	return service, nil
}

// Monitor returns the service's gap monitor.
func (s *Service) Monitor() *Monitor {
	return s.monitor
}

// runBacktest runs the configured backtest and shuts the service down.
func (s *Service) runBacktest() {
	backtestLogger := s.logger.With().Str("component", "backtest").Logger()
	_, err := RunBacktest(&BacktestConfig{
		Symbol:       s.cfg.Symbol,
		Timeframe:    s.cfg.BacktestTimeframe,
		Mode:         s.cfg.Mode,
		EntryStyle:   s.cfg.EntryStyle,
		Size:         s.cfg.Size,
		DataFilePath: s.cfg.BacktestDataFilepath,
		OutputPath:   s.cfg.BacktestOutputPath,
		Logger:       &backtestLogger,
	})
	if err != nil {
		s.logger.Error().Msgf("running backtest: %v", err)
	}

	s.cfg.Cancel()
}

// runScan runs a single scan pass over the configured timeframes and shuts
// the service down.
func (s *Service) runScan(ctx context.Context) {
	for _, timeframe := range s.cfg.Timeframes {
		result, err := s.monitor.RunScan(ctx, timeframe, &ScanOptions{
			Mode:           s.cfg.Mode,
			DownloadLatest: true,
			DryRun:         s.cfg.DryRun,
		})
		if err != nil {
			s.logger.Error().Msgf("scanning %s: %v", timeframe.String(), err)
			continue
		}

		for _, action := range result.Actions {
			s.logger.Info().Msgf("%s: %s", timeframe.String(), action)
		}
	}

	s.cfg.Cancel()
}

// runSanitize runs a single gap store sanitation pass and shuts the
// service down.
func (s *Service) runSanitize() {
	result, err := s.ledger.Sanitize(s.cfg.DryRun)
	if err != nil {
		s.logger.Error().Msgf("sanitizing gap store: %v", err)
		s.cfg.Cancel()
		return
	}

	for _, rec := range result.Records {
		s.logger.Info().Msgf("flagged %s %s %s %v - %v", rec.ID,
			rec.Timeframe.String(), rec.Type.String(), rec.Low, rec.High)
	}
	s.logger.Info().Msgf("sanitize (dryrun=%v): %d rows removed, %d corrupt",
		s.cfg.DryRun, result.Removed, result.Corrupt)

	s.cfg.Cancel()
}

// Run handles the lifecycle processes of the gap monitor service.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.Backtest {
		s.runBacktest()
		return
	}

	if s.cfg.Sanitize {
		s.runSanitize()
		return
	}

	if s.cfg.Scan {
		s.runScan(ctx)
		return
	}

	s.wg.Add(3)

	go func() {
		s.fetchManager.Run(ctx)
		s.wg.Done()
	}()

	go func() {
		s.tradeManager.Run(ctx)
		s.wg.Done()
	}()

	go func() {
		s.monitor.Run(ctx)
		s.wg.Done()
	}()

	s.notifier.Send(fmt.Sprintf("%s gap monitor started", s.cfg.Symbol))

	// Run an initial pass so a fresh start does not wait for the first
	// scheduled refresh.
	for _, timeframe := range s.cfg.Timeframes {
		s.monitor.SendProcessSignal(timeframe)
	}

	s.wg.Wait()
	s.notifier.Send(fmt.Sprintf("%s gap monitor stopped", s.cfg.Symbol))
}
