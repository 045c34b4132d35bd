package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/monitor"
	"github.com/seanott/gapmon/shared"
	"github.com/seanott/gapmon/trade"
)

// Config is the configuration struct for the service.
type Config struct {
	// Symbol is the monitored market symbol.
	Symbol string
	// Timeframes are the monitored timeframes.
	Timeframes []string
	// DataDir is the directory holding cached bar data.
	DataDir string
	// GapsCSV is the filepath of the persisted gap record store.
	GapsCSV string
	// Mode is the gap detection mode.
	Mode string
	// EntryStyle is the simulated trade entry style.
	EntryStyle string
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
	// DiscordWebhook is the discord webhook url alerts are posted to.
	DiscordWebhook string
	// DBEndpoint is the trade database connection endpoint.
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
	BacktestTimeframe string
	// BacktestDataFilepath is the filepath to the backtest data.
	BacktestDataFilepath string
	// BacktestOutput is the filepath the backtest trade log is written to.
	BacktestOutput string

	registeredFlags map[string]bool
}

// setDefaults fills unset fields with their defaults.
func (cfg *Config) setDefaults() {
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC_USDT"
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []string{"60M", "4H", "1D"}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.GapsCSV == "" {
		cfg.GapsCSV = "gaps/gaps.csv"
	}
	if cfg.Mode == "" {
		cfg.Mode = "strict"
	}
	if cfg.EntryStyle == "" {
		cfg.EntryStyle = "stop"
	}
	if cfg.Size == 0 {
		cfg.Size = 1
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 15
	}
	if cfg.DownloadLimit == 0 {
		cfg.DownloadLimit = 48
	}
	if cfg.EnvelopeLowFactor == 0 {
		cfg.EnvelopeLowFactor = 0.5
	}
	if cfg.EnvelopeHighFactor == 0 {
		cfg.EnvelopeHighFactor = 1.5
	}
	if cfg.PriceFloor == 0 {
		cfg.PriceFloor = 1000
	}
	if cfg.BacktestTimeframe == "" {
		cfg.BacktestTimeframe = "60M"
	}
	if cfg.BacktestOutput == "" {
		cfg.BacktestOutput = "trades.csv"
	}
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	for _, timeframe := range cfg.Timeframes {
		_, err := shared.ParseTimeframe(timeframe)
		if err != nil {
			errs = errors.Join(errs, err)
		}
	}
	_, err := gap.ParseMode(cfg.Mode)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	_, err = trade.ParseEntryStyle(cfg.EntryStyle)
	if err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.Size <= 0 {
		errs = errors.Join(errs, fmt.Errorf("position size must be positive"))
	}
	if cfg.Lookback < gap.WindowSize {
		errs = errors.Join(errs, fmt.Errorf("lookback must be at least %d bars", gap.WindowSize))
	}

	switch cfg.Backtest {
	case true:
		if cfg.BacktestDataFilepath == "" {
			errs = errors.Join(errs, fmt.Errorf("backtest data filepath cannot be an empty string"))
		}
		_, err = shared.ParseTimeframe(cfg.BacktestTimeframe)
		if err != nil {
			errs = errors.Join(errs, err)
		}
	case false:
		if len(cfg.Timeframes) == 0 {
			errs = errors.Join(errs, fmt.Errorf("no timeframes provided for gap monitor service"))
		}
		if cfg.GapsCSV == "" {
			errs = errors.Join(errs, fmt.Errorf("gaps csv path cannot be an empty string"))
		}
	}

	return errs
}

// serviceConfig converts the parsed configuration into a service
// configuration.
func (cfg *Config) serviceConfig() (*monitor.ServiceConfig, error) {
	timeframes := make([]shared.Timeframe, 0, len(cfg.Timeframes))
	for _, str := range cfg.Timeframes {
		timeframe, err := shared.ParseTimeframe(str)
		if err != nil {
			return nil, err
		}
		timeframes = append(timeframes, timeframe)
	}

	mode, err := gap.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	entryStyle, err := trade.ParseEntryStyle(cfg.EntryStyle)
	if err != nil {
		return nil, err
	}

	backtestTimeframe, err := shared.ParseTimeframe(cfg.BacktestTimeframe)
	if err != nil {
		return nil, err
	}

	return &monitor.ServiceConfig{
		Symbol:               cfg.Symbol,
		Timeframes:           timeframes,
		DataDir:              cfg.DataDir,
		GapsCSVPath:          cfg.GapsCSV,
		Mode:                 mode,
		EntryStyle:           entryStyle,
		Size:                 cfg.Size,
		Lookback:             cfg.Lookback,
		DownloadLimit:        cfg.DownloadLimit,
		EnvelopeLowFactor:    cfg.EnvelopeLowFactor,
		EnvelopeHighFactor:   cfg.EnvelopeHighFactor,
		PriceFloor:           cfg.PriceFloor,
		DedupeOnAdd:          cfg.DedupeOnAdd,
		DiscordWebhookURL:    cfg.DiscordWebhook,
		DBEndpoint:           cfg.DBEndpoint,
		DBUser:               cfg.DBUser,
		DBPass:               cfg.DBPass,
		Scan:                 cfg.Scan,
		Sanitize:             cfg.Sanitize,
		DryRun:               cfg.DryRun,
		Backtest:             cfg.Backtest,
		BacktestTimeframe:    backtestTimeframe,
		BacktestDataFilepath: cfg.BacktestDataFilepath,
		BacktestOutputPath:   cfg.BacktestOutput,
	}, nil
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Float64:
		var def float64
		if defValue != "" {
			def, _ = strconv.ParseFloat(defValue, 64)
		}
		flag.Float64Var(value.(*float64), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	flags := []struct {
		name  string
		value interface{}
		usage string
	}{
		{"symbol", &cfg.Symbol, "the monitored market symbol"},
		{"timeframes", &cfg.Timeframes, "the monitored timeframes"},
		{"datadir", &cfg.DataDir, "the cached bar data directory"},
		{"gapscsv", &cfg.GapsCSV, "the gap record store filepath"},
		{"mode", &cfg.Mode, "the gap detection mode (strict, body, open, b2dir)"},
		{"entrystyle", &cfg.EntryStyle, "the simulated entry style (stop, market)"},
		{"size", &cfg.Size, "the simulated position size"},
		{"lookback", &cfg.Lookback, "the recent bar window for gap summaries"},
		{"downloadlimit", &cfg.DownloadLimit, "the number of bars fetched per refresh"},
		{"envelopelowfactor", &cfg.EnvelopeLowFactor, "the gap plausibility low factor"},
		{"envelopehighfactor", &cfg.EnvelopeHighFactor, "the gap plausibility high factor"},
		{"pricefloor", &cfg.PriceFloor, "the absolute minimum plausible gap price"},
		{"dedupeonadd", &cfg.DedupeOnAdd, "reject duplicate gap candidates at write time"},
		{"discordwebhook", &cfg.DiscordWebhook, "the discord webhook url"},
		{"dbendpoint", &cfg.DBEndpoint, "the trade database endpoint"},
		{"dbuser", &cfg.DBUser, "the trade database user"},
		{"dbpass", &cfg.DBPass, "the trade database pass"},
		{"scan", &cfg.Scan, "run a single scan pass and exit"},
		{"sanitize", &cfg.Sanitize, "run a single gap store sanitation pass and exit"},
		{"dryrun", &cfg.DryRun, "preview scan or sanitize findings without mutating anything"},
		{"backtest", &cfg.Backtest, "the backtest flag"},
		{"backtesttimeframe", &cfg.BacktestTimeframe, "the backtest data timeframe"},
		{"backtestdatafilepath", &cfg.BacktestDataFilepath, "the backtest data filepath"},
		{"backtestoutput", &cfg.BacktestOutput, "the backtest trade log filepath"},
	}
	for _, f := range flags {
		err = cfg.registerFlag(f.name, f.value, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	cfg.setDefaults()

	return cfg.Validate()
}
