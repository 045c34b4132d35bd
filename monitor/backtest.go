package monitor

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/fetch"
	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/shared"
	"github.com/seanott/gapmon/trade"
)

// BacktestConfig represents the backtest configuration.
type BacktestConfig struct {
	// Symbol is the backtested market symbol.
	Symbol string
	// Timeframe is the timeframe of the backtest data.
	Timeframe shared.Timeframe
	// Mode selects the gap detection mode.
	Mode gap.Mode
	// EntryStyle selects stop or market-next-bar entries.
	EntryStyle trade.EntryStyle
	// Size is the position size used for profit and loss.
	Size float64
	// DataFilePath is the filepath to the backtest bar data.
	DataFilePath string
	// OutputPath is the filepath the trade log is written to, empty
	// skips the write.
	OutputPath string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// BacktestResult describes the outcome of a backtest run.
type BacktestResult struct {
	// Trades is the ordered trade log, including a still-open trade.
	Trades []*trade.Trade
	// Wins is the number of closed trades with non-negative profit.
	Wins int
	// Losses is the number of closed trades with negative profit.
	Losses int
	// TotalPnL is the summed profit and loss of closed trades.
	TotalPnL float64
}

// RunBacktest replays the bar file through the gap detector and trade
// simulator, writing the resulting trade log to the output path.
func RunBacktest(cfg *BacktestConfig) (*BacktestResult, error) {
	bars, err := fetch.ReadBarsCSV(cfg.DataFilePath, cfg.Symbol, cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("loading backtest data: %w", err)
	}
	if len(bars) < gap.WindowSize {
		return nil, fmt.Errorf("backtest data has %d bars, need at least %d", len(bars), gap.WindowSize)
	}

	sim := trade.NewSimulator(&trade.SimulatorConfig{
		Symbol:     cfg.Symbol,
		EntryStyle: cfg.EntryStyle,
		Size:       cfg.Size,
		Logger:     cfg.Logger,
	})

	for idx := range bars {
		bar := bars[idx]
		err = sim.Step(&bar)
		if err != nil {
			return nil, fmt.Errorf("replaying bar stream: %w", err)
		}

		// Signal after stepping so the gap's triggering bar cannot also
		// fill the entry it creates.
		if idx >= gap.WindowSize-1 {
			g, err := gap.Detect(bars[idx-gap.WindowSize+1:idx+1], cfg.Mode)
			if err != nil {
				return nil, fmt.Errorf("scanning bar stream: %w", err)
			}
			if g != nil {
				sim.SignalGap(g, &bar)
			}
		}
	}

	result := &BacktestResult{Trades: sim.Trades()}
	for idx := range result.Trades {
		tr := result.Trades[idx]
		if !tr.Closed {
			continue
		}
		result.TotalPnL += tr.PnL
		if tr.PnL >= 0 {
			result.Wins++
		} else {
			result.Losses++
		}
	}

	if cfg.OutputPath != "" {
		err = trade.WriteTradesCSV(cfg.OutputPath, result.Trades)
		if err != nil {
			return nil, fmt.Errorf("writing backtest trades: %w", err)
		}
	}

	cfg.Logger.Info().Msgf("backtest for %s (%s) done: %d trades, %d wins, %d losses, pnl %f",
		cfg.Symbol, cfg.Timeframe.String(), len(result.Trades), result.Wins, result.Losses, result.TotalPnL)

	return result, nil
}
