package fetch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/shared"
)

// cacheHeader is the persisted column layout for cached bars.
var cacheHeader = []string{"time", "open", "high", "low", "close", "volume"}

// CacheConfig represents the bar cache configuration.
type CacheConfig struct {
	// DataDir is the directory holding the cached bar files.
	DataDir string
	// Symbol is the market symbol the cache covers.
	Symbol string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// BarCache persists fetched bars per timeframe as csv files, keyed by
// symbol and timeframe so multiple timeframes can be cached side by side.
type BarCache struct {
	cfg *CacheConfig
}

// NewBarCache initializes a new bar cache, creating the data directory
// when absent.
func NewBarCache(cfg *CacheConfig) (*BarCache, error) {
	err := os.MkdirAll(cfg.DataDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("creating bar cache directory: %w", err)
	}

	return &BarCache{cfg: cfg}, nil
}

// FilePath returns the cache file path for the provided timeframe.
func (c *BarCache) FilePath(timeframe shared.Timeframe) string {
	name := fmt.Sprintf("%s_%s_pionex.csv", strings.ToLower(c.cfg.Symbol),
		strings.ToLower(timeframe.String()))
	return filepath.Join(c.cfg.DataDir, name)
}

// ReadBarsCSV reads bars from the csv file at the provided path.
func ReadBarsCSV(path string, symbol string, timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bar file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	var bars []shared.Candlestick
	var header bool
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading bar file: %w", err)
		}

		if !header {
			header = true
			continue
		}

		bar, err := unmarshalBar(row, symbol, timeframe)
		if err != nil {
			return nil, fmt.Errorf("parsing bar: %w", err)
		}

		bars = append(bars, bar)
	}

	return bars, nil
}

// LoadBars loads all cached bars for the provided timeframe, sorted
// ascending by time. A missing cache file yields no bars.
func (c *BarCache) LoadBars(timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	path := c.FilePath(timeframe)
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking bar cache: %w", err)
	}

	return ReadBarsCSV(path, c.cfg.Symbol, timeframe)
}

// LastBars loads the most recent n cached bars for the provided timeframe.
func (c *BarCache) LastBars(timeframe shared.Timeframe, n int) ([]shared.Candlestick, error) {
	bars, err := c.LoadBars(timeframe)
	if err != nil {
		return nil, err
	}

	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}

	return bars, nil
}

// Merge merges the provided bars into the cache for the provided timeframe.
// Bars sharing a timestamp with a cached bar replace it, the merged set is
// kept sorted ascending and written atomically.
func (c *BarCache) Merge(timeframe shared.Timeframe, bars []shared.Candlestick) error {
	existing, err := c.LoadBars(timeframe)
	if err != nil {
		return err
	}

	byTime := make(map[int64]shared.Candlestick, len(existing)+len(bars))
	for idx := range existing {
		byTime[existing[idx].Date.UnixMilli()] = existing[idx]
	}
	for idx := range bars {
		byTime[bars[idx].Date.UnixMilli()] = bars[idx]
	}

	merged := make([]shared.Candlestick, 0, len(byTime))
	for _, bar := range byTime {
		merged = append(merged, bar)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date.Before(merged[j].Date)
	})

	err = c.writeBars(timeframe, merged)
	if err != nil {
		return err
	}

	c.cfg.Logger.Debug().Msgf("merged %d bars into %s cache (total: %d)",
		len(bars), timeframe.String(), len(merged))

	return nil
}

// writeBars stages the provided bars to a temporary file and atomically
// renames it into place.
func (c *BarCache) writeBars(timeframe shared.Timeframe, bars []shared.Candlestick) error {
	tmp, err := os.CreateTemp(c.cfg.DataDir, "bars.*.tmp")
	if err != nil {
		return fmt.Errorf("staging bar cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	err = writer.Write(cacheHeader)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing bar cache header: %w", err)
	}

	for idx := range bars {
		err = writer.Write(marshalBar(&bars[idx]))
		if err != nil {
			tmp.Close()
			return fmt.Errorf("writing cached bar: %w", err)
		}
	}

	writer.Flush()
	err = writer.Error()
	if err != nil {
		tmp.Close()
		return fmt.Errorf("flushing bar cache: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing staged bar cache: %w", err)
	}

	err = os.Rename(tmp.Name(), c.FilePath(timeframe))
	if err != nil {
		return fmt.Errorf("replacing bar cache: %w", err)
	}

	return nil
}

// marshalBar formats the bar as a csv row.
func marshalBar(bar *shared.Candlestick) []string {
	return []string{
		bar.Date.UTC().Format(shared.DateLayout),
		strconv.FormatFloat(bar.Open, 'f', -1, 64),
		strconv.FormatFloat(bar.High, 'f', -1, 64),
		strconv.FormatFloat(bar.Low, 'f', -1, 64),
		strconv.FormatFloat(bar.Close, 'f', -1, 64),
		strconv.FormatFloat(bar.Volume, 'f', -1, 64),
	}
}

// unmarshalBar parses a csv row into a bar.
func unmarshalBar(row []string, symbol string, timeframe shared.Timeframe) (shared.Candlestick, error) {
	var bar shared.Candlestick

	if len(row) != len(cacheHeader) {
		return bar, fmt.Errorf("cached bar row has %d columns, expected %d", len(row), len(cacheHeader))
	}

	date, err := time.Parse(shared.DateLayout, row[0])
	if err != nil {
		return bar, fmt.Errorf("parsing cached bar time: %w", err)
	}

	open, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return bar, fmt.Errorf("parsing cached bar open: %w", err)
	}

	high, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return bar, fmt.Errorf("parsing cached bar high: %w", err)
	}

	low, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return bar, fmt.Errorf("parsing cached bar low: %w", err)
	}

	clos, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return bar, fmt.Errorf("parsing cached bar close: %w", err)
	}

	volume, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return bar, fmt.Errorf("parsing cached bar volume: %w", err)
	}

	bar = shared.Candlestick{
		Open:      open,
		High:      high,
		Low:       low,
		Close:     clos,
		Volume:    volume,
		Date:      date.UTC(),
		Symbol:    symbol,
		Timeframe: timeframe,
	}

	return bar, nil
}
