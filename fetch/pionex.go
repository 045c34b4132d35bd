package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/seanott/gapmon/shared"
	"github.com/tidwall/gjson"
)

const (
	// defaultBaseURL is the production Pionex API base url.
	defaultBaseURL = "https://api.pionex.com"
	// klinesPath is the Pionex market klines endpoint.
	klinesPath = "/api/v1/market/klines"
)

// PionexConfig represents the configuration for the Pionex client.
type PionexConfig struct {
	// BaseURL overrides the Pionex API base url, mostly for tests.
	BaseURL string
}

// PionexClient represents the Pionex exchange API client.
type PionexClient struct {
	cfg   *PionexConfig
	httpc http.Client
	buf   *bytes.Buffer
}

// Ensure the PionexClient implements the MarketFetcher interface.
var _ shared.MarketFetcher = (*PionexClient)(nil)

// NewPionexClient instantiates a new Pionex client.
func NewPionexClient(cfg *PionexConfig) *PionexClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	return &PionexClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 10},
		buf:   bytes.NewBuffer(make([]byte, 0, 512)),
	}
}

// formURL creates full urls including parameters for the api.
func (c *PionexClient) formURL(path string, params string) string {
	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString(path)
	c.buf.WriteString("?")
	c.buf.WriteString(params)
	url := c.buf.String()
	c.buf.Reset()

	return url
}

// ParseCandlesticks parses candlesticks from the provided json data.
// Bars are returned sorted ascending by time.
func (c *PionexClient) ParseCandlesticks(data []gjson.Result, symbol string, timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	candles := make([]shared.Candlestick, len(data))

	for idx := range data {
		var candle shared.Candlestick

		candle.Open = data[idx].Get("open").Float()
		candle.Low = data[idx].Get("low").Float()
		candle.High = data[idx].Get("high").Float()
		candle.Close = data[idx].Get("close").Float()
		candle.Volume = data[idx].Get("volume").Float()

		candle.Symbol = symbol
		candle.Timeframe = timeframe

		ms := data[idx].Get("time").Int()
		if ms <= 0 {
			return nil, fmt.Errorf("parsing candlestick time: %s", data[idx].Get("time").String())
		}
		candle.Date = time.UnixMilli(ms).UTC()

		candles[idx] = candle
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})

	return candles, nil
}

// fetchKlinesRaw fetches raw kline json from the exchange.
func (c *PionexClient) fetchKlinesRaw(ctx context.Context, params url.Values) ([]gjson.Result, error) {
	formedURL := c.formURL(klinesPath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating klines request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching klines: %w", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if !gjson.GetBytes(body, "result").Bool() {
		return nil, fmt.Errorf("klines request rejected: %s", string(body))
	}

	return gjson.GetBytes(body, "data.klines").Array(), nil
}

// FetchKlines fetches up to limit bars for the provided symbol and timeframe.
func (c *PionexClient) FetchKlines(ctx context.Context, symbol string, timeframe shared.Timeframe, limit int) ([]shared.Candlestick, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", timeframe.String())
	params.Add("limit", strconv.Itoa(limit))

	data, err := c.fetchKlinesRaw(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetching %s klines for %s: %w", timeframe.String(), symbol, err)
	}

	return c.ParseCandlesticks(data, symbol, timeframe)
}

// FetchKlinesRange fetches bars for the provided symbol and timeframe bounded
// by the provided time range. The exchange caps responses at 500 bars, callers
// needing more should page on the last returned bar time.
func (c *PionexClient) FetchKlinesRange(ctx context.Context, symbol string, timeframe shared.Timeframe, start time.Time, end time.Time) ([]shared.Candlestick, error) {
	const rangeLimit = 500

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", timeframe.String())
	params.Add("limit", strconv.Itoa(rangeLimit))
	params.Add("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	if !end.IsZero() {
		params.Add("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}

	data, err := c.fetchKlinesRaw(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetching %s klines range for %s: %w", timeframe.String(), symbol, err)
	}

	return c.ParseCandlesticks(data, symbol, timeframe)
}
