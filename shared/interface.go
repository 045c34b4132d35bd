package shared

import (
	"context"
)

// MarketFetcher defines the requirements for fetching market bar data.
type MarketFetcher interface {
	// FetchKlines fetches up to limit bars for the provided symbol and
	// timeframe, sorted ascending by time and deduplicated by timestamp.
	FetchKlines(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]Candlestick, error)
}

// Notifier defines the requirements for delivering human readable
// event messages. Delivery failures must never propagate to callers.
type Notifier interface {
	// Send relays the provided message for delivery.
	Send(message string)
}
