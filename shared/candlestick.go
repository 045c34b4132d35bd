package shared

import (
	"fmt"
	"math"
	"time"
)

// Sentiment represents the candlestick sentiment.
type Sentiment int

const (
	Neutral Sentiment = iota
	Bullish
	Bearish
)

// String stringifies the provided sentiment.
func (s Sentiment) String() string {
	switch s {
	case Neutral:
		return "neutral"
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "unknown"
	}
}

// Candlestick represents a unit candlestick for a market.
type Candlestick struct {
	Open   float64
	Low    float64
	High   float64
	Close  float64
	Volume float64
	Date   time.Time

	// Metadata fields.
	Symbol    string
	Timeframe Timeframe
}

// Validate asserts the candlestick satisfies the OHLC invariant:
// low <= min(open, close) <= max(open, close) <= high.
func (c *Candlestick) Validate() error {
	bodyLow := math.Min(c.Open, c.Close)
	bodyHigh := math.Max(c.Open, c.Close)
	if c.Low > bodyLow || bodyHigh > c.High {
		return fmt.Errorf("malformed candlestick at %s: o=%f h=%f l=%f c=%f",
			c.Date.Format(DateLayout), c.Open, c.High, c.Low, c.Close)
	}

	return nil
}

// BodyLow returns the lower bound of the candlestick body.
func (c *Candlestick) BodyLow() float64 {
	return math.Min(c.Open, c.Close)
}

// BodyHigh returns the upper bound of the candlestick body.
func (c *Candlestick) BodyHigh() float64 {
	return math.Max(c.Open, c.Close)
}

// FetchSentiment returns the provided candlestick's sentiment.
func (c *Candlestick) FetchSentiment() Sentiment {
	sentiment := c.Close - c.Open
	switch {
	case sentiment < 0:
		return Bearish
	case sentiment > 0:
		return Bullish
	default:
		return Neutral
	}
}
