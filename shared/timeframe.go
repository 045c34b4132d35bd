package shared

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the format layout for parsing bar dates.
	DateLayout = "2006-01-02 15:04:05"
)

// Timeframe represents the market data time period.
type Timeframe int

const (
	OneHour Timeframe = iota
	FourHour
	OneDay
)

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	switch t {
	case OneHour:
		return "60M"
	case FourHour:
		return "4H"
	case OneDay:
		return "1D"
	default:
		return "unknown"
	}
}

// ParseTimeframe parses a timeframe from its string form.
func ParseTimeframe(str string) (Timeframe, error) {
	switch str {
	case "60M", "1h", "60m":
		return OneHour, nil
	case "4H", "4h":
		return FourHour, nil
	case "1D", "1d", "daily":
		return OneDay, nil
	default:
		return 0, fmt.Errorf("unknown timeframe: %s", str)
	}
}

// Duration returns the duration covered by a single bar of the timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case OneHour:
		return time.Hour
	case FourHour:
		return time.Hour * 4
	case OneDay:
		return time.Hour * 24
	default:
		return 0
	}
}
