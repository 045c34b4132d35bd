package gap

import (
	"fmt"
	"time"

	"github.com/seanott/gapmon/shared"
)

const (
	// WindowSize is the number of consecutive bars inspected for a gap.
	WindowSize = 3
)

// Mode represents a gap detection strategy over a three bar window.
type Mode int

const (
	// Strict requires the first two bars to overlap on their full ranges
	// before comparing the third bar against the middle bar's extremes.
	Strict Mode = iota
	// Body mirrors Strict but compares candle bodies instead of full ranges.
	Body
	// Open compares only the third bar's open against the middle bar's
	// full range, with no overlap precondition.
	Open
	// B2Dir derives the candidate direction from the middle bar's candle
	// direction and requires the third bar to clear the first bar entirely.
	B2Dir
)

// String stringifies the provided detection mode.
func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Body:
		return "body"
	case Open:
		return "open"
	case B2Dir:
		return "b2dir"
	default:
		return "unknown"
	}
}

// ParseMode parses a detection mode from its string form.
func ParseMode(str string) (Mode, error) {
	switch str {
	case "strict":
		return Strict, nil
	case "body":
		return Body, nil
	case "open":
		return Open, nil
	case "b2dir":
		return B2Dir, nil
	default:
		return 0, fmt.Errorf("unknown detection mode: %s", str)
	}
}

// Gap represents a price discontinuity between bars where no trading
// occurred in an intervening range. An up gap closes when price retraces
// to its low, a down gap when price advances to its high.
type Gap struct {
	Type      shared.GapType
	Low       float64
	High      float64
	StartTime time.Time
	Timeframe shared.Timeframe
}

// ClosedBy reports whether the provided bar fills the gap.
func (g *Gap) ClosedBy(candle *shared.Candlestick) bool {
	switch g.Type {
	case shared.GapUp:
		return candle.Low <= g.Low
	case shared.GapDown:
		return candle.High >= g.High
	default:
		return false
	}
}

// validateWindow asserts the window is exactly three well formed bars in
// strictly increasing timestamp order.
func validateWindow(window []shared.Candlestick) error {
	if len(window) != WindowSize {
		return fmt.Errorf("detection window must be %d bars, got %d", WindowSize, len(window))
	}

	for idx := range window {
		if err := window[idx].Validate(); err != nil {
			return err
		}
	}

	for idx := 1; idx < len(window); idx++ {
		if !window[idx].Date.After(window[idx-1].Date) {
			return fmt.Errorf("detection window bars out of order: %s does not follow %s",
				window[idx].Date.Format(shared.DateLayout), window[idx-1].Date.Format(shared.DateLayout))
		}
	}

	return nil
}

// newGap assembles a gap from the provided bounds and triggering bar.
func newGap(gapType shared.GapType, low float64, high float64, trigger *shared.Candlestick) *Gap {
	return &Gap{
		Type:      gapType,
		Low:       low,
		High:      high,
		StartTime: trigger.Date,
		Timeframe: trigger.Timeframe,
	}
}

// Detect inspects a three bar window for a gap using the provided mode.
// It returns nil when no gap is present and errors on malformed windows.
// The modes are mutually exclusive classification strategies; at most one
// direction is ever returned per call.
func Detect(window []shared.Candlestick, mode Mode) (*Gap, error) {
	err := validateWindow(window)
	if err != nil {
		return nil, err
	}

	b1, b2, b3 := &window[0], &window[1], &window[2]

	switch mode {
	case Strict:
		return detectRange(b1.Low, b1.High, b2.Low, b2.High, b3.Low, b3.High, b3), nil
	case Body:
		return detectRange(b1.BodyLow(), b1.BodyHigh(), b2.BodyLow(), b2.BodyHigh(),
			b3.BodyLow(), b3.BodyHigh(), b3), nil
	case Open:
		return detectOpen(b2, b3), nil
	case B2Dir:
		return detectB2Dir(b1, b2, b3), nil
	default:
		return nil, fmt.Errorf("unknown detection mode: %d", mode)
	}
}

// detectRange classifies a gap from the provided range bounds. Used by both
// the strict and body modes, which differ only in the ranges compared.
func detectRange(b1Low, b1High, b2Low, b2High, b3Low, b3High float64, trigger *shared.Candlestick) *Gap {
	// The first two bars overlapping asserts the gap is new rather than a
	// continuation of a prior gap.
	overlap := !(b1High < b2Low || b1Low > b2High)
	if !overlap {
		return nil
	}

	switch {
	case b3Low > b2High:
		return newGap(shared.GapUp, b2High, b3Low, trigger)
	case b3High < b2Low:
		return newGap(shared.GapDown, b3High, b2Low, trigger)
	default:
		return nil
	}
}

// detectOpen classifies a gap from the third bar's open relative to the
// middle bar's full range.
func detectOpen(b2 *shared.Candlestick, b3 *shared.Candlestick) *Gap {
	switch {
	case b3.Open > b2.High:
		return newGap(shared.GapUp, b2.High, b3.Open, b3)
	case b3.Open < b2.Low:
		return newGap(shared.GapDown, b3.Open, b2.Low, b3)
	default:
		return nil
	}
}

// detectB2Dir classifies a gap using the middle bar's candle direction and
// non-intersection between the third and first bars. The middle bar's own
// range plays no part in the bound computation.
func detectB2Dir(b1 *shared.Candlestick, b2 *shared.Candlestick, b3 *shared.Candlestick) *Gap {
	switch b2.FetchSentiment() {
	case shared.Bullish:
		if b3.Low > b1.High {
			return newGap(shared.GapUp, b1.High, b3.Low, b3)
		}
	case shared.Bearish:
		if b3.High < b1.Low {
			return newGap(shared.GapDown, b3.High, b1.Low, b3)
		}
	}

	return nil
}
