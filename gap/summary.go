package gap

import (
	"fmt"
	"strings"

	"github.com/seanott/gapmon/shared"
)

// Summary describes the gaps found scanning a lookback window of bars.
type Summary struct {
	Count int
	Gaps  []*Gap
}

// SummarizeRecent slides a three bar window over the last lookback bars and
// collects every gap found. Fewer than three bars yields an empty summary
// rather than an error since more data may arrive later.
func SummarizeRecent(bars []shared.Candlestick, lookback int, mode Mode) (*Summary, error) {
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}

	summary := &Summary{}
	if len(bars) < WindowSize {
		return summary, nil
	}

	for idx := WindowSize; idx <= len(bars); idx++ {
		g, err := Detect(bars[idx-WindowSize:idx], mode)
		if err != nil {
			return nil, fmt.Errorf("scanning window ending at %s: %w",
				bars[idx-1].Date.Format(shared.DateLayout), err)
		}
		if g != nil {
			summary.Gaps = append(summary.Gaps, g)
		}
	}

	summary.Count = len(summary.Gaps)
	return summary, nil
}

// String formats the summary as a human readable report for notifications.
func (s *Summary) String(timeframe shared.Timeframe, lookback int) string {
	if s.Count == 0 {
		return fmt.Sprintf("No gaps found in the last %d bars for %s.", lookback, timeframe.String())
	}

	lines := make([]string, 0, s.Count+1)
	lines = append(lines, fmt.Sprintf("%d gaps in the last %d bars for %s:", s.Count, lookback, timeframe.String()))
	for idx := range s.Gaps {
		g := s.Gaps[idx]
		lines = append(lines, fmt.Sprintf("%s %s low=%v high=%v",
			g.StartTime.Format(shared.DateLayout), strings.ToUpper(g.Type.String()), g.Low, g.High))
	}

	return strings.Join(lines, "\n")
}
