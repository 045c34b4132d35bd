package ledger

import (
	"github.com/seanott/gapmon/shared"
)

// Envelope represents the price range of a reference bar series, used to
// bound plausible gap prices for a timeframe.
type Envelope struct {
	Min float64
	Max float64
}

// EnvelopeFunc resolves the reference price envelope for a timeframe.
// The boolean reports whether reference data was available.
type EnvelopeFunc func(timeframe shared.Timeframe) (Envelope, bool)

// NewEnvelope computes the price envelope of the provided bars.
func NewEnvelope(bars []shared.Candlestick) (Envelope, bool) {
	if len(bars) == 0 {
		return Envelope{}, false
	}

	env := Envelope{Min: bars[0].Low, Max: bars[0].High}
	for idx := range bars {
		if bars[idx].Low < env.Min {
			env.Min = bars[idx].Low
		}
		if bars[idx].High > env.Max {
			env.Max = bars[idx].High
		}
	}

	return env, true
}

// Plausible reports whether the provided gap bounds sit within the
// envelope scaled by the provided factors.
func (e Envelope) Plausible(low float64, high float64, lowFactor float64, highFactor float64) bool {
	return low >= lowFactor*e.Min && high <= highFactor*e.Max
}
