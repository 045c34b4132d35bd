package trade

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/shared"
)

// State represents the simulator's bracket state machine position.
type State int

const (
	Idle State = iota
	PendingEntry
	OpenPosition
)

// String stringifies the provided state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingEntry:
		return "pending entry"
	case OpenPosition:
		return "open"
	default:
		return "unknown"
	}
}

// pendingOrder tracks an entry order waiting to fill.
type pendingOrder struct {
	trade   *Trade
	trigger float64
	tpPrice float64
	slPrice float64
}

// openPosition tracks a filled entry waiting on one of its bracket exits.
type openPosition struct {
	trade   *Trade
	tpPrice float64
	slPrice float64
}

// SimulatorConfig represents the trade simulator configuration.
type SimulatorConfig struct {
	// Symbol is the traded symbol.
	Symbol string
	// EntryStyle selects stop or market-next-bar entries.
	EntryStyle EntryStyle
	// Size is the position size used for profit and loss.
	Size float64
	// OnClose is invoked with each finalized trade.
	OnClose func(trade *Trade)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Simulator drives a deterministic bracket trade state machine over an
// ordered bar stream. One position is in flight at a time, gap signals
// arriving while an entry is pending or a position is open are ignored.
type Simulator struct {
	cfg      *SimulatorConfig
	pending  *pendingOrder
	position *openPosition
	trades   []*Trade
	lastTime time.Time
}

// NewSimulator initializes a new trade simulator.
func NewSimulator(cfg *SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:    cfg,
		trades: []*Trade{},
	}
}

// State returns the simulator's current state.
func (s *Simulator) State() State {
	switch {
	case s.position != nil:
		return OpenPosition
	case s.pending != nil:
		return PendingEntry
	default:
		return Idle
	}
}

// Trades returns the ordered trade log, including a still-open trade.
func (s *Simulator) Trades() []*Trade {
	return s.trades
}

// SignalGap registers a bracket entry for the provided gap, faded toward
// its fill: a down gap opens a long that targets the gap high, an up gap
// opens a short that targets the gap low. The entry trigger sits on the
// triggering bar's extreme facing the gap, the stop on its far extreme.
// Returns false when a pending or open position blocks the signal.
func (s *Simulator) SignalGap(g *gap.Gap, trigger *shared.Candlestick) bool {
	if s.State() != Idle {
		return false
	}

	trade := &Trade{
		ID:         uuid.New().String(),
		Symbol:     s.cfg.Symbol,
		Timeframe:  g.Timeframe,
		Size:       s.cfg.Size,
		SignalTime: g.StartTime,
	}

	order := &pendingOrder{trade: trade}
	switch g.Type {
	case shared.GapDown:
		trade.Direction = shared.Long
		order.trigger = trigger.High
		order.tpPrice = g.High
		order.slPrice = trigger.Low
	case shared.GapUp:
		trade.Direction = shared.Short
		order.trigger = trigger.Low
		order.tpPrice = g.Low
		order.slPrice = trigger.High
	default:
		return false
	}

	s.pending = order
	s.cfg.Logger.Info().Msgf("signal %s: %s entry %s @ %f, tp %f, sl %f",
		trade.SignalTime.Format(shared.DateLayout), trade.Direction.String(),
		s.cfg.EntryStyle.String(), order.trigger, order.tpPrice, order.slPrice)

	return true
}

// Step advances the state machine by one bar. A bar that fills an entry is
// not also inspected for exits, intrabar sequencing past the fill is
// unknowable from OHLC data.
func (s *Simulator) Step(candle *shared.Candlestick) error {
	err := candle.Validate()
	if err != nil {
		return err
	}

	if !s.lastTime.IsZero() && !candle.Date.After(s.lastTime) {
		return fmt.Errorf("bar stream out of order: %s does not follow %s",
			candle.Date.Format(shared.DateLayout), s.lastTime.Format(shared.DateLayout))
	}
	s.lastTime = candle.Date

	switch {
	case s.position != nil:
		s.checkExits(candle)
	case s.pending != nil:
		s.checkEntry(candle)
	}

	return nil
}

// checkEntry tests whether the pending entry order fills on the bar.
func (s *Simulator) checkEntry(candle *shared.Candlestick) {
	order := s.pending

	switch s.cfg.EntryStyle {
	case MarketEntry:
		// Market orders fill at the next bar's open unconditionally.
		s.fill(order, candle.Date, candle.Open)
	case StopEntry:
		switch order.trade.Direction {
		case shared.Long:
			if candle.High >= order.trigger {
				// Stop fills execute at the exact trigger price.
				s.fill(order, candle.Date, order.trigger)
			}
		case shared.Short:
			if candle.Low <= order.trigger {
				s.fill(order, candle.Date, order.trigger)
			}
		}
	}
}

// fill converts the pending order into an open position.
func (s *Simulator) fill(order *pendingOrder, date time.Time, price float64) {
	order.trade.EntryTime = date
	order.trade.EntryPrice = price
	s.trades = append(s.trades, order.trade)
	s.position = &openPosition{
		trade:   order.trade,
		tpPrice: order.tpPrice,
		slPrice: order.slPrice,
	}
	s.pending = nil

	s.cfg.Logger.Info().Msgf("entry filled %s @ %f", order.trade.Direction.String(), price)
}

// checkExits tests both bracket exits against the bar. When take profit and
// stop loss trigger on the same bar the exit with the smaller combined
// distance from the bar's open and relevant extreme wins, ties favor take
// profit. This approximates which level price reached first without intrabar
// tick data; it is a heuristic, not ground truth.
func (s *Simulator) checkExits(candle *shared.Candlestick) {
	pos := s.position
	var tpHit, slHit bool
	var dTP, dSL float64

	switch pos.trade.Direction {
	case shared.Long:
		tpHit = candle.High >= pos.tpPrice
		slHit = candle.Low <= pos.slPrice
		dTP = math.Abs(candle.High-pos.tpPrice) + math.Abs(candle.Open-pos.tpPrice)
		dSL = math.Abs(candle.Low-pos.slPrice) + math.Abs(candle.Open-pos.slPrice)
	case shared.Short:
		tpHit = candle.Low <= pos.tpPrice
		slHit = candle.High >= pos.slPrice
		dTP = math.Abs(candle.Low-pos.tpPrice) + math.Abs(candle.Open-pos.tpPrice)
		dSL = math.Abs(candle.High-pos.slPrice) + math.Abs(candle.Open-pos.slPrice)
	}

	switch {
	case tpHit && !slHit:
		s.exit(candle.Date, pos.tpPrice, TakeProfit)
	case slHit && !tpHit:
		s.exit(candle.Date, pos.slPrice, StopLoss)
	case tpHit && slHit:
		if dTP <= dSL {
			s.exit(candle.Date, pos.tpPrice, TakeProfit)
		} else {
			s.exit(candle.Date, pos.slPrice, StopLoss)
		}
	}
}

// exit finalizes the open position with the provided exit details.
func (s *Simulator) exit(date time.Time, price float64, reason ExitReason) {
	trade := s.position.trade
	trade.Closed = true
	trade.ExitTime = date
	trade.ExitPrice = price
	trade.Reason = reason

	switch trade.Direction {
	case shared.Long:
		trade.PnL = (trade.ExitPrice - trade.EntryPrice) * trade.Size
	case shared.Short:
		trade.PnL = (trade.EntryPrice - trade.ExitPrice) * trade.Size
	}

	s.position = nil
	s.cfg.Logger.Info().Msgf("exit %s @ %f, pnl %f", reason.String(), price, trade.PnL)

	if s.cfg.OnClose != nil {
		s.cfg.OnClose(trade)
	}
}
