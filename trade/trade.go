package trade

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/seanott/gapmon/shared"
)

// EntryStyle represents how a bracket trade enters the market.
type EntryStyle int

const (
	// StopEntry waits for a future bar to cross the trigger price and
	// fills at exactly that price.
	StopEntry EntryStyle = iota
	// MarketEntry fills unconditionally at the next bar's open.
	MarketEntry
)

// String stringifies the provided entry style.
func (e EntryStyle) String() string {
	switch e {
	case StopEntry:
		return "stop"
	case MarketEntry:
		return "market"
	default:
		return "unknown"
	}
}

// ParseEntryStyle parses an entry style from its string form.
func ParseEntryStyle(str string) (EntryStyle, error) {
	switch str {
	case "stop":
		return StopEntry, nil
	case "market":
		return MarketEntry, nil
	default:
		return 0, fmt.Errorf("unknown entry style: %s", str)
	}
}

// ExitReason represents which bracket leg closed a trade.
type ExitReason int

const (
	TakeProfit ExitReason = iota
	StopLoss
)

// String stringifies the provided exit reason.
func (r ExitReason) String() string {
	switch r {
	case TakeProfit:
		return "TP"
	case StopLoss:
		return "SL"
	default:
		return "unknown"
	}
}

// Trade represents the outcome of a bracket trade around a gap signal.
// A trade that never found an exit before the stream ended stays open
// with its exit fields zeroed, it is reported rather than dropped.
type Trade struct {
	ID         string
	Symbol     string
	Timeframe  shared.Timeframe
	Direction  shared.Direction
	Size       float64
	SignalTime time.Time
	EntryTime  time.Time
	EntryPrice float64
	Closed     bool
	ExitTime   time.Time
	ExitPrice  float64
	Reason     ExitReason
	PnL        float64
}

// csvHeader is the column layout for persisted trade reports.
var csvHeader = []string{"id", "symbol", "timeframe", "direction", "signal_time",
	"entry_time", "entry_price", "exit_time", "exit_price", "reason", "pnl"}

// csvRecord formats the trade as a csv row. Open trades leave their exit
// columns empty.
func (t *Trade) csvRecord() []string {
	record := []string{
		t.ID,
		t.Symbol,
		t.Timeframe.String(),
		t.Direction.String(),
		t.SignalTime.Format(shared.DateLayout),
		t.EntryTime.Format(shared.DateLayout),
		strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
		"",
		"",
		"",
		"",
	}

	if t.Closed {
		record[7] = t.ExitTime.Format(shared.DateLayout)
		record[8] = strconv.FormatFloat(t.ExitPrice, 'f', -1, 64)
		record[9] = t.Reason.String()
		record[10] = strconv.FormatFloat(t.PnL, 'f', -1, 64)
	}

	return record
}

// WriteTradesCSV persists the provided trades to a csv file at the path.
func WriteTradesCSV(path string, trades []*Trade) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating trades csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	err = writer.Write(csvHeader)
	if err != nil {
		return fmt.Errorf("writing trades csv header: %w", err)
	}

	for idx := range trades {
		err = writer.Write(trades[idx].csvRecord())
		if err != nil {
			return fmt.Errorf("writing trade %s: %w", trades[idx].ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
