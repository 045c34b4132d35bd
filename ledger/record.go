package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/shared"
)

// Status represents the lifecycle status of a gap record.
type Status int

const (
	Open Status = iota
	Closed
)

// String stringifies the provided status.
func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ParseStatus parses a status from its string form.
func ParseStatus(str string) (Status, error) {
	switch str {
	case "open":
		return Open, nil
	case "closed":
		return Closed, nil
	default:
		return 0, fmt.Errorf("unknown record status: %s", str)
	}
}

// Record represents a gap accepted into the ledger. Records are created
// open and transition to closed exactly once, they are never deleted
// except by an explicit sanitation pass.
type Record struct {
	ID         string
	Timeframe  shared.Timeframe
	StartTime  time.Time
	Type       shared.GapType
	Low        float64
	High       float64
	Status     Status
	FoundTime  time.Time
	ClosedTime time.Time
	ClosePrice float64
}

// csvHeader is the persisted column layout for gap records.
var csvHeader = []string{"id", "timeframe", "start_time", "gap_type", "gap_low",
	"gap_high", "status", "found_time", "closed_time", "close_price"}

// Gap returns the record's gap value for closure checks.
func (r *Record) Gap() *gap.Gap {
	return &gap.Gap{
		Type:      r.Type,
		Low:       r.Low,
		High:      r.High,
		StartTime: r.StartTime,
		Timeframe: r.Timeframe,
	}
}

// dedupeKey identifies a record for duplicate detection.
func (r *Record) dedupeKey() string {
	return fmt.Sprintf("%s|%s|%s", r.Timeframe.String(),
		r.StartTime.Format(time.RFC3339), r.Type.String())
}

// marshalRecord formats the record as a csv row.
func marshalRecord(rec *Record) []string {
	row := []string{
		rec.ID,
		rec.Timeframe.String(),
		rec.StartTime.Format(time.RFC3339),
		rec.Type.String(),
		strconv.FormatFloat(rec.Low, 'f', -1, 64),
		strconv.FormatFloat(rec.High, 'f', -1, 64),
		rec.Status.String(),
		rec.FoundTime.Format(time.RFC3339),
		"",
		"",
	}

	if rec.Status == Closed {
		row[8] = rec.ClosedTime.Format(time.RFC3339)
		row[9] = strconv.FormatFloat(rec.ClosePrice, 'f', -1, 64)
	}

	return row
}

// unmarshalRecord parses a csv row into a record.
func unmarshalRecord(row []string) (*Record, error) {
	if len(row) != len(csvHeader) {
		return nil, fmt.Errorf("gap record row has %d columns, expected %d", len(row), len(csvHeader))
	}

	timeframe, err := shared.ParseTimeframe(row[1])
	if err != nil {
		return nil, fmt.Errorf("parsing record timeframe: %w", err)
	}

	startTime, err := time.Parse(time.RFC3339, row[2])
	if err != nil {
		return nil, fmt.Errorf("parsing record start time: %w", err)
	}

	gapType, err := shared.ParseGapType(row[3])
	if err != nil {
		return nil, fmt.Errorf("parsing record gap type: %w", err)
	}

	low, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing record gap low: %w", err)
	}

	high, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing record gap high: %w", err)
	}

	status, err := ParseStatus(row[6])
	if err != nil {
		return nil, fmt.Errorf("parsing record status: %w", err)
	}

	foundTime, err := time.Parse(time.RFC3339, row[7])
	if err != nil {
		return nil, fmt.Errorf("parsing record found time: %w", err)
	}

	rec := &Record{
		ID:        row[0],
		Timeframe: timeframe,
		StartTime: startTime,
		Type:      gapType,
		Low:       low,
		High:      high,
		Status:    status,
		FoundTime: foundTime,
	}

	if status == Closed {
		rec.ClosedTime, err = time.Parse(time.RFC3339, row[8])
		if err != nil {
			return nil, fmt.Errorf("parsing record closed time: %w", err)
		}
		rec.ClosePrice, err = strconv.ParseFloat(row[9], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing record close price: %w", err)
		}
	}

	return rec, nil
}
