package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/shared"
)

const (
	// idPrefix prefixes every ledger record id.
	idPrefix = "G"
	// idWidth is the zero padded width of record ids.
	idWidth = 5
	// backupTimeLayout is the format layout for backup file timestamps.
	backupTimeLayout = "20060102T150405Z"
)

// ErrImplausibleGap marks a gap candidate rejected by plausibility
// validation. The envelope check is heuristic, rejections are reported
// and logged rather than raised as failures.
var ErrImplausibleGap = errors.New("implausible gap bounds")

// Config represents the gap ledger configuration.
type Config struct {
	// CSVPath is the filepath of the persisted gap record store.
	CSVPath string
	// EnvelopeLowFactor scales the reference series minimum for the
	// plausibility floor.
	EnvelopeLowFactor float64
	// EnvelopeHighFactor scales the reference series maximum for the
	// plausibility ceiling.
	EnvelopeHighFactor float64
	// PriceFloor is the absolute minimum plausible gap price used by
	// sanitation.
	PriceFloor float64
	// DedupeOnAdd rejects candidates matching an existing record's
	// (timeframe, start time, type) key at write time.
	DedupeOnAdd bool
	// Envelope resolves the reference price envelope for a timeframe.
	Envelope EnvelopeFunc
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Ledger owns the durable set of gap records across process restarts.
// Access is single-writer, concurrent processes must be serialized by
// the caller.
type Ledger struct {
	cfg *Config
	mtx sync.Mutex
}

// NewLedger initializes a new gap ledger, creating the backing store
// with a header row when absent.
func NewLedger(cfg *Config) (*Ledger, error) {
	l := &Ledger{cfg: cfg}

	_, err := os.Stat(cfg.CSVPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking gap store: %w", err)
		}

		dir := filepath.Dir(cfg.CSVPath)
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return nil, fmt.Errorf("creating gap store directory: %w", err)
		}

		err = l.writeRows(nil)
		if err != nil {
			return nil, fmt.Errorf("creating gap store: %w", err)
		}
	}

	return l, nil
}

// readRows reads all rows from the store, returning parsed records and
// the raw rows that failed to parse. Corrupt rows are skipped with a
// warning rather than failing the whole read.
func (l *Ledger) readRows() ([]*Record, [][]string, error) {
	file, err := os.Open(l.cfg.CSVPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening gap store: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var records []*Record
	var corrupt [][]string
	var header bool
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading gap store: %w", err)
		}

		if !header {
			header = true
			continue
		}

		rec, err := unmarshalRecord(row)
		if err != nil {
			l.cfg.Logger.Warn().Msgf("skipping corrupt gap record row: %v", err)
			corrupt = append(corrupt, row)
			continue
		}

		records = append(records, rec)
	}

	return records, corrupt, nil
}

// writeRows stages the provided records to a temporary file and atomically
// renames it into place.
func (l *Ledger) writeRows(records []*Record) error {
	dir := filepath.Dir(l.cfg.CSVPath)
	tmp, err := os.CreateTemp(dir, "gaps.*.tmp")
	if err != nil {
		return fmt.Errorf("staging gap store: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	err = writer.Write(csvHeader)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing gap store header: %w", err)
	}

	for idx := range records {
		err = writer.Write(marshalRecord(records[idx]))
		if err != nil {
			tmp.Close()
			return fmt.Errorf("writing gap record %s: %w", records[idx].ID, err)
		}
	}

	writer.Flush()
	err = writer.Error()
	if err != nil {
		tmp.Close()
		return fmt.Errorf("flushing gap store: %w", err)
	}

	err = tmp.Sync()
	if err != nil {
		tmp.Close()
		return fmt.Errorf("syncing gap store: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing staged gap store: %w", err)
	}

	err = os.Rename(tmp.Name(), l.cfg.CSVPath)
	if err != nil {
		return fmt.Errorf("replacing gap store: %w", err)
	}

	return nil
}

// backup copies the live store to a timestamped backup file and returns
// its path.
func (l *Ledger) backup() (string, error) {
	data, err := os.ReadFile(l.cfg.CSVPath)
	if err != nil {
		return "", fmt.Errorf("reading gap store for backup: %w", err)
	}

	ext := filepath.Ext(l.cfg.CSVPath)
	base := strings.TrimSuffix(l.cfg.CSVPath, ext)
	path := fmt.Sprintf("%s.backup.%s%s", base, time.Now().UTC().Format(backupTimeLayout), ext)

	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return "", fmt.Errorf("writing gap store backup: %w", err)
	}

	return path, nil
}

// nextID generates a fresh monotonically increasing record id. The id is
// based on the highest existing id rather than the row count, a count
// based id can collide with live rows once sanitation removes earlier ones.
func nextID(records []*Record) string {
	var highest int
	for idx := range records {
		n, err := strconv.Atoi(strings.TrimPrefix(records[idx].ID, idPrefix))
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}

	return fmt.Sprintf("%s%0*d", idPrefix, idWidth, highest+1)
}

// Add validates the provided gap candidate and persists it as an open
// record. Implausible candidates are rejected with ErrImplausibleGap.
func (l *Ledger) Add(timeframe shared.Timeframe, startTime time.Time, gapType shared.GapType,
	low float64, high float64) (*Record, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if low <= 0 || high <= 0 {
		l.cfg.Logger.Warn().Msgf("rejecting gap candidate with non-positive bounds: %f - %f", low, high)
		return nil, fmt.Errorf("gap bounds %f - %f: %w", low, high, ErrImplausibleGap)
	}

	if l.cfg.Envelope != nil {
		env, ok := l.cfg.Envelope(timeframe)
		if ok && !env.Plausible(low, high, l.cfg.EnvelopeLowFactor, l.cfg.EnvelopeHighFactor) {
			l.cfg.Logger.Warn().Msgf("rejecting gap candidate %f - %f outside envelope [%f, %f] for %s",
				low, high, l.cfg.EnvelopeLowFactor*env.Min, l.cfg.EnvelopeHighFactor*env.Max, timeframe.String())
			return nil, fmt.Errorf("gap bounds %f - %f for %s: %w", low, high, timeframe.String(), ErrImplausibleGap)
		}
	}

	records, _, err := l.readRows()
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Timeframe: timeframe,
		StartTime: startTime,
		Type:      gapType,
		Low:       low,
		High:      high,
		Status:    Open,
		FoundTime: time.Now().UTC(),
	}

	if l.cfg.DedupeOnAdd {
		for idx := range records {
			if records[idx].dedupeKey() == rec.dedupeKey() {
				return records[idx], nil
			}
		}
	}

	rec.ID = nextID(records)
	records = append(records, rec)
	err = l.writeRows(records)
	if err != nil {
		return nil, err
	}

	l.cfg.Logger.Info().Msgf("recorded gap %s %s %s %v-%v", rec.ID, timeframe.String(),
		gapType.String(), low, high)

	return rec, nil
}

// Close transitions the identified record from open to closed. Closing a
// missing or already closed record is a no-op.
func (l *Ledger) Close(id string, closedTime time.Time, closePrice float64) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	records, _, err := l.readRows()
	if err != nil {
		return err
	}

	var updated bool
	for idx := range records {
		if records[idx].ID == id && records[idx].Status == Open {
			records[idx].Status = Closed
			records[idx].ClosedTime = closedTime
			records[idx].ClosePrice = closePrice
			updated = true
		}
	}

	if !updated {
		return nil
	}

	err = l.writeRows(records)
	if err != nil {
		return err
	}

	l.cfg.Logger.Info().Msgf("gap %s marked closed at %s price %v", id,
		closedTime.Format(time.RFC3339), closePrice)

	return nil
}

// OpenRecords returns the open records for the provided timeframe.
func (l *Ledger) OpenRecords(timeframe shared.Timeframe) ([]*Record, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	records, _, err := l.readRows()
	if err != nil {
		return nil, err
	}

	open := make([]*Record, 0, len(records))
	for idx := range records {
		if records[idx].Status == Open && records[idx].Timeframe == timeframe {
			open = append(open, records[idx])
		}
	}

	return open, nil
}

// FindByStart returns the record matching the provided timeframe and start
// time, used by callers to pre-check whether a candidate is already
// recorded before adding it.
func (l *Ledger) FindByStart(timeframe shared.Timeframe, startTime time.Time) (*Record, bool, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	records, _, err := l.readRows()
	if err != nil {
		return nil, false, err
	}

	for idx := range records {
		if records[idx].Timeframe == timeframe && records[idx].StartTime.Equal(startTime) {
			return records[idx], true, nil
		}
	}

	return nil, false, nil
}
