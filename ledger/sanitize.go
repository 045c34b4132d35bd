package ledger

// SanitizeResult describes the rows a sanitation pass removes.
type SanitizeResult struct {
	// Removed is the number of rows removed or previewed for removal.
	Removed int
	// Records are the parseable rows flagged for removal.
	Records []*Record
	// Corrupt is the number of unparseable rows flagged for removal.
	Corrupt int
	// BackupPath is the backup written before an applied rewrite, empty
	// on dry runs.
	BackupPath string
}

// Sanitize removes records that are duplicates of an earlier row by
// (timeframe, start time, type), sit below the absolute price floor, or
// fall outside the reference price envelope for their timeframe. Corrupt
// rows are flagged and dropped on apply. A dry run previews the removals
// without mutating the store; an apply first writes a timestamped backup
// and then rewrites the store atomically.
func (l *Ledger) Sanitize(dryRun bool) (*SanitizeResult, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	records, corrupt, err := l.readRows()
	if err != nil {
		return nil, err
	}

	result := &SanitizeResult{Corrupt: len(corrupt)}
	seen := make(map[string]bool)
	keep := make([]*Record, 0, len(records))

	for idx := range records {
		rec := records[idx]

		key := rec.dedupeKey()
		if seen[key] {
			result.Records = append(result.Records, rec)
			continue
		}

		if rec.Low < l.cfg.PriceFloor || rec.High < l.cfg.PriceFloor {
			result.Records = append(result.Records, rec)
			continue
		}

		if l.cfg.Envelope != nil {
			env, ok := l.cfg.Envelope(rec.Timeframe)
			if ok && !env.Plausible(rec.Low, rec.High, l.cfg.EnvelopeLowFactor, l.cfg.EnvelopeHighFactor) {
				result.Records = append(result.Records, rec)
				continue
			}
		}

		seen[key] = true
		keep = append(keep, rec)
	}

	result.Removed = len(result.Records) + result.Corrupt
	if dryRun || result.Removed == 0 {
		return result, nil
	}

	result.BackupPath, err = l.backup()
	if err != nil {
		return nil, err
	}

	err = l.writeRows(keep)
	if err != nil {
		return nil, err
	}

	l.cfg.Logger.Info().Msgf("sanitized gap store: removed %d rows (%d corrupt), backup at %s",
		result.Removed, result.Corrupt, result.BackupPath)

	return result, nil
}
