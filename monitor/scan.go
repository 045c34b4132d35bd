package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/seanott/gapmon/gap"
	"github.com/seanott/gapmon/ledger"
	"github.com/seanott/gapmon/shared"
)

// ScanOptions represents the options for a one-off scan.
type ScanOptions struct {
	// Mode selects the gap detection mode for the scan.
	Mode gap.Mode
	// DownloadLatest refreshes the bar cache before scanning.
	DownloadLatest bool
	// DryRun previews detected gaps without recording or alerting.
	DryRun bool
}

// ScanResult describes the outcome of a one-off scan.
type ScanResult struct {
	// Summary is the gap summary over the lookback window.
	Summary *gap.Summary
	// Actions are the actions taken or previewed, in order.
	Actions []string
}

// RunScan runs a single on-demand scan for the provided timeframe, used by
// the command line scan mode. Detected gaps are recorded and alerted unless
// the scan is a dry run.
func (m *Monitor) RunScan(ctx context.Context, timeframe shared.Timeframe, opts *ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}

	if opts.DownloadLatest && m.cfg.Refresh != nil {
		err := m.cfg.Refresh(ctx, timeframe)
		if err != nil {
			result.Actions = append(result.Actions, fmt.Sprintf("download_failed:%v", err))
		} else {
			result.Actions = append(result.Actions, "downloaded_latest")
		}
	}

	bars, err := m.cfg.Cache.LastBars(timeframe, m.cfg.Lookback)
	if err != nil {
		return nil, err
	}

	result.Summary, err = gap.SummarizeRecent(bars, m.cfg.Lookback, opts.Mode)
	if err != nil {
		return nil, err
	}

	for idx := range result.Summary.Gaps {
		g := result.Summary.Gaps[idx]
		preview := fmt.Sprintf("Found gap %s %s %v - %v at %s", timeframe.String(),
			g.Type.String(), g.Low, g.High, g.StartTime.Format(shared.DateLayout))

		if opts.DryRun {
			result.Actions = append(result.Actions, "DRY-RUN: "+preview)
			continue
		}

		_, recorded, err := m.cfg.Ledger.FindByStart(timeframe, g.StartTime)
		if err != nil {
			return nil, err
		}
		if recorded {
			result.Actions = append(result.Actions, "ALREADY_RECORDED: "+preview)
			continue
		}

		rec, err := m.cfg.Ledger.Add(timeframe, g.StartTime, g.Type, g.Low, g.High)
		switch {
		case errors.Is(err, ledger.ErrImplausibleGap):
			result.Actions = append(result.Actions, "REJECTED: "+preview)
			continue
		case err != nil:
			return nil, err
		}

		msg := fmt.Sprintf("Gap found %s %s %s %v - %v at %s", rec.ID, timeframe.String(),
			g.Type.String(), g.Low, g.High, g.StartTime.Format(shared.DateLayout))
		result.Actions = append(result.Actions, "RECORDED: "+msg)
		m.cfg.Notifier.Send(msg)
	}

	return result, nil
}
