package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/trade"
)

const (
	// SQL statements.
	createTradeTableSQL = "CREATE TABLE IF NOT EXISTS trade (id TEXT PRIMARY KEY, symbol TEXT, timeframe TEXT, direction INTEGER, size INTEGER, entryprice INTEGER, exitprice INTEGER, reason INTEGER, pnl INTEGER, signaledon INTEGER, enteredon INTEGER, exitedon INTEGER)"
	createMetadataSQL   = "CREATE TABLE IF NOT EXISTS metadata (id TEXT PRIMARY KEY, total INTEGER, wins INTEGER, winpnl INTEGER, losses INTEGER, losspnl INTEGER, createdon INTEGER)"
	persistTradeSQL     = "INSERT INTO trade(id, symbol, timeframe, direction, size, entryprice, exitprice, reason, pnl, signaledon, enteredon, exitedon) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)"
	findMetadataSQL     = "SELECT * FROM metadata where id = ?"
	updateMetadataSQL   = "UPDATE metadata SET total = total + 1, wins = wins + ?, winpnl = winpnl + ?, losses = losses + ?, losspnl = losspnl + ? WHERE id = ?"
	persistMetadataSQL  = "INSERT INTO metadata(id, total, wins, winpnl, losses, losspnl, createdon) VALUES(?,?,?,?,?,?,?)"
)

// TradeStorer defines the requirements for storing trades.
type TradeStorer interface {
	// PersistClosedTrade stores the provided closed trade to the database.
	PersistClosedTrade(ctx context.Context, trade *trade.Trade) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Database represents the database connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the TradeStorer interface.
var _ TradeStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createMetadataSQL},
		{SQL: createTradeTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// generateMetadataID generates deterministic ids for metadata using the
// current month, week and symbol.
func generateMetadataID(currentTime time.Time, symbol string) string {
	month := currentTime.Month().String()
	week := currentTime.Day() / 7

	id := fmt.Sprintf("%s-Week-%d-%s", month, week, symbol)
	return id
}

// PersistClosedTrade stores the provided closed trade to the database and
// folds its result into the weekly metadata aggregate for the symbol.
func (db *Database) PersistClosedTrade(ctx context.Context, tr *trade.Trade) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistTradeSQL,
			PositionalParams: []any{tr.ID, tr.Symbol, tr.Timeframe.String(), tr.Direction,
				tr.Size, tr.EntryPrice, tr.ExitPrice, tr.Reason, tr.PnL,
				tr.SignalTime.Unix(), tr.EntryTime.Unix(), tr.ExitTime.Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	var win, loss int
	var winpnl, losspnl float64

	switch {
	case tr.Closed && tr.PnL >= 0:
		win++
		winpnl = tr.PnL
	case tr.Closed && tr.PnL < 0:
		loss++
		losspnl = tr.PnL
	default:
		db.cfg.Logger.Error().Msgf("unexpected closed trade state for metadata calculations: %s", spew.Sdump(tr))
	}

	now := time.Now().UTC()
	id := generateMetadataID(now, tr.Symbol)
	resp, err := db.client.QuerySingle(ctx, findMetadataSQL, id)
	if err != nil {
		return err
	}

	exists := len(resp.GetQueryResultsAssoc()) > 0
	switch {
	case exists:
		resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              updateMetadataSQL,
				PositionalParams: []any{win, winpnl, loss, losspnl, id},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("updating metadata %s: %d -> %s", id, idx, errStr)
		}
	default:
		resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              persistMetadataSQL,
				PositionalParams: []any{id, 1, win, winpnl, loss, losspnl, now.Unix()},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("creating metadata %s: %d -> %s", id, idx, errStr)
		}
	}

	return nil
}
