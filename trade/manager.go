package trade

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 64
	// maxWorkers is the maximum number of concurrent workers.
	maxWorkers = 8
)

// ManagerConfig represents the trade manager configuration.
type ManagerConfig struct {
	// Notify sends the provided message.
	Notify func(message string)
	// PersistClosedTrade persists the provided closed trade to the database.
	PersistClosedTrade func(trade *Trade) error
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Manager relays closed trades to the notification and persistence
// collaborators as the simulator finalizes them.
type Manager struct {
	cfg          *ManagerConfig
	closedTrades chan *Trade
	closed       []*Trade
	closedMtx    sync.RWMutex
	workers      chan struct{}
}

// NewManager initializes a new trade manager.
func NewManager(cfg *ManagerConfig) *Manager {
	return &Manager{
		cfg:          cfg,
		closedTrades: make(chan *Trade, bufferSize),
		closed:       []*Trade{},
		workers:      make(chan struct{}, maxWorkers),
	}
}

// SendClosedTrade relays the provided closed trade for processing.
func (m *Manager) SendClosedTrade(trade *Trade) {
	select {
	case m.closedTrades <- trade:
		// do nothing.
	default:
		m.cfg.Logger.Error().Msgf("closed trade channel at capacity: %d/%d",
			len(m.closedTrades), bufferSize)
	}
}

// handleClosedTrade processes the provided closed trade.
func (m *Manager) handleClosedTrade(trade *Trade) {
	m.closedMtx.Lock()
	m.closed = append(m.closed, trade)
	m.closedMtx.Unlock()

	if m.cfg.PersistClosedTrade != nil {
		err := m.cfg.PersistClosedTrade(trade)
		if err != nil {
			m.cfg.Logger.Error().Msgf("persisting closed trade %s: %v", trade.ID, err)
		}
	}

	msg := fmt.Sprintf("Closed %s trade (%s) for %s @ %f via %s, pnl %f",
		trade.Direction.String(), trade.ID, trade.Symbol, trade.ExitPrice,
		trade.Reason.String(), trade.PnL)
	m.cfg.Notify(msg)
}

// ClosedTrades returns the trades processed so far.
func (m *Manager) ClosedTrades() []*Trade {
	m.closedMtx.RLock()
	defer m.closedMtx.RUnlock()

	trades := make([]*Trade, len(m.closed))
	copy(trades, m.closed)
	return trades
}

// Run manages the lifecycle processes of the trade manager.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-m.closedTrades:
			m.workers <- struct{}{}
			go func(trade *Trade) {
				m.handleClosedTrade(trade)
				<-m.workers
			}(trade)
		}
	}
}
