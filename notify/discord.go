package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/seanott/gapmon/shared"
)

// DiscordConfig represents the configuration for the discord notifier.
type DiscordConfig struct {
	// WebhookURL is the discord webhook url messages are posted to. An
	// empty url disables delivery.
	WebhookURL string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// DiscordNotifier delivers messages to a discord channel via a webhook.
// Delivery is best effort, failures are logged and never propagated so a
// notification outage cannot stall gap processing.
type DiscordNotifier struct {
	cfg   *DiscordConfig
	httpc http.Client
}

// Ensure the DiscordNotifier implements the Notifier interface.
var _ shared.Notifier = (*DiscordNotifier)(nil)

// NewDiscordNotifier instantiates a new discord notifier.
func NewDiscordNotifier(cfg *DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 5},
	}
}

// Send relays the provided message to the configured webhook.
func (n *DiscordNotifier) Send(message string) {
	if n.cfg.WebhookURL == "" {
		n.cfg.Logger.Debug().Msgf("no webhook url configured, dropping message: %s", message)
		return
	}

	payload, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		n.cfg.Logger.Error().Msgf("marshalling discord payload: %v", err)
		return
	}

	resp, err := n.httpc.Post(n.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		n.cfg.Logger.Error().Msgf("posting discord message: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		n.cfg.Logger.Error().Msgf("discord webhook returned status %d", resp.StatusCode)
	}
}

// FormatGapFound formats a gap found notification.
func FormatGapFound(id string, timeframe shared.Timeframe, gapType shared.GapType, low float64, high float64) string {
	return fmt.Sprintf("Gap found %s %s %s %v - %v", id, timeframe.String(), gapType.String(), low, high)
}

// FormatGapClosed formats a gap closed notification.
func FormatGapClosed(id string, timeframe shared.Timeframe, gapType shared.GapType, fillPrice float64) string {
	return fmt.Sprintf("Gap closed %s %s %s gap filled at %v", id, timeframe.String(), gapType.String(), fillPrice)
}
