// Package notification delivers trade alerts to external channels
// (Telegram, generic webhooks) and to the log.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"candlebot/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// TradeOpenedAlert formats the alert for a freshly opened position.
func TradeOpenedAlert(t model.Trade) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s opened on %s", t.Side, t.Asset.Symbol),
		Message: fmt.Sprintf("strategy %s, quantity %s, order %s",
			t.StrategyName, t.Quantity, t.EntryOrderID),
	}
}

// TradeClosedAlert formats the alert for a closed position.
func TradeClosedAlert(t model.Trade) Alert {
	level := AlertInfo
	if t.PnL < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s closed on %s", t.Side, t.Asset.Symbol),
		Message: fmt.Sprintf("strategy %s, quantity %s, pnl %.2f",
			t.StrategyName, t.Quantity, t.PnL),
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them (useful in development
// and as the fallback when no backend is configured).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Info("alert", "level", string(alert.Level), "title", alert.Title, "message", alert.Message)
	return nil
}

// Multi fans an alert out to several backends; delivery failures are logged
// and do not stop the remaining backends.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			slog.Warn("alert delivery failed", "title", alert.Title, "err", err)
		}
	}
	return nil
}
