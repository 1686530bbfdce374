// Package notification delivers chart alerts (a gamma level coming within
// range of price) to external channels: the log, a webhook, Telegram.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"kcu-companion/internal/levels"
	"kcu-companion/internal/model"
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
	Symbol  string     `json:"symbol,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	// Set for level proximity alerts.
	Kind        model.LevelKind `json:"kind,omitempty"`
	Label       string          `json:"label,omitempty"`
	Price       float64         `json:"price,omitempty"` // level price
	Close       float64         `json:"close,omitempty"` // last close when raised
	DistancePct float64         `json:"distance_pct,omitempty"`
}

// IsLevel reports whether the alert is about a price level.
func (a Alert) IsLevel() bool { return a.Kind != "" && a.Price > 0 }

// ProximityAlert builds the alert for a gamma level that moved within range
// of the last close.
func ProximityAlert(symbol string, line levels.Line, close float64) Alert {
	dist := 0.0
	if close > 0 {
		dist = (line.Level.Price - close) / close * 100
	}
	return Alert{
		Level:   AlertWarning,
		Symbol:  symbol,
		Title:   fmt.Sprintf("%s near %s", symbol, line.Level.Label),
		Message: fmt.Sprintf("%s %.2f is %+.2f%% from last %.2f", line.Level.Label, line.Level.Price, dist, close),

		Kind:        line.Level.Kind,
		Label:       line.Level.Label,
		Price:       line.Level.Price,
		Close:       close,
		DistancePct: dist,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends each alert to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
