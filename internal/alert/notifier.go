// Package alert delivers crossover signals to external channels
// (webhooks, Telegram) enriched with live volume and trend context.
package alert

import (
	"context"
	"log"
)

// Level represents the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Kind names the crossover direction.
type Kind string

const (
	KindGolden Kind = "golden"
	KindDead   Kind = "dead"
)

// Alert is one crossover notification.
type Alert struct {
	Level   Level  `json:"level"`
	Kind    Kind   `json:"kind"`
	Market  string `json:"market"`
	Title   string `json:"title"`
	Message string `json:"message"`

	// Enrichment, zero when unavailable.
	ShortMA      float64 `json:"short_ma"`
	ReferenceMA  float64 `json:"reference_ma"`
	BucketVolume float64 `json:"bucket_volume"`
	TrendSlope   float64 `json:"trend_slope"`
}

// Notifier is the interface for all delivery backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
