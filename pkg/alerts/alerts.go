package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/config"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

// Notifier is a fire-and-forget operator channel. Send never returns an
// error so a broken channel cannot abort the step that raised the alert.
type Notifier interface {
	Send(ctx context.Context, severity enums.AlertSeverity, message string)
}

// New picks Slack when a webhook URL is configured and the log channel otherwise.
func New(cfg config.AlertsConfig, service string, logg *logger.Logger) Notifier {
	if strings.TrimSpace(cfg.SlackWebhookURL) == "" {
		return NewLogNotifier(logg)
	}
	slack, err := NewSlackNotifier(cfg.SlackWebhookURL, service, logg, WithTimeout(cfg.Timeout))
	if err != nil {
		logg.Warn(context.Background(), "slack alerts disabled: "+err.Error())
		return NewLogNotifier(logg)
	}
	return slack
}

// LogNotifier writes alerts to the structured log only.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Send(ctx context.Context, severity enums.AlertSeverity, message string) {
	if n == nil || n.logg == nil {
		return
	}
	ctx = n.logg.WithFields(ctx, map[string]any{"alert_severity": severity.String()})
	if severity == enums.AlertSeverityCritical {
		n.logg.Error(ctx, "alert: "+message, nil)
		return
	}
	n.logg.Warn(ctx, "alert: "+message)
}

type dedupeStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	AlertKey(fingerprint string) string
}

// Throttled drops repeats of an identical alert inside the window.
type Throttled struct {
	inner  Notifier
	store  dedupeStore
	window time.Duration
	logg   *logger.Logger
}

func NewThrottled(inner Notifier, store dedupeStore, window time.Duration, logg *logger.Logger) *Throttled {
	return &Throttled{inner: inner, store: store, window: window, logg: logg}
}

func (t *Throttled) Send(ctx context.Context, severity enums.AlertSeverity, message string) {
	if t == nil || t.inner == nil {
		return
	}
	if t.store == nil || t.window <= 0 {
		t.inner.Send(ctx, severity, message)
		return
	}
	first, err := t.store.SetNX(ctx, t.store.AlertKey(Fingerprint(severity, message)), "1", t.window)
	if err != nil {
		if t.logg != nil {
			t.logg.Warn(ctx, "alert dedupe unavailable: "+err.Error())
		}
		t.inner.Send(ctx, severity, message)
		return
	}
	if !first {
		return
	}
	t.inner.Send(ctx, severity, message)
}

// Fingerprint identifies an alert for deduplication.
func Fingerprint(severity enums.AlertSeverity, message string) string {
	sum := sha256.Sum256([]byte(severity.String() + "|" + message))
	return hex.EncodeToString(sum[:16])
}
