package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

const responseReadLimit int64 = 512

var errWebhookURLRequired = errors.New("slack webhook url is required")

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	httpClient *http.Client
	webhookURL string
	service    string
	logg       *logger.Logger
}

type Option func(*SlackNotifier)

func WithHTTPClient(client *http.Client) Option {
	return func(s *SlackNotifier) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *SlackNotifier) {
		if timeout > 0 {
			s.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewSlackNotifier(webhookURL, service string, logg *logger.Logger, opts ...Option) (*SlackNotifier, error) {
	trimmed := strings.TrimSpace(webhookURL)
	if trimmed == "" {
		return nil, errWebhookURLRequired
	}
	s := &SlackNotifier{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		webhookURL: trimmed,
		service:    service,
		logg:       logg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *SlackNotifier) Send(ctx context.Context, severity enums.AlertSeverity, message string) {
	if s == nil {
		return
	}
	if err := s.post(ctx, severity, message); err != nil && s.logg != nil {
		s.logg.Error(ctx, "send slack alert", err)
	}
}

func (s *SlackNotifier) post(ctx context.Context, severity enums.AlertSeverity, message string) error {
	payload, err := json.Marshal(map[string]string{"text": formatText(s.service, severity, message)})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal slack payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute slack request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "slack request failed")
	}
	return nil
}

func formatText(service string, severity enums.AlertSeverity, message string) string {
	prefix := ":warning:"
	if severity == enums.AlertSeverityCritical {
		prefix = ":rotating_light: *CRITICAL*"
	}
	if service == "" {
		return fmt.Sprintf("%s %s", prefix, message)
	}
	return fmt.Sprintf("%s [%s] %s", prefix, service, message)
}
