package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Receives notable decisions, for an audit ("log") channel. Called after the chat's state has been persisted and its lock released.
//
// Implementations must not block on network I/O.
type Notifier interface {
	Notify(ctx context.Context, dec *Decision) error
}

var ErrNotifyQueueFull = errors.New("notification queue full")

type WebhookBody struct {
	Text string `json:"text"`
}

// Posts decisions as simple text messages to an "incoming webhook" style URL (eg, slack or a chat bridge).
//
// Notify only enqueues; Run does the sending, rate-limited and behind a circuit breaker so a dead endpoint does not pile up requests.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
	Logger     *slog.Logger

	queue   chan *Decision
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type WebhookNotifierConfig struct {
	QueueSize int
	// sustained messages per second
	RateLimit float64
	Burst     int
	// consecutive failures before the breaker opens
	MaxFailures uint32
	// how long the breaker stays open before letting a probe through
	BreakerTimeout time.Duration
	// per-message HTTP retries (connection errors, 5xx, 429), before the attempt counts as a breaker failure
	Retries int
}

func DefaultWebhookNotifierConfig() WebhookNotifierConfig {
	return WebhookNotifierConfig{
		QueueSize:      1000,
		RateLimit:      1,
		Burst:          5,
		MaxFailures:    5,
		BreakerTimeout: 30 * time.Second,
		Retries:        2,
	}
}

func NewWebhookNotifier(webhookURL string, config WebhookNotifierConfig, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	return &WebhookNotifier{
		WebhookURL: webhookURL,
		Client:     webhookHTTPClient(config.Retries, logger),
		Logger:     logger.With("component", "notifier"),
		queue:      make(chan *Decision, config.QueueSize),
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook",
			MaxRequests: 1,
			Timeout:     config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
		}),
	}
}

// Client with retries for transient failures, and tracing of outbound requests.
func webhookHTTPClient(retries int, logger *slog.Logger) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retries
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	retryClient.Logger = retryablehttp.LeveledLogger(logger.With("component", "webhook-http"))
	client := retryClient.StandardClient()
	client.Timeout = 20 * time.Second
	return client
}

func (n *WebhookNotifier) Notify(ctx context.Context, dec *Decision) error {
	select {
	case n.queue <- dec:
		return nil
	default:
		notifyCount.WithLabelValues("dropped").Inc()
		return ErrNotifyQueueFull
	}
}

// Sends queued notifications until the context is cancelled.
func (n *WebhookNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case dec := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return nil
			}
			_, err := n.breaker.Execute(func() (interface{}, error) {
				return nil, n.send(ctx, webhookText(dec))
			})
			if err != nil {
				notifyCount.WithLabelValues("error").Inc()
				n.Logger.Warn("audit notification failed", "decision", dec.ID, "err", err)
				continue
			}
			notifyCount.WithLabelValues("sent").Inc()
		}
	}
}

func (n *WebhookNotifier) send(ctx context.Context, msg string) error {
	body, err := json.Marshal(WebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func webhookText(dec *Decision) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Moderation action in chat `%d` (%s)\n", dec.ChatID, dec.Trigger)
	for _, a := range dec.Actions {
		switch a.Kind {
		case ActionNone, ActionWelcomeUser:
			continue
		case ActionWarned, ActionBanned:
			fmt.Fprintf(&sb, "%s user `%d`", a.Kind, a.UserID)
			if a.Max > 0 {
				fmt.Fprintf(&sb, " (%d/%d)", a.Count, a.Max)
			}
		case ActionSetSlowmode:
			fmt.Fprintf(&sb, "%s %ds", a.Kind, a.Seconds)
		default:
			fmt.Fprintf(&sb, "%s user `%d`", a.Kind, a.UserID)
		}
		if a.Until != nil {
			fmt.Fprintf(&sb, " until %s", a.Until.UTC().Format(time.RFC3339))
		}
		if a.Reason != "" {
			fmt.Fprintf(&sb, " reason: %s", a.Reason)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "`%s`", dec.ID)
	return sb.String()
}
