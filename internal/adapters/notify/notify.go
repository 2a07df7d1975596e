// Package notify delivers alerts: to the log, through a local command such
// as termux-notification, or as a webhook POST.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/paddock/pkg/logger"
)

// ErrDelivery wraps transport failures.
var ErrDelivery = errors.New("notification not delivered")

// Title formats the alert headline.
func Title(raceKey string, totalScore float64) string {
	return fmt.Sprintf("[ALERT] %s (Score: %.2f)", raceKey, totalScore)
}

// Body joins the score reasons one per line.
func Body(reasons []string) string {
	return strings.Join(reasons, "\n")
}

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier returns a notifier logging through l, or the "notify"
// logger when l is nil.
func NewLogNotifier(l logger.Logger) *LogNotifier {
	if l == nil {
		l = logger.Named("notify")
	}
	return &LogNotifier{log: l}
}

// Notify implements alert.Notifier.
func (n *LogNotifier) Notify(ctx context.Context, raceKey string, totalScore float64, reasons []string) error {
	n.log.Info(ctx, Title(raceKey, totalScore),
		logger.String("race_key", raceKey),
		logger.Float64("score", totalScore),
		logger.Any("reasons", reasons))
	return nil
}

// CommandNotifier runs a command per alert. The placeholders {title},
// {body}, {race} and {score} in args are substituted.
type CommandNotifier struct {
	name    string
	args    []string
	timeout time.Duration
}

// TermuxArgs are the arguments for termux-notification.
var TermuxArgs = []string{"--title", "{title}", "--content", "{body}", "--id", "{race}"}

// NewCommandNotifier returns a notifier running name with args.
func NewCommandNotifier(name string, args []string, timeout time.Duration) *CommandNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandNotifier{name: name, args: append([]string(nil), args...), timeout: timeout}
}

// Notify implements alert.Notifier.
func (n *CommandNotifier) Notify(ctx context.Context, raceKey string, totalScore float64, reasons []string) error {
	r := strings.NewReplacer(
		"{title}", Title(raceKey, totalScore),
		"{body}", Body(reasons),
		"{race}", raceKey,
		"{score}", fmt.Sprintf("%.2f", totalScore),
	)
	args := make([]string, len(n.args))
	for i, a := range n.args {
		args[i] = r.Replace(a)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, n.name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %w: %s", ErrDelivery, n.name, err, bytes.TrimSpace(out))
	}
	return nil
}

// Payload is the webhook body.
type Payload struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	RaceKey string    `json:"race_key"`
	Score   float64   `json:"score"`
	Reasons []string  `json:"reasons"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookNotifier POSTs a JSON Payload.
type WebhookNotifier struct {
	url    string
	client *http.Client
	clock  func() time.Time
}

// NewWebhookNotifier returns a notifier posting to url.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client, clock: time.Now}
}

// Notify implements alert.Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, raceKey string, totalScore float64, reasons []string) error {
	body, err := json.Marshal(Payload{
		ID:      uuid.NewString(),
		Title:   Title(raceKey, totalScore),
		RaceKey: raceKey,
		Score:   totalScore,
		Reasons: reasons,
		SentAt:  n.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}

// Notifier is the delivery contract shared by every transport here.
type Notifier interface {
	Notify(ctx context.Context, raceKey string, totalScore float64, reasons []string) error
}

// Multi fans an alert out to every notifier. It fails if any delivery
// fails, after trying all of them.
type Multi []Notifier

// Notify implements alert.Notifier.
func (m Multi) Notify(ctx context.Context, raceKey string, totalScore float64, reasons []string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, raceKey, totalScore, reasons); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
