// Package notify forwards high-priority pipeline errors to an external
// channel (Slack, Telegram, a webhook, ...) via shoutrrr, grounded on the
// teacher's internal/notification push dispatcher: a bounded retry loop
// that gives up immediately on timeouts instead of retrying them.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/kawaz/voice-agent/internal/logging"
)

// Notifier delivers one alert. Implementations must not block past their
// own internal retry/timeout budget.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// noopNotifier is used when notify.urls is empty (SPEC_FULL.md §6.1
// default: alerting disabled).
type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string) error { return nil }

// dispatcher sends through one or more shoutrrr service URLs, grounded on
// the teacher's pushDispatcher.retryLoop: fixed attempt budget, fixed delay
// between attempts, and an early exit on errors that look like timeouts
// since retrying those rarely helps and only delays the next alert.
type dispatcher struct {
	sender         *router.ServiceRouter
	maxRetries     int
	retryDelay     time.Duration
	defaultTimeout time.Duration
	logger         *logging.Logger
}

// New builds a Notifier from a list of shoutrrr service URLs (e.g.
// "telegram://token@telegram?chats=-100...", "slack://token@channel"). An
// empty list disables alerting.
func New(urls []string, maxRetries int, retryDelay, defaultTimeout time.Duration) (Notifier, error) {
	if len(urls) == 0 {
		return noopNotifier{}, nil
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("notify: building shoutrrr sender: %w", err)
	}

	return &dispatcher{
		sender:         sender,
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
		defaultTimeout: defaultTimeout,
		logger:         logging.ForService("notify"),
	}, nil
}

func (d *dispatcher) Notify(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, d.defaultTimeout)
	defer cancel()

	text := message
	if title != "" {
		text = title + ": " + message
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		results := d.sender.Send(text, (*types.Params)(nil))

		lastErr = firstError(results)
		if lastErr == nil {
			return nil
		}
		if isTimeoutError(lastErr) {
			// Matches the teacher's isTimeoutError guard: a timeout means
			// the channel is unreachable right now, not that the send was
			// transiently refused, so retrying just burns the same budget.
			return lastErr
		}

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}
	}
	return lastErr
}

func firstError(results []error) error {
	for _, err := range results {
		if err != nil {
			return err
		}
	}
	return nil
}

// isTimeoutError matches the teacher's isTimeoutError: context deadline/
// cancellation and shoutrrr's own "timed out" / HTTP 504 phrasing are
// treated as non-retryable, everything else is retried.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if context.DeadlineExceeded.Error() != "" && strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		return true
	}
	if strings.Contains(err.Error(), context.Canceled.Error()) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timed out", "timeout", "504 gateway", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
