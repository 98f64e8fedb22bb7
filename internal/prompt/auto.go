package prompt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// Auto answers retry questions without an operator: it waits with
// exponential backoff and gives up after a number of consecutive failures.
type Auto struct {
	backoff    *util.Backoff
	maxRetries int

	mu       sync.Mutex
	attempts int
}

// NewAuto returns an unattended decider. maxRetries of zero retries forever.
func NewAuto(backoff *util.Backoff, maxRetries int) *Auto {
	return &Auto{backoff: backoff, maxRetries: maxRetries}
}

// RetryDiscovery waits and agrees to retry while the budget lasts.
func (a *Auto) RetryDiscovery(ctx context.Context, err error) bool {
	return a.retry(ctx, "discovery", err)
}

// RetryHealthCheck waits and agrees to reconnect while the budget lasts.
func (a *Auto) RetryHealthCheck(ctx context.Context, err error) bool {
	return a.retry(ctx, "health check", err)
}

// Reset restores the full retry budget after a successful connect.
func (a *Auto) Reset() {
	a.mu.Lock()
	a.attempts = 0
	a.mu.Unlock()
	a.backoff.Reset()
}

// Attempts returns the number of retries since the last Reset.
func (a *Auto) Attempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

func (a *Auto) retry(ctx context.Context, what string, err error) bool {
	a.mu.Lock()
	a.attempts++
	attempt := a.attempts
	a.mu.Unlock()

	if a.maxRetries > 0 && attempt > a.maxRetries {
		slog.Error("giving up", "after", what, "attempts", a.maxRetries, "error", err)
		return false
	}

	slog.Info("retrying connection",
		"after", what,
		"delay", a.backoff.Current(),
		"attempt", attempt,
		"max_retries", a.maxRetries)
	return a.backoff.Wait(ctx) == nil
}
