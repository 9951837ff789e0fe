// Package ratelimiter throttles outbound provider calls per channel.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/dispatch/internal/domain"
)

// ChannelLimiters holds one token bucket per delivery channel. External
// providers enforce different throughput budgets — an email service
// tolerates far more traffic than an SMS or WhatsApp gateway — so each
// channel gets its own independently-configured rate. Workers on both
// queues share these buckets: the combined send rate per channel stays
// under the provider's budget no matter how the pools are sized.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New builds the limiters from per-channel rates (tokens per second).
// A channel missing from the map, or mapped to a non-positive rate, falls
// back to fallbackPerSec. Burst equals the rate: a quiet channel banks at
// most one second's worth of tokens, so the first second after a quiet
// spell can see up to twice the rate.
func New(perChannel map[domain.Channel]int, fallbackPerSec int) *ChannelLimiters {
	limiters := make(map[domain.Channel]*rate.Limiter, len(domain.AllChannels))
	for _, c := range domain.AllChannels {
		perSec := perChannel[c]
		if perSec <= 0 {
			perSec = fallbackPerSec
		}
		limiters[c] = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's bucket grants a token. Called by each
// worker immediately before the provider send. Returns a non-nil error
// only if ctx is cancelled while waiting (worker shutdown).
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// Rate reports the configured tokens-per-second for a channel; used by the
// admin dashboard to surface effective throttle settings.
func (cl *ChannelLimiters) Rate(ch domain.Channel) int {
	if l, ok := cl.limiters[ch]; ok {
		return int(l.Limit())
	}
	return 0
}
