package ratelimiter_test

import (
	"context"
	"testing"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
)

func TestNew_PerChannelOverridesWithFallback(t *testing.T) {
	cl := ratelimiter.New(map[domain.Channel]int{
		domain.ChannelSMS:      5,
		domain.ChannelWhatsApp: 0, // non-positive → fallback
	}, 100)

	if got := cl.Rate(domain.ChannelSMS); got != 5 {
		t.Fatalf("expected sms rate 5, got %d", got)
	}
	if got := cl.Rate(domain.ChannelWhatsApp); got != 100 {
		t.Fatalf("expected whatsapp to fall back to 100, got %d", got)
	}
	if got := cl.Rate(domain.ChannelEmail); got != 100 {
		t.Fatalf("expected email to fall back to 100, got %d", got)
	}
}

func TestWait_GrantsWithinBudget(t *testing.T) {
	cl := ratelimiter.New(nil, 1000)
	ctx := context.Background()

	for range 10 {
		if err := cl.Wait(ctx, domain.ChannelPush); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestWait_UnknownChannelIsNoOp(t *testing.T) {
	cl := ratelimiter.New(nil, 1)
	if err := cl.Wait(context.Background(), domain.Channel("FAX")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	// Rate 1 with the single burst token spent: the next Wait must block
	// and then surface the cancellation.
	cl := ratelimiter.New(map[domain.Channel]int{domain.ChannelSMS: 1}, 1)
	ctx := context.Background()
	if err := cl.Wait(ctx, domain.ChannelSMS); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := cl.Wait(cancelled, domain.ChannelSMS); err == nil {
		t.Fatal("expected an error from a cancelled wait")
	}
}
