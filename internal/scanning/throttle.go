package scanning

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttled limits how often the wrapped Scanner is called. Hosted vision
// APIs reject bursts, and a chat export can reference hundreds of images.
type Throttled struct {
	next    Scanner
	limiter *rate.Limiter
}

// NewThrottled allows perMinute calls per minute with bursts of burst. A
// perMinute of zero or less disables the limit.
func NewThrottled(next Scanner, perMinute int, burst int) *Throttled {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Recognize waits for a slot, then calls the wrapped scanner
func (t *Throttled) Recognize(ctx context.Context, imageData []byte, contentType string) (*Recognition, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for scan slot: %w", err)
	}
	return t.next.Recognize(ctx, imageData, contentType)
}

// Close closes the wrapped scanner
func (t *Throttled) Close() error {
	return t.next.Close()
}
