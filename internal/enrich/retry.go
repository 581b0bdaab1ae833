package enrich

import (
	"context"
	"time"
)

type attemptFunc func() (status int, body []byte, err error)

// doWithRetry retries the attempt on transient failures only: transport
// errors, 429 and 5xx. 4xx responses and validation failures are permanent
// for that input and returned immediately.
func doWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn attemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 500 * time.Millisecond
	}
	delay := initialDelay
	var (
		status int
		body   []byte
		err    error
	)
	for i := 0; i < attempts; i++ {
		status, body, err = fn()
		if err == nil && status != 429 && status < 500 {
			return status, body, nil
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < 8*time.Second {
			delay *= 2
		}
	}
	return status, body, err
}
