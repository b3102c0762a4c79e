package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/series-acquisition/internal/logging"
)

var (
	errThrottled    = errors.New("upstream throttled the request")
	errUpstream5xx  = errors.New("upstream server error")
	errRejected     = errors.New("upstream rejected the request")
	errBreakerOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// upstream is one remote endpoint guarded by retries and a circuit breaker.
// Every adapter instance owns its own.
type upstream struct {
	name    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger

	retries   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newUpstream(name string, client *http.Client, log *logging.Logger) *upstream {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &upstream{
		name:   name,
		client: client,
		log:    log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
			// 4xx answers do not count against the breaker.
			IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errRejected) },
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("ingestion: breaker %s %s -> %s", name, from, to)
			},
		}),
		retries:   3,
		baseDelay: 500 * time.Millisecond,
		maxDelay:  5 * time.Second,
	}
}

// get issues a GET for rawURL. Throttling and 5xx answers are retried with
// exponential backoff (or the server's Retry-After); anything else returns at
// once. The caller owns the body of a successful response.
func (u *upstream) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if u.client == nil {
		return nil, errNoHTTPClient
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var wait time.Duration
		result, err := u.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := u.client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				wait = retryAfter(resp.Header.Get("Retry-After"))
				return nil, errThrottled
			case resp.StatusCode >= 500:
				return nil, fmt.Errorf("%w: %d", errUpstream5xx, resp.StatusCode)
			default:
				return nil, fmt.Errorf("%w: %d", errRejected, resp.StatusCode)
			}
		})
		if err == nil {
			return result.(*http.Response), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", u.name, errBreakerOpen)
		}
		if errors.Is(err, errRejected) || ctx.Err() != nil || attempt >= u.retries {
			return nil, err
		}

		if wait <= 0 {
			wait = u.baseDelay << attempt
		}
		if u.maxDelay > 0 && wait > u.maxDelay {
			wait = u.maxDelay
		}
		u.log.Debugf("ingestion: %s attempt %d failed (%v); retrying in %s", u.name, attempt+1, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
