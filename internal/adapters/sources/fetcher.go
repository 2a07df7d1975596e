package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/okian/paddock/pkg/logger"
	"github.com/okian/paddock/pkg/metrics"
)

const maxBodyBytes = 8 << 20

// statusError is a non-2xx response worth retrying.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("http status %d", e.code) }

// transientStatus reports whether a status is worth retrying: rate limits,
// soft blocks and server errors.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusForbidden || code >= 500
}

// Fetcher performs GETs with a per-host rate limit, a per-source circuit
// breaker and exponential backoff with jitter.
type Fetcher struct {
	client    *http.Client
	userAgent string
	log       logger.Logger

	rps   float64
	burst int

	maxTries    uint
	initialWait time.Duration
	maxWait     time.Duration

	breakerFailures uint32
	breakerTimeout  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithRateLimit sets requests per second and burst per host.
func WithRateLimit(rps float64, burst int) FetcherOption {
	return func(f *Fetcher) {
		if rps > 0 {
			f.rps = rps
		}
		if burst > 0 {
			f.burst = burst
		}
	}
}

// WithRetry sets the attempt budget and backoff bounds.
func WithRetry(maxTries int, initial, max time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if maxTries > 0 {
			f.maxTries = uint(maxTries)
		}
		if initial > 0 {
			f.initialWait = initial
		}
		if max > 0 {
			f.maxWait = max
		}
	}
}

// WithBreaker sets how many consecutive failures open a source's breaker
// and how long it stays open.
func WithBreaker(failures int, openFor time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if failures > 0 {
			f.breakerFailures = uint32(failures)
		}
		if openFor > 0 {
			f.breakerTimeout = openFor
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithFetchLogger sets the fetcher logger.
func WithFetchLogger(l logger.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFetcher returns a fetcher with conservative defaults.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:          &http.Client{Timeout: 20 * time.Second},
		userAgent:       "paddock/1.0",
		log:             logger.Named("fetcher"),
		rps:             1,
		burst:           2,
		maxTries:        3,
		initialWait:     time.Second,
		maxWait:         30 * time.Second,
		breakerFailures: 5,
		breakerTimeout:  5 * time.Minute,
		limiters:        make(map[string]*rate.Limiter),
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.rps), f.burst)
		f.limiters[host] = l
	}
	return l
}

func (f *Fetcher) breaker(source string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[source]
	if !ok {
		threshold := f.breakerFailures
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        source,
			MaxRequests: 1,
			Timeout:     f.breakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// Our own cancellation says nothing about the source.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.UpdateBreakerState(name, int(to))
				f.log.Warn(context.Background(), "source breaker changed state",
					logger.String("source", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
			},
		})
		f.breakers[source] = cb
	}
	return cb
}

// BreakerState returns the breaker state of a source.
func (f *Fetcher) BreakerState(source string) gobreaker.State {
	return f.breaker(source).State()
}

// Get fetches rawURL on behalf of source. file:// URLs are read from disk.
// Exhausted retries and open breakers return ErrTransientFetch; responses
// that retrying cannot fix return ErrPermanentFetch.
func (f *Fetcher) Get(ctx context.Context, source, rawURL string) ([]byte, error) {
	start := time.Now()
	data, err := f.get(ctx, source, rawURL)
	ms := float64(time.Since(start).Milliseconds())
	switch {
	case err == nil:
		metrics.RecordFetch(source, "ok", ms)
	case errors.Is(err, ErrPermanentFetch):
		metrics.RecordFetch(source, "permanent", ms)
	default:
		metrics.RecordFetch(source, "transient", ms)
	}
	return data, err
}

func (f *Fetcher) get(ctx context.Context, source, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPermanentFetch, source, err)
	}
	if u.Scheme == "file" {
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTransientFetch, source, err)
		}
		return data, nil
	}

	cb := f.breaker(source)
	lim := f.limiter(u.Host)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialWait
	b.MaxInterval = f.maxWait

	attempt := 0
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		out, err := cb.Execute(func() (interface{}, error) {
			return f.do(ctx, u.String())
		})
		if err != nil {
			if errors.Is(err, ErrPermanentFetch) ||
				errors.Is(err, gobreaker.ErrOpenState) ||
				errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out.([]byte), nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			f.log.Warn(ctx, "fetch attempt failed, retrying",
				logger.String("source", source),
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Error(err))
		}),
	)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, ErrPermanentFetch) {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrTransientFetch, source, attempt, err)
}

func (f *Fetcher) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPermanentFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/json,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case transientStatus(resp.StatusCode):
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &statusError{code: resp.StatusCode}
	default:
		return nil, fmt.Errorf("%w: http status %d", ErrPermanentFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return data, nil
}
