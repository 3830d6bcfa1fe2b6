package engine

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classification is how a generation failure should be handled.
type Classification struct {
	Retryable bool
	// RetryAfter is the provider's suggested delay, zero when none was given.
	RetryAfter time.Duration
}

// Classify sorts generation errors into retryable and permanent ones.
// Rate limits and transient network or server failures are retryable; a
// missing model, bad request or auth failure is not.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Retryable: true}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		c := Classification{Retryable: retryableHTTP(gerr.Code)}
		if c.Retryable {
			c.RetryAfter = parseRetryAfter(gerr.Header)
		}
		return c
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		c := Classification{Retryable: retryableCode(st.Code())}
		if c.Retryable {
			for _, d := range st.Details() {
				if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
					c.RetryAfter = ri.GetRetryDelay().AsDuration()
				}
			}
		}
		return c
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return Classification{Retryable: true}
	}
	if errors.Is(err, ErrEmptyResponse) {
		return Classification{Retryable: true}
	}
	return Classification{}
}

func retryableCode(c codes.Code) bool {
	switch c {
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return true
	}
	return false
}

func retryableHTTP(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return true
	}
	return false
}

func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryPolicy bounds retries of a Generator.
type RetryPolicy struct {
	MaxAttempts uint
	Initial     time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy is three attempts starting at half a second.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Initial: 500 * time.Millisecond, Max: 10 * time.Second}

// Retrying wraps a Generator with exponential backoff for retryable errors.
type Retrying struct {
	next   Generator
	policy RetryPolicy
	logger *zap.Logger
}

// WithRetry returns gen wrapped in the retry policy.
func WithRetry(gen Generator, policy RetryPolicy, logger *zap.Logger) *Retrying {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	if policy.Initial <= 0 {
		policy.Initial = DefaultRetryPolicy.Initial
	}
	if policy.Max <= 0 {
		policy.Max = DefaultRetryPolicy.Max
	}
	return &Retrying{next: gen, policy: policy, logger: logger}
}

func (r *Retrying) Generate(ctx context.Context, req Request) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.Initial
	b.MaxInterval = r.policy.Max

	attempt := 0
	op := func() (string, error) {
		attempt++
		text, err := r.next.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		c := Classify(err)
		if !c.Retryable {
			return "", backoff.Permanent(err)
		}
		if c.RetryAfter > 0 {
			secs := int(math.Ceil(c.RetryAfter.Seconds()))
			r.logger.Debug("provider asked to retry later", zap.Int("attempt", attempt), zap.Int("seconds", secs), zap.Error(err))
			return "", retryAfter{secs: secs, err: err}
		}
		return "", err
	}
	notify := func(err error, next time.Duration) {
		r.logger.Warn("generation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.policy.MaxAttempts),
		backoff.WithNotify(notify),
	)
}

// retryAfter carries the provider's delay to backoff while keeping the cause.
type retryAfter struct {
	secs int
	err  error
}

func (e retryAfter) Error() string { return e.err.Error() }
func (e retryAfter) Unwrap() []error {
	return []error{backoff.RetryAfter(e.secs), e.err}
}
