package transport

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds every adapter call in time and attempts.
type RetryPolicy struct {
	CallTimeout     time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Retryable reports whether an adapter error is worth another attempt.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

type retrying struct {
	next   Adapter
	policy RetryPolicy
	log    zerolog.Logger
}

// WithRetry decorates next with a per-call timeout and exponential backoff.
// Append is safe to retry because the offset only advances after an ack.
// Close and Copy go straight through under the caller's deadline: their
// duration grows with the object and a repeated Close of a committed session
// cannot succeed.
func WithRetry(next Adapter, policy RetryPolicy, log zerolog.Logger) Adapter {
	return &retrying{next: next, policy: policy, log: log}
}

func do[T any](ctx context.Context, r *retrying, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	call := func() (T, error) {
		attempt++
		callCtx := ctx
		if r.policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.policy.CallTimeout)
			defer cancel()
		}

		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		if !Retryable(err) || ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		r.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient backend error")
		return v, err
	}

	return backoff.RetryWithData(call, r.policy.backoff(ctx))
}

func (r *retrying) OpenSession(ctx context.Context) (string, error) {
	return do(ctx, r, "open", func(ctx context.Context) (string, error) {
		return r.next.OpenSession(ctx)
	})
}

func (r *retrying) Append(ctx context.Context, token string, offset int64, data []byte) error {
	_, err := do(ctx, r, "append", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.Append(ctx, token, offset, data)
	})
	return err
}

func (r *retrying) Close(ctx context.Context, token string, offset int64, path string, opts CommitOptions) (ObjectHandle, error) {
	return r.next.Close(ctx, token, offset, path, opts)
}

func (r *retrying) Copy(ctx context.Context, src, dst string) (ObjectHandle, error) {
	return r.next.Copy(ctx, src, dst)
}

func (r *retrying) Abort(ctx context.Context, token string) error {
	_, err := do(ctx, r, "abort", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.Abort(ctx, token)
	})
	return err
}

// Ping forwards to the wrapped adapter when it can report readiness.
func (r *retrying) Ping(ctx context.Context) error {
	if p, ok := r.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
