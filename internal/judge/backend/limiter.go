package backend

import "context"

// tokenLimiter is a counting semaphore.
type tokenLimiter struct {
	tokens chan struct{}
}

func newTokenLimiter(size int) *tokenLimiter {
	if size <= 0 {
		size = 1
	}
	tokens := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		tokens <- struct{}{}
	}
	return &tokenLimiter{tokens: tokens}
}

// acquire blocks until a token is available or ctx is canceled.
func (l *tokenLimiter) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

func (l *tokenLimiter) release() {
	select {
	case l.tokens <- struct{}{}:
	default:
	}
}

// LimitedBackend caps the number of concurrent calls to the wrapped backend.
// Waiting for a slot counts against the caller's deadline.
type LimitedBackend struct {
	next    Backend
	limiter *tokenLimiter
}

// NewLimitedBackend wraps next. A non-positive max returns next unchanged.
func NewLimitedBackend(next Backend, max int) Backend {
	if max <= 0 {
		return next
	}
	return &LimitedBackend{next: next, limiter: newTokenLimiter(max)}
}

func (b *LimitedBackend) Compile(ctx context.Context, req CompileRequest) (CompileResult, error) {
	if err := b.limiter.acquire(ctx); err != nil {
		return CompileResult{}, err
	}
	defer b.limiter.release()
	return b.next.Compile(ctx, req)
}

func (b *LimitedBackend) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if err := b.limiter.acquire(ctx); err != nil {
		return ExecuteResult{}, err
	}
	defer b.limiter.release()
	return b.next.Execute(ctx, req)
}

func (b *LimitedBackend) Identity() string {
	return b.next.Identity()
}
