package engine

import "context"

// CancellationSuppressionLatch defers external cancellation for a protected
// region. Message generation runs inside the latch: once the customer has
// seen a typing indicator, the reply (or an explicit error) always lands,
// even if a follow-up message supersedes the cycle meanwhile. On release
// the captured cancellation takes effect again.
type CancellationSuppressionLatch struct {
	parent context.Context
}

// EnterLatch opens the latch, returning the latch handle and a context that
// ignores the parent's cancellation while inheriting its values (deadline
// included through detachment; the protected region is expected to be
// short-lived).
func EnterLatch(ctx context.Context) (*CancellationSuppressionLatch, context.Context) {
	return &CancellationSuppressionLatch{parent: ctx}, context.WithoutCancel(ctx)
}

// Release closes the latch and reports the cancellation, if any, that was
// deferred while it was held.
func (l *CancellationSuppressionLatch) Release() error {
	return l.parent.Err()
}
