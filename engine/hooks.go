package engine

import "context"

// HookResult steers the hook chain.
type HookResult int

const (
	// CallNext runs the next hook in the chain, if any.
	CallNext HookResult = iota
	// Resolve returns without running the remaining hooks in the chain.
	Resolve
	// Bail returns without running the remaining hooks and quietly discards
	// the current execution. For most hooks this drops the whole cycle; for
	// preparation iteration hooks it signals that preparation is complete.
	Bail
)

// Hook observes or steers one stage of a processing cycle. hookErr is
// non-nil only for OnError hooks.
type Hook func(ctx context.Context, lc *LoadedContext, hookErr error) HookResult

// ChunkHook observes a generated message chunk before emission.
type ChunkHook func(ctx context.Context, lc *LoadedContext, chunk string) HookResult

// Hooks collects the engine's extension points. All slices may be empty.
type Hooks struct {
	OnError                     []Hook
	OnAcknowledging             []Hook
	OnAcknowledged              []Hook
	OnPreparing                 []Hook
	OnPreparationIterationStart []Hook
	OnPreparationIterationEnd   []Hook
	OnGeneratingMessages        []Hook
	OnGeneratedMessages         []Hook
	OnMessageGenerated          []ChunkHook
}

// call runs a hook chain. It returns false when a hook bailed.
func (h Hooks) call(ctx context.Context, lc *LoadedContext, hooks []Hook, hookErr error) bool {
	for _, hook := range hooks {
		switch hook(ctx, lc, hookErr) {
		case CallNext:
			continue
		case Resolve:
			return true
		case Bail:
			return false
		}
	}
	return true
}

// callChunk runs the per-chunk chain; false drops the chunk.
func (h Hooks) callChunk(ctx context.Context, lc *LoadedContext, chunk string) bool {
	for _, hook := range h.OnMessageGenerated {
		switch hook(ctx, lc, chunk) {
		case CallNext:
			continue
		case Resolve:
			return true
		case Bail:
			return false
		}
	}
	return true
}
