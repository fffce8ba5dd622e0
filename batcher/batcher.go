// Package batcher turns many concurrent same-shape calls into one bulk
// operation. A registered procedure exposes a per-item call; concurrent
// calls that share a group key (normally the authenticated account) are
// collected during a short coalescing window and handed to the bulk
// resolver in one slice. Each caller only sees its own slot of the result,
// so one failing item never rejects its siblings.
//
// Per-group state (pending batch, request cache, schedule) is evicted after
// a quiet period so the registry's memory is bounded by active groups, not
// by every principal ever seen.
package batcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/tabshare/tabshare_backend/appctx"
)

const (
	// DefaultWait is how long a group collects callers before a batch fires.
	DefaultWait = 16 * time.Millisecond

	// DefaultIdleTTL is how long a group may stay quiet before its state
	// (loader, cache, schedule) is discarded.
	DefaultIdleTTL = 2 * time.Minute

	// AnonymousGroupKey groups calls carrying no authenticated account.
	AnonymousGroupKey = "anonymous"
)

// Registry owns every group's coalescing state. Construct one per process
// with NewRegistry and pass it by reference into each Register call; tests
// build their own so no state leaks across them.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*group
}

type group struct {
	loader  any // *dataloader.Loader[I, O] of the registering procedure
	timer   *time.Timer
	lastHit time.Time // guarded by the registry mutex
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*group)}
}

// GroupCount reports how many live (non-evicted) groups the registry holds.
func (r *Registry) GroupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

func (r *Registry) evict(key string, g *group, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Only drop the exact group the timer was armed for. A fresh group may
	// have replaced it already; evicting that one would discard live state.
	cur, ok := r.groups[key]
	if !ok || cur != g {
		return
	}
	// Reset cannot recall an AfterFunc that already fired, so a call racing
	// the timer may have touched the group after this run was scheduled.
	// Re-arm for the remainder instead of dropping live state.
	if quiet := time.Since(g.lastHit); quiet < ttl {
		g.timer.Reset(ttl - quiet)
		return
	}
	delete(r.groups, key)
}

// Resolver is the bulk operation behind a registered procedure. It receives
// every input collected in one coalescing window, in arrival order, and must
// return exactly one result per input, in the same order. A result slot
// carrying an error rejects only the caller at that index; to fail the whole
// window (a fault common to every caller, e.g. store unreachable) fill every
// slot with the same error via ErrorResults.
type Resolver[I comparable, O any] func(ctx context.Context, inputs []I) []*dataloader.Result[O]

// Options tune one registered procedure.
type Options struct {
	// GroupKeyFn derives the grouping key from the caller's context.
	// Defaults to AccountGroupKey.
	GroupKeyFn func(ctx context.Context) string

	// CacheEnabled dedupes identical inputs within a group against a
	// short-lived cache (lives until idle eviction). Disable for procedures
	// whose re-invocation must re-run, e.g. mutations.
	CacheEnabled bool

	// Wait overrides DefaultWait, IdleTTL overrides DefaultIdleTTL.
	Wait    time.Duration
	IdleTTL time.Duration
}

// AccountGroupKey groups by the authenticated account id from the context.
func AccountGroupKey(ctx context.Context) string {
	if id, ok := appctx.GetInt(ctx, appctx.ContextKeyAccountId); ok && id > 0 {
		return "account:" + strconv.Itoa(id)
	}
	return AnonymousGroupKey
}

// Register wires a bulk resolver into the registry under a unique procedure
// name and returns the per-item call. Concurrent calls sharing a group key
// are multiplexed through one resolver invocation per window.
func Register[I comparable, O any](reg *Registry, name string, fn Resolver[I, O], opts Options) func(ctx context.Context, input I) (O, error) {
	if opts.GroupKeyFn == nil {
		opts.GroupKeyFn = AccountGroupKey
	}
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}

	return func(ctx context.Context, input I) (O, error) {
		key := name + "\x00" + opts.GroupKeyFn(ctx)
		loader := acquire(reg, key, fn, opts)
		// Load enqueues the input immediately; the thunk blocks until the
		// window's batch completes. A caller abandoning the wait does not
		// shrink the batch - siblings still ride the same resolver call.
		// The resolver runs under the ctx of whichever call opened the
		// window, so that caller's cancellation is stripped here: an early
		// disconnect must not fail the bulk work its siblings share.
		return loader.Load(context.WithoutCancel(ctx), input)()
	}
}

func acquire[I comparable, O any](reg *Registry, key string, fn Resolver[I, O], opts Options) *dataloader.Loader[I, O] {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	g, ok := reg.groups[key]
	if !ok {
		loaderOpts := []dataloader.Option[I, O]{
			dataloader.WithWait[I, O](opts.Wait),
		}
		if !opts.CacheEnabled {
			loaderOpts = append(loaderOpts, dataloader.WithCache[I, O](&dataloader.NoCache[I, O]{}))
		}
		g = &group{
			loader:  dataloader.NewBatchedLoader(dataloader.BatchFunc[I, O](fn), loaderOpts...),
			lastHit: time.Now(),
		}
		g.timer = time.AfterFunc(opts.IdleTTL, func() { reg.evict(key, g, opts.IdleTTL) })
		reg.groups[key] = g
	} else {
		// Every call pushes eviction back; only fully quiet groups die.
		g.lastHit = time.Now()
		g.timer.Reset(opts.IdleTTL)
	}
	return g.loader.(*dataloader.Loader[I, O])
}

// ErrorResults fills a whole result slice with one error - the resolver-level
// fault path, where every caller in the window rejects identically.
func ErrorResults[O any](itemsLength int, err error) []*dataloader.Result[O] {
	result := make([]*dataloader.Result[O], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[O]{Error: err}
	}
	return result
}
