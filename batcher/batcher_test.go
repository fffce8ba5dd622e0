package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/tabshare/tabshare_backend/utils"
)

func accountCtx(id int) context.Context {
	return utils.SetAccountIdInContext(context.Background(), id)
}

func TestRegister_CoalescesConcurrentCallsIntoOneResolverRun(t *testing.T) {
	reg := NewRegistry()

	var runs int32
	var mu sync.Mutex
	var seen [][]int

	call := Register(reg, "double", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		atomic.AddInt32(&runs, 1)
		mu.Lock()
		seen = append(seen, append([]int(nil), inputs...))
		mu.Unlock()
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			out[i] = &dataloader.Result[int]{Data: in * 2}
		}
		return out
	}, Options{Wait: 50 * time.Millisecond})

	ctx := accountCtx(1)

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := call(ctx, i+1)
			if err != nil {
				t.Errorf("call(%d): %v", i+1, err)
				return
			}
			results[i] = v
		}(i)
		// stagger so arrival order is deterministic
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("resolver ran %d times, expected 1", got)
	}
	if len(seen) != 1 || len(seen[0]) != 5 {
		t.Fatalf("resolver inputs = %v, expected one batch of 5", seen)
	}
	for i, in := range seen[0] {
		if in != i+1 {
			t.Fatalf("batch input order = %v, expected arrival order [1 2 3 4 5]", seen[0])
		}
	}
	for i, v := range results {
		if v != (i+1)*2 {
			t.Fatalf("caller %d got %d, expected %d", i, v, (i+1)*2)
		}
	}
}

func TestRegister_PerItemErrorOnlyRejectsThatCaller(t *testing.T) {
	reg := NewRegistry()

	badInput := 13
	call := Register(reg, "pick", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			if in == badInput {
				out[i] = &dataloader.Result[int]{Error: fmt.Errorf("input %d not found", in)}
			} else {
				out[i] = &dataloader.Result[int]{Data: in}
			}
		}
		return out
	}, Options{Wait: 30 * time.Millisecond})

	ctx := accountCtx(7)

	type outcome struct {
		val int
		err error
	}
	outcomes := make([]outcome, 3)
	var wg sync.WaitGroup
	for i, in := range []int{11, 13, 17} {
		wg.Add(1)
		go func(i, in int) {
			defer wg.Done()
			v, err := call(ctx, in)
			outcomes[i] = outcome{v, err}
		}(i, in)
	}
	wg.Wait()

	if outcomes[0].err != nil || outcomes[0].val != 11 {
		t.Fatalf("caller 0 = %+v, expected clean 11", outcomes[0])
	}
	if outcomes[1].err == nil {
		t.Fatalf("caller 1 expected error, got %+v", outcomes[1])
	}
	if outcomes[2].err != nil || outcomes[2].val != 17 {
		t.Fatalf("caller 2 = %+v, expected clean 17; sibling error must not leak", outcomes[2])
	}
}

func TestRegister_AbandonedCallerDoesNotPoisonWindow(t *testing.T) {
	reg := NewRegistry()

	var resolverCtxErr error
	call := Register(reg, "detached", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		resolverCtxErr = ctx.Err()
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			out[i] = &dataloader.Result[int]{Data: in * 2}
		}
		return out
	}, Options{Wait: 80 * time.Millisecond})

	group := accountCtx(9)
	first, cancelFirst := context.WithCancel(group)
	defer cancelFirst()

	var wg sync.WaitGroup
	var firstVal, siblingVal int
	var firstErr, siblingErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		firstVal, firstErr = call(first, 1)
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		siblingVal, siblingErr = call(group, 2)
	}()
	time.Sleep(10 * time.Millisecond)
	// the caller that opened the window walks away before it closes
	cancelFirst()
	wg.Wait()

	if resolverCtxErr != nil {
		t.Fatalf("resolver ctx err = %v; the batch must outlive the caller that opened it", resolverCtxErr)
	}
	if siblingErr != nil || siblingVal != 4 {
		t.Fatalf("sibling got (%d, %v), expected clean 4", siblingVal, siblingErr)
	}
	// the abandoned call itself still rode the batch to completion
	if firstErr != nil || firstVal != 2 {
		t.Fatalf("abandoned caller got (%d, %v), expected clean 2", firstVal, firstErr)
	}
}

func TestRegister_ResolverFaultRejectsWholeWindow(t *testing.T) {
	reg := NewRegistry()

	storeDown := errors.New("store unreachable")
	call := Register(reg, "fault", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		return ErrorResults[int](len(inputs), storeDown)
	}, Options{Wait: 30 * time.Millisecond})

	ctx := accountCtx(2)

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = call(ctx, i)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil || err.Error() != storeDown.Error() {
			t.Fatalf("caller %d err = %v, expected %v for every caller", i, err, storeDown)
		}
	}
}

func TestRegister_DistinctGroupKeysNeverShareABatch(t *testing.T) {
	reg := NewRegistry()

	var mu sync.Mutex
	var batches [][]int
	call := Register(reg, "scoped", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		mu.Lock()
		batches = append(batches, append([]int(nil), inputs...))
		mu.Unlock()
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			out[i] = &dataloader.Result[int]{Data: in}
		}
		return out
	}, Options{Wait: 30 * time.Millisecond})

	var wg sync.WaitGroup
	for acc := 1; acc <= 2; acc++ {
		wg.Add(1)
		go func(acc int) {
			defer wg.Done()
			if _, err := call(accountCtx(acc), acc*100); err != nil {
				t.Errorf("account %d: %v", acc, err)
			}
		}(acc)
	}
	wg.Wait()

	if len(batches) != 2 {
		t.Fatalf("got %d batches, expected one per account group", len(batches))
	}
	for _, b := range batches {
		if len(b) != 1 {
			t.Fatalf("batch %v mixed inputs across group keys", b)
		}
	}
}

func TestRegister_CacheDedupesRepeatedInputWithinGroup(t *testing.T) {
	reg := NewRegistry()

	var runs int32
	var total int32
	call := Register(reg, "cached", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		atomic.AddInt32(&runs, 1)
		atomic.AddInt32(&total, int32(len(inputs)))
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			out[i] = &dataloader.Result[int]{Data: in}
		}
		return out
	}, Options{Wait: 20 * time.Millisecond, CacheEnabled: true})

	ctx := accountCtx(3)
	if _, err := call(ctx, 42); err != nil {
		t.Fatal(err)
	}
	// second identical call is served from the group's cache
	if _, err := call(ctx, 42); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("resolver ran %d times, expected 1", got)
	}
	if got := atomic.LoadInt32(&total); got != 1 {
		t.Fatalf("resolver saw %d inputs, expected the duplicate deduped to 1", got)
	}
}

func TestRegister_IdleEvictionStartsFreshGroup(t *testing.T) {
	reg := NewRegistry()

	var mu sync.Mutex
	var batches [][]int
	call := Register(reg, "evicted", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		mu.Lock()
		batches = append(batches, append([]int(nil), inputs...))
		mu.Unlock()
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			out[i] = &dataloader.Result[int]{Data: in}
		}
		return out
	}, Options{Wait: 10 * time.Millisecond, IdleTTL: 60 * time.Millisecond, CacheEnabled: true})

	ctx := accountCtx(4)
	if _, err := call(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if reg.GroupCount() != 1 {
		t.Fatalf("GroupCount = %d, expected 1 before eviction", reg.GroupCount())
	}

	time.Sleep(150 * time.Millisecond)
	if reg.GroupCount() != 0 {
		t.Fatalf("GroupCount = %d, expected 0 after idle TTL", reg.GroupCount())
	}

	// same input again: the fresh group has no carry-over and no warm cache,
	// so the resolver runs again with only this call's input
	if _, err := call(ctx, 1); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("got %d batches, expected 2 (eviction discards the cache)", len(batches))
	}
	if len(batches[1]) != 1 || batches[1][0] != 1 {
		t.Fatalf("post-eviction batch = %v, expected only the new input", batches[1])
	}
}

func TestEvictRearmsWhenGroupWasJustTouched(t *testing.T) {
	reg := NewRegistry()

	call := Register(reg, "busy", func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			out[i] = &dataloader.Result[int]{Data: in}
		}
		return out
	}, Options{Wait: 5 * time.Millisecond, IdleTTL: time.Hour})

	ctx := accountCtx(5)
	if _, err := call(ctx, 1); err != nil {
		t.Fatal(err)
	}

	key := "busy\x00account:5"
	reg.mu.Lock()
	g := reg.groups[key]
	reg.mu.Unlock()
	if g == nil {
		t.Fatal("group not registered after a call")
	}

	// a timer run that lost the race with a fresh call must keep the group
	reg.evict(key, g, time.Hour)
	if reg.GroupCount() != 1 {
		t.Fatalf("GroupCount = %d, a just-touched group was evicted", reg.GroupCount())
	}

	// a genuinely quiet group still goes
	reg.mu.Lock()
	g.lastHit = time.Now().Add(-2 * time.Hour)
	reg.mu.Unlock()
	reg.evict(key, g, time.Hour)
	if reg.GroupCount() != 0 {
		t.Fatalf("GroupCount = %d, expected a quiet group to be evicted", reg.GroupCount())
	}
}

func TestRegister_SeparateRegistriesShareNoState(t *testing.T) {
	regA := NewRegistry()
	regB := NewRegistry()

	echo := func(ctx context.Context, inputs []int) []*dataloader.Result[int] {
		out := make([]*dataloader.Result[int], len(inputs))
		for i, in := range inputs {
			out[i] = &dataloader.Result[int]{Data: in}
		}
		return out
	}
	callA := Register(regA, "proc", echo, Options{Wait: 5 * time.Millisecond})
	callB := Register(regB, "proc", echo, Options{Wait: 5 * time.Millisecond})

	ctx := accountCtx(6)
	if _, err := callA(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if regA.GroupCount() != 1 || regB.GroupCount() != 0 {
		t.Fatalf("groups = (%d, %d); registering the same procedure twice must not cross registries",
			regA.GroupCount(), regB.GroupCount())
	}
	if _, err := callB(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if regB.GroupCount() != 1 {
		t.Fatalf("second registry groups = %d, expected its own group", regB.GroupCount())
	}
}

func TestAccountGroupKey(t *testing.T) {
	if got := AccountGroupKey(context.Background()); got != AnonymousGroupKey {
		t.Fatalf("unauthenticated key = %q, expected %q", got, AnonymousGroupKey)
	}
	if got := AccountGroupKey(accountCtx(12)); got != "account:12" {
		t.Fatalf("key = %q, expected account:12", got)
	}
}
