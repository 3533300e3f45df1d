package kernel_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-microkernel/framework/kernel"
)

// ── Singleton ─────────────────────────────────────────────────────────────────

func TestSingleton_SameInstance(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(counted("x", kernel.Singleton, &n))
	require.NoError(t, err)

	a, err := k.Resolve("x")
	require.NoError(t, err)
	b, err := k.Resolve("x")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int64(1), n.Load())
}

func TestSingleton_ConcurrentFirstAccess_ConstructsOnce(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(kernel.ComponentDescriptor{
		Name:     "x",
		Services: []kernel.ServiceType{svc("x")},
		Implementation: kernel.Construct(func(*kernel.Activation) (*widget, error) {
			time.Sleep(5 * time.Millisecond)
			return &widget{seq: n.Add(1)}, nil
		}),
	})
	require.NoError(t, err)

	const callers = 50
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		got   = make([]any, callers)
		errs  = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i], errs[i] = k.Resolve("x")
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), n.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, got[0], got[i])
	}
}

func TestSingleton_ReleaseIsNoOp(t *testing.T) {
	k := kernel.New()
	log := &journal{}
	_, err := k.Register(recorded("x", kernel.Singleton, log))
	require.NoError(t, err)

	inst, err := k.Resolve("x")
	require.NoError(t, err)
	require.NoError(t, k.Release(inst))
	assert.Zero(t, log.count("x.dispose"))

	again, err := k.Resolve("x")
	require.NoError(t, err)
	assert.Same(t, inst, again)
}

// ── Transient ─────────────────────────────────────────────────────────────────

func TestTransient_DistinctInstances(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(counted("x", kernel.Transient, &n))
	require.NoError(t, err)

	seen := make(map[any]bool)
	for i := 0; i < 10; i++ {
		inst, err := k.Resolve("x")
		require.NoError(t, err)
		seen[inst] = true
	}
	assert.Len(t, seen, 10)
	assert.Equal(t, int64(10), n.Load())
}

func TestTransient_ReleaseDecommissionsOnlyThatInstance(t *testing.T) {
	k := kernel.New()
	log := &journal{}
	_, err := k.Register(recorded("x", kernel.Transient, log))
	require.NoError(t, err)

	first, err := kernel.Resolve[*recorder](k, "x")
	require.NoError(t, err)
	second, err := kernel.Resolve[*recorder](k, "x")
	require.NoError(t, err)
	require.NotSame(t, first, second)

	require.NoError(t, k.Release(first))
	assert.Equal(t, 1, log.count("x.dispose"))

	// Releasing twice is harmless.
	require.NoError(t, k.Release(first))
	assert.Equal(t, 1, log.count("x.dispose"))

	require.NoError(t, k.Dispose())
	assert.Equal(t, 2, log.count("x.dispose"))
}

func TestTransient_NonComparableInstanceIsNotTracked(t *testing.T) {
	k := kernel.New()
	_, err := k.Register(kernel.ComponentDescriptor{
		Name:      "m",
		Services:  []kernel.ServiceType{"m"},
		Lifestyle: kernel.Transient,
		Implementation: kernel.FromFactory(func(*kernel.Activation) (any, error) {
			return map[string]int{"a": 1}, nil
		}),
	})
	require.NoError(t, err)

	inst, err := k.Resolve("m")
	require.NoError(t, err)
	assert.NoError(t, k.Release(inst))
	assert.NoError(t, k.Dispose())
}

// ── PerThread ─────────────────────────────────────────────────────────────────

func TestPerThread_OneInstancePerContextKey(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(counted("x", kernel.PerThread, &n))
	require.NoError(t, err)

	t1a, err := k.Resolve("x", kernel.WithContextKey("t1"))
	require.NoError(t, err)
	t1b, err := k.Resolve("x", kernel.WithContextKey("t1"))
	require.NoError(t, err)
	t2, err := k.Resolve("x", kernel.WithContextKey("t2"))
	require.NoError(t, err)
	def, err := k.Resolve("x")
	require.NoError(t, err)

	assert.Same(t, t1a, t1b)
	assert.NotSame(t, t1a, t2)
	assert.NotSame(t, t1a, def)
	assert.Equal(t, int64(3), n.Load())
}

func TestPerThread_ConcurrentSameKey_ConstructsOnce(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(counted("x", kernel.PerThread, &n))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = k.Resolve("x", kernel.WithContextKey("shared"))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), n.Load())
}

// ── Pooled ────────────────────────────────────────────────────────────────────

func pooled(name string, minSize, maxSize int, policy kernel.PoolPolicy, timeout time.Duration, n *atomic.Int64) kernel.ComponentDescriptor {
	d := counted(name, kernel.Pooled, n)
	d.Pool = kernel.PoolOptions{MinSize: minSize, MaxSize: maxSize, Policy: policy, Timeout: timeout}
	return d
}

func TestPooled_BoundedAndReused(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	h, err := k.Register(pooled("x", 2, 4, kernel.PoolBlock, time.Second, &n))
	require.NoError(t, err)

	const borrowers = 4
	var (
		wg       sync.WaitGroup
		acquired sync.WaitGroup
		hold     = make(chan struct{})
		insts    = make([]any, borrowers)
		errs     = make([]error, borrowers)
	)
	acquired.Add(borrowers)
	for i := 0; i < borrowers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			insts[i], errs[i] = k.Resolve("x")
			acquired.Done()
			<-hold
		}(i)
	}
	acquired.Wait()

	stats, ok := h.PoolStats()
	require.True(t, ok)
	assert.Equal(t, 4, stats.Borrowed)
	assert.LessOrEqual(t, stats.Live, 4)
	assert.Equal(t, int64(4), n.Load())

	close(hold)
	wg.Wait()
	for i := 0; i < borrowers; i++ {
		require.NoError(t, errs[i])
		require.NoError(t, k.Release(insts[i]))
	}

	stats, _ = h.PoolStats()
	assert.Equal(t, 4, stats.Free)
	assert.Zero(t, stats.Borrowed)

	_, err = k.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n.Load())
}

func TestPooled_WarmsToMinSize(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	h, err := k.Register(pooled("x", 3, 5, kernel.PoolBlock, time.Second, &n))
	require.NoError(t, err)
	assert.Zero(t, n.Load())

	_, err = k.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n.Load())

	stats, _ := h.PoolStats()
	assert.Equal(t, 2, stats.Free)
	assert.Equal(t, 1, stats.Borrowed)
	assert.Equal(t, 3, stats.MinSize)
	assert.Equal(t, 5, stats.MaxSize)
}

func TestPooled_ReleaseIsFIFO(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(pooled("x", 0, 2, kernel.PoolBlock, time.Second, &n))
	require.NoError(t, err)

	a, err := k.Resolve("x")
	require.NoError(t, err)
	b, err := k.Resolve("x")
	require.NoError(t, err)
	require.NoError(t, k.Release(a))
	require.NoError(t, k.Release(b))

	next, err := k.Resolve("x")
	require.NoError(t, err)
	assert.Same(t, a, next)
}

func TestPooled_FailFastAtCapacity(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(pooled("x", 0, 1, kernel.PoolFailFast, 0, &n))
	require.NoError(t, err)

	held, err := k.Resolve("x")
	require.NoError(t, err)

	_, err = k.Resolve("x")
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrResourceExhausted)

	// Non-sticky: a slot frees up on release.
	require.NoError(t, k.Release(held))
	again, err := k.Resolve("x")
	require.NoError(t, err)
	assert.Same(t, held, again)
}

func TestPooled_BlockTimesOut(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(pooled("x", 0, 1, kernel.PoolBlock, 30*time.Millisecond, &n))
	require.NoError(t, err)

	_, err = k.Resolve("x")
	require.NoError(t, err)

	start := time.Now()
	_, err = k.Resolve("x")
	assert.ErrorIs(t, err, kernel.ErrResourceExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPooled_BlockWaitsForRelease(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(pooled("x", 0, 1, kernel.PoolBlock, time.Second, &n))
	require.NoError(t, err)

	held, err := k.Resolve("x")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = k.Release(held)
	}()

	got, err := k.Resolve("x")
	require.NoError(t, err)
	assert.Same(t, held, got)
	assert.Equal(t, int64(1), n.Load())
}

func TestPooled_HonoursCallerContext(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	_, err := k.Register(pooled("x", 0, 1, kernel.PoolBlock, 0, &n))
	require.NoError(t, err)

	_, err = k.Resolve("x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Resolve("x", kernel.WithContext(ctx))
	assert.ErrorIs(t, err, kernel.ErrResourceExhausted)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPooled_KernelDefaults(t *testing.T) {
	k := kernel.New(kernel.WithPoolDefaults(kernel.PoolOptions{MaxSize: 1, Policy: kernel.PoolFailFast}))
	var n atomic.Int64
	h, err := k.Register(counted("x", kernel.Pooled, &n))
	require.NoError(t, err)

	stats, _ := h.PoolStats()
	assert.Equal(t, 1, stats.MaxSize)

	_, err = k.Resolve("x")
	require.NoError(t, err)
	_, err = k.Resolve("x")
	assert.ErrorIs(t, err, kernel.ErrResourceExhausted)
}

func TestPooled_DisposeDecommissionsBorrowedToo(t *testing.T) {
	k := kernel.New()
	log := &journal{}
	d := recorded("x", kernel.Pooled, log)
	d.Pool = kernel.PoolOptions{MaxSize: 3}
	_, err := k.Register(d)
	require.NoError(t, err)

	a, err := k.Resolve("x")
	require.NoError(t, err)
	_, err = k.Resolve("x")
	require.NoError(t, err)
	require.NoError(t, k.Release(a))

	require.NoError(t, k.Dispose())
	assert.Equal(t, 2, log.count("x.dispose"))
}

func TestPooled_BorrowedInstanceRetiredAfterRebind(t *testing.T) {
	k := kernel.New()
	log := &journal{}
	b := consuming("B", kernel.Pooled, log, svc("A"))
	b.Pool = kernel.PoolOptions{MaxSize: 2}
	for _, d := range []kernel.ComponentDescriptor{
		providing("A1", svc("A"), log),
		providing("A2", svc("A"), log),
		b,
	} {
		_, err := k.Register(d)
		require.NoError(t, err)
	}

	borrowed, err := kernel.Resolve[*consumer](k, "B")
	require.NoError(t, err)
	require.NoError(t, k.Remove("A1"))
	assert.Zero(t, log.count("B.dispose"), "a borrowed instance stays with its caller")

	require.NoError(t, k.Release(borrowed))
	assert.Equal(t, 1, log.count("B.dispose"), "released instance is retired, not pooled")

	h, err := k.GetHandler("B")
	require.NoError(t, err)
	stats, _ := h.PoolStats()
	assert.Zero(t, stats.Live)

	fresh, err := kernel.Resolve[*consumer](k, "B")
	require.NoError(t, err)
	assert.NotSame(t, borrowed, fresh)
	assert.Equal(t, "A2", fresh.dep.(*recorder).name)
}

// ── Custom ────────────────────────────────────────────────────────────────────

func TestCustom_DelegatesToStrategy(t *testing.T) {
	k := kernel.New()
	var acquired, released, disposed atomic.Int64
	var n atomic.Int64

	d := counted("x", kernel.Custom, &n)
	d.CustomLifestyle = func() kernel.LifestyleManager {
		return &kernel.LifestyleFunc{
			AcquireFn: func(act kernel.ComponentActivator, ctx *kernel.Context) (any, error) {
				acquired.Add(1)
				return act.Create(ctx)
			},
			ReleaseFn: func(act kernel.ComponentActivator, inst any) (bool, error) {
				released.Add(1)
				return true, act.Destroy(inst)
			},
			DisposeFn: func(kernel.ComponentActivator) error {
				disposed.Add(1)
				return nil
			},
		}
	}
	_, err := k.Register(d)
	require.NoError(t, err)

	inst, err := k.Resolve("x")
	require.NoError(t, err)
	require.NoError(t, k.Release(inst))
	require.NoError(t, k.Dispose())

	assert.Equal(t, int64(1), acquired.Load())
	assert.Equal(t, int64(1), released.Load())
	assert.Equal(t, int64(1), disposed.Load())
	assert.Equal(t, int64(1), n.Load())
}

func TestCustom_ResetWhenDependencyRemoved(t *testing.T) {
	k := kernel.New()
	var resets atomic.Int64
	_, err := k.Register(simple("A"))
	require.NoError(t, err)

	d := simple("B", kernel.Needs(svc("A")))
	d.Lifestyle = kernel.Custom
	d.CustomLifestyle = func() kernel.LifestyleManager {
		return &kernel.LifestyleFunc{
			ResetFn: func(kernel.ComponentActivator) error {
				resets.Add(1)
				return nil
			},
		}
	}
	_, err = k.Register(d)
	require.NoError(t, err)

	_, err = k.Resolve("B")
	require.NoError(t, err)
	require.NoError(t, k.Remove("A"))
	assert.Equal(t, int64(1), resets.Load())
}

func TestCustom_NilHooksBehaveTransiently(t *testing.T) {
	k := kernel.New()
	var n atomic.Int64
	h, err := kernel.Component("x").
		For(svc("x")).
		ImplementedBy(kernel.Construct(func(*kernel.Activation) (*widget, error) {
			return &widget{seq: n.Add(1)}, nil
		})).
		LifestyleCustom(func() kernel.LifestyleManager { return &kernel.LifestyleFunc{} }).
		Register(k)
	require.NoError(t, err)
	assert.Equal(t, kernel.Custom, h.Lifestyle())

	a, err := k.Resolve("x")
	require.NoError(t, err)
	b, err := k.Resolve("x")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.NoError(t, k.Release(a))
}

func TestCustom_NilManagerRejected(t *testing.T) {
	k := kernel.New()
	d := simple("x")
	d.Lifestyle = kernel.Custom
	d.CustomLifestyle = func() kernel.LifestyleManager { return nil }

	_, err := k.Register(d)
	assert.ErrorIs(t, err, kernel.ErrInvalidDescriptor)
}
