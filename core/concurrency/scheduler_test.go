package concurrency

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-sync/affinity"
	"github.com/momentics/hioload-sync/api"
	"github.com/momentics/hioload-sync/control"
)

func newTestScheduler(t *testing.T, threads int, opts ...Option) *Scheduler {
	t.Helper()
	s, err := NewScheduler(threads, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Dispose()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Wait(ctx))
	})
	return s
}

func waitAll(t *testing.T, items ...*Work) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, w := range items {
		require.NoError(t, w.Wait(ctx))
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewScheduler_NegativeThreads(t *testing.T) {
	s, err := NewScheduler(-1)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err))
}

func TestNewSchedulerFromConfig(t *testing.T) {
	_, err := NewSchedulerFromConfig(control.Config{MaxDedicatedThreads: 2})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	cfg := control.DefaultConfig()
	cfg.MaxDedicatedThreads = 3
	s, err := NewSchedulerFromConfig(cfg)
	require.NoError(t, err)
	defer s.Dispose()
	assert.Equal(t, 3, s.MaxDedicatedThreads())
	assert.Equal(t, 0, s.NumWorkers())
}

func TestScheduler_IDsAreDistinct(t *testing.T) {
	a := newTestScheduler(t, 0)
	b := newTestScheduler(t, 0)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestScheduler_HundredIncrements(t *testing.T) {
	s := newTestScheduler(t, 2)
	var counter atomic.Int64
	items := make([]*Work, 0, 100)
	for i := 0; i < 100; i++ {
		w, err := s.Submit(func() { counter.Add(1) }, false)
		require.NoError(t, err)
		items = append(items, w)
	}
	waitAll(t, items...)
	assert.EqualValues(t, 100, counter.Load())
	assert.LessOrEqual(t, s.NumWorkers(), 2)
	for _, w := range items {
		assert.Equal(t, WorkCompleted, w.Status())
		assert.NoError(t, w.Err())
	}
}

func TestScheduler_ExclusiveDoesNotOverlap(t *testing.T) {
	s := newTestScheduler(t, 4)

	type span struct{ start, end time.Time }
	var (
		mu        sync.Mutex
		ordinary  []span
		exclusive span
	)
	ordinaryAction := func() {
		start := time.Now()
		time.Sleep(2 * time.Millisecond)
		end := time.Now()
		mu.Lock()
		ordinary = append(ordinary, span{start, end})
		mu.Unlock()
	}

	var items []*Work
	for i := 0; i < 5; i++ {
		w, err := s.Submit(ordinaryAction, false)
		require.NoError(t, err)
		items = append(items, w)
	}
	ex, err := s.Submit(func() {
		start := time.Now()
		time.Sleep(5 * time.Millisecond)
		exclusive = span{start, time.Now()}
	}, true)
	require.NoError(t, err)
	items = append(items, ex)
	for i := 0; i < 5; i++ {
		w, err := s.Submit(ordinaryAction, false)
		require.NoError(t, err)
		items = append(items, w)
	}
	waitAll(t, items...)

	require.Len(t, ordinary, 10)
	for _, o := range ordinary {
		disjoint := !o.end.After(exclusive.start) || !o.start.Before(exclusive.end)
		assert.True(t, disjoint, "ordinary %v-%v overlaps exclusive %v-%v", o.start, o.end, exclusive.start, exclusive.end)
	}
}

func TestScheduler_ExclusiveSeesNoActiveWork(t *testing.T) {
	s := newTestScheduler(t, 4)
	var (
		active     atomic.Int64
		violations atomic.Int64
		items      []*Work
	)
	for i := 0; i < 200; i++ {
		exclusive := i%20 == 0
		var action func()
		if exclusive {
			action = func() {
				if active.Load() != 0 {
					violations.Add(1)
				}
				time.Sleep(100 * time.Microsecond)
				if active.Load() != 0 {
					violations.Add(1)
				}
			}
		} else {
			action = func() {
				active.Add(1)
				time.Sleep(50 * time.Microsecond)
				active.Add(-1)
			}
		}
		w, err := s.Submit(action, exclusive)
		require.NoError(t, err)
		items = append(items, w)
	}
	waitAll(t, items...)
	assert.Zero(t, violations.Load())
}

func TestScheduler_ConcurrentExclusiveItems(t *testing.T) {
	s := newTestScheduler(t, 4)
	var (
		inside     atomic.Int64
		violations atomic.Int64
		items      []*Work
	)
	for i := 0; i < 20; i++ {
		w, err := s.Submit(func() {
			if inside.Add(1) != 1 {
				violations.Add(1)
			}
			time.Sleep(100 * time.Microsecond)
			inside.Add(-1)
		}, true)
		require.NoError(t, err)
		items = append(items, w)
	}
	waitAll(t, items...)
	assert.Zero(t, violations.Load())
}

func TestScheduler_OrdinaryItemsRunConcurrently(t *testing.T) {
	s := newTestScheduler(t, 2)
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	action := func() {
		arrived <- struct{}{}
		<-release
	}
	a, err := s.Submit(action, false)
	require.NoError(t, err)
	b, err := s.Submit(action, false)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(5 * time.Second):
			close(release)
			t.Fatal("ordinary items did not run side by side")
		}
	}
	close(release)
	waitAll(t, a, b)
	assert.Equal(t, 2, s.NumWorkers())
}

func TestScheduler_RunOneWithoutThreads(t *testing.T) {
	s := newTestScheduler(t, 0)
	var counter int
	for i := 0; i < 3; i++ {
		_, err := s.Submit(func() { counter++ }, i == 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.Stats().Pending)
	for i := 0; i < 3; i++ {
		ran, err := s.RunOne()
		require.NoError(t, err)
		assert.True(t, ran)
	}
	ran, err := s.RunOne()
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 3, counter)
	assert.Equal(t, 0, s.NumWorkers())
}

func TestScheduler_NilAction(t *testing.T) {
	s := newTestScheduler(t, 1)
	w, err := s.Submit(nil, false)
	assert.Nil(t, w)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestScheduler_DisposeIsIdempotent(t *testing.T) {
	s := newTestScheduler(t, 2)
	w, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	waitAll(t, w)

	s.Dispose()
	s.Dispose()
	assert.True(t, s.Disposed())

	_, err = s.Submit(func() {}, false)
	assert.ErrorIs(t, err, api.ErrDisposed)
	_, err = s.RunOne()
	assert.ErrorIs(t, err, api.ErrDisposed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestScheduler_DisposeCancelsPending(t *testing.T) {
	s := newTestScheduler(t, 0)
	a, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	b, err := s.Submit(func() {}, true)
	require.NoError(t, err)

	s.Dispose()
	waitAll(t, a, b)
	for _, w := range []*Work{a, b} {
		assert.Equal(t, WorkCanceled, w.Status())
		assert.ErrorIs(t, w.Err(), api.ErrDisposed)
	}
	st := s.Stats()
	assert.EqualValues(t, 2, st.Canceled)
	assert.Zero(t, st.Pending)
	assert.True(t, st.Disposed)
}

func TestScheduler_FaultIsContained(t *testing.T) {
	var out syncBuffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(&out))).Logger()

	faults := make(chan *FaultError, 1)
	s := newTestScheduler(t, 1,
		WithLogger(logger),
		WithFaultHandler(func(_ *Work, f *FaultError) { faults <- f }),
	)

	bad, err := s.Submit(func() { panic("boom") }, false)
	require.NoError(t, err)
	var ran atomic.Bool
	good, err := s.Submit(func() { ran.Store(true) }, false)
	require.NoError(t, err)
	waitAll(t, bad, good)

	select {
	case f := <-faults:
		assert.Equal(t, "boom", f.Value)
		assert.NotEmpty(t, f.Stack)
	case <-time.After(5 * time.Second):
		t.Fatal("fault handler not called")
	}

	assert.True(t, ran.Load())
	assert.Equal(t, WorkFaulted, bad.Status())
	var fe *FaultError
	require.True(t, errors.As(bad.Err(), &fe))
	assert.Equal(t, "boom", fe.Value)
	assert.EqualValues(t, 1, s.Stats().Faulted)
	assert.Contains(t, out.String(), "work item faulted")
}

func TestScheduler_FaultUnwrapsErrorValue(t *testing.T) {
	s := newTestScheduler(t, 0)
	sentinel := errors.New("sentinel")
	w, err := s.Submit(func() { panic(sentinel) }, false)
	require.NoError(t, err)
	ran, err := s.RunOne()
	require.NoError(t, err)
	require.True(t, ran)
	assert.ErrorIs(t, w.Err(), sentinel)
}

func TestScheduler_ParkedWorkerIsWoken(t *testing.T) {
	s := newTestScheduler(t, 1)
	first, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	waitAll(t, first)

	require.Eventually(t, func() bool {
		return s.Stats().Idle == 1
	}, 5*time.Second, time.Millisecond)

	second, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	waitAll(t, second)
	assert.Equal(t, 1, s.NumWorkers())
}

func TestScheduler_ManyProducers(t *testing.T) {
	s := newTestScheduler(t, 4, WithBacklogCapacity(16))
	const (
		producers = 8
		perProd   = 500
	)
	var (
		counter atomic.Int64
		wg      sync.WaitGroup
		mu      sync.Mutex
		items   []*Work
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]*Work, 0, perProd)
			for i := 0; i < perProd; i++ {
				w, err := s.Submit(func() { counter.Add(1) }, false)
				if err != nil {
					t.Error(err)
					return
				}
				local = append(local, w)
				if i%50 == 0 {
					time.Sleep(time.Microsecond)
				}
			}
			mu.Lock()
			items = append(items, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	waitAll(t, items...)
	assert.EqualValues(t, producers*perProd, counter.Load())
	st := s.Stats()
	assert.EqualValues(t, producers*perProd, st.Submitted)
	assert.EqualValues(t, producers*perProd, st.Executed)
}

func TestScheduler_WaitHonoursContext(t *testing.T) {
	s := newTestScheduler(t, 1)
	w, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	waitAll(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestWork_WaitHonoursContext(t *testing.T) {
	s := newTestScheduler(t, 0)
	w, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.Canceled)
	assert.NoError(t, w.Err())
	assert.Equal(t, WorkPending, w.Status())
	assert.Same(t, s, w.Scheduler())
}

func TestScheduler_ParkingWorkerPicksUpItemQueuedMeanwhile(t *testing.T) {
	t.Cleanup(func() { parkHook = func(*worker) {} })
	s := newTestScheduler(t, 1)

	var once sync.Once
	missed := newWork(s, func() {}, false)
	// Queue an item between the worker's last backlog check and its pool
	// donation, without dispatching it.
	parkHook = func(w *worker) {
		if w.owner == s {
			once.Do(func() { s.pending.Add(missed) })
		}
	}

	first, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	waitAll(t, first, missed)
	assert.Equal(t, WorkCompleted, missed.Status())
}

func TestScheduler_SubmitWaitsForFreeThread(t *testing.T) {
	s := newTestScheduler(t, 1)
	release := make(chan struct{})
	busy, err := s.Submit(func() { <-release }, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Stats().Executing == 1 }, 5*time.Second, time.Millisecond)

	submitted := make(chan *Work, 1)
	go func() {
		w, err := s.Submit(func() {}, false)
		if err != nil {
			t.Error(err)
		}
		submitted <- w
	}()
	select {
	case <-submitted:
		close(release)
		t.Fatal("Submit handed the item to a busy thread")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case w := <-submitted:
		waitAll(t, busy, w)
	case <-time.After(5 * time.Second):
		t.Fatal("Submit never returned after the thread freed up")
	}
}

func TestScheduler_NestedSubmitWakesIdleThread(t *testing.T) {
	s := newTestScheduler(t, 2)
	warm := make([]*Work, 0, 2)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		w, err := s.Submit(func() { <-release }, false)
		require.NoError(t, err)
		warm = append(warm, w)
	}
	close(release)
	waitAll(t, warm...)
	require.Eventually(t, func() bool { return s.Stats().Idle == 2 }, 5*time.Second, time.Millisecond)

	var inner atomic.Bool
	outer, err := s.Submit(func() {
		w, err := s.Submit(func() { inner.Store(true) }, false)
		if err != nil {
			t.Error(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Wait(ctx); err != nil {
			t.Error("item waited on by a running item was not picked up")
		}
	}, false)
	require.NoError(t, err)
	waitAll(t, outer)
	assert.True(t, inner.Load())
}

func TestScheduler_SubmitFromOwnThread(t *testing.T) {
	if affinity.ThreadID() < 0 {
		t.Skip("thread ids unavailable on this platform")
	}
	s := newTestScheduler(t, 1)
	followUp := make(chan *Work, 1)
	first, err := s.Submit(func() {
		w, err := s.Submit(func() {}, false)
		if err != nil {
			t.Error(err)
		}
		followUp <- w
	}, false)
	require.NoError(t, err)
	waitAll(t, first)
	waitAll(t, <-followUp)
}

func TestScheduler_LoopRestartsAfterFault(t *testing.T) {
	var calls atomic.Int64
	s := newTestScheduler(t, 1, WithFaultHandler(func(*Work, *FaultError) {
		if calls.Add(1) == 1 {
			panic("fault handler failure")
		}
	}))

	bad, err := s.Submit(func() { panic("boom") }, false)
	require.NoError(t, err)
	waitAll(t, bad)

	var ran atomic.Bool
	good, err := s.Submit(func() { ran.Store(true) }, false)
	require.NoError(t, err)
	waitAll(t, good)

	assert.True(t, ran.Load())
	assert.Equal(t, 1, s.NumWorkers())
	require.Eventually(t, func() bool { return s.Stats().Executing == 0 }, 5*time.Second, time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestScheduler_ExpiredWaitLeavesNoGoroutine(t *testing.T) {
	s := newTestScheduler(t, 1)
	w, err := s.Submit(func() {}, false)
	require.NoError(t, err)
	waitAll(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		assert.ErrorIs(t, s.Wait(ctx), context.Canceled)
	}
	assert.Less(t, runtime.NumGoroutine()-before, 10)
}

func TestScheduler_WaitReturnsAfterDisposeWithoutThreads(t *testing.T) {
	s := newTestScheduler(t, 0)
	s.Dispose()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Wait(ctx))
}

func BenchmarkScheduler_Submit(b *testing.B) {
	s, err := NewScheduler(4)
	require.NoError(b, err)
	defer func() {
		s.Dispose()
		_ = s.Wait(context.Background())
	}()
	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		if _, err := s.Submit(wg.Done, false); err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}
