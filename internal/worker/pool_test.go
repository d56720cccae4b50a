package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// stubBrowser satisfies interfaces.Browser without a real Chrome process
type stubBrowser struct {
	closed atomic.Bool
}

func (b *stubBrowser) Navigate(ctx context.Context, url string) error         { return nil }
func (b *stubBrowser) WaitVisible(ctx context.Context, selector string) error { return nil }
func (b *stubBrowser) SendKeys(ctx context.Context, selector, text string) error {
	return nil
}
func (b *stubBrowser) Click(ctx context.Context, selector string) error { return nil }
func (b *stubBrowser) CurrentURL(ctx context.Context) (string, error)   { return "about:blank", nil }
func (b *stubBrowser) PageText(ctx context.Context) (string, error)     { return "", nil }
func (b *stubBrowser) Cookies(ctx context.Context) ([]*models.Cookie, error) {
	return nil, nil
}
func (b *stubBrowser) LocalStorage(ctx context.Context) (map[string]string, error) {
	return nil, nil
}
func (b *stubBrowser) SetCookies(ctx context.Context, cookies []*models.Cookie) error {
	return nil
}
func (b *stubBrowser) Close() error {
	b.closed.Store(true)
	return nil
}

type stubFactory struct {
	launched atomic.Int32
}

func (f *stubFactory) NewBrowser(ctx context.Context) (interfaces.Browser, error) {
	f.launched.Add(1)
	return &stubBrowser{}, nil
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	pool := NewPool(&stubFactory{}, size, arbor.NewLogger())
	t.Cleanup(pool.Terminate)
	return pool
}

func TestClampPoolSize(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		wantMin    int
		wantMax    int
	}{
		{"zero derives from CPU", 0, 4, 10},
		{"below floor", 1, 4, 4},
		{"in range", 6, 6, 6},
		{"above ceiling", 50, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := ClampPoolSize(tt.configured)
			assert.GreaterOrEqual(t, size, tt.wantMin)
			assert.LessOrEqual(t, size, tt.wantMax)
		})
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	pool := newTestPool(t, 4)

	var inFlight, peak atomic.Int32
	pool.RegisterHandler(models.TaskKindExtract, func(ctx context.Context, b interfaces.Browser, payload []byte) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return payload, nil
	})
	pool.Start()

	const taskCount = 20
	var wg sync.WaitGroup
	errs := make([]error, taskCount)
	for i := 0; i < taskCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "task %d", i)
	}
	assert.LessOrEqual(t, peak.Load(), int32(4), "in-flight tasks must never exceed pool size")
	assert.Greater(t, peak.Load(), int32(1), "pool should actually run tasks in parallel")
}

func TestPool_TwoWorkersFiveTasks(t *testing.T) {
	pool := newTestPool(t, 4)
	pool.size = 2 // test fixture below the configured floor
	release := make(chan struct{})

	var started atomic.Int32
	pool.RegisterHandler(models.TaskKindExtract, func(ctx context.Context, b interfaces.Browser, payload []byte) ([]byte, error) {
		started.Add(1)
		<-release
		return nil, nil
	})
	pool.Start()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract})
		}()
	}

	// Exactly the two workers pick up work; the other three tasks queue
	assert.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), started.Load())

	// Freeing a worker dispatches the next queued task without an idle gap
	release <- struct{}{}
	assert.Eventually(t, func() bool { return started.Load() == 3 }, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(5), started.Load())
}

func TestPool_FIFOOrder(t *testing.T) {
	pool := newTestPool(t, 4)
	pool.size = 1 // single worker makes dispatch order observable

	var mu sync.Mutex
	var order []byte
	gate := make(chan struct{})
	pool.RegisterHandler(models.TaskKindExtract, func(ctx context.Context, b interfaces.Browser, payload []byte) ([]byte, error) {
		<-gate
		mu.Lock()
		order = append(order, payload[0])
		mu.Unlock()
		return nil, nil
	})
	pool.Start()

	var wg sync.WaitGroup
	for _, id := range []byte{'a', 'b', 'c', 'd'} {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract, Payload: []byte{id}})
		}(id)
		time.Sleep(20 * time.Millisecond) // enqueue in a known order
	}

	for i := 0; i < 4; i++ {
		gate <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, []byte{'a', 'b', 'c', 'd'}, order)
}

func TestPool_TerminateFailsQueuedTasks(t *testing.T) {
	pool := NewPool(&stubFactory{}, 4, arbor.NewLogger())
	pool.size = 1
	blocked := make(chan struct{})

	pool.RegisterHandler(models.TaskKindExtract, func(ctx context.Context, b interfaces.Browser, payload []byte) ([]byte, error) {
		blocked <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pool.Start()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract})
		}(i)
	}

	<-blocked // one task in flight, two queued
	pool.Terminate()
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	assert.Equal(t, 3, failed, "queued and in-flight tasks must all surface an error on terminate")

	_, err := pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_PanicFailsOnlyThatTask(t *testing.T) {
	pool := newTestPool(t, 4)
	pool.size = 1

	pool.RegisterHandler(models.TaskKindExtract, func(ctx context.Context, b interfaces.Browser, payload []byte) ([]byte, error) {
		if string(payload) == "boom" {
			panic("exploded")
		}
		return payload, nil
	})
	pool.Start()

	_, err := pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract, Payload: []byte("boom")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	out, err := pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract, Payload: []byte("ok")})
	require.NoError(t, err, "a panicked task must not poison the pool")
	assert.Equal(t, []byte("ok"), out)
}

func TestPool_NoHandler(t *testing.T) {
	pool := newTestPool(t, 4)
	pool.Start()

	_, err := pool.Submit(context.Background(), models.Task{Kind: "unknown"})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestPool_SubmitHonorsCallerContext(t *testing.T) {
	pool := newTestPool(t, 4)
	pool.size = 1
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	pool.RegisterHandler(models.TaskKindExtract, func(ctx context.Context, b interfaces.Browser, payload []byte) ([]byte, error) {
		<-block
		return nil, nil
	})
	pool.Start()

	// Occupy the single worker
	go pool.Submit(context.Background(), models.Task{Kind: models.TaskKindExtract})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := pool.Submit(ctx, models.Task{Kind: models.TaskKindExtract})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
