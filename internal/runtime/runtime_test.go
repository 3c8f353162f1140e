package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool("test", 4, 16, Block)
	defer p.Shutdown(context.Background())

	var done int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		if err := p.Submit(context.Background(), func() {
			defer wg.Done()
			atomic.AddInt32(&done, 1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if done != 20 {
		t.Errorf("done = %d, want 20", done)
	}
}

func TestPoolCallerRunsOnOverflow(t *testing.T) {
	// One busy worker, zero queue depth: the second submit must run on
	// the calling goroutine instead of blocking.
	p := NewPool("test", 1, 0, CallerRuns)
	defer p.Shutdown(context.Background())

	block := make(chan struct{})
	p.Submit(context.Background(), func() { <-block })
	time.Sleep(10 * time.Millisecond)

	ran := make(chan struct{})
	go func() {
		p.Submit(context.Background(), func() { close(ran) })
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("overflow task did not run inline")
	}
	close(block)
}

func TestPoolBlockHonorsContext(t *testing.T) {
	p := NewPool("test", 1, 0, Block)
	defer p.Shutdown(context.Background())

	block := make(chan struct{})
	defer close(block)
	p.Submit(context.Background(), func() { <-block })
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestPoolShutdownDrains(t *testing.T) {
	p := NewPool("test", 2, 10, Block)

	var done int32
	for i := 0; i < 5; i++ {
		p.Submit(context.Background(), func() { atomic.AddInt32(&done, 1) })
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if done != 5 {
		t.Errorf("done = %d, want 5", done)
	}
	if err := p.Submit(context.Background(), func() {}); err != ErrShutdown {
		t.Errorf("submit after shutdown = %v, want ErrShutdown", err)
	}
}

func TestRuntimeDefaults(t *testing.T) {
	r := New(Config{})
	defer r.Shutdown(context.Background())

	if r.Ingest == nil || r.Subtask == nil || r.Tools == nil {
		t.Fatal("pools not constructed")
	}
	if r.Ingest.Name() != "ingest" {
		t.Errorf("name = %q", r.Ingest.Name())
	}
}
