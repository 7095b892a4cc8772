package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerDeliversInOrderAndDrainsOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	w := New(Config{BufferSize: 16}, func(_ context.Context, v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		if !w.Submit(context.Background(), i) {
			t.Fatalf("Submit(%d) rejected", i)
		}
	}
	w.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 10 {
		t.Fatalf("expected 10 items, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected in-order delivery, got %v", got)
		}
	}
}

func TestWorkerDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	w := New(Config{BufferSize: 1, DropIfFull: true}, func(_ context.Context, _ string) {
		once.Do(func() { close(started) })
		<-block
	})

	w.Submit(context.Background(), "first")
	<-started
	w.Submit(context.Background(), "buffered")
	if w.Submit(context.Background(), "dropped") {
		t.Fatal("expected submit to report a drop")
	}
	if w.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", w.Dropped())
	}

	close(block)
	w.Close()
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	w := New(Config{}, func(context.Context, int) {})
	w.Close()
	w.Close()

	if w.Submit(context.Background(), 1) {
		t.Fatal("expected submit after close to be rejected")
	}

	var nilWorker *Worker[int]
	if nilWorker.Submit(context.Background(), 1) {
		t.Fatal("expected nil worker to reject")
	}
	nilWorker.Close()
}

func TestAcceptedItemsSurviveConcurrentClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		var handled atomic.Int64
		w := New(Config{BufferSize: 4}, func(context.Context, int) {
			handled.Add(1)
		})

		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
		)
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if w.Submit(context.Background(), i) {
						accepted.Add(1)
					}
				}
			}()
		}
		w.Close()
		wg.Wait()

		if handled.Load() != accepted.Load() {
			t.Fatalf("round %d: accepted %d items but handled %d", round, accepted.Load(), handled.Load())
		}
	}
}
