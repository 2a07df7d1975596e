package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/paddock/internal/domain/model"
)

func job(id string) Job {
	return Job{
		ID:         id,
		Document:   model.RawDocument{SourceID: "paste", RaceKey: "ascot::2026-10-18::r01"},
		AcceptedAt: time.Now(),
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if c := q.Cap(); c != 2 {
		t.Errorf("expected capacity 2, got %d", c)
	}

	if !q.Enqueue(ctx, job("job1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.ID != "job1" {
		t.Errorf("expected job1, got %v", got.ID)
	}
	if got.Document.RaceKey != "ascot::2026-10-18::r01" {
		t.Errorf("expected document to travel with the job, got %q", got.Document.RaceKey)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, job("job1")) || !q.Enqueue(ctx, job("job2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, job("job3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_FIFOForSingleConsumer(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(50))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if !q.Enqueue(ctx, job(fmt.Sprintf("job%02d", i))) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	_ = q.Close()

	i := 0
	for j := range q.Dequeue(ctx) {
		if want := fmt.Sprintf("job%02d", i); j.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, j.ID)
		}
		i++
	}
	if i != 50 {
		t.Errorf("expected 50 jobs drained after close, got %d", i)
	}
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const (
		producers = 10
		perWorker = 100
	)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				for !q.Enqueue(ctx, job(fmt.Sprintf("job%d_%d", id, j))) {
					time.Sleep(time.Millisecond)
				}
			}
		}(p)
	}

	consumed := make(chan struct{})
	count := 0
	go func() {
		for range q.Dequeue(ctx) {
			count++
			if count == producers*perWorker {
				close(consumed)
			}
		}
	}()

	wg.Wait()
	select {
	case <-consumed:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not receive every job")
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, job("job1")) {
		t.Error("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, job("job2")) {
		t.Error("expected enqueue to fail after closing")
	}

	ch := q.Dequeue(ctx)
	if j, ok := <-ch; !ok || j.ID != "job1" {
		t.Errorf("expected queued job1 to drain, got %v %v", j.ID, ok)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected dequeue channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("expected dequeue channel to be closed within timeout")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
