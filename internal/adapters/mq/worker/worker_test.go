package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/paddock/internal/adapters/mq/queue"
	worker "github.com/okian/paddock/internal/adapters/mq/worker"
	model "github.com/okian/paddock/internal/domain/model"
	logging "github.com/okian/paddock/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	jobs chan queue.Job
	once sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan queue.Job, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Job {
	return mq.jobs
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.jobs) })
	return nil
}

func (mq *mockQueue) add(j queue.Job) { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	mq.jobs <- j
}

type recordingProcessor struct {
	mu     sync.Mutex
	seen   []string
	errors map[string]error
	delay  time.Duration
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{errors: make(map[string]error)}
}

func (p *recordingProcessor) Process(ctx context.Context, j queue.Job) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, j.Document.RaceKey)
	return p.errors[j.Document.RaceKey]
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func job(id, raceKey string) queue.Job {
	return queue.Job{
		ID:         id,
		Document:   model.RawDocument{SourceID: "test", RaceKey: raceKey, CapturedAt: time.Now()},
		AcceptedAt: time.Now(),
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		p := newRecordingProcessor()

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(q, p, worker.WithName("test-worker"))

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
				convey.So(w.Processed(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, p)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			convey.Convey("And jobs arrive in order", func() {
				q.add(job("1", "ascot::2026-10-18::r01"))
				q.add(job("2", "ascot::2026-10-18::r02"))

				convey.Convey("Then it should process them in arrival order", func() {
					convey.So(waitFor(func() bool { return w.Processed() == 2 }), convey.ShouldBeTrue)
					convey.So(p.processed(), convey.ShouldResemble, []string{
						"ascot::2026-10-18::r01",
						"ascot::2026-10-18::r02",
					})
				})
			})

			convey.Convey("And processing fails", func() {
				p.errors["bad::2026-10-18::r01"] = errors.New("merge failed")
				q.add(job("1", "bad::2026-10-18::r01"))
				q.add(job("2", "ascot::2026-10-18::r03"))

				convey.Convey("Then the worker should keep going", func() {
					convey.So(waitFor(func() bool { return w.Processed() == 2 }), convey.ShouldBeTrue)
				})
			})

			convey.Convey("And the queue is closed", func() {
				_ = q.Close()

				convey.Convey("Then Run should return", func() {
					select {
					case <-w.Done():
					case <-time.After(time.Second):
						convey.So("worker did not stop", convey.ShouldBeEmpty)
					}
				})
			})
		})

		convey.Convey("When shutting down a running worker", func() {
			w := worker.NewInMemoryWorker(q, p)
			go w.Run(context.Background())

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := w.Shutdown(ctx)

			convey.Convey("Then it should stop cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the shutdown deadline passes first", func() {
			w := worker.NewInMemoryWorker(q, p)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			err := w.Shutdown(ctx)

			convey.Convey("Then it should report the timeout", func() {
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool over a real queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		p := newRecordingProcessor()
		p.delay = time.Millisecond

		convey.Convey("When the worker count is not positive", func() {
			pool := worker.NewPool(0, q, p)

			convey.Convey("Then it should run a single worker", func() {
				convey.So(pool.Size(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When jobs are queued before shutdown", func() {
			pool := worker.NewPool(1, q, p)
			pool.Start(context.Background())

			for _, key := range []string{"a::2026-10-18::r01", "a::2026-10-18::r02", "a::2026-10-18::r03"} {
				convey.So(q.Enqueue(context.Background(), job(key, key)), convey.ShouldBeTrue)
			}

			err := pool.Shutdown(context.Background())

			convey.Convey("Then shutdown should drain every job", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(pool.Processed(), convey.ShouldEqual, 3)
				convey.So(len(p.processed()), convey.ShouldEqual, 3)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}
