package scheduler_test

import (
	"context"
	"os"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erichli1/acamafia/internal/adapters/mq/queue"
	"github.com/erichli1/acamafia/internal/adapters/mq/scheduler"
	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// recordingQueue accepts jobs after rejecting the first failures calls.
type recordingQueue struct {
	mu       sync.Mutex
	failures int
	jobs     []queue.Job
	got      chan queue.Job
}

func newRecordingQueue(failures int) *recordingQueue {
	return &recordingQueue{failures: failures, got: make(chan queue.Job, 16)}
}

func (q *recordingQueue) Enqueue(_ context.Context, j queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures > 0 {
		q.failures--
		return queue.ErrFull
	}
	q.jobs = append(q.jobs, j)
	q.got <- j
	return nil
}

// countingQueue accepts every job and only counts them.
type countingQueue struct{ n atomic.Int64 }

func (q *countingQueue) Enqueue(_ context.Context, _ queue.Job) error {
	q.n.Add(1)
	return nil
}

func waitJob(ch <-chan queue.Job, d time.Duration) (queue.Job, bool) {
	select {
	case j := <-ch:
		return j, true
	case <-time.After(d):
		return queue.Job{}, false
	}
}

func announcement(id string, due time.Time) model.Announcement {
	return model.Announcement{JobID: id, ComperID: "c@x.edu", Group: "Lowkeys", DueAt: due}
}

func TestMemoryScheduler(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory scheduler", t, func() {
		q := newRecordingQueue(0)
		s := scheduler.NewMemoryScheduler(q, scheduler.WithRetryDelay(5*time.Millisecond, 20*time.Millisecond))
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Close() })

		Convey("A job is held until it is due", func() {
			start := time.Now()
			So(s.Schedule(ctx, announcement("job-1", start.Add(50*time.Millisecond))), ShouldBeNil)
			So(s.Pending(ctx), ShouldEqual, 1)

			j, ok := waitJob(q.got, time.Second)
			So(ok, ShouldBeTrue)
			So(j.JobID, ShouldEqual, "job-1")
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
		})

		Convey("An overdue job is delivered immediately", func() {
			So(s.Schedule(ctx, announcement("late", time.Now().Add(-time.Hour))), ShouldBeNil)
			_, ok := waitJob(q.got, 500*time.Millisecond)
			So(ok, ShouldBeTrue)
		})

		Convey("Rescheduling the same id replaces the earlier job", func() {
			So(s.Schedule(ctx, announcement("dup", time.Now().Add(time.Hour))), ShouldBeNil)
			So(s.Schedule(ctx, announcement("dup", time.Now())), ShouldBeNil)

			_, ok := waitJob(q.got, 500*time.Millisecond)
			So(ok, ShouldBeTrue)
			_, again := waitJob(q.got, 100*time.Millisecond)
			So(again, ShouldBeFalse)
		})

		Convey("Closing cancels pending jobs", func() {
			So(s.Schedule(ctx, announcement("never", time.Now().Add(100*time.Millisecond))), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			So(s.Pending(ctx), ShouldEqual, 0)
			_, ok := waitJob(q.got, 200*time.Millisecond)
			So(ok, ShouldBeFalse)
			So(s.Schedule(ctx, announcement("after", time.Now())), ShouldEqual, scheduler.ErrClosed)
		})
	})

	Convey("Given many jobs that are already due", t, func() {
		q := &countingQueue{}
		s := scheduler.NewMemoryScheduler(q)
		defer s.Close()

		const jobs = 2000
		past := time.Now().Add(-time.Second)
		for i := 0; i < jobs; i++ {
			So(s.Schedule(ctx, announcement(fmt.Sprintf("due-%d", i), past)), ShouldBeNil)
		}

		Convey("Every job is delivered and none stays pending", func() {
			deadline := time.Now().Add(5 * time.Second)
			for (q.n.Load() < jobs || s.Pending(ctx) > 0) && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(q.n.Load(), ShouldEqual, int64(jobs))
			So(s.Pending(ctx), ShouldEqual, 0)
		})
	})

	Convey("Given a queue that is briefly full", t, func() {
		q := newRecordingQueue(3)
		s := scheduler.NewMemoryScheduler(q, scheduler.WithRetryDelay(5*time.Millisecond, 20*time.Millisecond))
		defer s.Close()

		So(s.Schedule(ctx, announcement("retry", time.Now())), ShouldBeNil)

		Convey("The hand-off is retried until accepted", func() {
			j, ok := waitJob(q.got, time.Second)
			So(ok, ShouldBeTrue)
			So(j.JobID, ShouldEqual, "retry")
		})
	})
}

func TestRedisScheduler(t *testing.T) {
	addr := os.Getenv("ACAMAFIA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ACAMAFIA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	Convey("Given a Redis scheduler", t, func() {
		rdb := scheduler.NewRedisClient(addr, "", 0)
		key := "acamafia:test:" + time.Now().Format("150405.000000")
		Reset(func() {
			rdb.Del(ctx, key, key+":jobs")
			_ = rdb.Close()
		})

		q := newRecordingQueue(1)
		s := scheduler.NewRedisScheduler(rdb, q,
			scheduler.WithKey(key),
			scheduler.WithPollInterval(10*time.Millisecond),
			scheduler.WithRetryDelay(10*time.Millisecond, 10*time.Millisecond),
		)
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Close() })

		due := time.Now().Add(30 * time.Millisecond).Truncate(time.Millisecond)
		job := announcement("redis-job", due)
		job.RelevantGroups = []string{"Lowkeys", "Veritones"}
		So(s.Schedule(ctx, job), ShouldBeNil)
		So(s.Pending(ctx), ShouldEqual, 1)

		Convey("The job survives one rejected hand-off and arrives intact", func() {
			got, ok := waitJob(q.got, 2*time.Second)
			So(ok, ShouldBeTrue)
			So(got.JobID, ShouldEqual, "redis-job")
			So(got.RelevantGroups, ShouldResemble, job.RelevantGroups)
			So(got.DueAt.Equal(due), ShouldBeTrue)
			So(s.Pending(ctx), ShouldEqual, 0)
		})
	})
}
