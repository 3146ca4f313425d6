package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockResult implements Result
type mockResult struct {
	index int
	err   error
}

func (r *mockResult) GetError() error {
	return r.err
}

// mockJob implements Job
type mockJob struct {
	index     int
	duration  time.Duration
	shouldErr bool
	onStart   func()
}

func (j *mockJob) Execute(ctx context.Context) Result {
	if j.onStart != nil {
		j.onStart()
	}
	if j.duration > 0 {
		select {
		case <-time.After(j.duration):
		case <-ctx.Done():
			return &mockResult{index: j.index, err: ctx.Err()}
		}
	}
	if j.shouldErr {
		return &mockResult{index: j.index, err: errors.New("job error")}
	}
	return &mockResult{index: j.index}
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{5, 5},
		{0, 1},
		{-1, 1},
	}
	for _, tt := range tests {
		if got := NewPool(tt.in).Workers(); got != tt.want {
			t.Errorf("NewPool(%d).Workers() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRun_Order(t *testing.T) {
	// Later jobs finish first; results still come back in job order
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = &mockJob{index: i, duration: time.Duration(len(jobs)-i) * 5 * time.Millisecond}
	}

	results := Run(context.Background(), 4, jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for i, r := range results {
		if got := r.(*mockResult).index; got != i {
			t.Errorf("result %d came from job %d", i, got)
		}
	}
}

// gaugeJob tracks how many jobs run at once
type gaugeJob struct {
	current, peak *int32
}

func (j *gaugeJob) Execute(ctx context.Context) Result {
	n := atomic.AddInt32(j.current, 1)
	for {
		p := atomic.LoadInt32(j.peak)
		if n <= p || atomic.CompareAndSwapInt32(j.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(j.current, -1)
	return &mockResult{}
}

func TestRun_Concurrency(t *testing.T) {
	const workers = 4
	var current, peak int32

	jobs := make([]Job, 40)
	for i := range jobs {
		jobs[i] = &gaugeJob{current: &current, peak: &peak}
	}

	results := Run(context.Background(), workers, jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	if p := atomic.LoadInt32(&peak); p > workers {
		t.Errorf("peak concurrency %d exceeded %d workers", p, workers)
	}
}

func TestRun_ErrorHandling(t *testing.T) {
	results := Run(context.Background(), 2, []Job{
		&mockJob{shouldErr: true},
		&mockJob{},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].GetError() == nil || results[1].GetError() != nil {
		t.Errorf("errors not reported per job: %v, %v", results[0].GetError(), results[1].GetError())
	}
}

func TestRun_ManyJobs(t *testing.T) {
	jobs := make([]Job, 100)
	for i := range jobs {
		jobs[i] = &mockJob{index: i}
	}

	results := Run(context.Background(), 3, jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
}

func TestRun_Empty(t *testing.T) {
	if results := Run(context.Background(), 2, nil); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = &mockJob{duration: time.Second}
	}

	done := make(chan []Result)
	go func() { done <- Run(ctx, 2, jobs) }()

	select {
	case results := <-done:
		if len(results) != 0 {
			t.Errorf("expected no job to start, got %d results", len(results))
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_StopsStartingJobsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started int32
	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = &mockJob{index: i, onStart: func() {
			atomic.AddInt32(&started, 1)
			cancel()
		}}
	}

	results := Run(ctx, 1, jobs)
	if len(results) != 1 || atomic.LoadInt32(&started) != 1 {
		t.Errorf("expected only the first job to run, got %d results and %d starts", len(results), started)
	}
}

// nestedJob runs its children on the pool it was started from
type nestedJob struct {
	pool     *Pool
	children []Job
}

func (j *nestedJob) Execute(ctx context.Context) Result {
	return &mockResult{index: len(j.pool.Run(ctx, j.children))}
}

func TestPool_NestedRunSharesLimit(t *testing.T) {
	const workers = 3
	var current, peak int32
	p := NewPool(workers)

	leaves := func() []Job {
		jobs := make([]Job, 4)
		for i := range jobs {
			jobs[i] = &gaugeJob{current: &current, peak: &peak}
		}
		return jobs
	}
	mid := func() []Job {
		jobs := make([]Job, 4)
		for i := range jobs {
			jobs[i] = &nestedJob{pool: p, children: leaves()}
		}
		return jobs
	}
	top := make([]Job, 4)
	for i := range top {
		top[i] = &nestedJob{pool: p, children: mid()}
	}

	done := make(chan []Result)
	go func() { done <- p.Run(context.Background(), top) }()

	select {
	case results := <-done:
		if len(results) != len(top) {
			t.Fatalf("expected %d results, got %d", len(top), len(results))
		}
		for i, r := range results {
			if n := r.(*mockResult).index; n != 4 {
				t.Errorf("job %d finished %d of 4 children", i, n)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nested Run did not finish")
	}

	if got := atomic.LoadInt32(&peak); got > workers {
		t.Errorf("peak concurrency %d exceeded %d workers across nested runs", got, workers)
	}
}
