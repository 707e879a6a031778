package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/learnflow/learnflow/types"
)

func setupTestWorker(t *testing.T) (*Queue, *Worker) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewQueue(client, Config{ClaimTimeout: 20 * time.Millisecond}, zap.NewNop())
	w := NewWorker(q, WorkerConfig{
		AvailabilityBackoff: 20 * time.Millisecond,
		StopTimeout:         2 * time.Second,
	}, zap.NewNop())

	t.Cleanup(func() { _ = w.Stop() })
	return q, w
}

// waitForTerminal polls until the job leaves pending/processing.
func waitForTerminal(t *testing.T, q *Queue, id string) *types.Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Status(context.Background(), id)
		require.NoError(t, err)
		if job.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", id)
	return nil
}

func TestWorker_ProcessesJobToCompletion(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	w.Register("echo", func(ctx context.Context, params []byte, jobID string) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		return map[string]string{"echoed": in["msg"]}, nil
	})
	w.Start()

	id, err := q.Create(ctx, "echo", map[string]string{"msg": "hello"})
	require.NoError(t, err)

	job := waitForTerminal(t, q, id)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)

	var result map[string]string
	require.NoError(t, json.Unmarshal(job.Result, &result))
	assert.Equal(t, "hello", result["echoed"])
}

func TestWorker_UnknownJobTypeFailsJob(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	w.Register("known", func(ctx context.Context, params []byte, jobID string) (any, error) {
		return "ok", nil
	})
	w.Start()

	unknownID, err := q.Create(ctx, "mystery", nil)
	require.NoError(t, err)

	job := waitForTerminal(t, q, unknownID)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Contains(t, job.Error, "no processor registered for job type: mystery")

	// The loop survives; a valid job submitted afterwards still runs.
	knownID, err := q.Create(ctx, "known", nil)
	require.NoError(t, err)

	job = waitForTerminal(t, q, knownID)
	assert.Equal(t, types.JobCompleted, job.Status)
}

func TestWorker_ProcessorErrorIsCaptured(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	w.Register("flaky", func(ctx context.Context, params []byte, jobID string) (any, error) {
		return nil, errors.New("upstream exploded")
	})
	w.Start()

	id, err := q.Create(ctx, "flaky", nil)
	require.NoError(t, err)

	job := waitForTerminal(t, q, id)
	assert.Equal(t, types.JobFailed, job.Status)
	// The error string carries the error type for debuggability.
	assert.Contains(t, job.Error, "errorString")
	assert.Contains(t, job.Error, "upstream exploded")
	assert.Nil(t, job.Result)
}

func TestWorker_ProcessorPanicIsCaptured(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	w.Register("panicky", func(ctx context.Context, params []byte, jobID string) (any, error) {
		panic("boom")
	})
	w.Register("steady", func(ctx context.Context, params []byte, jobID string) (any, error) {
		return "ok", nil
	})
	w.Start()

	id, err := q.Create(ctx, "panicky", nil)
	require.NoError(t, err)

	job := waitForTerminal(t, q, id)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Contains(t, job.Error, "panic: boom")

	id2, err := q.Create(ctx, "steady", nil)
	require.NoError(t, err)
	job = waitForTerminal(t, q, id2)
	assert.Equal(t, types.JobCompleted, job.Status)
}

func TestWorker_ProgressReporting(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	w.Register("staged", func(ctx context.Context, params []byte, jobID string) (any, error) {
		for _, p := range []int{20, 50, 90} {
			if err := q.SetProgress(ctx, jobID, p, "working"); err != nil {
				return nil, err
			}
		}
		return "done", nil
	})
	w.Start()

	id, err := q.Create(ctx, "staged", nil)
	require.NoError(t, err)

	job := waitForTerminal(t, q, id)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestWorker_ProgressVisibleMidExecution(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	advance := make(chan struct{})
	stepped := make(chan struct{})

	w.Register("staged", func(ctx context.Context, params []byte, jobID string) (any, error) {
		for _, p := range []int{20, 50, 90} {
			<-advance
			if err := q.SetProgress(ctx, jobID, p, "working"); err != nil {
				return nil, err
			}
			stepped <- struct{}{}
		}
		<-advance
		return "done", nil
	})
	w.Start()

	id, err := q.Create(ctx, "staged", nil)
	require.NoError(t, err)

	// Step the processor and poll between steps; the observed progress
	// sequence must be non-decreasing and end at 100.
	observed := []int{0}
	for _, want := range []int{20, 50, 90} {
		advance <- struct{}{}
		<-stepped

		job, err := q.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.JobProcessing, job.Status)
		assert.Equal(t, want, job.Progress)
		observed = append(observed, job.Progress)
	}
	advance <- struct{}{}

	job := waitForTerminal(t, q, id)
	assert.Equal(t, types.JobCompleted, job.Status)
	observed = append(observed, job.Progress)

	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
	}
	assert.Equal(t, 100, observed[len(observed)-1])
}

func TestWorker_StartRefusedWhileOldLoopDrains(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewQueue(client, Config{ClaimTimeout: 20 * time.Millisecond}, zap.NewNop())
	w := NewWorker(q, WorkerConfig{
		AvailabilityBackoff: 20 * time.Millisecond,
		StopTimeout:         50 * time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(func() { _ = w.Stop() })

	release := make(chan struct{})
	started := make(chan struct{})
	w.Register("slow", func(ctx context.Context, params []byte, jobID string) (any, error) {
		close(started)
		<-release
		return "done", nil
	})
	w.Start()

	ctx := context.Background()
	id, err := q.Create(ctx, "slow", nil)
	require.NoError(t, err)
	<-started

	// Stop times out while the processor holds the job.
	require.Error(t, w.Stop())

	// The old loop is still draining its job; a second loop must not spawn.
	w.Start()
	assert.False(t, w.Running())

	close(release)
	job := waitForTerminal(t, q, id)
	assert.Equal(t, types.JobCompleted, job.Status)

	// Once the old loop has exited, Start works again.
	assert.Eventually(t, func() bool {
		w.Start()
		return w.Running()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_StartIsIdempotent(t *testing.T) {
	_, w := setupTestWorker(t)

	w.Start()
	w.Start()
	assert.True(t, w.Running())

	require.NoError(t, w.Stop())
	assert.False(t, w.Running())
}

func TestWorker_StopWithoutStart(t *testing.T) {
	_, w := setupTestWorker(t)
	require.NoError(t, w.Stop())
}

func TestWorker_RegisterReplaces(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	w.Register("dup", func(ctx context.Context, params []byte, jobID string) (any, error) {
		return "first", nil
	})
	w.Register("dup", func(ctx context.Context, params []byte, jobID string) (any, error) {
		return "second", nil
	})
	w.Start()

	id, err := q.Create(ctx, "dup", nil)
	require.NoError(t, err)

	job := waitForTerminal(t, q, id)
	require.Equal(t, types.JobCompleted, job.Status)

	var result string
	require.NoError(t, json.Unmarshal(job.Result, &result))
	assert.Equal(t, "second", result)
}

func TestWorker_RecorderNotified(t *testing.T) {
	q, w := setupTestWorker(t)
	ctx := context.Background()

	rec := &recordingRecorder{}
	w.SetRecorder(rec)
	w.Register("ok", func(ctx context.Context, params []byte, jobID string) (any, error) {
		return "done", nil
	})
	w.Register("bad", func(ctx context.Context, params []byte, jobID string) (any, error) {
		return nil, errors.New("nope")
	})
	w.Start()

	okID, err := q.Create(ctx, "ok", nil)
	require.NoError(t, err)
	badID, err := q.Create(ctx, "bad", nil)
	require.NoError(t, err)

	waitForTerminal(t, q, okID)
	waitForTerminal(t, q, badID)

	assert.Eventually(t, func() bool {
		return rec.completed("ok") == 1 && rec.failed("bad") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type recordingRecorder struct {
	mu        sync.Mutex
	completes map[string]int
	failures  map[string]int
}

func (r *recordingRecorder) JobCompleted(jobType string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completes == nil {
		r.completes = make(map[string]int)
	}
	r.completes[jobType]++
}

func (r *recordingRecorder) JobFailed(jobType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = make(map[string]int)
	}
	r.failures[jobType]++
}

func (r *recordingRecorder) completed(jobType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes[jobType]
}

func (r *recordingRecorder) failed(jobType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[jobType]
}
