package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/learnflow/learnflow/types"
	"go.uber.org/zap"
)

// Processor executes one job. It receives the job's input parameters and
// the job id; long-running processors report progress through the queue
// while executing. The returned value becomes the job's result.
type Processor func(ctx context.Context, params []byte, jobID string) (any, error)

// Recorder receives job outcome notifications (implemented by the metrics
// collector). A nil Recorder is valid.
type Recorder interface {
	JobCompleted(jobType string, duration time.Duration)
	JobFailed(jobType string)
}

// WorkerConfig configures the worker loop.
type WorkerConfig struct {
	// AvailabilityBackoff is the pause before re-checking a down store.
	AvailabilityBackoff time.Duration `yaml:"availability_backoff" json:"availability_backoff"`

	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		AvailabilityBackoff: 5 * time.Second,
		StopTimeout:         5 * time.Second,
	}
}

// Worker drains the queue continuously on a single background goroutine.
// Jobs are processed strictly one at a time; throughput scales by running
// more worker processes, not more goroutines per worker.
type Worker struct {
	queue      *Queue
	cfg        WorkerConfig
	processors map[string]Processor
	recorder   Recorder
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker creates a worker over the given queue. Processors are
// registered explicitly on the instance; there is no process-wide registry.
func NewWorker(queue *Queue, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.AvailabilityBackoff <= 0 {
		cfg.AvailabilityBackoff = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		queue:      queue,
		cfg:        cfg,
		processors: make(map[string]Processor),
		logger:     logger.With(zap.String("component", "worker")),
	}
}

// SetRecorder attaches an outcome recorder (optional).
func (w *Worker) SetRecorder(r Recorder) { w.recorder = r }

// Register binds a processor to a job type. Registering a second processor
// for the same type replaces the first; the overwrite is logged so it is
// never silent.
func (w *Worker) Register(jobType string, p Processor) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.processors[jobType]; exists {
		w.logger.Warn("processor replaced", zap.String("job_type", jobType))
	}
	w.processors[jobType] = p
	w.logger.Info("processor registered", zap.String("job_type", jobType))
}

// Start launches the worker goroutine. Calling Start on a running worker
// is a no-op; there is never more than one loop per Worker. After a Stop
// that timed out, Start is refused until the old loop has actually exited,
// so two jobs are never in flight in one process.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.logger.Warn("worker already running")
		return
	}
	if w.doneCh != nil {
		select {
		case <-w.doneCh:
		default:
			w.logger.Warn("previous worker loop still draining, start refused")
			return
		}
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(w.stopCh, w.doneCh)

	w.logger.Info("worker started")
}

// Stop signals the loop to exit and waits, bounded by StopTimeout.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-time.After(w.cfg.StopTimeout):
		return fmt.Errorf("worker did not stop within %s", w.cfg.StopTimeout)
	}
}

// Running reports whether the worker loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		// Store unavailability is the only retried condition: pause and
		// re-check instead of busy-looping against a down dependency.
		if err := w.queue.Ping(ctx); err != nil {
			w.logger.Warn("store unavailable, backing off",
				zap.Duration("backoff", w.cfg.AvailabilityBackoff),
				zap.Error(err),
			)
			select {
			case <-stopCh:
				return
			case <-time.After(w.cfg.AvailabilityBackoff):
			}
			continue
		}

		id, err := w.queue.Claim(ctx)
		if err != nil {
			w.logger.Error("claim failed", zap.Error(err))
			continue
		}
		if id == "" {
			continue
		}

		w.process(ctx, id)
	}
}

// process runs one claimed job to a terminal state. It must never let a
// job's failure escape the loop.
func (w *Worker) process(ctx context.Context, id string) {
	job, err := w.queue.Status(ctx, id)
	if err != nil {
		if types.HasCode(err, types.ErrJobNotFound) {
			// The record expired between claim and lookup. Not an error,
			// just a race to tolerate.
			w.logger.Warn("claimed job missing, skipping", zap.String("job_id", id))
			return
		}
		w.logger.Error("failed to look up claimed job", zap.String("job_id", id), zap.Error(err))
		return
	}

	if err := w.queue.MarkProcessing(ctx, id); err != nil {
		w.logger.Error("failed to mark job processing", zap.String("job_id", id), zap.Error(err))
		return
	}

	w.mu.Lock()
	proc, ok := w.processors[job.Type]
	w.mu.Unlock()
	if !ok {
		// Misconfiguration is not transient; fail the job, keep the loop.
		msg := fmt.Sprintf("no processor registered for job type: %s", job.Type)
		w.logger.Error("unknown job type",
			zap.String("job_id", id),
			zap.String("job_type", job.Type),
		)
		w.failJob(ctx, job, msg)
		return
	}

	w.logger.Info("processing job",
		zap.String("job_id", id),
		zap.String("job_type", job.Type),
	)

	start := time.Now()
	result, err := w.invoke(ctx, proc, job)
	if err != nil {
		w.logger.Error("job failed",
			zap.String("job_id", id),
			zap.String("job_type", job.Type),
			zap.Error(err),
		)
		w.failJob(ctx, job, fmt.Sprintf("%T: %v", err, err))
		return
	}

	if err := w.queue.MarkCompleted(ctx, id, result); err != nil {
		w.logger.Error("failed to record job result", zap.String("job_id", id), zap.Error(err))
		return
	}
	if w.recorder != nil {
		w.recorder.JobCompleted(job.Type, time.Since(start))
	}
	w.logger.Info("job completed",
		zap.String("job_id", id),
		zap.String("job_type", job.Type),
		zap.Duration("duration", time.Since(start)),
	)
}

// invoke runs the processor, converting panics into errors so one bad job
// can never kill the worker loop.
func (w *Worker) invoke(ctx context.Context, proc Processor, job *types.Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return proc(ctx, job.Params, job.ID)
}

func (w *Worker) failJob(ctx context.Context, job *types.Job, msg string) {
	if err := w.queue.MarkFailed(ctx, job.ID, msg); err != nil {
		w.logger.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
	if w.recorder != nil {
		w.recorder.JobFailed(job.Type)
	}
}
