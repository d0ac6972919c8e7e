package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stadtnetz/lorabulk/internal/registry"
)

var (
	ErrEmptyJob           = errors.New("job has no device records")
	ErrInvalidConcurrency = errors.New("concurrency limit must not be negative")
	ErrTooManyTags        = errors.New("too many job-level tags")
	ErrInvalidPolicy      = errors.New("unknown duplicate policy")
)

// Runner executes registration jobs against a registry client.
type Runner struct {
	reg    registry.Client
	logger *slog.Logger
}

func NewRunner(reg registry.Client, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{reg: reg, logger: logger}
}

// Execution is a running (or finished) job. Outcomes arrive in completion
// order on Outcomes(); Wait() blocks until the job drains and returns the
// input-ordered report.
type Execution struct {
	outcomes  chan Outcome
	publisher *Publisher
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	results []Outcome
}

// Run validates the job and starts its worker pool. Per-device failures
// never fail Run; only job-level misconfiguration does.
func (r *Runner) Run(ctx context.Context, job Job) (*Execution, error) {
	if len(job.Records) == 0 {
		return nil, ErrEmptyJob
	}
	if job.Concurrency < 0 {
		return nil, ErrInvalidConcurrency
	}
	if len(job.Tags) > MaxUniformTags {
		return nil, fmt.Errorf("%w: %d given, at most %d allowed", ErrTooManyTags, len(job.Tags), MaxUniformTags)
	}
	switch job.Policy {
	case DuplicateFail, DuplicateSkip, DuplicateReplace:
	case "":
		job.Policy = DuplicateSkip
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, job.Policy)
	}
	if job.Concurrency == 0 {
		job.Concurrency = DefaultConcurrency
	}
	if job.Concurrency > len(job.Records) {
		job.Concurrency = len(job.Records)
	}

	runCtx, cancel := context.WithCancel(ctx)

	e := &Execution{
		outcomes:  make(chan Outcome, len(job.Records)),
		publisher: newPublisher(len(job.Records)),
		cancel:    cancel,
		done:      make(chan struct{}),
		results:   make([]Outcome, len(job.Records)),
	}
	for i, rec := range job.Records {
		e.results[i] = Outcome{Position: i, DevEUI: rec.DevEUI, Name: rec.Name, Status: StatusPending}
	}

	r.logger.Info("Starting registration job",
		"devices", len(job.Records),
		"concurrency", job.Concurrency,
		"policy", job.Policy,
		"mac_version", job.Version)

	go r.execute(runCtx, &job, e)

	return e, nil
}

func (r *Runner) execute(ctx context.Context, job *Job, e *Execution) {
	defer e.cancel()

	dispatch := make(chan int)
	completed := make(chan Outcome)

	// Dispatcher: feeds positions in input order, stops on cancellation.
	go func() {
		defer close(dispatch)
		for pos := range job.Records {
			select {
			case dispatch <- pos:
			case <-ctx.Done():
				r.logger.Info("Job cancelled, no further devices dispatched", "remaining", len(job.Records)-pos)
				return
			}
		}
	}()

	// Worker pool: one registration saga per dispatched device. Tasks run
	// on a context detached from cancellation: cancelling a job only stops
	// dispatch, a saga already underway finishes (or times out per call)
	// so its compensating delete can still reach the registry.
	taskCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for w := 0; w < job.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range dispatch {
				t := &task{
					reg:    r.reg,
					job:    job,
					rec:    job.Records[pos],
					pos:    pos,
					logger: r.logger,
				}
				e.publisher.started()
				completed <- t.run(taskCtx)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(completed)
	}()

	// Collector: single owner of the outcome table and the publisher.
	// Each slot is written exactly once, here.
	for oc := range completed {
		e.mu.Lock()
		e.results[oc.Position] = oc
		e.mu.Unlock()

		e.publisher.publish(oc)
		e.outcomes <- oc

		if oc.Status == StatusFailed {
			r.logger.Warn("Device registration failed",
				"dev_eui", oc.DevEUI,
				"kind", oc.Kind,
				"detail", oc.Detail,
				"rollback_failed", oc.RollbackFailed)
		} else {
			r.logger.Debug("Device registration finished",
				"dev_eui", oc.DevEUI,
				"status", oc.Status,
				"elapsed", oc.Elapsed)
		}
	}

	final := e.publisher.Current()
	r.logger.Info("Registration job finished",
		"succeeded", final.Succeeded,
		"skipped", final.Skipped,
		"failed", final.Failed,
		"pending", final.Pending)

	e.publisher.close()
	close(e.outcomes)
	close(e.done)
}

// Outcomes streams results in completion order. The channel is closed when
// the job drains; it is buffered to the job size, so a caller that only
// calls Wait loses nothing.
func (e *Execution) Outcomes() <-chan Outcome {
	return e.outcomes
}

// Subscribe attaches a progress observer.
func (e *Execution) Subscribe() <-chan Snapshot {
	return e.publisher.Subscribe()
}

// Progress returns the latest snapshot.
func (e *Execution) Progress() Snapshot {
	return e.publisher.Current()
}

// Cancel stops dispatching new devices. In-flight registrations finish or
// time out on their own; already-registered devices are not rolled back.
func (e *Execution) Cancel() {
	e.cancel()
}

// Done is closed when the job has fully drained.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the job drains and returns the input-ordered report.
// Slots of devices never dispatched (cancellation) remain StatusPending.
func (e *Execution) Wait() Report {
	<-e.done

	e.mu.Lock()
	results := make([]Outcome, len(e.results))
	copy(results, e.results)
	e.mu.Unlock()

	return Report{Results: results, Final: e.publisher.Current()}
}
