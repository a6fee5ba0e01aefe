package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/retry"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollTimeout  = 25 * time.Hour
	cancelTimeout       = 30 * time.Second
)

var (
	ErrPollLimit = errors.New("poll attempts exhausted")
	ErrNoOutput  = errors.New("job completed without an output file")
)

// JobError reports a job that reached a terminal state other than success.
type JobError struct {
	JobID  string
	Status domain.JobStatus
	Errors []string
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("job %s ended with status %s", e.JobID, e.Status)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return msg
}

type step int

const (
	stepWait step = iota
	stepDone
	stepFail
)

// nextStep is the poll state machine: queued and in_progress wait, completed
// with output succeeds, every other terminal state fails.
func nextStep(job domain.Job) (step, error) {
	switch job.Status {
	case domain.JobCompleted:
		if job.OutputFileID == "" {
			return stepFail, fmt.Errorf("job %s: %w", job.ID, ErrNoOutput)
		}
		return stepDone, nil
	case domain.JobFailed, domain.JobExpired, domain.JobCancelled:
		return stepFail, &JobError{JobID: job.ID, Status: job.Status, Errors: job.Errors}
	default:
		return stepWait, nil
	}
}

type Monitor struct {
	Service     Service
	Interval    time.Duration
	MaxAttempts int // 0 means unbounded; Timeout still applies
	Timeout     time.Duration
	Retry       retry.Policy
	Sleep       func(ctx context.Context, d time.Duration) error
	// OnPoll observes every status read.
	OnPoll func(job domain.Job)
}

// Await polls until the job reaches a terminal state, the attempt budget is
// spent, or ctx ends. Abandoned jobs are cancelled remotely.
func (m *Monitor) Await(ctx context.Context, job domain.Job) (domain.Job, error) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	sleep := m.Sleep
	if sleep == nil {
		sleep = retry.SleepContext
	}
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	current := job
	for attempt := 1; ; attempt++ {
		err := retry.Do(ctx, m.Retry, "retrieve_job", func(ctx context.Context) error {
			j, rerr := m.Service.RetrieveJob(ctx, job.ID)
			if rerr == nil {
				current = j
			}
			return rerr
		})
		if err != nil {
			if ctx.Err() != nil {
				m.abandon(current, ctx.Err())
				return current, fmt.Errorf("polling job %s: %w", job.ID, ctx.Err())
			}
			m.abandon(current, err)
			return current, fmt.Errorf("polling job %s: %w", job.ID, err)
		}

		log.Printf("batch poll job=%s attempt=%d status=%s completed=%d failed=%d total=%d",
			current.ID, attempt, current.RemoteStatus, current.Counts.Completed, current.Counts.Failed, current.Counts.Total)
		if len(current.Errors) > 0 {
			log.Printf("batch poll job=%s errors=%s", current.ID, strings.Join(current.Errors, "; "))
		}
		if m.OnPoll != nil {
			m.OnPoll(current)
		}

		switch s, serr := nextStep(current); s {
		case stepDone:
			log.Printf("batch completed job=%s output=%s", current.ID, current.OutputFileID)
			return current, nil
		case stepFail:
			return current, serr
		}

		if m.MaxAttempts > 0 && attempt >= m.MaxAttempts {
			m.abandon(current, ErrPollLimit)
			return current, fmt.Errorf("job %s after %d polls: %w", current.ID, attempt, ErrPollLimit)
		}
		if err := sleep(ctx, interval); err != nil {
			m.abandon(current, err)
			return current, fmt.Errorf("polling job %s: %w", job.ID, err)
		}
	}
}

func (m *Monitor) abandon(job domain.Job, reason error) {
	if job.ID == "" || job.Status.Terminal() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if _, err := m.Service.CancelJob(ctx, job.ID); err != nil {
		log.Printf("batch cancel failed job=%s reason=%v err=%v", job.ID, reason, err)
		return
	}
	log.Printf("batch cancelled job=%s reason=%v", job.ID, reason)
}
