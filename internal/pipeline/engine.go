package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reviewclassifier/internal/chunker"
	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/merge"
	"reviewclassifier/internal/metrics"
)

// ErrNoChunkSucceeded means every chunk failed; callers must not write output.
var ErrNoChunkSucceeded = errors.New("no chunk succeeded")

// Strategy turns one chunk into per-record results. A returned error fails
// the whole chunk; record-level problems are reported through the entries.
// observe receives job state changes for the ledger.
type Strategy interface {
	Name() string
	Process(ctx context.Context, runID string, chunk domain.Chunk, observe func(domain.ChunkRecord)) ([]domain.ResultEntry, error)
}

// Ledger persists run history. Failures are logged and never fail the run.
type Ledger interface {
	StartRun(run domain.Run) error
	RecordJob(runID string, rec domain.ChunkRecord) error
	FinishRun(run domain.Run, annotated []domain.Annotated) error
}

type Engine struct {
	Strategy  Strategy
	ChunkSize int
	MaxWords  int
	// Concurrency bounds the number of chunks in flight. Values below 2 run
	// chunks one after another.
	Concurrency int

	Ledger  Ledger
	Metrics *metrics.Collector

	// Run metadata recorded in the ledger.
	Model             string
	PromptFingerprint string
	InputPath         string

	Now func() time.Time
}

type Report struct {
	Run       domain.Run
	Annotated []domain.Annotated
	Outcomes  map[domain.Outcome]int
}

// Run classifies records and returns one annotated entry per record, in
// input order.
func (e *Engine) Run(ctx context.Context, records []domain.Record) (Report, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	chunks := chunker.Split(records, e.ChunkSize, e.MaxWords)
	run := domain.Run{
		ID:                uuid.NewString(),
		StartedAt:         now(),
		Strategy:          e.Strategy.Name(),
		Model:             e.Model,
		PromptFingerprint: e.PromptFingerprint,
		InputPath:         e.InputPath,
		Records:           len(records),
		Chunks:            len(chunks),
		Status:            domain.RunRunning,
	}
	concurrency := max(e.Concurrency, 1)
	log.Printf("pipeline start run=%s strategy=%s records=%d chunks=%d concurrency=%d",
		run.ID, run.Strategy, len(records), len(chunks), concurrency)
	e.ledger("start run", func(l Ledger) error { return l.StartRun(run) })

	results := make([]domain.ChunkResult, len(chunks))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = e.processChunk(ctx, run.ID, chunk)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Err != nil {
			run.ChunksFailed++
		}
	}
	annotated := merge.Merge(records, results)
	outcomes := merge.Counts(annotated)
	e.Metrics.Records(outcomes)

	run.FinishedAt = now()
	switch {
	case run.Chunks > 0 && run.ChunksFailed == run.Chunks:
		run.Status = domain.RunFailed
	case run.ChunksFailed > 0:
		run.Status = domain.RunPartial
	default:
		run.Status = domain.RunComplete
	}
	e.ledger("finish run", func(l Ledger) error { return l.FinishRun(run, annotated) })
	log.Printf("pipeline done run=%s status=%s chunks=%d failed=%d parsed=%d parse_error=%d missing=%d filtered=%d chunk_failed=%d elapsed=%s",
		run.ID, run.Status, run.Chunks, run.ChunksFailed,
		outcomes[domain.OutcomeParsed], outcomes[domain.OutcomeParseError], outcomes[domain.OutcomeMissing],
		outcomes[domain.OutcomeFiltered], outcomes[domain.OutcomeChunkFailed], run.FinishedAt.Sub(run.StartedAt))

	// Chunks cut short by cancellation are already chunk_failed in the
	// merge, so a cancelled run still reports what finished.
	report := Report{Run: run, Annotated: annotated, Outcomes: outcomes}
	if run.Chunks > 0 && run.ChunksFailed == run.Chunks {
		return report, fmt.Errorf("run %s: %d of %d chunks failed: %w", run.ID, run.ChunksFailed, run.Chunks, errors.Join(ErrNoChunkSucceeded, ctx.Err()))
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run %s interrupted: %w", run.ID, err)
	}
	return report, nil
}

func (e *Engine) processChunk(ctx context.Context, runID string, chunk domain.Chunk) domain.ChunkResult {
	start := time.Now()
	var lastJob *domain.Job
	observe := func(rec domain.ChunkRecord) {
		if rec.Job != nil {
			lastJob = rec.Job
		} else {
			rec.Job = lastJob
		}
		rec.ChunkIndex = chunk.Index
		rec.Records = len(chunk.Records)
		e.ledger("record job", func(l Ledger) error { return l.RecordJob(runID, rec) })
	}

	var entries []domain.ResultEntry
	err := ctx.Err()
	if err == nil {
		entries, err = e.Strategy.Process(ctx, runID, chunk, observe)
	}
	e.Metrics.ChunkDone(e.Strategy.Name(), err, time.Since(start))
	if err != nil {
		log.Printf("pipeline chunk failed run=%s chunk=%d records=%d err=%v", runID, chunk.Index, len(chunk.Records), err)
		observe(domain.ChunkRecord{Err: err})
		return domain.ChunkResult{Chunk: chunk, Err: err}
	}
	log.Printf("pipeline chunk done run=%s chunk=%d records=%d results=%d elapsed=%s",
		runID, chunk.Index, len(chunk.Records), len(entries), time.Since(start).Round(time.Millisecond))
	return domain.ChunkResult{Chunk: chunk, Entries: entries}
}

func (e *Engine) ledger(op string, fn func(Ledger) error) {
	if e.Ledger == nil {
		return
	}
	if err := fn(e.Ledger); err != nil {
		log.Printf("pipeline ledger %s failed: %v", op, err)
	}
}
