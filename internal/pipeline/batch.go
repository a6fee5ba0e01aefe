package pipeline

import (
	"context"
	"fmt"
	"log"

	"reviewclassifier/internal/batch"
	"reviewclassifier/internal/decode"
	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/metrics"
	"reviewclassifier/internal/retry"
)

const StrategyBatch = "batch"

// BatchStrategy runs each chunk as one asynchronous remote batch job.
type BatchStrategy struct {
	Submitter *batch.Submitter
	Monitor   *batch.Monitor
	Parser    *decode.Parser
	Metrics   *metrics.Collector
}

func (s *BatchStrategy) Name() string { return StrategyBatch }

func (s *BatchStrategy) Process(ctx context.Context, runID string, chunk domain.Chunk, observe func(domain.ChunkRecord)) ([]domain.ResultEntry, error) {
	job, err := s.Submitter.Submit(ctx, runID, chunk)
	if err != nil {
		return nil, err
	}
	observe(domain.ChunkRecord{Job: &job})

	monitor := *s.Monitor
	monitor.OnPoll = func(j domain.Job) {
		s.Metrics.JobPolled(j)
		if s.Monitor.OnPoll != nil {
			s.Monitor.OnPoll(j)
		}
	}
	done, err := monitor.Await(ctx, job)
	observe(domain.ChunkRecord{Job: &done})
	if err != nil {
		return nil, err
	}

	output, err := s.download(ctx, done.OutputFileID)
	if err != nil {
		return nil, fmt.Errorf("downloading output of job %s: %w", done.ID, err)
	}
	entries := s.Parser.Lines(output)

	// Requests that failed at the service only appear in the error file.
	if done.ErrorFileID != "" {
		errOutput, err := s.download(ctx, done.ErrorFileID)
		if err != nil {
			log.Printf("batch error file skipped job=%s file=%s err=%v", done.ID, done.ErrorFileID, err)
		} else {
			entries = append(entries, s.Parser.Lines(errOutput)...)
		}
	}
	log.Printf("batch parsed chunk=%d job=%s lines=%d", chunk.Index, done.ID, len(entries))
	return entries, nil
}

func (s *BatchStrategy) download(ctx context.Context, fileID string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, s.Submitter.Retry, "file_content", func(ctx context.Context) error {
		d, err := s.Submitter.Service.FileContent(ctx, fileID)
		data = d
		return err
	})
	return data, err
}
