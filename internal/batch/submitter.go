package batch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/prompt"
	"reviewclassifier/internal/retry"
)

// Service is the remote batch inference API.
type Service interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	CreateJob(ctx context.Context, req CreateJobRequest) (domain.Job, error)
	RetrieveJob(ctx context.Context, jobID string) (domain.Job, error)
	CancelJob(ctx context.Context, jobID string) (domain.Job, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

type CreateJobRequest struct {
	InputFileID      string
	Endpoint         string
	CompletionWindow string
	Metadata         map[string]string
}

type Submitter struct {
	Service          Service
	Prompts          *prompt.Builder
	CompletionWindow string
	Retry            retry.Policy
	// PayloadDir keeps a copy of every request file when set.
	PayloadDir string
}

// Submit uploads the chunk's request file and creates a job for it.
func (s *Submitter) Submit(ctx context.Context, runID string, chunk domain.Chunk) (domain.Job, error) {
	payload, err := BuildPayload(chunk, s.Prompts)
	if err != nil {
		return domain.Job{}, err
	}
	name := fmt.Sprintf("batch_chunk_%d.jsonl", chunk.Index)
	if s.PayloadDir != "" {
		if err := savePayload(s.PayloadDir, name, payload); err != nil {
			log.Printf("batch payload save skipped chunk=%d err=%v", chunk.Index, err)
		}
	}

	var fileID string
	err = retry.Do(ctx, s.Retry, "upload", func(ctx context.Context) error {
		id, uerr := s.Service.UploadFile(ctx, name, payload)
		fileID = id
		return uerr
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("uploading chunk %d: %w", chunk.Index, err)
	}
	log.Printf("batch upload chunk=%d records=%d bytes=%d file=%s", chunk.Index, len(chunk.Records), len(payload), fileID)

	window := s.CompletionWindow
	if window == "" {
		window = DefaultCompletionWindow
	}
	req := CreateJobRequest{
		InputFileID:      fileID,
		Endpoint:         ChatCompletionsEndpoint,
		CompletionWindow: window,
		Metadata: map[string]string{
			"run_id":      runID,
			"chunk_index": strconv.Itoa(chunk.Index),
		},
	}
	var job domain.Job
	err = retry.Do(ctx, s.Retry, "create_job", func(ctx context.Context) error {
		j, cerr := s.Service.CreateJob(ctx, req)
		job = j
		return cerr
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("creating job for chunk %d: %w", chunk.Index, err)
	}
	if job.InputFileID == "" {
		job.InputFileID = fileID
	}
	log.Printf("batch started chunk=%d job=%s status=%s", chunk.Index, job.ID, job.Status)
	return job, nil
}

func savePayload(dir, name string, payload []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), payload, 0o644)
}
