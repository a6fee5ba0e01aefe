package llm

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"reviewclassifier/internal/batch"
	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/httpx"
)

// NewOpenAIClient builds a client on the shared external HTTP client.
// An empty baseURL keeps the SDK default.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = httpx.ExternalHTTPClient()
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// BatchService is the OpenAI Batch API behind batch.Service.
type BatchService struct {
	client *openai.Client
}

var _ batch.Service = (*BatchService)(nil)

func NewBatchService(client *openai.Client) *BatchService {
	return &BatchService{client: client}
}

func (s *BatchService) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	file, err := s.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeBatch,
	})
	if err != nil {
		return "", classifyError(fmt.Errorf("openai upload %s: %w", name, err))
	}
	return file.ID, nil
}

func (s *BatchService) CreateJob(ctx context.Context, req batch.CreateJobRequest) (domain.Job, error) {
	metadata := make(map[string]any, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	resp, err := s.client.CreateBatch(ctx, openai.CreateBatchRequest{
		InputFileID:      req.InputFileID,
		Endpoint:         openai.BatchEndpoint(req.Endpoint),
		CompletionWindow: req.CompletionWindow,
		Metadata:         metadata,
	})
	if err != nil {
		return domain.Job{}, classifyError(fmt.Errorf("openai create batch: %w", err))
	}
	return toJob(resp.Batch), nil
}

func (s *BatchService) RetrieveJob(ctx context.Context, jobID string) (domain.Job, error) {
	resp, err := s.client.RetrieveBatch(ctx, jobID)
	if err != nil {
		return domain.Job{}, classifyError(fmt.Errorf("openai retrieve batch %s: %w", jobID, err))
	}
	return toJob(resp.Batch), nil
}

func (s *BatchService) CancelJob(ctx context.Context, jobID string) (domain.Job, error) {
	resp, err := s.client.CancelBatch(ctx, jobID)
	if err != nil {
		return domain.Job{}, classifyError(fmt.Errorf("openai cancel batch %s: %w", jobID, err))
	}
	return toJob(resp.Batch), nil
}

func (s *BatchService) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	raw, err := s.client.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, classifyError(fmt.Errorf("openai file content %s: %w", fileID, err))
	}
	defer raw.Close()
	data, err := io.ReadAll(raw)
	if err != nil {
		return nil, classifyError(fmt.Errorf("reading file %s: %w", fileID, err))
	}
	log.Printf("llm openai file content file=%s bytes=%d", fileID, len(data))
	return data, nil
}

func toJob(b openai.Batch) domain.Job {
	job := domain.Job{
		ID:           b.ID,
		InputFileID:  b.InputFileID,
		Status:       domain.ParseJobStatus(b.Status),
		RemoteStatus: b.Status,
		Counts: domain.JobCounts{
			Total:     b.RequestCounts.Total,
			Completed: b.RequestCounts.Completed,
			Failed:    b.RequestCounts.Failed,
		},
	}
	if b.OutputFileID != nil {
		job.OutputFileID = *b.OutputFileID
	}
	if b.ErrorFileID != nil {
		job.ErrorFileID = *b.ErrorFileID
	}
	if b.Errors != nil {
		for _, e := range b.Errors.Data {
			job.Errors = append(job.Errors, fmt.Sprintf("%s: %s", e.Code, e.Message))
		}
	}
	return job
}
