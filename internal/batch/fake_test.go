package batch

import (
	"context"
	"fmt"
	"sync"

	"reviewclassifier/internal/domain"
)

// fakeService replays a scripted sequence of job states.
type fakeService struct {
	mu sync.Mutex

	uploadErrs  []error
	createErrs  []error
	statuses    []domain.Job
	retrieveErr []error
	content     map[string][]byte

	uploads   map[string][]byte
	created   []CreateJobRequest
	polls     int
	cancelled []string
}

func newFakeService() *fakeService {
	return &fakeService{uploads: map[string][]byte{}, content: map[string][]byte{}}
}

func (f *fakeService) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		if err != nil {
			return "", err
		}
	}
	id := fmt.Sprintf("file-%d", len(f.uploads)+1)
	f.uploads[id] = data
	return id, nil
}

func (f *fakeService) CreateJob(ctx context.Context, req CreateJobRequest) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return domain.Job{}, err
		}
	}
	f.created = append(f.created, req)
	return domain.Job{
		ID:           fmt.Sprintf("batch-%d", len(f.created)),
		InputFileID:  req.InputFileID,
		Status:       domain.JobQueued,
		RemoteStatus: "validating",
	}, nil
}

func (f *fakeService) RetrieveJob(ctx context.Context, jobID string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	idx := f.polls
	f.polls++
	if idx < len(f.retrieveErr) && f.retrieveErr[idx] != nil {
		return domain.Job{}, f.retrieveErr[idx]
	}
	if len(f.statuses) == 0 {
		return domain.Job{ID: jobID, Status: domain.JobInProgress, RemoteStatus: "in_progress"}, nil
	}
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	job := f.statuses[idx]
	job.ID = jobID
	return job, nil
}

func (f *fakeService) CancelJob(ctx context.Context, jobID string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return domain.Job{ID: jobID, Status: domain.JobInProgress, RemoteStatus: "cancelling"}, nil
}

func (f *fakeService) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.content[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return data, nil
}
