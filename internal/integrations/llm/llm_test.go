package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"reviewclassifier/internal/batch"
	"reviewclassifier/internal/domain"
	"reviewclassifier/internal/retry"
)

func TestBatchServiceLifecycle(t *testing.T) {
	var mu sync.Mutex
	var uploaded string
	var createBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/files":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if got := r.FormValue("purpose"); got != "batch" {
				t.Errorf("unexpected purpose %q", got)
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
			} else {
				data, _ := io.ReadAll(f)
				uploaded = string(data)
			}
			_, _ = w.Write([]byte(`{"id":"file-in","object":"file","purpose":"batch","filename":"batch_chunk_0.jsonl"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/batches":
			_ = json.NewDecoder(r.Body).Decode(&createBody)
			_, _ = w.Write([]byte(`{"id":"batch_1","object":"batch","endpoint":"/v1/chat/completions","input_file_id":"file-in","status":"validating","request_counts":{"total":0,"completed":0,"failed":0}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/batches/batch_1":
			_, _ = w.Write([]byte(`{"id":"batch_1","object":"batch","input_file_id":"file-in","status":"completed","output_file_id":"file-out","error_file_id":"file-err","request_counts":{"total":2,"completed":1,"failed":1}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/batches/batch_1/cancel":
			_, _ = w.Write([]byte(`{"id":"batch_1","object":"batch","status":"cancelling"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/files/file-out/content":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("{\"custom_id\":\"0\"}\n"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	svc := NewBatchService(NewOpenAIClient("test-key", server.URL+"/v1/"))
	ctx := context.Background()

	fileID, err := svc.UploadFile(ctx, "batch_chunk_0.jsonl", []byte("{\"custom_id\":\"0\"}\n"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if fileID != "file-in" || uploaded != "{\"custom_id\":\"0\"}\n" {
		t.Fatalf("unexpected upload id=%s body=%q", fileID, uploaded)
	}

	job, err := svc.CreateJob(ctx, batch.CreateJobRequest{
		InputFileID:      fileID,
		Endpoint:         batch.ChatCompletionsEndpoint,
		CompletionWindow: "24h",
		Metadata:         map[string]string{"chunk_index": "0"},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID != "batch_1" || job.Status != domain.JobQueued || job.RemoteStatus != "validating" {
		t.Fatalf("unexpected job %+v", job)
	}
	if createBody["completion_window"] != "24h" || createBody["endpoint"] != "/v1/chat/completions" {
		t.Fatalf("unexpected create body %v", createBody)
	}

	job, err = svc.RetrieveJob(ctx, "batch_1")
	if err != nil {
		t.Fatalf("RetrieveJob: %v", err)
	}
	if job.Status != domain.JobCompleted || job.OutputFileID != "file-out" || job.ErrorFileID != "file-err" {
		t.Fatalf("unexpected retrieved job %+v", job)
	}
	if job.Counts.Total != 2 || job.Counts.Failed != 1 {
		t.Fatalf("unexpected counts %+v", job.Counts)
	}

	job, err = svc.CancelJob(ctx, "batch_1")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if job.Status != domain.JobInProgress {
		t.Fatalf("cancelling should map to in_progress, got %s", job.Status)
	}

	content, err := svc.FileContent(ctx, "file-out")
	if err != nil {
		t.Fatalf("FileContent: %v", err)
	}
	if string(content) != "{\"custom_id\":\"0\"}\n" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestBatchServiceErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusBadGateway, transient: true},
		{status: http.StatusBadRequest, transient: false},
		{status: http.StatusNotFound, transient: false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
		}))
		svc := NewBatchService(NewOpenAIClient("k", server.URL+"/v1"))
		_, err := svc.RetrieveJob(context.Background(), "batch_x")
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if retry.IsTransient(err) != tt.transient {
			t.Fatalf("status %d: transient=%v, want %v (err=%v)", tt.status, retry.IsTransient(err), tt.transient, err)
		}
	}
}

func TestClassifyErrorContextIsTerminal(t *testing.T) {
	if retry.IsTransient(classifyError(context.Canceled)) {
		t.Fatalf("context cancellation must not be retried")
	}
	if classifyError(nil) != nil {
		t.Fatalf("nil stays nil")
	}
	plain := errors.New("boom")
	if retry.IsTransient(classifyError(plain)) {
		t.Fatalf("unclassified errors are terminal")
	}
}

func TestToJobCollectsErrors(t *testing.T) {
	raw := `{"id":"batch_9","status":"failed","errors":{"object":"list","data":[{"code":"invalid_json_line","message":"line 3 is not valid json"}]}}`
	var b openai.Batch
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	job := toJob(b)
	if job.Status != domain.JobFailed || len(job.Errors) != 1 || !strings.Contains(job.Errors[0], "line 3") {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.OutputFileID != "" {
		t.Fatalf("missing output file must stay empty, got %q", job.OutputFileID)
	}
}

func TestOpenAIChatComplete(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"food\":\"positive\",\"service\":\"None\",\"atmosphere\":\"None\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`))
	}))
	defer server.Close()

	chat := NewOpenAIChat(NewOpenAIClient("k", server.URL+"/v1"), "")
	got, err := chat.Complete(context.Background(), "sys", "Review: gut")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(got, `"food":"positive"`) {
		t.Fatalf("unexpected content %q", got)
	}
	if body["model"] != DefaultOpenAIModel {
		t.Fatalf("expected default model, got %v", body["model"])
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", body["messages"])
	}
	if temp, _ := body["temperature"].(float64); temp <= 0 || temp > 1e-30 {
		t.Fatalf("expected near-zero temperature, got %v", body["temperature"])
	}
}

func TestAnthropicChatComplete(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "ant-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5-20250929","content":[{"type":"text","text":"{\"food\":\"negative\",\"service\":\"neutral\",\"atmosphere\":null}"}],"stop_reason":"end_turn","usage":{"input_tokens":20,"output_tokens":10}}`))
	}))
	defer server.Close()

	chat := NewAnthropicChat("ant-key", server.URL, "")
	got, err := chat.Complete(context.Background(), "", "Review: schlecht")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(got, `"food":"negative"`) {
		t.Fatalf("unexpected content %q", got)
	}
	if body["temperature"] != float64(0) {
		t.Fatalf("expected zero temperature, got %v", body["temperature"])
	}
	if _, ok := body["system"]; ok {
		t.Fatalf("empty system prompt must be omitted")
	}
}

func TestAnthropicChatServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
	}))
	defer server.Close()

	_, err := NewAnthropicChat("k", server.URL, "").Complete(context.Background(), "sys", "x")
	if err == nil || !retry.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
